package bagit

import (
	"strings"
	"testing"

	"github.com/pkg/errors"
)

func TestTagFileSerialize(t *testing.T) {
	tf := NewTagFile()
	if tf.HasEntries() {
		t.Errorf("new table has entries")
	}
	tf.Add("data/b/ORIGINAL/two", "222")
	tf.Add("data/a/ORIGINAL/one", "111")
	err := tf.Add("data/a/ORIGINAL/one", "other")
	if errors.Cause(err) != ErrDuplicatePath {
		t.Errorf("Got %v, expected %v", err, ErrDuplicatePath)
	}
	got := string(tf.Serialize())
	expected := "111\tdata/a/ORIGINAL/one\n222\tdata/b/ORIGINAL/two\n"
	if got != expected {
		t.Errorf("Got %q, expected %q", got, expected)
	}

	tf2, err := ParseTagFile(strings.NewReader(got))
	if err != nil {
		t.Fatalf("Got %s, expected nil", err)
	}
	if string(tf2.Serialize()) != expected {
		t.Errorf("Got %q, expected %q", tf2.Serialize(), expected)
	}
}

func TestParseTagFile(t *testing.T) {
	var table = []struct {
		input string
		path  string
		value string
		err   error
	}{
		{"abc\tdata/x\n", "data/x", "abc", nil},
		{"abc\tdata/x", "data/x", "abc", nil},
		{"abc\tdata/x\r\n", "data/x", "abc", nil},
		{"a\tb\tdata/x\n", "data/x", "a\tb", nil},
		{"\n\nabc\tdata/x\n\n", "data/x", "abc", nil},
		{"a description with spaces\tdata/x\n", "data/x", "a description with spaces", nil},
		{"no tab here\n", "", "", ErrMalformedLine},
		{"1\tdata/x\n2\tdata/x\n", "", "", ErrDuplicatePath},
	}
	for _, test := range table {
		tf, err := ParseTagFile(strings.NewReader(test.input))
		if errors.Cause(err) != test.err {
			t.Errorf("%q: Got error %v, expected %v", test.input, err, test.err)
			continue
		}
		if err != nil {
			continue
		}
		v, ok := tf.Value(test.path)
		if !ok || v != test.value {
			t.Errorf("%q: Got %q, expected %q", test.input, v, test.value)
		}
		if tf.Len() != 1 {
			t.Errorf("%q: Got %d entries, expected 1", test.input, tf.Len())
		}
	}
}

func TestTagFileRejectsSeparators(t *testing.T) {
	tf := NewTagFile()
	var table = []struct{ path, value string }{
		{"data/a\tb", "v"},
		{"data/a\nb", "v"},
		{"data/a", "v\nw"},
	}
	for _, test := range table {
		err := tf.Add(test.path, test.value)
		if errors.Cause(err) != ErrMalformedLine {
			t.Errorf("%q: Got %v, expected %v", test.path, err, ErrMalformedLine)
		}
	}
}
