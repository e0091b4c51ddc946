package bagit

import (
	"archive/zip"
	"bytes"
	"testing"

	"github.com/pkg/errors"
)

func TestClassify(t *testing.T) {
	var table = []struct {
		path string
		kind int
		ok   bool
	}{
		{"data/metadata.xml", kindDataset, true},
		{"data/10.x_1/metadata.xml", kindDatafile, true},
		{"data/10.x_1/ORIGINAL/metadata.xml", kindPayload, true},
		{"data/10.x_1/ORIGINAL/file.txt", kindPayload, true},
		{"data/10.x_1/metadata.xml/file.txt", kindPayload, true},
		{"bagit.txt", kindTag, true},
		{"ident-datafiles.txt", kindTag, true},
		{"metadata/files.xml", kindTag, true},
		{"metadata/other.xml", 0, false},
		{"data/10.x_1/file.txt", 0, false},
		{"data/a/b/c/d", 0, false},
		{"data//ORIGINAL/file", 0, false},
		{"random.txt", 0, false},
	}
	for _, test := range table {
		kind, ok := classify(test.path)
		if ok != test.ok || (ok && kind != test.kind) {
			t.Errorf("%s: Got (%d, %v), expected (%d, %v)", test.path, kind, ok, test.kind, test.ok)
		}
	}

	// every tag file name lands in exactly the tag bucket
	for name := range tagFiles {
		if kind, ok := classify(name); !ok || kind != kindTag {
			t.Errorf("%s: Got (%d, %v), expected tag", name, kind, ok)
		}
	}
}

type entry struct {
	name    string
	content string
}

// makezip returns a zip file holding the given entries, in order.
func makezip(t *testing.T, entries []entry) *bytes.Reader {
	var buf bytes.Buffer
	z := zip.NewWriter(&buf)
	for _, e := range entries {
		w, err := z.Create(e.name)
		if err != nil {
			t.Fatal(err)
		}
		w.Write([]byte(e.content))
	}
	if err := z.Close(); err != nil {
		t.Fatal(err)
	}
	return bytes.NewReader(buf.Bytes())
}

func TestReaderFormatErrors(t *testing.T) {
	ident := entry{"bag/ident-datafiles.txt", "10.x/1\tdata/10.x_1\n"}
	var table = []struct {
		entries []entry
		err     error
	}{
		{[]entry{{"bag/bagit.txt", "BagIt-Version: 0.97\n"}, {"bag/data/a/ORIGINAL/f", "x"}}, ErrMissingIdentMap},
		{[]entry{ident, {"bag/stray.txt", "x"}}, ErrUnknownEntry},
		{[]entry{ident, {"other/bagit.txt", "x"}}, ErrUnknownEntry},
		{[]entry{ident, {"toplevel.txt", "x"}}, ErrUnknownEntry},
		{[]entry{ident, {"bag/data/unmapped/ORIGINAL/f", "x"}}, ErrUnknownEntry},
		{[]entry{ident, {"bag/manifest-md5.txt", "no tab\n"}}, ErrMalformedLine},
		{[]entry{ident, {"bag/data/metadata.xml", "<not-dim/>"}}, nil},
	}
	for i, test := range table {
		zr := makezip(t, test.entries)
		_, err := NewReader(zr, zr.Size())
		if !IsFormat(err) {
			t.Errorf("%d: Got %v, expected a format error", i, err)
			continue
		}
		if test.err != nil && errors.Cause(errors.Unwrap(err)) != test.err {
			t.Errorf("%d: Got %v, expected %v", i, err, test.err)
		}
	}
}

func TestReaderOptionalTags(t *testing.T) {
	// tag tables other than the ident map may be absent
	zr := makezip(t, []entry{
		{"bag/", ""},
		{"bag/ident-datafiles.txt", "10.x/1\tdata/10.x_1\n"},
		{"bag/data/10.x_1/ORIGINAL/f.txt", "hello"},
	})
	r, err := NewReader(zr, zr.Size())
	if err != nil {
		t.Fatalf("Got %s, expected nil", err)
	}
	bss := r.Bitstreams("10.x/1", "ORIGINAL")
	if len(bss) != 1 {
		t.Fatalf("Got %d bitstreams, expected 1", len(bss))
	}
	bs := bss[0]
	if bs.Format != "" || bs.Description != "" || bs.MD5 != "" || bs.Size != 5 {
		t.Errorf("Got %+v", bs)
	}
	if r.DatasetMetadata() != nil {
		t.Errorf("expected no dataset metadata")
	}
	tags, err := r.Tags()
	if err != nil || len(tags) != 0 {
		t.Errorf("Got %v, %v", tags, err)
	}
}

func TestVerifyFindsMismatches(t *testing.T) {
	zr := makezip(t, []entry{
		{"bag/ident-datafiles.txt", "x\tdata/x\n"},
		{"bag/data/x/ORIGINAL/good", "hello world"},
		{"bag/data/x/ORIGINAL/bad", "hello world"},
		{"bag/manifest-md5.txt", md5hex("hello world") + "\tdata/x/ORIGINAL/good\n" +
			md5hex("tampered") + "\tdata/x/ORIGINAL/bad\n" +
			md5hex("") + "\tdata/x/ORIGINAL/missing\n"},
	})
	r, err := NewReader(zr, zr.Size())
	if err != nil {
		t.Fatalf("Got %s, expected nil", err)
	}
	// opening does not check anything
	if r.Bitstreams("x", "ORIGINAL")[0].MD5 != md5hex("tampered") {
		t.Errorf("expected the recorded digest to be returned unchecked")
	}
	bad, err := r.Verify()
	if err != nil {
		t.Fatalf("Got %s, expected nil", err)
	}
	if len(bad) != 2 || bad[0] != "data/x/ORIGINAL/bad" || bad[1] != "data/x/ORIGINAL/missing" {
		t.Errorf("Got %v", bad)
	}
}

func TestTagsContinuation(t *testing.T) {
	zr := makezip(t, []entry{
		{"bag/ident-datafiles.txt", ""},
		{"bag/bag-info.txt", "Created: today\nExternal-Description: a long\n  description\nCreated: tomorrow\n"},
	})
	r, err := NewReader(zr, zr.Size())
	if err != nil {
		t.Fatalf("Got %s, expected nil", err)
	}
	tags, err := r.Tags()
	if err != nil {
		t.Fatalf("Got %s, expected nil", err)
	}
	if tags["External-Description"] != "a long description" {
		t.Errorf("Got %q", tags["External-Description"])
	}
	if tags["Created"] != "tomorrow" {
		t.Errorf("Got %q", tags["Created"])
	}
}
