package bagit

import (
	"regexp"
	"testing"
)

func TestSanitizeFilename(t *testing.T) {
	var table = []struct {
		input  string
		output string
	}{
		{"myfile.txt", "myfile.txt"},
		{"10.5061/dryad.1/2", "10.5061_dryad.1_2"},
		{"a b\tc", "a_b_c"},
		{"déjà vu", "d_j__vu"},
		{"under_score-dash", "under_score-dash"},
		{"", ""},
	}
	for _, test := range table {
		got := SanitizeFilename(test.input)
		if got != test.output {
			t.Errorf("%q: Got %q, expected %q", test.input, got, test.output)
		}
	}
}

func TestSanitizeIdempotent(t *testing.T) {
	safe := regexp.MustCompile(`^[A-Za-z0-9._-]*$`)
	inputs := []string{"", "abc", "a/b/c", "doi:10.1/x y", "\x00\xff", "日本語", "..", "a\nb"}
	for _, s := range inputs {
		once := SanitizeFilename(s)
		if twice := SanitizeFilename(once); twice != once {
			t.Errorf("%q: Got %q then %q", s, once, twice)
		}
		if !safe.MatchString(once) {
			t.Errorf("%q: result %q has unsafe characters", s, once)
		}
	}
}

func TestPaths(t *testing.T) {
	if got := PayloadPath("10.x/1", "ORIGINAL", "my file.txt"); got != "data/10.x_1/ORIGINAL/my_file.txt" {
		t.Errorf("Got %q", got)
	}
	// bundles are taken as given
	if got := PayloadPath("a", "B C", "f"); got != "data/a/B C/f" {
		t.Errorf("Got %q", got)
	}
	if got := DatafileMetadata("10.x/1"); got != "data/10.x_1/metadata.xml" {
		t.Errorf("Got %q", got)
	}
	if got := ContainerPath("test bag", "bagit.txt"); got != "test_bag/bagit.txt" {
		t.Errorf("Got %q", got)
	}
}
