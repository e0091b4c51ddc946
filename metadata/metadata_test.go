package metadata

import (
	"bytes"
	"strings"
	"testing"
)

func TestDIMRoundtrip(t *testing.T) {
	var dim DIM
	dim.AddDSpaceField("dc.title", "Data from: a study")
	dim.AddDSpaceField("dc.contributor.author", "Smith, J")
	dim.AddDSpaceField("dc.contributor.author", "Jones & Co")
	dim.AddDSpaceField("nodots", "skipped parts")

	b, err := dim.XML()
	if err != nil {
		t.Fatalf("Got %s, expected nil", err)
	}
	s := string(b)
	for _, want := range []string{
		`<dim:dim xmlns:dim="http://www.dspace.org/xmlns/dspace/dim" dspaceType="ITEM">`,
		`    <dim:field mdschema="dc" element="title">Data from: a study</dim:field>`,
		`<dim:field mdschema="dc" element="contributor" qualifier="author">Jones &amp; Co</dim:field>`,
		`<dim:field>skipped parts</dim:field>`,
	} {
		if !strings.Contains(s, want) {
			t.Errorf("Missing %q in\n%s", want, s)
		}
	}

	dim2, err := ParseDIM(bytes.NewReader(b))
	if err != nil {
		t.Fatalf("Got %s, expected nil", err)
	}
	if len(dim2.Fields) != len(dim.Fields) {
		t.Fatalf("Got %d fields, expected %d", len(dim2.Fields), len(dim.Fields))
	}
	for i := range dim.Fields {
		if dim2.Fields[i] != dim.Fields[i] {
			t.Errorf("Field %d: Got %v, expected %v", i, dim2.Fields[i], dim.Fields[i])
		}
	}
	authors := dim2.Values("dc.contributor.author")
	if len(authors) != 2 || authors[1] != "Jones & Co" {
		t.Errorf("Got %v", authors)
	}
}

func TestParseDIMErrors(t *testing.T) {
	var table = []string{
		"",
		"<dim:dim xmlns:dim='x'><dim:field>",
		"<other/>",
	}
	for _, input := range table {
		_, err := ParseDIM(strings.NewReader(input))
		if err == nil {
			t.Errorf("%q: Got nil, expected error", input)
		}
	}
}

func TestDDM(t *testing.T) {
	var ddm DDM
	ddm.AddProfileField("dc:title", "A dataset")
	ddm.AddProfileField("dcterms:created", "2016")
	ddm.AddProfileField("dc:title", "Second title")
	ddm.AddDCMIField("dcterms:identifier", "10.5061/dryad.1", Attr{"xsi:type", "id-type:DOI"})

	b, err := ddm.XML()
	if err != nil {
		t.Fatalf("Got %s, expected nil", err)
	}
	s := string(b)
	for _, want := range []string{
		`xmlns:ddm="http://easy.dans.knaw.nl/schemas/md/ddm/"`,
		`xmlns:id-type="http://easy.dans.knaw.nl/schemas/vocab/identifier-type/"`,
		`<dcterms:identifier xsi:type="id-type:DOI">10.5061/dryad.1</dcterms:identifier>`,
	} {
		if !strings.Contains(s, want) {
			t.Errorf("Missing %q in\n%s", want, s)
		}
	}
	// values of one field stay together, fields in first-added order
	first := strings.Index(s, "A dataset")
	second := strings.Index(s, "Second title")
	created := strings.Index(s, "dcterms:created")
	if !(first < second && second < created) {
		t.Errorf("Unexpected field order in\n%s", s)
	}
	if strings.Index(s, "<ddm:profile>") > strings.Index(s, "<ddm:dcmiMetadata>") {
		t.Errorf("profile must come before dcmiMetadata")
	}

	var empty DDM
	b, _ = empty.XML()
	if strings.Contains(string(b), "ddm:profile") {
		t.Errorf("empty register was written: %s", b)
	}
}

func TestFiles(t *testing.T) {
	var files Files
	files.Set("data/b/ORIGINAL/two.csv", FileFormat, "text/csv")
	files.Set("data/a/ORIGINAL/one.txt", FileDescription, "first")
	files.Set("data/a/ORIGINAL/one.txt", FileDigest, "abc")
	files.Set("data/a/ORIGINAL/one.txt", FileDigest, "def")
	files.Set("data/a/ORIGINAL/one.txt", "x:unknown", "dropped")

	if got := files.Get("data/a/ORIGINAL/one.txt", FileDigest); got != "def" {
		t.Errorf("Got %q, expected %q", got, "def")
	}
	b, err := files.XML()
	if err != nil {
		t.Fatalf("Got %s, expected nil", err)
	}
	s := string(b)
	if strings.Contains(s, "dropped") {
		t.Errorf("unknown namespace was written:\n%s", s)
	}
	if !strings.Contains(s, `<premis:messageDigest>def</premis:messageDigest>`) {
		t.Errorf("Missing digest in\n%s", s)
	}
	a := strings.Index(s, `<file filepath="data/a/ORIGINAL/one.txt">`)
	z := strings.Index(s, `<file filepath="data/b/ORIGINAL/two.csv">`)
	if a < 0 || z < 0 || a > z {
		t.Errorf("files not sorted by path:\n%s", s)
	}
}
