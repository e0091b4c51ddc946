package metadata

import (
	"encoding/xml"
	"sort"
)

// Field names understood by a Files document.
const (
	FileDescription     = "dc:description"
	FileFormat          = "dc:format"
	FileExtent          = "dcterms:extent"
	FileDigestAlgorithm = "premis:messageDigestAlgorithm"
	FileDigest          = "premis:messageDigest"
)

// Files is the inventory of the payload files in a bag, keyed by the
// payload path of each file.
type Files struct {
	paths map[string]*fileEntry
}

type fileEntry struct {
	names  []string
	values map[string]string
}

// Set records a field for the given path. Setting a field a second time
// replaces its value.
func (f *Files) Set(path, field, value string) {
	if f.paths == nil {
		f.paths = make(map[string]*fileEntry)
	}
	e := f.paths[path]
	if e == nil {
		e = &fileEntry{values: make(map[string]string)}
		f.paths[path] = e
	}
	if _, ok := e.values[field]; !ok {
		e.names = append(e.names, field)
	}
	e.values[field] = value
}

// Get returns the value of a field for the given path, or "".
func (f *Files) Get(path, field string) string {
	if e := f.paths[path]; e != nil {
		return e.values[field]
	}
	return ""
}

// Paths returns the recorded paths in sorted order.
func (f *Files) Paths() []string {
	var result []string
	for p := range f.paths {
		result = append(result, p)
	}
	sort.Strings(result)
	return result
}

type filesXML struct {
	XMLName   xml.Name  `xml:"files"`
	DCTermsNS string    `xml:"xmlns:dcterms,attr"`
	DCNS      string    `xml:"xmlns:dc,attr"`
	PremisNS  string    `xml:"xmlns:premis,attr"`
	Files     []fileXML `xml:"file"`
}

type fileXML struct {
	Path   string     `xml:"filepath,attr"`
	Fields []fieldXML `xml:",any"`
}

type fieldXML struct {
	XMLName xml.Name
	Value   string `xml:",chardata"`
}

var filesPrefixes = map[string]bool{"dc": true, "dcterms": true, "premis": true}

// XML renders the document, one file element per path in path order. Fields
// outside the dc, dcterms and premis namespaces are left out.
func (f *Files) XML() ([]byte, error) {
	doc := filesXML{
		DCTermsNS: DCTermsNamespace,
		DCNS:      DCNamespace,
		PremisNS:  PremisNamespace,
	}
	for _, p := range f.Paths() {
		e := f.paths[p]
		fx := fileXML{Path: p}
		for _, name := range e.names {
			if !filesPrefixes[prefixOf(name)] {
				continue
			}
			fx.Fields = append(fx.Fields, fieldXML{
				XMLName: xml.Name{Local: name},
				Value:   e.values[name],
			})
		}
		doc.Files = append(doc.Files, fx)
	}
	return marshal(doc)
}
