package metadata

import (
	"encoding/xml"
	"io"
	"strings"

	"github.com/pkg/errors"
)

// DIM is a DSpace Internal Metadata document: an ordered list of fields.
type DIM struct {
	Fields []Field
}

// A Field is one metadata value. Qualifier may be empty.
type Field struct {
	Schema    string
	Element   string
	Qualifier string
	Value     string
}

// Name returns the field name in dotted form, e.g. "dc.contributor.author".
func (f Field) Name() string {
	name := f.Schema + "." + f.Element
	if f.Qualifier != "" {
		name += "." + f.Qualifier
	}
	return name
}

// AddField appends a field with the given parts.
func (d *DIM) AddField(schema, element, qualifier, value string) {
	d.Fields = append(d.Fields, Field{
		Schema:    schema,
		Element:   element,
		Qualifier: qualifier,
		Value:     value,
	})
}

// AddDSpaceField appends a field named in dotted form, e.g. "dc.title" or
// "dc.contributor.author". A name with fewer than two parts leaves the schema
// and element empty.
func (d *DIM) AddDSpaceField(field, value string) {
	var schema, element, qualifier string
	bits := strings.Split(field, ".")
	if len(bits) >= 2 {
		schema = bits[0]
		element = bits[1]
	}
	if len(bits) == 3 {
		qualifier = bits[2]
	}
	d.AddField(schema, element, qualifier, value)
}

// Values returns every value recorded under the dotted field name, in order.
func (d *DIM) Values(field string) []string {
	var result []string
	for _, f := range d.Fields {
		if f.Name() == field {
			result = append(result, f.Value)
		}
	}
	return result
}

type dimXML struct {
	XMLName xml.Name      `xml:"dim:dim"`
	NS      string        `xml:"xmlns:dim,attr"`
	Type    string        `xml:"dspaceType,attr"`
	Fields  []dimFieldXML `xml:"dim:field"`
}

type dimFieldXML struct {
	Schema    string `xml:"mdschema,attr,omitempty"`
	Element   string `xml:"element,attr,omitempty"`
	Qualifier string `xml:"qualifier,attr,omitempty"`
	Value     string `xml:",chardata"`
}

// XML renders the document.
func (d *DIM) XML() ([]byte, error) {
	doc := dimXML{NS: DIMNamespace, Type: "ITEM"}
	for _, f := range d.Fields {
		doc.Fields = append(doc.Fields, dimFieldXML(f))
	}
	return marshal(doc)
}

// the element names are matched without regard to their namespace
type dimParse struct {
	XMLName xml.Name
	Fields  []dimFieldXML `xml:"field"`
}

// ParseDIM reads a document produced by XML.
func ParseDIM(r io.Reader) (*DIM, error) {
	var doc dimParse
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, errors.Wrap(err, "ParseDIM")
	}
	if doc.XMLName.Local != "dim" {
		return nil, errors.Errorf("ParseDIM: unexpected root element %q", doc.XMLName.Local)
	}
	d := &DIM{}
	for _, f := range doc.Fields {
		d.AddField(f.Schema, f.Element, f.Qualifier, f.Value)
	}
	return d, nil
}
