package metadata

import (
	"bytes"
	"encoding/xml"

	"github.com/pkg/errors"
)

// DDM is the DANS deposit profile document. Fields are kept in two
// registers, the profile and the DCMI metadata. Within a register the fields
// are written in the order they were first added, and the values of one
// field in the order they were added.
type DDM struct {
	profile register
	dcmi    register
}

// An Attr is an attribute on a DDM field, e.g. {"xsi:type", "id-type:DOI"}.
type Attr struct {
	Name  string
	Value string
}

type ddmEntry struct {
	value string
	attrs []Attr
}

type register struct {
	order  []string
	fields map[string][]ddmEntry
}

func (r *register) add(field, value string, attrs []Attr) {
	if r.fields == nil {
		r.fields = make(map[string][]ddmEntry)
	}
	if _, ok := r.fields[field]; !ok {
		r.order = append(r.order, field)
	}
	r.fields[field] = append(r.fields[field], ddmEntry{value: value, attrs: attrs})
}

// AddProfileField adds a value to the profile section, e.g. "dc:title".
func (d *DDM) AddProfileField(field, value string, attrs ...Attr) {
	d.profile.add(field, value, attrs)
}

// AddDCMIField adds a value to the dcmiMetadata section.
func (d *DDM) AddDCMIField(field, value string, attrs ...Attr) {
	d.dcmi.add(field, value, attrs)
}

var ddmNamespaces = []xml.Attr{
	{Name: xml.Name{Local: "xmlns:dcterms"}, Value: DCTermsNamespace},
	{Name: xml.Name{Local: "xmlns:dc"}, Value: DCNamespace},
	{Name: xml.Name{Local: "xmlns:dcx-dai"}, Value: DCXNamespace},
	{Name: xml.Name{Local: "xmlns:ddm"}, Value: DDMNamespace},
	{Name: xml.Name{Local: "xmlns:xsi"}, Value: XSINamespace},
	{Name: xml.Name{Local: "xmlns:id-type"}, Value: IDTypeNamespace},
}

// XML renders the document. Sections with no fields are left out.
func (d *DDM) XML() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", indent)

	root := xml.StartElement{Name: xml.Name{Local: "ddm:DDM"}, Attr: ddmNamespaces}
	err := enc.EncodeToken(root)
	if err == nil && len(d.profile.order) > 0 {
		err = d.profile.encode(enc, "ddm:profile")
	}
	if err == nil && len(d.dcmi.order) > 0 {
		err = d.dcmi.encode(enc, "ddm:dcmiMetadata")
	}
	if err == nil {
		err = enc.EncodeToken(root.End())
	}
	if err == nil {
		err = enc.Flush()
	}
	if err != nil {
		return nil, errors.Wrap(err, "DDM")
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

func (r *register) encode(enc *xml.Encoder, section string) error {
	start := xml.StartElement{Name: xml.Name{Local: section}}
	if err := enc.EncodeToken(start); err != nil {
		return err
	}
	for _, field := range r.order {
		for _, entry := range r.fields[field] {
			el := xml.StartElement{Name: xml.Name{Local: field}}
			for _, a := range entry.attrs {
				el.Attr = append(el.Attr, xml.Attr{Name: xml.Name{Local: a.Name}, Value: a.Value})
			}
			if err := enc.EncodeElement(entry.value, el); err != nil {
				return err
			}
		}
	}
	return enc.EncodeToken(start.End())
}
