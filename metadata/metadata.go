// Package metadata renders the XML documents carried inside a DANS bag.
//
// There are three of them. A DIM (DSpace Internal Metadata) document describes
// the dataset as a whole (stored at data/metadata.xml) and each data file
// (stored at data/<ident>/metadata.xml). A DDM document is the DANS deposit
// profile stored at metadata/dataset.xml. A Files document is the inventory of
// every payload file stored at metadata/files.xml.
//
// Each type has an XML() method returning the serialized document, so any of
// them may be handed to a bagit.Builder.
package metadata

import (
	"bytes"
	"encoding/xml"

	"github.com/pkg/errors"
)

// The namespaces used by the documents in a bag.
const (
	DIMNamespace     = "http://www.dspace.org/xmlns/dspace/dim"
	DCNamespace      = "http://purl.org/dc/elements/1.1/"
	DCTermsNamespace = "http://purl.org/dc/terms/"
	DCXNamespace     = "http://easy.dans.knaw.nl/schemas/dcx/dai/"
	DDMNamespace     = "http://easy.dans.knaw.nl/schemas/md/ddm/"
	XSINamespace     = "http://www.w3.org/2001/XMLSchema-instance"
	IDTypeNamespace  = "http://easy.dans.knaw.nl/schemas/vocab/identifier-type/"
	PremisNamespace  = "http://www.loc.gov/standards/premis"
)

const indent = "    "

// marshal serializes v with an XML declaration and four space indenting.
func marshal(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", indent)
	if err := enc.Encode(v); err != nil {
		return nil, errors.Wrap(err, "metadata")
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

// prefixOf returns the namespace prefix of a qualified name such as
// "dc:title", or "" if there is none.
func prefixOf(name string) string {
	for i := 0; i < len(name); i++ {
		if name[i] == ':' {
			return name[:i]
		}
	}
	return ""
}
