package bagit

import (
	"archive/zip"
	"io"
	"os"
)

// Bitstream is one payload file of a bag. Size and digests are fixed when the
// bitstream is created.
type Bitstream struct {
	Filename    string // sanitized
	Format      string // MIME type, may be empty
	Description string // may be empty
	Ident       string // the data file this belongs to, unsanitized
	Bundle      string
	Path        string // relative to the bag root, e.g. data/ident/bundle/file
	Size        int64
	MD5         string // hex, may be empty for a bag without a manifest entry
	SHA1        string

	// exactly one of these is set
	staged string    // file in a builder's working directory
	entry  *zip.File // entry in a zip file being read
}

// Open returns a new stream positioned at the start of the bitstream
// content. Each call gives an independent stream.
func (b *Bitstream) Open() (io.ReadCloser, error) {
	if b.entry != nil {
		return b.entry.Open()
	}
	return os.Open(b.staged)
}
