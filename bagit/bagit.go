// Package bagit assembles and reads the zipped BagIt bags used to hand a
// Dryad dataset to DANS. Only the one DANS layout is supported:
//
//	<name>/
//	    bagit.txt
//	    bag-info.txt
//	    bitstream-description.txt
//	    bitstream-format.txt
//	    bitstream-size.txt
//	    manifest-md5.txt
//	    manifest-sha1.txt
//	    ident-datafiles.txt
//	    tagmanifest-md5.txt
//	    metadata/
//	        dataset.xml
//	        files.xml
//	    data/
//	        metadata.xml
//	        <data file ident>/
//	            metadata.xml
//	            <bundle>/
//	                <bitstream>
//
// A bag is built once with a Builder: bitstreams are staged into a working
// directory, and Finalize streams everything into the zip file. A finished
// zip is never modified. It can be read back with a Reader, or handed out in
// fixed size pieces with a SegmentIterator.
//
// Checksums are computed while a bag is built. After that they are only
// calculated when a bag is explicitly verified. In particular, nothing is
// checked when a bag is opened or content is read from it.
//
// The BagIt spec can be found at https://tools.ietf.org/html/draft-kunze-bagit-11.
package bagit

import (
	"archive/zip"

	"github.com/pkg/errors"
)

const (
	// Version is the version of the BagIt specification this package implements.
	Version = "0.97"

	// Store and Deflate are the zip entry methods a Builder can use.
	Store   = zip.Store
	Deflate = zip.Deflate
)

// Names of the files inside a bag, relative to the bag's root directory.
const (
	BagitFile          = "bagit.txt"
	BagInfoFile        = "bag-info.txt"
	DescriptionFile    = "bitstream-description.txt"
	FormatFile         = "bitstream-format.txt"
	SizeFile           = "bitstream-size.txt"
	ManifestMD5File    = "manifest-md5.txt"
	ManifestSHA1File   = "manifest-sha1.txt"
	IdentFile          = "ident-datafiles.txt"
	TagManifestMD5File = "tagmanifest-md5.txt"
	ProfileFile        = "metadata/dataset.xml"
	FilesFile          = "metadata/files.xml"
	MetadataFile       = "metadata.xml"
	DatasetMetadata    = "data/" + MetadataFile
)

// tagFiles lists every file which is neither payload nor DIM metadata.
var tagFiles = map[string]bool{
	BagitFile:          true,
	BagInfoFile:        true,
	DescriptionFile:    true,
	FormatFile:         true,
	SizeFile:           true,
	ManifestMD5File:    true,
	ManifestSHA1File:   true,
	IdentFile:          true,
	TagManifestMD5File: true,
	ProfileFile:        true,
	FilesFile:          true,
}

// A Document is a metadata document stored in a bag. The types in the
// metadata package all satisfy it.
type Document interface {
	XML() ([]byte, error)
}

// Errors wrapped by UsageError and FormatError.
var (
	ErrFrozen          = errors.New("bag has already been written")
	ErrNotFinalized    = errors.New("bag has not been written yet")
	ErrContainerExists = errors.New("zip file already exists")
	ErrDuplicatePath   = errors.New("duplicate path")
	ErrMissingIdentMap = errors.New("missing " + IdentFile)
	ErrMalformedLine   = errors.New("malformed tag file line")
	ErrUnknownEntry    = errors.New("unrecognized entry")
	ErrNotFound        = errors.New("stream not found")
	ErrBadName         = errors.New("unusable name")
	ErrMultiline       = errors.New("value spans more than one line")
)

// UsageError is returned when a Builder is used out of order, such as adding
// to a bag which has already been written.
type UsageError struct {
	Op  string
	Err error
}

func (e *UsageError) Error() string { return "bagit: " + e.Op + ": " + e.Err.Error() }
func (e *UsageError) Unwrap() error { return e.Err }

// FormatError is returned when a zip file is not a bag this package can read.
// Path is the entry which caused the problem.
type FormatError struct {
	Path string
	Err  error
}

func (e *FormatError) Error() string { return "bagit: " + e.Path + ": " + e.Err.Error() }
func (e *FormatError) Unwrap() error { return e.Err }

// IsUsage reports whether err is, or wraps, a *UsageError.
func IsUsage(err error) bool {
	var u *UsageError
	return errors.As(err, &u)
}

// IsFormat reports whether err is, or wraps, a *FormatError.
func IsFormat(err error) bool {
	var f *FormatError
	return errors.As(err, &f)
}
