package bagit

import (
	"regexp"
	"strings"

	"github.com/pkg/errors"
)

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9._-]`)

// SanitizeFilename replaces every character outside [A-Za-z0-9._-] with an
// underscore. Applying it twice gives the same result as applying it once.
func SanitizeFilename(s string) string {
	return unsafeChars.ReplaceAllString(s, "_")
}

// DatafileDir returns the bag relative directory holding everything for the
// given data file, e.g. "data/10.5061_dryad.1".
func DatafileDir(ident string) string {
	return "data/" + SanitizeFilename(ident)
}

// DatafileMetadata returns the bag relative path of the metadata document
// for the given data file.
func DatafileMetadata(ident string) string {
	return DatafileDir(ident) + "/" + MetadataFile
}

// PayloadPath returns the bag relative path of a bitstream. The bundle is
// used as given.
func PayloadPath(ident, bundle, filename string) string {
	return DatafileDir(ident) + "/" + bundle + "/" + SanitizeFilename(filename)
}

// checkNames rejects an ident, bundle or filename which cannot become one
// segment of a payload path. A bundle is used as given, so it must not hold
// a separator or a line break. The ident is also written out as a tag file
// value and may not span lines.
func checkNames(ident, bundle, filename string) error {
	if err := checkIdent(ident); err != nil {
		return err
	}
	if !validSegment(bundle) || bundle == MetadataFile || strings.ContainsAny(bundle, "/\t\n\r") {
		return errors.Wrapf(ErrBadName, "bundle %q", bundle)
	}
	if !validSegment(SanitizeFilename(filename)) {
		return errors.Wrapf(ErrBadName, "filename %q", filename)
	}
	return nil
}

func checkIdent(ident string) error {
	dir := SanitizeFilename(ident)
	if !validSegment(dir) || dir == MetadataFile || strings.ContainsAny(ident, "\n\r") {
		return errors.Wrapf(ErrBadName, "ident %q", ident)
	}
	return nil
}

func validSegment(s string) bool {
	return s != "" && s != "." && s != ".."
}

// ContainerPath returns the name of a bag file inside the zip file.
func ContainerPath(name, path string) string {
	return SanitizeFilename(name) + "/" + path
}
