package bagit

import (
	"archive/zip"
	"bufio"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/klauspost/compress/flate"
	"github.com/pkg/errors"

	"github.com/datadryad/dans-bagit/metadata"
	"github.com/datadryad/dans-bagit/util"
)

// Reader gives access to an existing bag. The whole bag structure is loaded
// when the Reader is created, but no bitstream content is read until asked
// for.
type Reader struct {
	z       *zip.Reader
	root    string                   // bag directory inside the zip, no trailing slash
	entries map[string]*zip.File     // by bag relative path
	tables  map[string]*TagFile      // parsed tag files, by name
	idents  map[string]string        // sanitized directory -> ident
	dataset *metadata.DIM            // may be nil
	subdims map[string]*metadata.DIM // by ident

	bitstreams []*Bitstream
	tags       map[string]string
}

// ReadCloser is a Reader over a file which it owns.
type ReadCloser struct {
	*Reader
	f *os.File
}

// OpenReader opens the bag zip file at path.
func OpenReader(path string) (*ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	r, err := NewReader(f, fi.Size())
	if err != nil {
		f.Close()
		return nil, err
	}
	return &ReadCloser{Reader: r, f: f}, nil
}

// Close closes the underlying file.
func (rc *ReadCloser) Close() error {
	return rc.f.Close()
}

// NewReader reads the bag from the zip data in r, which is size bytes long.
//
// The checksums are not checked. Call Verify() to verify all the checksums.
//
// Closing a reader does not close the underlying ReaderAt.
func NewReader(r io.ReaderAt, size int64) (*Reader, error) {
	in, err := zip.NewReader(r, size)
	if err != nil {
		return nil, errors.Wrap(err, "bagit")
	}
	in.RegisterDecompressor(zip.Deflate, func(r io.Reader) io.ReadCloser {
		return flate.NewReader(r)
	})
	result := &Reader{
		z:       in,
		entries: make(map[string]*zip.File),
		tables:  make(map[string]*TagFile),
		idents:  make(map[string]string),
		subdims: make(map[string]*metadata.DIM),
	}
	if err := result.load(); err != nil {
		return nil, err
	}
	return result, nil
}

// entry kinds
const (
	kindDataset = iota
	kindDatafile
	kindTag
	kindPayload
)

// classify decides what a bag relative path is. The kinds are exclusive:
// tag files are matched by exact name, and metadata and payload paths under
// data/ differ in their number of segments.
func classify(path string) (int, bool) {
	if path == DatasetMetadata {
		return kindDataset, true
	}
	if tagFiles[path] {
		return kindTag, true
	}
	parts := strings.Split(path, "/")
	if parts[0] != "data" {
		return 0, false
	}
	for _, p := range parts {
		if p == "" {
			return 0, false
		}
	}
	switch {
	case len(parts) == 3 && parts[2] == MetadataFile:
		return kindDatafile, true
	case len(parts) == 4:
		return kindPayload, true
	}
	return 0, false
}

// load scans the zip directory once and then rebuilds the bag structure.
func (r *Reader) load() error {
	var datafiles, payload []string
	for _, f := range r.z.File {
		if strings.HasSuffix(f.Name, "/") {
			continue // directory entry
		}
		i := strings.IndexByte(f.Name, '/')
		if i < 0 {
			return &FormatError{Path: f.Name, Err: ErrUnknownEntry}
		}
		if r.root == "" {
			r.root = f.Name[:i]
		} else if f.Name[:i] != r.root {
			return &FormatError{Path: f.Name, Err: ErrUnknownEntry}
		}
		path := f.Name[i+1:]
		kind, ok := classify(path)
		if !ok {
			return &FormatError{Path: f.Name, Err: ErrUnknownEntry}
		}
		r.entries[path] = f
		switch kind {
		case kindDatafile:
			datafiles = append(datafiles, path)
		case kindPayload:
			payload = append(payload, path)
		}
	}

	if r.entries[IdentFile] == nil {
		return &FormatError{Path: IdentFile, Err: ErrMissingIdentMap}
	}
	for _, name := range []string{IdentFile, DescriptionFile, FormatFile, SizeFile,
		ManifestMD5File, ManifestSHA1File, TagManifestMD5File} {
		if err := r.loadTable(name); err != nil {
			return err
		}
	}
	for _, dir := range r.tables[IdentFile].Paths() {
		r.idents[dir], _ = r.tables[IdentFile].Value(dir)
	}

	if r.entries[DatasetMetadata] != nil {
		dim, err := r.loadDIM(DatasetMetadata)
		if err != nil {
			return err
		}
		r.dataset = dim
	}
	for _, path := range datafiles {
		ident, ok := r.idents[path[:strings.LastIndexByte(path, '/')]]
		if !ok {
			return &FormatError{Path: path, Err: ErrUnknownEntry}
		}
		dim, err := r.loadDIM(path)
		if err != nil {
			return err
		}
		r.subdims[ident] = dim
	}
	for _, path := range payload {
		bs, err := r.loadBitstream(path)
		if err != nil {
			return err
		}
		r.bitstreams = append(r.bitstreams, bs)
	}
	sort.Slice(r.bitstreams, func(i, j int) bool {
		return r.bitstreams[i].Path < r.bitstreams[j].Path
	})
	return nil
}

// loadTable parses the named tag file. A missing file gives an empty table.
func (r *Reader) loadTable(name string) error {
	t := NewTagFile()
	if r.entries[name] != nil {
		rc, err := r.open(name)
		if err != nil {
			return err
		}
		t, err = ParseTagFile(rc)
		rc.Close()
		if err != nil {
			return &FormatError{Path: name, Err: err}
		}
	}
	r.tables[name] = t
	return nil
}

func (r *Reader) loadDIM(path string) (*metadata.DIM, error) {
	rc, err := r.open(path)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	dim, err := metadata.ParseDIM(rc)
	if err != nil {
		return nil, &FormatError{Path: path, Err: err}
	}
	return dim, nil
}

func (r *Reader) loadBitstream(path string) (*Bitstream, error) {
	parts := strings.Split(path, "/")
	ident, ok := r.idents["data/"+parts[1]]
	if !ok {
		return nil, &FormatError{Path: path, Err: ErrUnknownEntry}
	}
	bs := &Bitstream{
		Filename: parts[3],
		Ident:    ident,
		Bundle:   parts[2],
		Path:     path,
		Size:     int64(r.entries[path].UncompressedSize64),
		entry:    r.entries[path],
	}
	bs.Description, _ = r.tables[DescriptionFile].Value(path)
	bs.Format, _ = r.tables[FormatFile].Value(path)
	bs.MD5, _ = r.tables[ManifestMD5File].Value(path)
	bs.SHA1, _ = r.tables[ManifestSHA1File].Value(path)
	if v, ok := r.tables[SizeFile].Value(path); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, &FormatError{Path: SizeFile, Err: errors.Wrap(ErrMalformedLine, path)}
		}
		bs.Size = n
	}
	return bs, nil
}

// open returns a stream for any bag relative path.
func (r *Reader) open(path string) (io.ReadCloser, error) {
	f := r.entries[path]
	if f == nil {
		return nil, errors.Wrap(ErrNotFound, path)
	}
	return f.Open()
}

// Open returns a stream for the given bag relative path, e.g.
// "metadata/files.xml" or "data/ident/ORIGINAL/file.txt".
func (r *Reader) Open(path string) (io.ReadCloser, error) {
	return r.open(path)
}

// Name returns the bag's directory name.
func (r *Reader) Name() string {
	return r.root
}

// Datafiles returns the identifiers of every data file in the bag, sorted.
func (r *Reader) Datafiles() []string {
	result := make([]string, 0, len(r.idents))
	for _, ident := range r.idents {
		result = append(result, ident)
	}
	sort.Strings(result)
	return result
}

// Bundles returns the bundle names used by the given data file, sorted.
func (r *Reader) Bundles(ident string) []string {
	var result []string
	seen := make(map[string]bool)
	for _, bs := range r.bitstreams {
		if bs.Ident == ident && !seen[bs.Bundle] {
			seen[bs.Bundle] = true
			result = append(result, bs.Bundle)
		}
	}
	sort.Strings(result)
	return result
}

// Bitstreams returns the bitstreams in a bundle of a data file, ordered by
// file name.
func (r *Reader) Bitstreams(ident, bundle string) []*Bitstream {
	var result []*Bitstream
	for _, bs := range r.bitstreams {
		if bs.Ident == ident && bs.Bundle == bundle {
			result = append(result, bs)
		}
	}
	return result
}

// Files returns the path of every bitstream in the bag, sorted.
func (r *Reader) Files() []string {
	result := make([]string, 0, len(r.bitstreams))
	for _, bs := range r.bitstreams {
		result = append(result, bs.Path)
	}
	return result
}

// DatasetMetadata returns the dataset's metadata document, or nil.
func (r *Reader) DatasetMetadata() *metadata.DIM {
	return r.dataset
}

// DatafileMetadata returns the metadata document of a data file, or nil.
func (r *Reader) DatafileMetadata(ident string) *metadata.DIM {
	return r.subdims[ident]
}

// Table returns the named tag file, e.g. ManifestMD5File. Tag files absent
// from the bag give an empty table; unknown names give nil.
func (r *Reader) Table(name string) *TagFile {
	return r.tables[name]
}

// Tags returns the tags in bagit.txt and bag-info.txt. A line beginning with
// white space continues the previous tag. If a tag appears more than once
// the last one wins.
func (r *Reader) Tags() (map[string]string, error) {
	if r.tags != nil {
		return r.tags, nil
	}
	tags := make(map[string]string)
	for _, name := range []string{BagitFile, BagInfoFile} {
		if err := r.loadtagfile(name, tags); err != nil {
			return nil, err
		}
	}
	r.tags = tags
	return tags, nil
}

func (r *Reader) loadtagfile(name string, tags map[string]string) error {
	rc, err := r.open(name)
	if errors.Cause(err) == ErrNotFound {
		return nil
	} else if err != nil {
		return err
	}
	defer rc.Close()
	var last string
	scanner := bufio.NewScanner(rc)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		if line[0] == ' ' || line[0] == '\t' {
			if last == "" {
				return &FormatError{Path: name, Err: ErrMalformedLine}
			}
			tags[last] += " " + strings.TrimSpace(line)
			continue
		}
		i := strings.IndexByte(line, ':')
		if i < 0 {
			return &FormatError{Path: name, Err: ErrMalformedLine}
		}
		last = strings.TrimSpace(line[:i])
		tags[last] = strings.TrimSpace(line[i+1:])
	}
	return scanner.Err()
}

// Verify recomputes the digest of every file listed in the payload and tag
// manifests. It returns the paths which are missing or do not match. Verify
// reads the whole bag, so it is never done implicitly.
func (r *Reader) Verify() ([]string, error) {
	var bad []string
	seen := make(map[string]bool)
	var checks = []struct {
		table string
		kind  util.DigestKind
	}{
		{ManifestMD5File, util.MD5},
		{ManifestSHA1File, util.SHA1},
		{TagManifestMD5File, util.MD5},
	}
	for _, check := range checks {
		t := r.tables[check.table]
		for _, path := range t.Paths() {
			want, _ := t.Value(path)
			ok, err := r.verifyOne(path, check.kind, want)
			if err != nil {
				return nil, err
			}
			if !ok && !seen[path] {
				seen[path] = true
				bad = append(bad, path)
			}
		}
	}
	sort.Strings(bad)
	return bad, nil
}

func (r *Reader) verifyOne(path string, kind util.DigestKind, want string) (bool, error) {
	rc, err := r.open(path)
	if errors.Cause(err) == ErrNotFound {
		return false, nil
	} else if err != nil {
		return false, err
	}
	defer rc.Close()
	ok, err := util.VerifyStreamHash(rc, util.Digests{kind: want})
	// zip reports its own checksum failure as an error
	if errors.Cause(err) == zip.ErrChecksum {
		return false, nil
	}
	return ok, err
}
