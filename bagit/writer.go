package bagit

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/facebookgo/clock"
	"github.com/google/renameio"
	"github.com/klauspost/compress/flate"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/datadryad/dans-bagit/metadata"
	"github.com/datadryad/dans-bagit/util"
)

// Builder assembles a new bag. Bitstreams are copied into a working
// directory as they are added, and Finalize writes the zip file. A Builder
// can be finalized exactly once; afterwards it only answers questions about
// the zip file. A Builder whose zip file already exists when it is created
// is treated as finalized.
//
// A Builder is not safe for concurrent use.
type Builder struct {
	name       string // sanitized, the root directory inside the zip
	zipPath    string
	workingDir string
	clock      clock.Clock
	method     uint16
	versionOf  string

	bitstreams []*Bitstream
	paths      map[string]bool
	idents     map[string]string // sanitized directory -> ident
	dataset    Document
	profile    Document
	datafiles  map[string]Document // by ident
	frozen     bool
}

// An Option configures a Builder.
type Option func(*Builder)

// WithClock sets the clock used for timestamps in the bag.
func WithClock(c clock.Clock) Option {
	return func(b *Builder) { b.clock = c }
}

// WithCompression sets the zip method for every entry, either Deflate (the
// default) or Store.
func WithCompression(method uint16) Option {
	return func(b *Builder) { b.method = method }
}

// WithVersionOf records the identifier of the bag this one replaces in the
// Is-Version-Of tag of bag-info.txt.
func WithVersionOf(id string) Option {
	return func(b *Builder) { b.versionOf = id }
}

// NewBuilder returns a Builder for a bag called name, which will be written
// to zipPath. Bitstreams are staged under workingDir.
func NewBuilder(name, zipPath, workingDir string, opts ...Option) (*Builder, error) {
	b := &Builder{
		name:       SanitizeFilename(name),
		zipPath:    zipPath,
		workingDir: workingDir,
		clock:      clock.New(),
		method:     Deflate,
		paths:      make(map[string]bool),
		idents:     make(map[string]string),
		datafiles:  make(map[string]Document),
	}
	for _, opt := range opts {
		opt(b)
	}
	_, err := os.Stat(zipPath)
	if err == nil {
		b.frozen = true
	} else if !os.IsNotExist(err) {
		return nil, err
	}
	return b, nil
}

// Name returns the sanitized name of the bag, which is also the directory
// the bag unzips into.
func (b *Builder) Name() string {
	return b.name
}

// AddBitstream copies r into the working directory as the bitstream
// filename of the given bundle of data file ident. The format and
// description are optional. The digests and size are computed as the
// content is copied.
func (b *Builder) AddBitstream(r io.Reader, filename, format, description, ident, bundle string) (*Bitstream, error) {
	if b.frozen {
		return nil, &UsageError{Op: "AddBitstream", Err: ErrFrozen}
	}
	if err := checkNames(ident, bundle, filename); err != nil {
		return nil, &UsageError{Op: "AddBitstream", Err: err}
	}
	if strings.ContainsAny(format, "\n\r") {
		return nil, &UsageError{Op: "AddBitstream", Err: errors.Wrap(ErrMultiline, "format")}
	}
	if strings.ContainsAny(description, "\n\r") {
		return nil, &UsageError{Op: "AddBitstream", Err: errors.Wrap(ErrMultiline, "description")}
	}
	path := PayloadPath(ident, bundle, filename)
	if b.paths[path] {
		return nil, &UsageError{Op: "AddBitstream", Err: errors.Wrap(ErrDuplicatePath, path)}
	}
	if err := b.recordIdent(ident); err != nil {
		return nil, &UsageError{Op: "AddBitstream", Err: err}
	}
	staged := filepath.Join(b.workingDir, filepath.FromSlash(path))
	if err := os.MkdirAll(filepath.Dir(staged), 0755); err != nil {
		return nil, err
	}
	f, err := os.Create(staged)
	if err != nil {
		return nil, err
	}
	digests, n, err := util.CopyDigest(f, r, util.MD5, util.SHA1)
	if err2 := f.Close(); err == nil {
		err = err2
	}
	if err != nil {
		os.Remove(staged)
		return nil, errors.Wrapf(err, "staging %s", path)
	}
	bs := &Bitstream{
		Filename:    SanitizeFilename(filename),
		Format:      format,
		Description: description,
		Ident:       ident,
		Bundle:      bundle,
		Path:        path,
		Size:        n,
		MD5:         digests[util.MD5],
		SHA1:        digests[util.SHA1],
		staged:      staged,
	}
	b.paths[path] = true
	b.bitstreams = append(b.bitstreams, bs)
	log.Debugf("bagit: staged %s (%d bytes)", path, n)
	return bs, nil
}

// recordIdent remembers the directory used for ident. Two idents which
// sanitize to the same directory cannot share a bag.
func (b *Builder) recordIdent(ident string) error {
	dir := DatafileDir(ident)
	if prev, ok := b.idents[dir]; ok && prev != ident {
		return errors.Wrapf(ErrDuplicatePath, "%s (idents %q and %q)", dir, prev, ident)
	}
	b.idents[dir] = ident
	return nil
}

// Bitstreams returns the bitstreams added so far, in order.
func (b *Builder) Bitstreams() []*Bitstream {
	return b.bitstreams
}

// SetDatasetMetadata sets the document stored at data/metadata.xml.
func (b *Builder) SetDatasetMetadata(doc Document) error {
	if b.frozen {
		return &UsageError{Op: "SetDatasetMetadata", Err: ErrFrozen}
	}
	b.dataset = doc
	return nil
}

// SetDatafileMetadata sets the metadata document of the data file ident.
// Setting it again replaces the earlier document.
func (b *Builder) SetDatafileMetadata(doc Document, ident string) error {
	if b.frozen {
		return &UsageError{Op: "SetDatafileMetadata", Err: ErrFrozen}
	}
	if err := checkIdent(ident); err != nil {
		return &UsageError{Op: "SetDatafileMetadata", Err: err}
	}
	if err := b.recordIdent(ident); err != nil {
		return &UsageError{Op: "SetDatafileMetadata", Err: err}
	}
	b.datafiles[ident] = doc
	return nil
}

// SetProfileMetadata sets the DANS profile document stored at
// metadata/dataset.xml.
func (b *Builder) SetProfileMetadata(doc Document) error {
	if b.frozen {
		return &UsageError{Op: "SetProfileMetadata", Err: ErrFrozen}
	}
	b.profile = doc
	return nil
}

// Finalize writes the zip file. The file is written to a temporary name and
// moved into place only once it is complete, so on error nothing is left at
// the zip path and Finalize may be tried again.
func (b *Builder) Finalize() error {
	if b.frozen {
		return &UsageError{Op: "Finalize", Err: ErrFrozen}
	}
	if _, err := os.Stat(b.zipPath); err == nil {
		return &UsageError{Op: "Finalize", Err: ErrContainerExists}
	}
	pending, err := renameio.TempFile("", b.zipPath)
	if err != nil {
		return err
	}
	defer pending.Cleanup()

	w := b.newZipWriter(pending)
	err = w.writeAll()
	if err2 := w.z.Close(); err == nil {
		err = err2
	}
	if err != nil {
		return err
	}
	if err = pending.CloseAtomicallyReplace(); err != nil {
		return err
	}
	b.frozen = true
	log.Debugf("bagit: wrote %s", b.zipPath)
	return nil
}

// zipWriter carries the state of one Finalize.
type zipWriter struct {
	b       *Builder
	z       *zip.Writer
	modtime time.Time

	descriptions *TagFile
	formats      *TagFile
	sizes        *TagFile
	md5s         *TagFile
	sha1s        *TagFile
	idents       *TagFile
	tagmanifest  *TagFile
	files        metadata.Files
}

func (b *Builder) newZipWriter(out io.Writer) *zipWriter {
	z := zip.NewWriter(out)
	z.RegisterCompressor(zip.Deflate, func(w io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(w, flate.DefaultCompression)
	})
	return &zipWriter{
		b:            b,
		z:            z,
		modtime:      b.clock.Now(),
		descriptions: NewTagFile(),
		formats:      NewTagFile(),
		sizes:        NewTagFile(),
		md5s:         NewTagFile(),
		sha1s:        NewTagFile(),
		idents:       NewTagFile(),
		tagmanifest:  NewTagFile(),
	}
}

func (w *zipWriter) writeAll() error {
	b := w.b

	// payload
	for _, bs := range b.bitstreams {
		if err := w.writeBitstream(bs); err != nil {
			return err
		}
	}

	// DIM documents are listed in the payload manifests
	if b.dataset != nil {
		if err := w.writeDoc(DatasetMetadata, b.dataset, w.md5s, w.sha1s); err != nil {
			return err
		}
	}
	idents := make([]string, 0, len(b.datafiles))
	for ident := range b.datafiles {
		idents = append(idents, ident)
	}
	sort.Strings(idents)
	for _, ident := range idents {
		err := w.writeDoc(DatafileMetadata(ident), b.datafiles[ident], w.md5s, w.sha1s)
		if err != nil {
			return err
		}
	}

	// DANS documents are listed in the tag manifest
	if b.profile != nil {
		if err := w.writeDoc(ProfileFile, b.profile, w.tagmanifest); err != nil {
			return err
		}
	}
	if err := w.writeDoc(FilesFile, &w.files, w.tagmanifest); err != nil {
		return err
	}

	for dir, ident := range b.idents {
		if err := w.idents.Add(dir, ident); err != nil {
			return err
		}
	}
	var tables = []struct {
		name   string
		t      *TagFile
		always bool
	}{
		{DescriptionFile, w.descriptions, false},
		{FormatFile, w.formats, false},
		{SizeFile, w.sizes, false},
		{ManifestMD5File, w.md5s, false},
		{ManifestSHA1File, w.sha1s, false},
		{IdentFile, w.idents, true},
	}
	for _, table := range tables {
		if !table.always && !table.t.HasEntries() {
			continue
		}
		if err := w.writeTag(table.name, table.t.Serialize()); err != nil {
			return err
		}
	}

	marker := fmt.Sprintf("BagIt-Version: %s\nTag-File-Character-Encoding: UTF-8\n", Version)
	if err := w.writeTag(BagitFile, []byte(marker)); err != nil {
		return err
	}
	info := fmt.Sprintf("Created: %s\n", w.modtime.UTC().Format(time.RFC3339))
	if b.versionOf != "" {
		info += fmt.Sprintf("Is-Version-Of: %s\n", b.versionOf)
	}
	if err := w.writeTag(BagInfoFile, []byte(info)); err != nil {
		return err
	}

	// the tag manifest goes last and does not list itself
	_, err := w.write(TagManifestMD5File, bytes.NewReader(w.tagmanifest.Serialize()))
	return err
}

// write copies src into the zip file at path, computing its digests on the
// way.
func (w *zipWriter) write(path string, src io.Reader) (util.Digests, error) {
	header := &zip.FileHeader{
		Name:     w.b.name + "/" + path,
		Method:   w.b.method,
		Modified: w.modtime,
	}
	out, err := w.z.CreateHeader(header)
	if err != nil {
		return nil, err
	}
	digests, _, err := util.CopyDigest(out, src, util.MD5, util.SHA1)
	if err != nil {
		return nil, errors.Wrapf(err, "writing %s", path)
	}
	return digests, nil
}

func (w *zipWriter) writeBitstream(bs *Bitstream) error {
	f, err := os.Open(bs.staged)
	if err != nil {
		return err
	}
	defer f.Close()
	digests, err := w.write(bs.Path, f)
	if err != nil {
		return err
	}
	md5 := digests[util.MD5]
	if md5 != bs.MD5 {
		return errors.Errorf("staged file %s changed: md5 %s, expected %s", bs.staged, md5, bs.MD5)
	}
	size := strconv.FormatInt(bs.Size, 10)
	if bs.Description != "" {
		if err := w.descriptions.Add(bs.Path, bs.Description); err != nil {
			return err
		}
		w.files.Set(bs.Path, metadata.FileDescription, bs.Description)
	}
	if bs.Format != "" {
		if err := w.formats.Add(bs.Path, bs.Format); err != nil {
			return err
		}
		w.files.Set(bs.Path, metadata.FileFormat, bs.Format)
	}
	if err := w.sizes.Add(bs.Path, size); err != nil {
		return err
	}
	w.files.Set(bs.Path, metadata.FileExtent, size)
	w.files.Set(bs.Path, metadata.FileDigestAlgorithm, "MD5")
	w.files.Set(bs.Path, metadata.FileDigest, md5)
	if err := w.md5s.Add(bs.Path, md5); err != nil {
		return err
	}
	return w.sha1s.Add(bs.Path, digests[util.SHA1])
}

// writeDoc serializes doc to path. Its MD5 is recorded in md5s and, if
// given, its SHA-1 in sha1s.
func (w *zipWriter) writeDoc(path string, doc Document, md5s *TagFile, sha1s ...*TagFile) error {
	data, err := doc.XML()
	if err != nil {
		return errors.Wrap(err, path)
	}
	digests, err := w.write(path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	if err := md5s.Add(path, digests[util.MD5]); err != nil {
		return err
	}
	for _, t := range sha1s {
		if err := t.Add(path, digests[util.SHA1]); err != nil {
			return err
		}
	}
	return nil
}

// writeTag writes a tag file and records it in the tag manifest.
func (w *zipWriter) writeTag(path string, data []byte) error {
	digests, err := w.write(path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	return w.tagmanifest.Add(path, digests[util.MD5])
}

// CleanupWorkingDir removes the working directory. It is not an error if it
// is already gone.
func (b *Builder) CleanupWorkingDir() error {
	return os.RemoveAll(b.workingDir)
}

// CleanupZip removes the zip file. It is not an error if it is already gone.
func (b *Builder) CleanupZip() error {
	err := os.Remove(b.zipPath)
	if os.IsNotExist(err) {
		err = nil
	}
	return err
}

// checkWritten returns a UsageError if the zip file has not been written.
func (b *Builder) checkWritten(op string) error {
	if !b.frozen {
		return &UsageError{Op: op, Err: ErrNotFinalized}
	}
	return nil
}

// ZipName returns the file name of the zip file, without its directory.
func (b *Builder) ZipName() (string, error) {
	if err := b.checkWritten("ZipName"); err != nil {
		return "", err
	}
	return filepath.Base(b.zipPath), nil
}

// Size returns the size of the zip file in bytes.
func (b *Builder) Size() (int64, error) {
	if err := b.checkWritten("Size"); err != nil {
		return 0, err
	}
	fi, err := os.Stat(b.zipPath)
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}

// MD5 returns the hex MD5 digest of the whole zip file.
func (b *Builder) MD5() (string, error) {
	if err := b.checkWritten("MD5"); err != nil {
		return "", err
	}
	f, err := os.Open(b.zipPath)
	if err != nil {
		return "", err
	}
	defer f.Close()
	digests, _, err := util.CopyDigest(nil, f, util.MD5)
	if err != nil {
		return "", err
	}
	return digests[util.MD5], nil
}

// Open returns a stream over the whole zip file.
func (b *Builder) Open() (io.ReadCloser, error) {
	if err := b.checkWritten("Open"); err != nil {
		return nil, err
	}
	return os.Open(b.zipPath)
}

// Segments returns an iterator over the zip file in pieces of size bytes.
// If withMD5 is set each piece carries its own MD5 digest.
func (b *Builder) Segments(size int64, withMD5 bool) (*SegmentIterator, error) {
	if err := b.checkWritten("Segments"); err != nil {
		return nil, err
	}
	return NewSegmentIterator(b.zipPath, size, withMD5)
}
