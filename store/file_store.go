package store

import (
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	raven "github.com/getsentry/raven-go"
	"github.com/google/renameio"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// FileSystem implements a store keeping every key as a file directly inside a
// root directory. Values are written to a scratch subdirectory and moved
// into place atomically when closed, so a partially written segment is
// never visible under its key.
type FileSystem struct {
	root string
}

const (
	// the subdir to store files while they are being written to.
	scratchdir = ".scratch"
)

var (
	// make sure it implements the Store interface
	_ Store = &FileSystem{}

	// ErrKeyContainsSlash means the key provided contains a forward slash '/'
	ErrKeyContainsSlash = errors.New("key contains forward slash")

	// ErrKeyContainsNonUnicode means the key provided contains a Non Unicode Rune
	ErrKeyContainsNonUnicode = errors.New("key contains non-unicode character")

	// ErrKeyContainsWhiteSpace means the key provided contains white space
	ErrKeyContainsWhiteSpace = errors.New("key contains white space")

	// ErrKeyContainsControlChar means the key provided contains control characters
	ErrKeyContainsControlChar = errors.New("key contains control characters")

	// ErrKeyReserved means the key would collide with the scratch directory
	ErrKeyReserved = errors.New("key is reserved")
)

// NewFileSystem creates a new FileSystem store based at the given root path.
// The directory is created when the first key is written.
func NewFileSystem(root string) *FileSystem {
	return &FileSystem{root: root}
}

// List returns a channel listing all the keys in this store.
func (s *FileSystem) List() <-chan string {
	c := make(chan string)
	go func() {
		defer close(c)
		keys, err := s.keys()
		if err != nil {
			// we have no other way of passing this error back
			log.Errorln("FileSystem List:", s.root, err)
			raven.CaptureError(err, map[string]string{"Root": s.root})
			return
		}
		for _, k := range keys {
			c <- k
		}
	}()
	return c
}

// keys returns the sorted names of every regular file in the root.
func (s *FileSystem) keys() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if os.IsNotExist(err) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	var result []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		result = append(result, e.Name())
	}
	sort.Strings(result)
	return result, nil
}

// ListPrefix returns a sorted list of all the keys beginning with the given
// prefix.
func (s *FileSystem) ListPrefix(prefix string) ([]string, error) {
	keys, err := s.keys()
	if err != nil {
		return nil, err
	}
	var result []string
	for _, k := range keys {
		if strings.HasPrefix(k, prefix) {
			result = append(result, k)
		}
	}
	return result, nil
}

// Open returns a reader for the given object along with its size.
func (s *FileSystem) Open(key string) (ReadAtCloser, int64, error) {
	if err := isKeyValid(key); err != nil {
		return nil, 0, err
	}
	f, err := os.Open(filepath.Join(s.root, key))
	if os.IsNotExist(err) {
		return nil, 0, errors.Wrap(ErrNotFound, key)
	} else if err != nil {
		return nil, 0, err
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, err
	}
	return f, fi.Size(), nil
}

// Create creates a new file with the given key, and a writer to allow for
// saving data into it. The data is moved into place when the writer is
// closed.
func (s *FileSystem) Create(key string) (io.WriteCloser, error) {
	if err := isKeyValid(key); err != nil {
		return nil, err
	}
	target := filepath.Join(s.root, key)
	if _, err := os.Stat(target); !os.IsNotExist(err) {
		return nil, ErrKeyExists
	}
	scratch := filepath.Join(s.root, scratchdir)
	if err := os.MkdirAll(scratch, 0775); err != nil {
		return nil, err
	}
	pending, err := renameio.TempFile(scratch, target)
	if err != nil {
		return nil, err
	}
	return &moveCloser{pending: pending, target: target}, nil
}

// moveCloser tracks a pending file so when it is closed it can be moved into
// the correct place.
type moveCloser struct {
	pending *renameio.PendingFile
	target  string
}

func (w *moveCloser) Write(p []byte) (int, error) {
	return w.pending.Write(p)
}

func (w *moveCloser) Close() error {
	defer w.pending.Cleanup()
	if _, err := os.Stat(w.target); !os.IsNotExist(err) {
		return ErrKeyExists
	}
	return w.pending.CloseAtomicallyReplace()
}

// Delete the given key from the store. It is not an error if the key doesn't
// exist.
func (s *FileSystem) Delete(key string) error {
	if err := isKeyValid(key); err != nil {
		return err
	}
	err := os.Remove(filepath.Join(s.root, key))
	// don't report a missing file as an error
	if err != nil && os.IsNotExist(err) {
		err = nil
	}
	return err
}

// Some simple key validations
func isKeyValid(key string) error {
	if !utf8.ValidString(key) {
		return ErrKeyContainsNonUnicode
	}
	if strings.Contains(key, "/") {
		return ErrKeyContainsSlash
	}
	if key == "" || key == "." || key == ".." || key == scratchdir {
		return ErrKeyReserved
	}
	for _, r := range key {
		if unicode.IsSpace(r) {
			return ErrKeyContainsWhiteSpace
		}
		if unicode.IsControl(r) {
			return ErrKeyContainsControlChar
		}
	}
	return nil
}
