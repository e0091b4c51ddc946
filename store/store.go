// Package store provides a simple, goroutine safe key-value interface where
// the values are byte streams rather than byte slices. Finished bags, the
// segments a bag is split into for transport, and the bookkeeping records of
// a deposit are all kept in a Store.
//
// FileSystem keeps each key as a file in a single directory, S3 keeps each
// key as an object under a bucket prefix, and Memory is mainly for tests.
package store

import (
	"io"
	"strings"

	"github.com/pkg/errors"
)

// ReadAtCloser combines the io.ReaderAt and io.Closer interfaces.
type ReadAtCloser interface {
	io.ReaderAt
	io.Closer
}

// Store defines the basic stream based key-value store.
// Values are immutable once stored, but they may be deleted and then replaced
// with a new value.
//
// Keys should not contain a forward slash '/', since the FileSystem store
// uses them as file names.
//
// Open() returns a ReadAtCloser so the result can be handed straight to a
// zip reader.
type Store interface {
	ROStore
	Create(key string) (io.WriteCloser, error)
	Delete(key string) error
}

// ROStore is the read-only pieces of a Store. It allows one to list contents,
// and to retrieve data.
type ROStore interface {
	List() <-chan string
	ListPrefix(prefix string) ([]string, error)
	Open(key string) (ReadAtCloser, int64, error)
}

var (
	// ErrKeyExists indicates an attempt to create a key which already exists
	ErrKeyExists = errors.New("key already exists")

	// ErrNotFound means there is no value stored under the key
	ErrNotFound = errors.New("key not found")
)

// NewReader converts a ReaderAt into a io.Reader. It is here as a utility to
// help work with the ReadAtCloser returned by Open.
func NewReader(r io.ReaderAt) io.Reader {
	return &reader{r: r}
}

type reader struct {
	r   io.ReaderAt
	off int64
}

func (r *reader) Read(p []byte) (n int, err error) {
	n, err = r.r.ReadAt(p, r.off)
	r.off += int64(n)
	if err == io.EOF && n > 0 {
		// reading less than a full buffer is not an error for
		// an io.Reader
		err = nil
	}
	return
}

// NewWithPrefix wraps the store s by one which will prefix all its keys by
// prefix. This lets several users share one underlying store, e.g. the
// bookkeeping and segment data of a deposit.
func NewWithPrefix(s Store, prefix string) Store {
	return &prefixstore{s: s, p: prefix}
}

type prefixstore struct {
	s Store  // the store being wrapped
	p string // the prefix for our keys
}

func (ps *prefixstore) List() <-chan string {
	out := make(chan string)
	in := ps.s.List()
	go func() {
		defer close(out)
		for key := range in {
			if strings.HasPrefix(key, ps.p) {
				out <- strings.TrimPrefix(key, ps.p)
			}
		}
	}()
	return out
}

func (ps *prefixstore) ListPrefix(prefix string) ([]string, error) {
	keys, err := ps.s.ListPrefix(ps.p + prefix)
	result := make([]string, 0, len(keys))
	for _, key := range keys {
		if strings.HasPrefix(key, ps.p) {
			result = append(result, strings.TrimPrefix(key, ps.p))
		}
	}
	return result, err
}

func (ps *prefixstore) Open(key string) (ReadAtCloser, int64, error) {
	return ps.s.Open(ps.p + key)
}

func (ps *prefixstore) Create(key string) (io.WriteCloser, error) {
	return ps.s.Create(ps.p + key)
}

func (ps *prefixstore) Delete(key string) error {
	return ps.s.Delete(ps.p + key)
}
