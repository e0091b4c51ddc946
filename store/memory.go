package store

import (
	"bytes"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

// Memory implements a simple in-memory version of a store. It is intended
// mainly for testing. A value becomes visible once its writer is closed.
type Memory struct {
	m     sync.RWMutex
	store map[string][]byte
}

var (
	// ensure Memory satisfies the Store interface
	_ Store = &Memory{}
)

// NewMemory returns a new, empty memory store.
func NewMemory() *Memory {
	return &Memory{store: make(map[string][]byte)}
}

// List returns a channel giving every key in the store, in sorted order.
// The keys are snapshotted when List is called.
func (ms *Memory) List() <-chan string {
	keys, _ := ms.ListPrefix("")
	c := make(chan string)
	go func() {
		for _, k := range keys {
			c <- k
		}
		close(c)
	}()
	return c
}

// ListPrefix returns all the key entries which begin with the given prefix.
func (ms *Memory) ListPrefix(prefix string) ([]string, error) {
	var result []string
	ms.m.RLock()
	for k := range ms.store {
		if strings.HasPrefix(k, prefix) {
			result = append(result, k)
		}
	}
	ms.m.RUnlock()
	sort.Strings(result)
	return result, nil
}

// Open returns a ReadAtCloser and the size of the given value.
func (ms *Memory) Open(key string) (ReadAtCloser, int64, error) {
	ms.m.RLock()
	v, ok := ms.store[key]
	ms.m.RUnlock()
	if !ok {
		return nil, 0, errors.Wrap(ErrNotFound, key)
	}
	return nopCloser{bytes.NewReader(v)}, int64(len(v)), nil
}

type nopCloser struct {
	*bytes.Reader
}

func (nopCloser) Close() error { return nil }

// Create makes a new entry in the store, and returns a writer to save data
// into it. It is an error to create a key which already exists.
func (ms *Memory) Create(key string) (io.WriteCloser, error) {
	ms.m.RLock()
	_, ok := ms.store[key]
	ms.m.RUnlock()
	if ok {
		return nil, ErrKeyExists
	}
	return &membuf{parent: ms, key: key}, nil
}

type membuf struct {
	bytes.Buffer
	parent *Memory
	key    string
}

func (w *membuf) Close() error {
	w.parent.m.Lock()
	defer w.parent.m.Unlock()
	if _, ok := w.parent.store[w.key]; ok {
		return ErrKeyExists
	}
	w.parent.store[w.key] = w.Bytes()
	return nil
}

// Delete the given key from the store. It is not an error if the item does
// not exist in the store.
func (ms *Memory) Delete(key string) error {
	ms.m.Lock()
	delete(ms.store, key)
	ms.m.Unlock()
	return nil
}

// Dump writes a listing of the contents of the store to the given writer.
// This is intended for testing and debugging.
func (ms *Memory) Dump(w io.Writer) {
	keys, _ := ms.ListPrefix("")
	ms.m.RLock()
	defer ms.m.RUnlock()
	for _, k := range keys {
		s := ms.store[k]
		if len(s) > 50 {
			s = s[:50]
		}
		fmt.Fprintf(w, "%s: %q\n", k, s)
	}
}
