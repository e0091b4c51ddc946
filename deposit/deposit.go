/*
Package deposit keeps bags which arrive over the network in pieces. A bag
is sent as a sequence of segments, each carrying its own MD5 digest. A
segment whose digest does not match is discarded so the sender can try it
again. When every segment has arrived the sender completes the deposit with
the digest of the whole bag, after which the bag can be opened.

Segments and bookkeeping are kept in a store.Store, so a deposit survives a
restart of the server.
*/
package deposit

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/facebookgo/clock"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/datadryad/dans-bagit/bagit"
	"github.com/datadryad/dans-bagit/store"
	"github.com/datadryad/dans-bagit/util"
)

// Store wraps a store.Store and tracks the deposits inside it.
type Store struct {
	clock    clock.Clock
	meta     JSONStore    // for the bookkeeping
	sstore   store.Store  // for the segments
	m        sync.RWMutex // protects deposits
	deposits map[string]*Deposit
}

const (
	// Bookkeeping keys start with "md" and segment keys start with "s".
	metaKeyPrefix    = "md"
	segmentKeyPrefix = "s"
)

// Errors returned by a Store and its deposits.
var (
	ErrExists      = errors.New("deposit already exists")
	ErrBadID       = errors.New("deposit id may only contain A-Z a-z 0-9 . _ -")
	ErrMD5Mismatch = errors.New("MD5 mismatch")
	ErrCompleted   = errors.New("deposit is complete")
	ErrIncomplete  = errors.New("deposit is not complete")
	ErrNoSegments  = errors.New("deposit has no segments")
)

// Stat is the information kept on each deposit.
type Stat struct {
	ID        string
	Size      int64
	NSegments int
	Created   time.Time
	Modified  time.Time
	Creator   string
	Completed bool
	MD5       string // hex digest of the whole bag, once completed
}

// Deposit is one bag being received.
type Deposit struct {
	parent *Store
	m      sync.RWMutex // protects rec
	rec    record
}

// record is the part of a deposit which is saved.
type record struct {
	ID        string
	Size      int64      // sum of the segment sizes
	N         int        // number to use for the next segment key
	Segments  []*segment // in the order to read them
	Created   time.Time
	Modified  time.Time
	Creator   string
	Completed bool
	MD5       string
}

type segment struct {
	ID   string // key in the segment store
	Size int64
	MD5  string
}

// An Option configures a Store.
type Option func(*Store)

// WithClock sets the clock used for the created and modified times.
func WithClock(c clock.Clock) Option {
	return func(s *Store) { s.clock = c }
}

// New creates a deposit store wrapping s. Call Load() before using it.
func New(s store.Store, opts ...Option) *Store {
	result := &Store{
		meta:     NewJSON(store.NewWithPrefix(s, metaKeyPrefix)),
		sstore:   store.NewWithPrefix(s, segmentKeyPrefix),
		clock:    clock.New(),
		deposits: make(map[string]*Deposit),
	}
	for _, opt := range opts {
		opt(result)
	}
	return result
}

// Load reads the bookkeeping of every deposit in the underlying store.
// Records which cannot be read are logged and skipped.
func (s *Store) Load() error {
	keys, err := s.meta.ListPrefix("")
	if err != nil {
		return err
	}
	s.m.Lock()
	defer s.m.Unlock()
	for _, key := range keys {
		d := &Deposit{parent: s}
		if err := s.meta.Open(key, &d.rec); err != nil {
			log.Errorln("deposit Load:", key, err)
			continue
		}
		s.deposits[d.rec.ID] = d
	}
	return nil
}

// List returns the ids of every deposit, sorted.
func (s *Store) List() []string {
	s.m.RLock()
	defer s.m.RUnlock()
	result := make([]string, 0, len(s.deposits))
	for k := range s.deposits {
		result = append(result, k)
	}
	sort.Strings(result)
	return result
}

// Create starts a new, empty deposit. The id must be usable as a file name.
func (s *Store) Create(id, creator string) (*Deposit, error) {
	if id == "" || bagit.SanitizeFilename(id) != id {
		return nil, ErrBadID
	}
	s.m.Lock()
	defer s.m.Unlock()
	if _, ok := s.deposits[id]; ok {
		return nil, ErrExists
	}
	now := s.clock.Now()
	d := &Deposit{
		parent: s,
		rec: record{
			ID:       id,
			Created:  now,
			Modified: now,
			Creator:  creator,
		},
	}
	if err := d.save(); err != nil {
		return nil, err
	}
	s.deposits[id] = d
	return d, nil
}

// Lookup returns the deposit with the given id, or nil if there is none.
func (s *Store) Lookup(id string) *Deposit {
	s.m.RLock()
	defer s.m.RUnlock()
	return s.deposits[id]
}

// Delete removes a deposit and its segments. It is not an error to delete a
// deposit that does not exist.
func (s *Store) Delete(id string) error {
	s.m.Lock()
	d := s.deposits[id]
	delete(s.deposits, id)
	s.m.Unlock()

	if d == nil {
		return nil
	}
	d.m.Lock()
	defer d.m.Unlock()
	err := s.meta.Delete(d.rec.ID)
	for _, seg := range d.rec.Segments {
		er := s.sstore.Delete(seg.ID)
		if err == nil {
			err = er
		}
	}
	return err
}

// Stat returns the current bookkeeping of the deposit.
func (d *Deposit) Stat() Stat {
	d.m.RLock()
	defer d.m.RUnlock()
	return Stat{
		ID:        d.rec.ID,
		Size:      d.rec.Size,
		NSegments: len(d.rec.Segments),
		Created:   d.rec.Created,
		Modified:  d.rec.Modified,
		Creator:   d.rec.Creator,
		Completed: d.rec.Completed,
		MD5:       d.rec.MD5,
	}
}

// Append adds r as the next segment. The MD5 digest of the content must
// equal md5, otherwise the segment is removed again and ErrMD5Mismatch is
// returned. An empty md5 is not checked. It returns the number of bytes in
// the segment. If the bookkeeping cannot be saved the segment is removed and
// the deposit is left as it was.
func (d *Deposit) Append(r io.Reader, md5 []byte) (int64, error) {
	d.m.Lock()
	defer d.m.Unlock()
	if d.rec.Completed {
		return 0, ErrCompleted
	}
	// numbers are never reused, even for segments which were discarded
	key := fmt.Sprintf("%s+%04d", d.rec.ID, d.rec.N)
	d.rec.N++
	w, err := d.parent.sstore.Create(key)
	if err != nil {
		return 0, err
	}
	digests, n, err := util.CopyDigest(w, r, util.MD5)
	err2 := w.Close()
	if err == nil {
		err = err2
	}
	if err == nil && len(md5) > 0 {
		if digests[util.MD5] != hex.EncodeToString(md5) {
			err = ErrMD5Mismatch
		}
	}
	if err == nil {
		d.rec.Segments = append(d.rec.Segments, &segment{
			ID:   key,
			Size: n,
			MD5:  digests[util.MD5],
		})
		d.rec.Size += n
		err = d.save()
		if err != nil {
			d.rec.Segments = d.rec.Segments[:len(d.rec.Segments)-1]
			d.rec.Size -= n
		}
	}
	if err != nil {
		// the segment never becomes part of the deposit
		if er := d.parent.sstore.Delete(key); er != nil {
			log.Errorln("deposit Append:", key, er)
		}
		return 0, err
	}
	return n, nil
}

// Rollback removes the most recent segment. Calling it repeatedly keeps
// removing segments until none are left.
func (d *Deposit) Rollback() error {
	d.m.Lock()
	defer d.m.Unlock()
	if d.rec.Completed {
		return ErrCompleted
	}
	n := len(d.rec.Segments) - 1
	if n < 0 {
		return ErrNoSegments
	}
	seg := d.rec.Segments[n]
	d.rec.Segments = d.rec.Segments[:n]
	d.rec.Size -= seg.Size
	if err := d.save(); err != nil {
		d.rec.Segments = append(d.rec.Segments, seg)
		d.rec.Size += seg.Size
		return err
	}
	// an orphaned segment is harmless once the record no longer lists it
	if err := d.parent.sstore.Delete(seg.ID); err != nil {
		log.Errorln("deposit Rollback:", seg.ID, err)
	}
	return nil
}

// Complete checks that the segments received so far make up a bag with the
// given MD5 digest, and if so marks the deposit complete. No more segments
// may be added afterwards.
func (d *Deposit) Complete(md5 []byte) error {
	d.m.Lock()
	defer d.m.Unlock()
	if d.rec.Completed {
		return ErrCompleted
	}
	if len(d.rec.Segments) == 0 {
		return ErrNoSegments
	}
	r := d.open()
	digests, _, err := util.CopyDigest(nil, r, util.MD5)
	r.Close()
	if err != nil {
		return err
	}
	got, _ := hex.DecodeString(digests[util.MD5])
	if !bytes.Equal(got, md5) {
		return ErrMD5Mismatch
	}
	d.rec.Completed = true
	d.rec.MD5 = digests[util.MD5]
	return d.save()
}

// Open returns the concatenation of every segment, from the beginning.
func (d *Deposit) Open() io.ReadCloser {
	d.m.RLock()
	defer d.m.RUnlock()
	return d.open()
}

// must hold a lock on d to call this
func (d *Deposit) open() io.ReadCloser {
	var list = make([]string, len(d.rec.Segments))
	for i := range d.rec.Segments {
		list[i] = d.rec.Segments[i].ID
	}
	return &segreader{
		s:    d.parent.sstore,
		keys: list,
	}
}

// save the bookkeeping for this deposit.
// must hold a write lock on d to call this
func (d *Deposit) save() error {
	d.rec.Modified = d.parent.clock.Now()
	return d.parent.meta.Save(d.rec.ID, &d.rec)
}

// segreader provides an io.Reader which will span a list of keys.
// Each segment is opened and closed in turn, so there is at most one
// file descriptor open at any time.
type segreader struct {
	s    store.Store        // the store containing the keys
	keys []string           // next one to open is at index 0
	r    store.ReadAtCloser // nil if no reader is open
	off  int64              // offset into r to read from next
}

func (sr *segreader) Read(p []byte) (int, error) {
	for len(sr.keys) > 0 || sr.r != nil {
		var err error
		if sr.r == nil {
			sr.r, _, err = sr.s.Open(sr.keys[0])
			if err != nil {
				return 0, err
			}
			sr.off = 0
			sr.keys = sr.keys[1:]
		}
		n, err := sr.r.ReadAt(p, sr.off)
		sr.off += int64(n)
		if err == io.EOF {
			// need to check rest of list before sending EOF
			err = sr.r.Close()
			sr.r = nil
		}
		if n > 0 || err != nil {
			return n, err
		}
	}
	return 0, io.EOF
}

func (sr *segreader) Close() error {
	if sr.r != nil {
		return sr.r.Close()
	}
	return nil
}
