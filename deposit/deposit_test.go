package deposit

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/facebookgo/clock"
	"github.com/hlubek/readercomp"

	"github.com/datadryad/dans-bagit/bagit"
	"github.com/datadryad/dans-bagit/store"
)

func TestAppendAndReload(t *testing.T) {
	var table = []struct {
		name string
		data string // split segments on "|"
	}{
		{"a", "single segment"},
		{"b", "two |segments"},
		{"c", "quite a number| of segments| in a row|for good measure"},
	}
	memory := store.NewMemory()
	registry := New(memory)
	if err := registry.Load(); err != nil {
		t.Fatalf("received %s, expected nil", err)
	}
	for _, test := range table {
		d, err := registry.Create(test.name, "tester")
		if err != nil {
			t.Fatalf("got %s, expected nil", err)
		}
		for _, seg := range strings.Split(test.data, "|") {
			n, err := d.Append(strings.NewReader(seg), md5sum(seg))
			if err != nil {
				t.Fatalf("got %s, expected nil", err)
			}
			if n != int64(len(seg)) {
				t.Errorf("Got %d, expected %d", n, len(seg))
			}
		}
		checkContent(t, d, strings.Replace(test.data, "|", "", -1))
	}

	// Now test reloading
	registry = New(memory)
	if err := registry.Load(); err != nil {
		t.Fatalf("received %s, expected nil", err)
	}
	if got := registry.List(); strings.Join(got, ",") != "a,b,c" {
		t.Errorf("Got %v", got)
	}
	for _, test := range table {
		d := registry.Lookup(test.name)
		if d == nil {
			t.Fatalf("Lookup of key %s failed", test.name)
		}
		checkContent(t, d, strings.Replace(test.data, "|", "", -1))
		st := d.Stat()
		if st.Creator != "tester" || st.NSegments != len(strings.Split(test.data, "|")) {
			t.Errorf("Got %+v", st)
		}
	}

	// now delete things
	for _, test := range table {
		registry.Delete(test.name)
	}
	registry.Delete("not-there")
	keys, _ := memory.ListPrefix("")
	if len(keys) > 0 {
		t.Fatalf("Got %v, expected empty list", keys)
	}
}

func TestAppendMismatch(t *testing.T) {
	memory := store.NewMemory()
	registry := New(memory)
	d, _ := registry.Create("x", "")
	d.Append(strings.NewReader("good"), md5sum("good"))

	_, err := d.Append(strings.NewReader("bad"), md5sum("different"))
	if err != ErrMD5Mismatch {
		t.Errorf("Got %v, expected %v", err, ErrMD5Mismatch)
	}
	if st := d.Stat(); st.NSegments != 1 || st.Size != 4 {
		t.Errorf("Got %+v", st)
	}
	// the rejected segment is gone from the store
	keys, _ := memory.ListPrefix(segmentKeyPrefix)
	if len(keys) != 1 {
		t.Errorf("Got %v, expected one segment", keys)
	}

	// retrying works
	if _, err := d.Append(strings.NewReader("bad"), md5sum("bad")); err != nil {
		t.Errorf("Got %v, expected nil", err)
	}
	checkContent(t, d, "goodbad")

	if err := d.Rollback(); err != nil {
		t.Errorf("Got %v, expected nil", err)
	}
	checkContent(t, d, "good")
	d.Rollback()
	if err := d.Rollback(); err != ErrNoSegments {
		t.Errorf("Got %v, expected %v", err, ErrNoSegments)
	}
}

// brokenMeta fails to write bookkeeping records while fail is set.
type brokenMeta struct {
	store.Store
	fail bool
}

var errNoSpace = errors.New("no space left")

func (b *brokenMeta) Create(key string) (io.WriteCloser, error) {
	if b.fail && strings.HasPrefix(key, metaKeyPrefix) {
		return nil, errNoSpace
	}
	return b.Store.Create(key)
}

func (b *brokenMeta) Delete(key string) error {
	if b.fail && strings.HasPrefix(key, metaKeyPrefix) {
		return errNoSpace
	}
	return b.Store.Delete(key)
}

func TestAppendSaveFailure(t *testing.T) {
	memory := &brokenMeta{Store: store.NewMemory()}
	registry := New(memory)
	d, err := registry.Create("x", "")
	if err != nil {
		t.Fatalf("Got %v, expected nil", err)
	}
	if _, err := d.Append(strings.NewReader("good"), md5sum("good")); err != nil {
		t.Fatalf("Got %v, expected nil", err)
	}

	memory.fail = true
	n, err := d.Append(strings.NewReader("more"), md5sum("more"))
	if err != errNoSpace || n != 0 {
		t.Errorf("Got %d, %v, expected 0, %v", n, err, errNoSpace)
	}
	if st := d.Stat(); st.NSegments != 1 || st.Size != 4 {
		t.Errorf("Got %+v", st)
	}
	keys, _ := memory.ListPrefix(segmentKeyPrefix)
	if len(keys) != 1 {
		t.Errorf("Got %v, expected one segment", keys)
	}
	if err := d.Rollback(); err != errNoSpace {
		t.Errorf("Got %v, expected %v", err, errNoSpace)
	}
	checkContent(t, d, "good")

	// the saved record agrees with memory
	memory.fail = false
	registry = New(memory)
	if err := registry.Load(); err != nil {
		t.Fatalf("Got %v, expected nil", err)
	}
	d = registry.Lookup("x")
	if d == nil {
		t.Fatalf("Lookup of x failed")
	}
	checkContent(t, d, "good")
	if _, err := d.Append(strings.NewReader("more"), md5sum("more")); err != nil {
		t.Errorf("Got %v, expected nil", err)
	}
	checkContent(t, d, "goodmore")
}

func TestCreateErrors(t *testing.T) {
	registry := New(store.NewMemory())
	if _, err := registry.Create("ok", ""); err != nil {
		t.Errorf("Got %v, expected nil", err)
	}
	var table = []struct {
		id  string
		err error
	}{
		{"ok", ErrExists},
		{"", ErrBadID},
		{"a/b", ErrBadID},
		{"a b", ErrBadID},
	}
	for _, test := range table {
		_, err := registry.Create(test.id, "")
		if err != test.err {
			t.Errorf("%q: Got %v, expected %v", test.id, err, test.err)
		}
	}
}

func TestCompleteAndOpenBag(t *testing.T) {
	dir := t.TempDir()
	b, err := bagit.NewBuilder("bag", filepath.Join(dir, "bag.zip"), filepath.Join(dir, "work"))
	if err != nil {
		t.Fatal(err)
	}
	content := strings.Repeat("some data file content ", 500)
	b.AddBitstream(strings.NewReader(content), "data.csv", "text/csv", "", "10.x/1", "ORIGINAL")
	if err := b.Finalize(); err != nil {
		t.Fatal(err)
	}
	total, _ := b.MD5()

	mock := clock.NewMock()
	registry := New(store.NewMemory(), WithClock(mock))
	d, _ := registry.Create("bag", "tester")

	if _, err := d.Bag(); err != ErrIncomplete {
		t.Errorf("Got %v, expected %v", err, ErrIncomplete)
	}
	if err := d.Complete(unhex(total)); err != ErrNoSegments {
		t.Errorf("Got %v, expected %v", err, ErrNoSegments)
	}

	it, _ := b.Segments(1000, true)
	defer it.Close()
	for it.HasNext() {
		seg, err := it.Next()
		if err != nil {
			t.Fatal(err)
		}
		mock.Add(time.Minute)
		if _, err := d.Append(seg, unhex(seg.MD5)); err != nil {
			t.Fatalf("segment %d: %s", seg.Index, err)
		}
	}

	if err := d.Complete(md5sum("wrong")); err != ErrMD5Mismatch {
		t.Errorf("Got %v, expected %v", err, ErrMD5Mismatch)
	}
	if err := d.Complete(unhex(total)); err != nil {
		t.Fatalf("Got %v, expected nil", err)
	}
	st := d.Stat()
	if !st.Completed || st.MD5 != total || !st.Modified.After(st.Created) {
		t.Errorf("Got %+v", st)
	}
	if _, err := d.Append(strings.NewReader("more"), nil); err != ErrCompleted {
		t.Errorf("Got %v, expected %v", err, ErrCompleted)
	}

	bag, err := d.Bag()
	if err != nil {
		t.Fatalf("Got %v, expected nil", err)
	}
	defer bag.Close()
	if got := bag.Datafiles(); len(got) != 1 || got[0] != "10.x/1" {
		t.Errorf("Got %v", got)
	}
	bss := bag.Bitstreams("10.x/1", "ORIGINAL")
	if len(bss) != 1 {
		t.Fatalf("Got %d bitstreams, expected 1", len(bss))
	}
	rc, err := bss[0].Open()
	if err != nil {
		t.Fatal(err)
	}
	defer rc.Close()
	same, err := readercomp.Equal(rc, strings.NewReader(content), 4096)
	if err != nil || !same {
		t.Errorf("content differs (%v)", err)
	}

	// the whole deposit matches the original zip
	f, _ := os.Open(filepath.Join(dir, "bag.zip"))
	defer f.Close()
	whole := d.Open()
	defer whole.Close()
	same, err = readercomp.Equal(whole, f, 4096)
	if err != nil || !same {
		t.Errorf("deposit differs from zip (%v)", err)
	}
}

func TestPartsReaderAt(t *testing.T) {
	m := store.NewMemory()
	parts := &partsReaderAt{offsets: []int64{0}}
	for i, s := range []string{"abc", "", "defg", "h"} {
		key := string(rune('a' + i))
		w, _ := m.Create(key)
		w.Write([]byte(s))
		w.Close()
		r, size, _ := m.Open(key)
		parts.add(r, size)
	}
	var table = []struct {
		off  int64
		size int
		want string
		err  error
	}{
		{0, 8, "abcdefgh", nil},
		{2, 3, "cde", nil},
		{3, 4, "defg", nil},
		{6, 5, "gh", io.EOF},
		{8, 1, "", io.EOF},
	}
	for _, test := range table {
		buf := make([]byte, test.size)
		n, err := parts.ReadAt(buf, test.off)
		if string(buf[:n]) != test.want || err != test.err {
			t.Errorf("%d: Got %q, %v, expected %q, %v", test.off, buf[:n], err, test.want, test.err)
		}
	}
}

func checkContent(t *testing.T, d *Deposit, expected string) {
	r := d.Open()
	defer r.Close()
	result, _ := io.ReadAll(r)
	if string(result) != expected {
		t.Errorf("Read %q, expected %q", result, expected)
	}
	if int64(len(result)) != d.Stat().Size {
		t.Errorf("Got Size = %d, expected %d", d.Stat().Size, len(result))
	}
}

func md5sum(s string) []byte {
	sum := md5.Sum([]byte(s))
	return sum[:]
}

func unhex(s string) []byte {
	b, _ := hex.DecodeString(s)
	return b
}
