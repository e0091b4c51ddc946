package deposit

import (
	"io"
	"sort"

	"github.com/datadryad/dans-bagit/bagit"
	"github.com/datadryad/dans-bagit/store"
)

// Bag is a completed deposit opened as a bag. Close it when finished.
type Bag struct {
	*bagit.Reader
	parts *partsReaderAt
}

// Close releases the segments.
func (b *Bag) Close() error {
	return b.parts.Close()
}

// Bag opens a completed deposit as a bag. The segments are read in place.
func (d *Deposit) Bag() (*Bag, error) {
	d.m.RLock()
	defer d.m.RUnlock()
	if !d.rec.Completed {
		return nil, ErrIncomplete
	}
	parts := &partsReaderAt{offsets: []int64{0}}
	for _, seg := range d.rec.Segments {
		r, size, err := d.parent.sstore.Open(seg.ID)
		if err != nil {
			parts.Close()
			return nil, err
		}
		parts.add(r, size)
	}
	reader, err := bagit.NewReader(parts, parts.Size())
	if err != nil {
		parts.Close()
		return nil, err
	}
	return &Bag{Reader: reader, parts: parts}, nil
}

// partsReaderAt presents a sequence of ReaderAts as one.
type partsReaderAt struct {
	parts   []store.ReadAtCloser
	offsets []int64 // offsets[i] is where parts[i] begins; the last is the total size
}

func (p *partsReaderAt) add(r store.ReadAtCloser, size int64) {
	p.parts = append(p.parts, r)
	p.offsets = append(p.offsets, p.Size()+size)
}

// Size returns the total length.
func (p *partsReaderAt) Size() int64 {
	return p.offsets[len(p.offsets)-1]
}

func (p *partsReaderAt) ReadAt(b []byte, off int64) (int, error) {
	if off < 0 || off >= p.Size() {
		return 0, io.EOF
	}
	// the first part ending after off
	i := sort.Search(len(p.parts), func(i int) bool { return p.offsets[i+1] > off })
	var n int
	for n < len(b) && i < len(p.parts) {
		want := int64(len(b) - n)
		if end := p.offsets[i+1] - off; end < want {
			want = end
		}
		k, err := p.parts[i].ReadAt(b[n:n+int(want)], off-p.offsets[i])
		n += k
		off += int64(k)
		if int64(k) < want {
			if err == nil || err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			return n, err
		}
		i++
	}
	if n < len(b) {
		return n, io.EOF
	}
	return n, nil
}

func (p *partsReaderAt) Close() error {
	var err error
	for _, r := range p.parts {
		if e := r.Close(); err == nil {
			err = e
		}
	}
	return err
}
