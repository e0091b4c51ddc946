package bagit

import (
	"io"
	"os"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/datadryad/dans-bagit/util"
)

// SegmentIterator hands out a file as a sequence of fixed size pieces. Every
// piece except possibly the last is exactly the segment size. The iterator
// treats the file as opaque bytes; it does not need to be a bag.
type SegmentIterator struct {
	r       io.ReaderAt
	closer  io.Closer // may be nil
	size    int64     // of the whole file
	segsize int64
	withMD5 bool
	offset  int64 // start of the next segment
	index   int
}

// Segment is one piece of a file. It is an io.Reader which reports io.EOF
// at the end of the piece, no matter how much of the file follows.
type Segment struct {
	Index  int    // 0 based position in the sequence
	Offset int64  // within the file
	Size   int64  // in bytes
	MD5    string // hex, empty unless digests were requested

	r io.Reader
}

func (s *Segment) Read(p []byte) (int, error) {
	return s.r.Read(p)
}

// NewSegmentIterator opens the file at path to be read in pieces of
// segmentSize bytes. If withMD5 is set each segment carries its MD5 digest,
// which is computed by reading the segment an extra time before it is
// returned.
func NewSegmentIterator(path string, segmentSize int64, withMD5 bool) (*SegmentIterator, error) {
	if err := checkSegmentSize("NewSegmentIterator", segmentSize); err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	s, _ := NewSegmentIteratorAt(f, fi.Size(), segmentSize, withMD5)
	s.closer = f
	return s, nil
}

// NewSegmentIteratorAt is like NewSegmentIterator but reads from r, which
// has the given size.
func NewSegmentIteratorAt(r io.ReaderAt, size, segmentSize int64, withMD5 bool) (*SegmentIterator, error) {
	if err := checkSegmentSize("NewSegmentIteratorAt", segmentSize); err != nil {
		return nil, err
	}
	return &SegmentIterator{
		r:       r,
		size:    size,
		segsize: segmentSize,
		withMD5: withMD5,
	}, nil
}

func checkSegmentSize(op string, segmentSize int64) error {
	if segmentSize <= 0 {
		return &UsageError{Op: op, Err: errors.Errorf("invalid segment size %d", segmentSize)}
	}
	return nil
}

// HasNext is true while there is data past the current position.
func (s *SegmentIterator) HasNext() bool {
	return s.offset < s.size
}

// Count returns the total number of segments.
func (s *SegmentIterator) Count() int {
	return int((s.size + s.segsize - 1) / s.segsize)
}

// Next returns the following segment and moves past it. The position
// advances by the segment size whether or not the returned segment is read.
// It returns io.EOF when there are no more segments.
func (s *SegmentIterator) Next() (*Segment, error) {
	if !s.HasNext() {
		return nil, io.EOF
	}
	n := s.segsize
	if s.offset+n > s.size {
		n = s.size - s.offset
	}
	seg := &Segment{
		Index:  s.index,
		Offset: s.offset,
		Size:   n,
	}
	if s.withMD5 {
		// first pass is only for the digest
		digests, count, err := util.CopyDigest(nil, io.NewSectionReader(s.r, s.offset, n), util.MD5)
		if err != nil {
			return nil, err
		}
		if count != n {
			return nil, errors.Wrapf(io.ErrUnexpectedEOF, "segment %d", s.index)
		}
		seg.MD5 = digests[util.MD5]
	}
	seg.r = io.NewSectionReader(s.r, s.offset, n)
	log.Debugf("bagit: segment %d offset %d size %d md5 %s", seg.Index, seg.Offset, seg.Size, seg.MD5)
	s.offset += s.segsize
	s.index++
	return seg, nil
}

// Reset moves back to the first segment.
func (s *SegmentIterator) Reset() {
	s.offset = 0
	s.index = 0
}

// Close releases the file, if the iterator opened it.
func (s *SegmentIterator) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}
