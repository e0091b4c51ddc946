package util

import (
	"crypto/md5"
	"crypto/sha1"
	"encoding/hex"
	"hash"
	"io"
	"strings"

	"github.com/pkg/errors"
)

// BlockSize is the size of the buffer CopyDigest reads its source with.
const BlockSize = 8192

// A DigestKind names one of the checksum algorithms a bag records.
type DigestKind int

const (
	MD5 DigestKind = iota + 1
	SHA1
)

// ErrUnknownDigest means a DigestKind outside of MD5 and SHA1 was requested.
var ErrUnknownDigest = errors.New("unknown digest kind")

func (k DigestKind) String() string {
	switch k {
	case MD5:
		return "md5"
	case SHA1:
		return "sha1"
	}
	return "unknown"
}

// New returns a fresh hash.Hash for this kind, or nil if the kind is unknown.
func (k DigestKind) New() hash.Hash {
	switch k {
	case MD5:
		return md5.New()
	case SHA1:
		return sha1.New()
	}
	return nil
}

// Digests maps a digest kind to its lowercase hex encoding.
type Digests map[DigestKind]string

// CopyDigest copies src to dst in BlockSize pieces, feeding every piece to a
// hash for each of the requested kinds before it is written to dst. If dst is
// nil the data is only digested. The source is read until io.EOF; any other
// read error, or a failed write, aborts the copy and no digests are returned.
// The number of bytes read is returned in every case.
func CopyDigest(dst io.Writer, src io.Reader, kinds ...DigestKind) (Digests, int64, error) {
	hashes := make(map[DigestKind]hash.Hash, len(kinds))
	for _, k := range kinds {
		h := k.New()
		if h == nil {
			return nil, 0, errors.Wrapf(ErrUnknownDigest, "kind %d", int(k))
		}
		hashes[k] = h
	}
	buf := make([]byte, BlockSize)
	var total int64
	for {
		n, err := src.Read(buf)
		if n > 0 {
			for _, h := range hashes {
				h.Write(buf[:n])
			}
			if dst != nil {
				nw, werr := dst.Write(buf[:n])
				if werr == nil && nw != n {
					werr = io.ErrShortWrite
				}
				if werr != nil {
					return nil, total, werr
				}
			}
			total += int64(n)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, total, err
		}
	}
	result := make(Digests, len(hashes))
	for k, h := range hashes {
		result[k] = hex.EncodeToString(h.Sum(nil))
	}
	return result, total, nil
}

// VerifyStreamHash digests r and compares the result against want, which
// holds the expected hex digest for each kind to check. Case is ignored. It
// returns true if every listed digest matches. An empty want matches
// without reading r. The reader is not closed when finished.
func VerifyStreamHash(r io.Reader, want Digests) (bool, error) {
	if len(want) == 0 {
		return true, nil
	}
	kinds := make([]DigestKind, 0, len(want))
	for k := range want {
		kinds = append(kinds, k)
	}
	got, _, err := CopyDigest(nil, r, kinds...)
	if err != nil {
		return false, err
	}
	for k, v := range want {
		if got[k] != strings.ToLower(v) {
			return false, nil
		}
	}
	return true, nil
}
