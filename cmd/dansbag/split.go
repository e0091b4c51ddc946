package main

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/datadryad/dans-bagit/bagit"
	"github.com/datadryad/dans-bagit/store"
)

// splitBag copies the bag at path into s as segments named
// "<zipname>.<NNNN>", followed by "<zipname>.md5" which lists the MD5 of
// each segment. It returns the number of segments written.
func splitBag(s store.Store, path string, segsize int64) (int, error) {
	it, err := bagit.NewSegmentIterator(path, segsize, true)
	if err != nil {
		return 0, err
	}
	defer it.Close()
	base := filepath.Base(path)
	listing := bagit.NewTagFile()
	for it.HasNext() {
		seg, err := it.Next()
		if err != nil {
			return 0, err
		}
		key := fmt.Sprintf("%s.%04d", base, seg.Index)
		if err := writeKey(s, key, seg); err != nil {
			return 0, err
		}
		listing.Add(key, seg.MD5)
		log.Debugf("wrote %s", key)
	}
	w, err := s.Create(base + ".md5")
	if err != nil {
		return 0, errors.Wrap(err, base+".md5")
	}
	_, err = w.Write(listing.Serialize())
	if err2 := w.Close(); err == nil {
		err = err2
	}
	return listing.Len(), err
}

func writeKey(s store.Store, key string, seg *bagit.Segment) error {
	w, err := s.Create(key)
	if err != nil {
		return errors.Wrap(err, key)
	}
	_, err = io.Copy(w, seg)
	if err2 := w.Close(); err == nil {
		err = err2
	}
	return err
}
