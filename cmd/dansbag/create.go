package main

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/datadryad/dans-bagit/bagit"
	"github.com/datadryad/dans-bagit/metadata"
)

// buildBag creates the bag described by desc in outdir and returns the path
// of the new container. Relative bitstream paths are taken from srcdir.
func buildBag(desc *Description, srcdir, outdir string, opts ...bagit.Option) (string, error) {
	if desc.Name == "" {
		return "", errors.New("bag description has no name")
	}
	switch desc.Compression {
	case "", "deflate":
	case "store":
		opts = append(opts, bagit.WithCompression(bagit.Store))
	default:
		return "", errors.Errorf("unknown compression %q", desc.Compression)
	}
	if desc.VersionOf != "" {
		opts = append(opts, bagit.WithVersionOf(desc.VersionOf))
	}
	zipname := filepath.Join(outdir, desc.Name+".zip")
	if _, err := os.Stat(zipname); err == nil {
		return "", &bagit.UsageError{Op: "create", Err: errors.Wrap(bagit.ErrContainerExists, zipname)}
	}
	workdir, err := os.MkdirTemp(outdir, "."+desc.Name+"-")
	if err != nil {
		return "", err
	}
	b, err := bagit.NewBuilder(desc.Name, zipname, workdir, opts...)
	if err != nil {
		os.RemoveAll(workdir)
		return "", err
	}
	defer b.CleanupWorkingDir()

	for _, df := range desc.Datafile {
		if err := addDatafile(b, df, srcdir); err != nil {
			return "", err
		}
	}
	if len(desc.Dataset) > 0 {
		dim := new(metadata.DIM)
		for _, f := range desc.Dataset {
			dim.AddDSpaceField(f.Field, f.Value)
		}
		if err := b.SetDatasetMetadata(dim); err != nil {
			return "", err
		}
	}
	if len(desc.Profile) > 0 {
		ddm := new(metadata.DDM)
		for _, f := range desc.Profile {
			ddm.AddProfileField(f.Field, f.Value)
		}
		if err := b.SetProfileMetadata(ddm); err != nil {
			return "", err
		}
	}
	if err := b.Finalize(); err != nil {
		return "", err
	}
	return zipname, nil
}

func addDatafile(b *bagit.Builder, df DatafileDescription, srcdir string) error {
	if df.Ident == "" {
		return errors.New("data file has no ident")
	}
	for _, bs := range df.Bitstream {
		path := bs.Path
		if !filepath.IsAbs(path) {
			path = filepath.Join(srcdir, path)
		}
		filename := bs.Filename
		if filename == "" {
			filename = filepath.Base(bs.Path)
		}
		bundle := bs.Bundle
		if bundle == "" {
			bundle = "ORIGINAL"
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		_, err = b.AddBitstream(f, filename, bs.Format, bs.Description, df.Ident, bundle)
		f.Close()
		if err != nil {
			return errors.Wrap(err, bs.Path)
		}
		log.Debugf("added %s to %s/%s", bs.Path, df.Ident, bundle)
	}
	if len(df.Metadata) > 0 {
		dim := new(metadata.DIM)
		for _, f := range df.Metadata {
			dim.AddDSpaceField(f.Field, f.Value)
		}
		return b.SetDatafileMetadata(dim, df.Ident)
	}
	return nil
}
