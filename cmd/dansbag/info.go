package main

import (
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"github.com/datadryad/dans-bagit/bagit"
)

// printInfo writes a description of the bag at path to w. If verify is set
// every digest is recomputed and the mismatches listed; the returned count
// is the number of mismatches.
func printInfo(w io.Writer, path string, verify bool) (int, error) {
	r, err := bagit.OpenReader(path)
	if err != nil {
		return 0, err
	}
	defer r.Close()

	tags, err := r.Tags()
	if err != nil {
		return 0, err
	}
	tw := tabwriter.NewWriter(w, 5, 1, 3, ' ', 0)
	fmt.Fprintf(tw, "Bag:\t%s\n", r.Name())
	var keys []string
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(tw, "%s:\t%s\n", k, tags[k])
	}
	tw.Flush()

	if dim := r.DatasetMetadata(); dim != nil {
		fmt.Fprintln(w, "---")
		for _, f := range dim.Fields {
			fmt.Fprintf(w, "%s: %s\n", f.Name(), f.Value)
		}
	}

	for _, ident := range r.Datafiles() {
		fmt.Fprintln(w, "---")
		fmt.Fprintln(w, "Datafile:", ident)
		if dim := r.DatafileMetadata(ident); dim != nil {
			for _, v := range dim.Values("dc.title") {
				fmt.Fprintln(w, "Title:", v)
			}
		}
		tw := tabwriter.NewWriter(w, 5, 1, 3, ' ', 0)
		fmt.Fprintf(tw, "Bundle\tSize\tMD5\tFormat\tFile\n")
		for _, bundle := range r.Bundles(ident) {
			for _, bs := range r.Bitstreams(ident, bundle) {
				fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\n", bundle, bs.Size, bs.MD5, bs.Format, bs.Filename)
			}
		}
		tw.Flush()
	}

	if !verify {
		return 0, nil
	}
	fmt.Fprintln(w, "---")
	bad, err := r.Verify()
	if err != nil {
		return 0, err
	}
	for _, p := range bad {
		fmt.Fprintln(w, "Mismatch:", p)
	}
	fmt.Fprintf(w, "Verify: %d problems\n", len(bad))
	return len(bad), nil
}
