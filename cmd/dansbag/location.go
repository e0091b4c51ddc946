package main

import (
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/pkg/errors"

	"github.com/datadryad/dans-bagit/store"
)

// splitBucketPrefix separates the bucket name from the prefix, if any. The
// prefix returned is either empty or ends with a slash.
//
// examples:
//
//	"" -> ("", "")
//	"bucket" -> ("bucket", "")
//	"bucket/and/a/prefix" -> ("bucket", "and/a/prefix/")
func splitBucketPrefix(location string) (bucket, prefix string) {
	location = strings.TrimPrefix(location, "/")
	if location == "" {
		return
	}
	v := strings.SplitN(location, "/", 2)
	bucket = v[0]
	if len(v) > 1 {
		prefix = v[1]
	}
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix = prefix + "/"
	}
	return
}

// parselocation makes a store for the given location. An empty location
// gives a memory store. A plain path or a "file:" URL is a directory, which
// is created if needed. "s3:/bucket/prefix" is a bucket on S3, and
// "s3://host:port/bucket/prefix" is an S3 compatible service at that host.
func parselocation(location string) (store.Store, error) {
	if location == "" {
		return store.NewMemory(), nil
	}
	u, err := url.Parse(location)
	if err != nil {
		return nil, errors.Wrap(err, "location")
	}
	switch u.Scheme {
	case "", "file":
		path := filepath.Clean(u.Path)
		if u.Opaque != "" {
			path = filepath.Clean(u.Opaque)
		}
		if err := os.MkdirAll(path, 0755); err != nil {
			return nil, err
		}
		return store.NewFileSystem(path), nil
	case "s3":
		conf := &aws.Config{}
		if u.Host != "" {
			conf.Endpoint = aws.String(u.Host)
			conf.Region = aws.String("us-east-1")
			// disable SSL for local development
			if strings.Contains(u.Host, "localhost") {
				conf.DisableSSL = aws.Bool(true)
				conf.S3ForcePathStyle = aws.Bool(true)
			}
		}
		bucket, prefix := splitBucketPrefix(u.Path)
		if bucket == "" {
			return nil, errors.Errorf("location %q has no bucket name", location)
		}
		sess, err := session.NewSession(conf)
		if err != nil {
			return nil, err
		}
		return store.NewS3(bucket, prefix, sess), nil
	}
	return nil, errors.Errorf("location %q has unknown scheme %q", location, u.Scheme)
}
