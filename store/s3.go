package store

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	raven "github.com/getsentry/raven-go"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// A S3 store represents a store that is kept on AWS S3 storage. It is used
// as a destination for bag segments.
// Do not change Bucket or Prefix concurrently with calls using the structure.
type S3 struct {
	svc    *s3.S3
	Bucket string
	Prefix string
}

var _ Store = &S3{}

// NewS3 creates a new S3 store. It will use the given bucket and will prepend
// prefix to all keys. For example if prefix were "segments/" then an
// Open("hello") would look for the key "segments/hello" in the bucket. The
// authorization method and credentials in the session are used for all
// accesses.
func NewS3(bucket, prefix string, awsSession *session.Session) *S3 {
	return &S3{
		Bucket: bucket,
		Prefix: prefix,
		svc:    s3.New(awsSession),
	}
}

// List returns the keys in this store. Errors are logged and end the listing.
func (s *S3) List() <-chan string {
	out := make(chan string)
	go func() {
		defer close(out)
		keys, _ := s.ListPrefix("")
		for _, k := range keys {
			out <- k
		}
	}()
	return out
}

// ListPrefix returns the keys in this store that have the given prefix.
// The argument prefix is added to the store's Prefix.
func (s *S3) ListPrefix(prefix string) ([]string, error) {
	var result []string
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(s.Bucket),
		Prefix: aws.String(s.Prefix + prefix),
	}
	err := s.svc.ListObjectsV2Pages(input,
		func(page *s3.ListObjectsV2Output, lastpage bool) bool {
			for _, item := range page.Contents {
				result = append(result, strings.TrimPrefix(*item.Key, s.Prefix))
			}
			return !lastpage
		})
	if err != nil {
		log.Errorln("S3 ListPrefix:", s.Prefix, prefix, err)
		raven.CaptureError(err, map[string]string{"Bucket": s.Bucket, "Prefix": s.Prefix, "Pattern": prefix})
	}
	return result, err
}

// Open returns a ReadAtCloser for the given key. Every ReadAt is a ranged GET.
func (s *S3) Open(key string) (ReadAtCloser, int64, error) {
	size, err := s.stat(key)
	if err != nil {
		return nil, 0, err
	}
	return &s3ReadAtCloser{
		svc:    s.svc,
		bucket: s.Bucket,
		key:    s.Prefix + key,
		size:   size,
	}, size, nil
}

// Create returns a WriteCloser which streams its content to S3. The upload
// is finished when Close returns.
func (s *S3) Create(key string) (io.WriteCloser, error) {
	if _, err := s.stat(key); err == nil {
		return nil, ErrKeyExists
	} else if errors.Cause(err) != ErrNotFound {
		return nil, err
	}
	pr, pw := io.Pipe()
	wc := &s3WriteCloser{pw: pw, done: make(chan error, 1)}
	uploader := s3manager.NewUploaderWithClient(s.svc)
	fullkey := s.Prefix + key
	go func() {
		_, err := uploader.Upload(&s3manager.UploadInput{
			Bucket: aws.String(s.Bucket),
			Key:    aws.String(fullkey),
			Body:   pr,
		})
		if err != nil {
			log.Errorln("S3 Upload:", fullkey, err)
			raven.CaptureError(err, map[string]string{"Bucket": s.Bucket, "Key": fullkey})
		}
		// unblock any writer if the upload gave up early
		pr.CloseWithError(err)
		wc.done <- err
	}()
	return wc, nil
}

// Delete will remove the given key from the store. It is not an error to
// delete something that doesn't exist.
func (s *S3) Delete(key string) error {
	_, err := s.svc.DeleteObject(&s3.DeleteObjectInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(s.Prefix + key),
	})
	if err != nil {
		log.Errorln("S3 Delete:", s.Prefix, key, err)
		raven.CaptureError(err, map[string]string{"Bucket": s.Bucket, "Prefix": s.Prefix, "Key": key})
	}
	return err
}

// stat returns the size of the given key, or ErrNotFound.
func (s *S3) stat(key string) (int64, error) {
	info, err := s.svc.HeadObject(&s3.HeadObjectInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(s.Prefix + key),
	})
	if err != nil {
		if aerr, ok := err.(awserr.RequestFailure); ok && aerr.StatusCode() == http.StatusNotFound {
			return 0, errors.Wrap(ErrNotFound, key)
		}
		return 0, err
	}
	return aws.Int64Value(info.ContentLength), nil
}

type s3ReadAtCloser struct {
	svc    *s3.S3
	bucket string
	key    string
	size   int64
}

func (rac *s3ReadAtCloser) ReadAt(p []byte, offset int64) (int, error) {
	if offset >= rac.size {
		return 0, io.EOF
	}
	want := int64(len(p))
	if offset+want > rac.size {
		want = rac.size - offset
	}
	if want == 0 {
		return 0, nil
	}
	out, err := rac.svc.GetObject(&s3.GetObjectInput{
		Bucket: aws.String(rac.bucket),
		Key:    aws.String(rac.key),
		Range:  aws.String(fmt.Sprintf("bytes=%d-%d", offset, offset+want-1)),
	})
	if err != nil {
		return 0, err
	}
	defer out.Body.Close()
	n, err := io.ReadFull(out.Body, p[:want])
	if err == nil && want < int64(len(p)) {
		err = io.EOF
	}
	return n, err
}

func (rac *s3ReadAtCloser) Close() error { return nil }

type s3WriteCloser struct {
	pw   *io.PipeWriter
	done chan error
}

func (wc *s3WriteCloser) Write(p []byte) (int, error) {
	return wc.pw.Write(p)
}

func (wc *s3WriteCloser) Close() error {
	wc.pw.Close()
	return <-wc.done
}
