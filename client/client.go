/*
Package client sends finished bags to a deposit server.

A bag is cut into segments, each posted with its MD5 digest. A segment the
server refuses with 412 Precondition Failed is sent again. After the last
segment the deposit is completed with the digest of the whole bag.

	c := &client.Connection{HostURL: "http://localhost:14000", Token: "..."}
	err := c.Upload("mybag", "/path/to/mybag.zip")
*/
package client

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/antonholmquist/jason"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/datadryad/dans-bagit/bagit"
	"github.com/datadryad/dans-bagit/util"
)

// A Connection represents a connection with a deposit server.
// Do not change the fields once it is in use.
type Connection struct {
	// The server this connection is to, e.g. "http://localhost:14000"
	HostURL string

	// Token is sent as the X-Api-Key header, if not empty.
	Token string

	// SegmentSize is the size of each posted segment. Defaults to
	// DefaultSegmentSize.
	SegmentSize int64

	// Rate limits the upload speed in bytes per second. Zero means
	// unlimited.
	Rate float64

	// Retries is how many times a segment is resent after the server
	// refuses it. Defaults to 3.
	Retries int

	client *http.Client
}

// DefaultSegmentSize is the segment size used when none is given.
const DefaultSegmentSize = 10 * 1024 * 1024

// Exported errors
var (
	ErrNotFound         = errors.New("deposit not found")
	ErrNotAuthorized    = errors.New("access denied")
	ErrChecksumMismatch = errors.New("checksum mismatch")
	ErrConflict         = errors.New("deposit is in the wrong state")
	ErrUnexpectedResp   = errors.New("unexpected response code")
)

// DepositInfo is what the server knows about a deposit.
type DepositInfo struct {
	ID        string
	Size      int64
	NSegments int
	Creator   string
	Completed bool
	MD5       string
}

// Upload sends the bag at path to the server under the given deposit id.
//
// If the deposit already holds some segments of the same size the upload
// resumes after them. If the deposit is already complete with the same
// digest nothing is sent.
func (c *Connection) Upload(id, path string) error {
	segsize := c.SegmentSize
	if segsize <= 0 {
		segsize = DefaultSegmentSize
	}
	it, err := bagit.NewSegmentIterator(path, segsize, true)
	if err != nil {
		return err
	}
	defer it.Close()

	total, size, err := digestFile(it)
	if err != nil {
		return err
	}

	skip := 0
	info, err := c.DepositInfo(id)
	switch {
	case err == ErrNotFound:
	case err != nil:
		return err
	case info.Completed && info.MD5 == total:
		log.WithField("deposit", id).Info("already uploaded")
		return nil
	case info.Completed:
		return errors.Wrapf(ErrConflict, "deposit %s is complete with different content", id)
	case info.NSegments < it.Count() && info.Size == int64(info.NSegments)*segsize:
		skip = info.NSegments
	case info.NSegments == it.Count() && info.Size == size:
		// every segment arrived but the deposit was never completed
		skip = info.NSegments
	case info.NSegments == 0:
	default:
		return errors.Wrapf(ErrConflict, "deposit %s has %d bytes which do not match", id, info.Size)
	}

	var rate *util.RateCounter
	if c.Rate > 0 {
		rate = util.NewRateCounter(c.Rate)
		defer rate.Stop()
	}

	start := time.Now()
	log.WithFields(log.Fields{"deposit": id, "segments": it.Count(), "resume": skip}).Info("start upload")
	buf := make([]byte, segsize)
	for it.HasNext() {
		seg, err := it.Next()
		if err != nil {
			return err
		}
		if seg.Index < skip {
			continue
		}
		n, err := io.ReadFull(seg, buf[:seg.Size])
		if err != nil {
			return err
		}
		if err := c.postSegment(id, buf[:n], seg.MD5, rate); err != nil {
			return errors.Wrapf(err, "segment %d", seg.Index)
		}
	}
	if err := c.complete(id, total); err != nil {
		return err
	}
	log.WithFields(log.Fields{"deposit": id, "elapsed": time.Since(start)}).Info("finished upload")
	return nil
}

// digestFile returns the MD5 of the whole bag and its size. The iterator
// is reset afterwards.
func digestFile(it *bagit.SegmentIterator) (string, int64, error) {
	defer it.Reset()
	var readers []io.Reader
	for it.HasNext() {
		seg, err := it.Next()
		if err != nil {
			return "", 0, err
		}
		readers = append(readers, seg)
	}
	d, n, err := util.CopyDigest(nil, io.MultiReader(readers...), util.MD5)
	if err != nil {
		return "", 0, err
	}
	return d[util.MD5], n, nil
}

// postSegment sends one segment, resending it if the server reports a
// checksum mismatch.
func (c *Connection) postSegment(id string, data []byte, md5 string, rate *util.RateCounter) error {
	retries := c.Retries
	if retries <= 0 {
		retries = 3
	}
	var err error
	for i := 0; i <= retries; i++ {
		var body io.Reader = bytes.NewReader(data)
		if rate != nil {
			body = rate.Wrap(body)
		}
		req, _ := http.NewRequest("POST", c.HostURL+"/deposit/"+id, body)
		req.ContentLength = int64(len(data))
		req.Header.Set("X-Upload-Md5", md5)
		err = c.expect(req, http.StatusOK)
		if err != ErrChecksumMismatch {
			return err
		}
		log.WithFields(log.Fields{"deposit": id, "try": i + 1}).Warn("segment refused, resending")
	}
	return err
}

func (c *Connection) complete(id, md5 string) error {
	req, _ := http.NewRequest("POST", c.HostURL+"/deposit/"+id+"/complete", nil)
	req.Header.Set("X-Upload-Md5", md5)
	return c.expect(req, http.StatusOK)
}

// DepositInfo returns the server's bookkeeping for a deposit.
func (c *Connection) DepositInfo(id string) (DepositInfo, error) {
	var result DepositInfo
	v, err := c.doJasonGet("/deposit/" + id + "/metadata")
	if err != nil {
		return result, err
	}
	result.ID, _ = v.GetString("ID")
	result.Size, _ = v.GetInt64("Size")
	n, _ := v.GetInt64("NSegments")
	result.NSegments = int(n)
	result.Creator, _ = v.GetString("Creator")
	result.Completed, _ = v.GetBoolean("Completed")
	result.MD5, _ = v.GetString("MD5")
	return result, nil
}

// Datafiles returns the data file identifiers of a completed deposit.
func (c *Connection) Datafiles(id string) ([]string, error) {
	v, err := c.doJasonGetValue("/deposit/" + id + "/datafiles")
	if err != nil {
		return nil, err
	}
	list, err := v.Array()
	if err != nil {
		return nil, err
	}
	var result []string
	for _, dfv := range list {
		df, err := dfv.Object()
		if err != nil {
			return nil, err
		}
		ident, err := df.GetString("Ident")
		if err != nil {
			return nil, err
		}
		result = append(result, ident)
	}
	return result, nil
}

// Download copies the content of a deposit to w.
func (c *Connection) Download(w io.Writer, id string) error {
	req, _ := http.NewRequest("GET", c.HostURL+"/deposit/"+id, nil)
	resp, err := c.do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := statusError(resp, http.StatusOK); err != nil {
		return err
	}
	_, err = io.Copy(w, resp.Body)
	return err
}

// Delete removes a deposit from the server.
func (c *Connection) Delete(id string) error {
	req, _ := http.NewRequest("DELETE", c.HostURL+"/deposit/"+id, nil)
	return c.expect(req, http.StatusOK)
}

// expect performs req and discards the response body, returning an error
// unless the status is want.
func (c *Connection) expect(req *http.Request, want int) error {
	resp, err := c.do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return statusError(resp, want)
}

func statusError(resp *http.Response, want int) error {
	switch resp.StatusCode {
	case want:
		return nil
	case 404:
		return ErrNotFound
	case 401:
		return ErrNotAuthorized
	case 409:
		return ErrConflict
	case 412:
		return ErrChecksumMismatch
	}
	log.Printf("Received HTTP status %d for %s %s", resp.StatusCode, resp.Request.Method, resp.Request.URL)
	return errors.Wrap(ErrUnexpectedResp, fmt.Sprint(resp.StatusCode))
}

func (c *Connection) doJasonGet(path string) (*jason.Object, error) {
	v, err := c.doJasonGetValue(path)
	if err != nil {
		return nil, err
	}
	return v.Object()
}

func (c *Connection) doJasonGetValue(path string) (*jason.Value, error) {
	req, err := http.NewRequest("GET", c.HostURL+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := statusError(resp, http.StatusOK); err != nil {
		return nil, err
	}
	return jason.NewValueFromReader(resp.Body)
}

// do performs an http request using our client with a timeout. The
// timeout is there so we don't hang should the server never close the
// connection.
func (c *Connection) do(req *http.Request) (*http.Response, error) {
	if c.Token != "" {
		req.Header.Set("X-Api-Key", c.Token)
	}
	if c.client == nil {
		c.client = &http.Client{
			Timeout: 10 * time.Minute, // arbitrary
		}
	}
	return c.client.Do(req)
}
