package server

import (
	"archive/zip"
	"encoding/hex"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"strconv"

	"github.com/julienschmidt/httprouter"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/datadryad/dans-bagit/bagit"
	"github.com/datadryad/dans-bagit/deposit"
)

// ListDepositHandler handles GET /deposit
func (s *Server) ListDepositHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	writeHTMLorJSON(w, r, depositListTemplate, s.Deposits.List())
}

var depositListTemplate = template.Must(template.New("depositlist").Parse(`<html>
<h1>Deposits</h1>
<ul>
{{ range . }}
	<li><a href="/deposit/{{ . }}/metadata">{{ . }}</a></li>
{{ else }}
	<li>None</li>
{{ end }}
</ul>
</html>`))

// AppendHandler handles POST /deposit/:id
//
// The body is added as the next segment of the deposit, which is created if
// it does not exist yet. The header X-Upload-Md5 must hold the hex MD5
// digest of the body. A segment with the wrong digest is dropped and 412 is
// returned, so it can be sent again.
func (s *Server) AppendHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id := ps.ByName("id")
	md5, err := uploadMD5(r)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprintln(w, err)
		return
	}
	d := s.Deposits.Lookup(id)
	if d == nil {
		d, err = s.Deposits.Create(id, ps.ByName("username"))
		if err == deposit.ErrExists {
			// someone else made it in the meantime
			d = s.Deposits.Lookup(id)
		} else if err != nil {
			writeError(w, r, statusOf(err), err)
			return
		}
	}
	n, err := d.Append(r.Body, md5)
	if err != nil {
		writeError(w, r, statusOf(err), err)
		return
	}
	log.WithFields(log.Fields{"deposit": id, "size": n}).Info("segment received")
	w.Header().Set("Location", "/deposit/"+id)
	writeHTMLorJSON(w, r, depositInfoTemplate, d.Stat())
}

// GetDepositHandler handles GET /deposit/:id
//
// It returns the segments received so far, joined together.
func (s *Server) GetDepositHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	d := s.Deposits.Lookup(ps.ByName("id"))
	if d == nil {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprintln(w, "Unknown deposit")
		return
	}
	stat := d.Stat()
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Length", strconv.FormatInt(stat.Size, 10))
	if stat.Completed {
		w.Header().Set("ETag", strconv.Quote(stat.MD5))
	}
	rc := d.Open()
	defer rc.Close()
	if _, err := io.Copy(w, rc); err != nil {
		// too late to change the status
		log.WithField("deposit", stat.ID).Errorln("GetDeposit:", err)
	}
}

// DeleteDepositHandler handles DELETE /deposit/:id
func (s *Server) DeleteDepositHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id := ps.ByName("id")
	if s.Deposits.Lookup(id) == nil {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprintln(w, "Unknown deposit")
		return
	}
	if err := s.Deposits.Delete(id); err != nil {
		writeError(w, r, http.StatusInternalServerError, err)
		return
	}
	log.WithFields(log.Fields{"deposit": id, "user": ps.ByName("username")}).Info("deposit deleted")
}

// DepositInfoHandler handles GET /deposit/:id/metadata
func (s *Server) DepositInfoHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	d := s.Deposits.Lookup(ps.ByName("id"))
	if d == nil {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprintln(w, "Unknown deposit")
		return
	}
	writeHTMLorJSON(w, r, depositInfoTemplate, d.Stat())
}

var depositInfoTemplate = template.Must(template.New("depositinfo").Parse(`<html>
<h1>Deposit {{ .ID }}</h1>
<dl>
<dt>Size</dt><dd>{{ .Size }}</dd>
<dt>Segments</dt><dd>{{ .NSegments }}</dd>
<dt>Created</dt><dd>{{ .Created }}</dd>
<dt>Modified</dt><dd>{{ .Modified }}</dd>
<dt>Creator</dt><dd>{{ .Creator }}</dd>
<dt>Completed</dt><dd>{{ .Completed }}</dd>
{{ if .MD5 }}<dt>MD5</dt><dd>{{ .MD5 }}</dd>{{ end }}
</dl>
<a href="/deposit">All deposits</a>
</html>`))

// CompleteHandler handles POST /deposit/:id/complete
//
// The header X-Upload-Md5 must hold the hex MD5 digest of the whole bag.
// Once complete the deposit must open as a bag, otherwise 422 is returned
// and the deposit stays so it can be inspected.
func (s *Server) CompleteHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	d := s.Deposits.Lookup(ps.ByName("id"))
	if d == nil {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprintln(w, "Unknown deposit")
		return
	}
	md5, err := uploadMD5(r)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprintln(w, err)
		return
	}
	if err := d.Complete(md5); err != nil {
		writeError(w, r, statusOf(err), err)
		return
	}
	bag, err := d.Bag()
	if err != nil {
		writeError(w, r, statusOf(err), err)
		return
	}
	bag.Close()
	writeHTMLorJSON(w, r, depositInfoTemplate, d.Stat())
}

// Datafile describes one datafile inside a deposited bag.
type Datafile struct {
	Ident   string
	Bundles map[string][]string // bundle name to file names
}

// DatafilesHandler handles GET /deposit/:id/datafiles
//
// It lists the datafiles of a completed deposit with the files in each of
// their bundles.
func (s *Server) DatafilesHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	d := s.Deposits.Lookup(ps.ByName("id"))
	if d == nil {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprintln(w, "Unknown deposit")
		return
	}
	bag, err := d.Bag()
	if err != nil {
		writeError(w, r, statusOf(err), err)
		return
	}
	defer bag.Close()
	result := []Datafile{}
	for _, ident := range bag.Datafiles() {
		df := Datafile{Ident: ident, Bundles: make(map[string][]string)}
		for _, bundle := range bag.Bundles(ident) {
			for _, b := range bag.Bitstreams(ident, bundle) {
				df.Bundles[bundle] = append(df.Bundles[bundle], b.Filename)
			}
		}
		result = append(result, df)
	}
	writeHTMLorJSON(w, r, datafilesTemplate, result)
}

var datafilesTemplate = template.Must(template.New("datafiles").Parse(`<html>
<h1>Datafiles</h1>
{{ range . }}
<h2>{{ .Ident }}</h2>
<dl>
{{ range $bundle, $files := .Bundles }}
	<dt>{{ $bundle }}</dt>
	{{ range $files }}<dd>{{ . }}</dd>{{ end }}
{{ end }}
</dl>
{{ else }}
<p>None</p>
{{ end }}
</html>`))

// uploadMD5 decodes the X-Upload-Md5 header, which is required.
func uploadMD5(r *http.Request) ([]byte, error) {
	v := r.Header.Get("X-Upload-Md5")
	if v == "" {
		return nil, errors.New("X-Upload-Md5 header is required")
	}
	md5, err := hex.DecodeString(v)
	if err != nil || len(md5) != 16 {
		return nil, errors.New("X-Upload-Md5 must be 32 hex digits")
	}
	return md5, nil
}

// statusOf maps errors from the deposit and bagit packages to HTTP status
// codes.
func statusOf(err error) int {
	switch errors.Cause(err) {
	case deposit.ErrBadID:
		return http.StatusBadRequest
	case deposit.ErrMD5Mismatch:
		return http.StatusPreconditionFailed
	case deposit.ErrCompleted, deposit.ErrIncomplete, deposit.ErrNoSegments, deposit.ErrExists:
		return http.StatusConflict
	}
	if bagit.IsFormat(err) || errors.Cause(err) == zip.ErrFormat {
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}
