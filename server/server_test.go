package server

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/datadryad/dans-bagit/bagit"
	"github.com/datadryad/dans-bagit/deposit"
	"github.com/datadryad/dans-bagit/store"
)

const testTokens = `
# user   role    token
writer   write   wtoken
reader   read    rtoken
boss     admin   atoken
auditor  mdonly  mtoken
`

var testServer *httptest.Server

func init() {
	tokens, err := NewListDecoderString(testTokens)
	if err != nil {
		panic(err)
	}
	s := &Server{
		Storage: store.NewMemory(),
		Tokens:  tokens,
	}
	if err := s.Init(); err != nil {
		panic(err)
	}
	testServer = httptest.NewServer(s.Handler())
}

func TestWelcome(t *testing.T) {
	text := getbody(t, "GET", "/", "", 200)
	if !strings.HasPrefix(text, "DANS bag server") {
		t.Errorf("Got %q", text)
	}
}

func TestAuthorization(t *testing.T) {
	uploadstring(t, "/deposit/authz", "wtoken", "content", 200)
	var table = []struct {
		verb   string
		route  string
		token  string
		status int
	}{
		{"GET", "/deposit", "", 401},
		{"GET", "/deposit", "bogus", 401},
		{"GET", "/deposit", "mtoken", 401},
		{"GET", "/deposit", "rtoken", 200},
		{"GET", "/deposit/authz/metadata", "", 401},
		{"GET", "/deposit/authz/metadata", "mtoken", 200},
		{"GET", "/deposit/authz", "mtoken", 401},
		{"GET", "/deposit/authz", "rtoken", 200},
		{"POST", "/deposit/authz/complete", "rtoken", 401},
		{"DELETE", "/deposit/authz", "wtoken", 401},
		{"DELETE", "/deposit/authz", "atoken", 200},
		{"DELETE", "/deposit/authz", "atoken", 404},
	}
	for _, test := range table {
		checkStatus(t, test.verb, test.route, test.token, test.status)
	}
}

func TestUploadBag(t *testing.T) {
	dir := t.TempDir()
	zipname := filepath.Join(dir, "upload.zip")
	b, err := bagit.NewBuilder("upload", zipname, filepath.Join(dir, "work"))
	if err != nil {
		t.Fatal(err)
	}
	b.AddBitstream(strings.NewReader(strings.Repeat("0123456789", 300)), "numbers.txt", "text/plain", "", "10.x/2", "ORIGINAL")
	b.AddBitstream(strings.NewReader("readme"), "README", "text/plain", "", "10.x/2", "TEXT")
	if err := b.Finalize(); err != nil {
		t.Fatal(err)
	}
	total, _ := b.MD5()

	// header is required and must be hex
	sendRequest(t, "POST", "/deposit/upload", "wtoken", "", "abc", 400)
	sendRequest(t, "POST", "/deposit/upload", "wtoken", "xyz", "abc", 400)

	it, err := b.Segments(1000, true)
	if err != nil {
		t.Fatal(err)
	}
	defer it.Close()
	for it.HasNext() {
		seg, err := it.Next()
		if err != nil {
			t.Fatal(err)
		}
		data, _ := io.ReadAll(seg)
		// a damaged segment is refused
		sendRequest(t, "POST", "/deposit/upload", "wtoken", seg.MD5, string(data[1:]), 412)
		sendRequest(t, "POST", "/deposit/upload", "wtoken", seg.MD5, string(data), 200)
	}

	// datafiles are not available until complete
	checkStatus(t, "GET", "/deposit/upload/datafiles", "rtoken", 409)

	var stat deposit.Stat
	getjson(t, "/deposit/upload/metadata", "mtoken", &stat)
	if stat.NSegments != it.Count() || stat.Completed || stat.Creator != "writer" {
		t.Errorf("Got %+v", stat)
	}

	sendRequest(t, "POST", "/deposit/upload/complete", "wtoken", hexmd5("wrong"), "", 412)
	sendRequest(t, "POST", "/deposit/upload/complete", "wtoken", total, "", 200)
	sendRequest(t, "POST", "/deposit/upload/complete", "wtoken", total, "", 409)
	sendRequest(t, "POST", "/deposit/upload", "wtoken", hexmd5("more"), "more", 409)

	getjson(t, "/deposit/upload/metadata", "mtoken", &stat)
	if !stat.Completed || stat.MD5 != total {
		t.Errorf("Got %+v", stat)
	}

	expected, _ := os.ReadFile(zipname)
	if got := getbody(t, "GET", "/deposit/upload", "rtoken", 200); got != string(expected) {
		t.Errorf("downloaded bag differs, got %d bytes, expected %d", len(got), len(expected))
	}

	var datafiles []Datafile
	getjson(t, "/deposit/upload/datafiles", "rtoken", &datafiles)
	if len(datafiles) != 1 || datafiles[0].Ident != "10.x/2" {
		t.Fatalf("Got %+v", datafiles)
	}
	bundles := fmt.Sprint(datafiles[0].Bundles)
	if bundles != "map[ORIGINAL:[numbers.txt] TEXT:[README]]" {
		t.Errorf("Got %s", bundles)
	}

	var ids []string
	getjson(t, "/deposit", "rtoken", &ids)
	found := false
	for _, id := range ids {
		found = found || id == "upload"
	}
	if !found {
		t.Errorf("Got %v, expected it to contain upload", ids)
	}
}

func TestCompleteNotABag(t *testing.T) {
	uploadstring(t, "/deposit/notabag", "wtoken", "just some text", 200)
	sendRequest(t, "POST", "/deposit/notabag/complete", "wtoken", hexmd5("just some text"), "", 422)
}

func TestBadRequests(t *testing.T) {
	uploadstring(t, "/deposit/bad~id", "wtoken", "content", 400)
	checkStatus(t, "GET", "/deposit/missing", "rtoken", 404)
	checkStatus(t, "GET", "/deposit/missing/metadata", "rtoken", 404)
	checkStatus(t, "GET", "/deposit/missing/datafiles", "rtoken", 404)
	sendRequest(t, "POST", "/deposit/missing/complete", "wtoken", hexmd5(""), "", 404)
}

func hexmd5(s string) string {
	h := md5.Sum([]byte(s))
	return hex.EncodeToString(h[:])
}

func uploadstring(t *testing.T, route, token, s string, expstatus int) {
	sendRequest(t, "POST", route, token, hexmd5(s), s, expstatus)
}

// sendRequest makes a request with the given body, and an X-Upload-Md5
// header if md5 is not empty.
func sendRequest(t *testing.T, verb, route, token, md5, body string, expstatus int) string {
	req, err := http.NewRequest(verb, testServer.URL+route, strings.NewReader(body))
	if err != nil {
		t.Fatal("Problem creating request", err)
	}
	if token != "" {
		req.Header.Set("X-Api-Key", token)
	}
	if md5 != "" {
		req.Header.Set("X-Upload-Md5", md5)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(route, err)
	}
	defer resp.Body.Close()
	text, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != expstatus {
		t.Errorf("%s %s: Received status %d, expected %d: %s",
			verb,
			route,
			resp.StatusCode,
			expstatus,
			text)
	}
	return string(text)
}

func getjson(t *testing.T, route, token string, v interface{}) {
	req, _ := http.NewRequest("GET", testServer.URL+route, nil)
	req.Header.Set("X-Api-Key", token)
	req.Header.Set("Accept", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(route, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		t.Fatalf("%s: Received status %d, expected 200", route, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("%s: %s", route, err)
	}
}

func getbody(t *testing.T, verb, route, token string, expstatus int) string {
	return sendRequest(t, verb, route, token, "", "", expstatus)
}

func checkStatus(t *testing.T, verb, route, token string, expstatus int) {
	sendRequest(t, verb, route, token, "", "", expstatus)
}
