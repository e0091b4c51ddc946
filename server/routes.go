package server

import (
	"encoding/json"
	"fmt"
	"html/template"
	"net/http"

	"github.com/facebookgo/httpdown"
	raven "github.com/getsentry/raven-go"
	"github.com/julienschmidt/httprouter"
	log "github.com/sirupsen/logrus"

	"github.com/datadryad/dans-bagit/deposit"
	"github.com/datadryad/dans-bagit/store"
)

// Version is reported by the welcome page. It is set at build time.
var Version = "dev"

// Server receives bags sent in segments and keeps them until they are
// retrieved or deleted.
//
// Set the public fields and then call Run. Run will listen on the given port
// and handle requests. Do not change any fields after calling Run.
type Server struct {
	// Port number to listen on. defaults to 14000
	PortNumber string

	// Deposits keeps the bags being received. If it is nil one is made
	// over Storage.
	Deposits *deposit.Store

	// Storage is where the deposits are kept if Deposits is nil. If
	// Storage is nil too, everything is kept in memory.
	Storage store.Store

	// Tokens validates the API keys presented to the server. If this is
	// nil then every request is allowed.
	Tokens TokenDecoder

	server httpdown.Server // used to close our listening socket
}

// Init fills in the defaults for any unset fields and loads the existing
// deposits. Run calls it; it is exported for tests which only need the
// routes.
func (s *Server) Init() error {
	if s.PortNumber == "" {
		s.PortNumber = "14000"
	}
	if s.Tokens == nil {
		log.Println("No token decoder given")
		s.Tokens = NewNobodyDecoder()
	}
	if s.Deposits == nil {
		if s.Storage == nil {
			log.Println("Keeping deposits in memory")
			s.Storage = store.NewMemory()
		}
		s.Deposits = deposit.New(s.Storage)
	}
	log.Println("Scanning deposits")
	return s.Deposits.Load()
}

// Run initializes the server and then blocks listening for and handling
// http requests.
func (s *Server) Run() error {
	log.Println("==========")
	log.Printf("Starting DANS bag server version %s", Version)
	if err := s.Init(); err != nil {
		log.Errorln(err)
		return err
	}
	log.Println("Listening on", s.PortNumber)
	h := httpdown.HTTP{}
	var err error
	s.server, err = h.ListenAndServe(&http.Server{
		Addr:    ":" + s.PortNumber,
		Handler: s.Handler(),
	})
	if err != nil {
		log.Errorln(err)
		return err
	}
	return s.server.Wait()
}

// Stop closes the listening socket and returns once every open request has
// finished.
func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}
	return s.server.Stop()
}

// Handler returns the routes of the server. Call Init first.
func (s *Server) Handler() http.Handler {
	var routes = []struct {
		method  string
		route   string
		role    Role // RoleUnknown means no API key is needed to access
		handler httprouter.Handle
	}{
		{"GET", "/", RoleUnknown, WelcomeHandler},
		{"GET", "/deposit", RoleRead, s.ListDepositHandler},
		{"POST", "/deposit/:id", RoleWrite, s.AppendHandler},
		{"GET", "/deposit/:id", RoleRead, s.GetDepositHandler},
		{"DELETE", "/deposit/:id", RoleAdmin, s.DeleteDepositHandler},
		{"GET", "/deposit/:id/metadata", RoleMDOnly, s.DepositInfoHandler},
		{"POST", "/deposit/:id/complete", RoleWrite, s.CompleteHandler},
		{"GET", "/deposit/:id/datafiles", RoleRead, s.DatafilesHandler},
	}

	r := httprouter.New()
	for _, route := range routes {
		r.Handle(route.method,
			route.route,
			logWrapper(s.authzWrapper(route.handler, route.role)))
	}
	return r
}

// writeHTMLorJSON will either return val as JSON or as rendered using the
// given template, depending on the request header "Accept".
func writeHTMLorJSON(w http.ResponseWriter,
	r *http.Request,
	tmpl *template.Template,
	val interface{}) {

	if r.Header.Get("Accept") == "application/json" {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		json.NewEncoder(w).Encode(val)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	tmpl.Execute(w, val)
}

// writeError sends an error response. Server errors are also reported to
// Sentry.
func writeError(w http.ResponseWriter, r *http.Request, status int, err error) {
	if status >= 500 {
		log.WithField("url", r.URL.String()).Errorln(err)
		raven.CaptureError(err, map[string]string{"method": r.Method, "url": r.URL.String()})
	}
	w.WriteHeader(status)
	fmt.Fprintln(w, err.Error())
}

// authzWrapper returns a Handler which will first verify the user token as
// having at least the given Role. The user name is added as a parameter
// "username".
func (s *Server) authzWrapper(handler httprouter.Handle, leastRole Role) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		token := r.Header.Get("X-Api-Key")
		user, role, err := s.Tokens.TokenDecode(token)
		if err != nil {
			writeError(w, r, http.StatusInternalServerError, err)
			return
		}
		if role < leastRole {
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprintln(w, "Forbidden")
			return
		}
		// replace any username given in the url
		var out httprouter.Params
		for _, p := range ps {
			if p.Key != "username" {
				out = append(out, p)
			}
		}
		out = append(out, httprouter.Param{Key: "username", Value: user})
		handler(w, r, out)
	}
}

// logWrapper takes a handler and returns a handler which does the same thing,
// after first logging the request URL.
func logWrapper(handler httprouter.Handle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		log.WithFields(log.Fields{"method": r.Method, "url": r.URL.String()}).Info("request")
		handler(w, r, ps)
	}
}
