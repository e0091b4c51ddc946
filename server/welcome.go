package server

import (
	"fmt"
	"net/http"

	"github.com/julienschmidt/httprouter"
)

// WelcomeHandler handles requests to GET /
func WelcomeHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	fmt.Fprintf(w, "DANS bag server (%s)\n", Version)
}
