package client

import (
	"net/http"
	"sort"
	"sync"

	log "github.com/sirupsen/logrus"
)

// An ErrorServer wraps another http.Handler and fails chosen requests. Each
// request increments a count starting at 0. When the count reaches the When
// of a Play the request gets that Status and Body instead of being passed
// on. It is safe for concurrent use.
type ErrorServer struct {
	h http.Handler

	m        sync.Mutex
	count    int
	playbook []Play
}

// Play is one planned failure.
type Play struct {
	When   int
	Status int
	Body   string
}

func (s *ErrorServer) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	s.m.Lock()
	count := s.count
	s.count++
	for len(s.playbook) > 0 && s.playbook[0].When <= count {
		p := s.playbook[0]
		s.playbook = s.playbook[1:]
		if p.When < count {
			continue
		}
		s.m.Unlock()
		log.Debugf("(%d) %s %s injected %d", count, req.Method, req.URL, p.Status)
		w.WriteHeader(p.Status)
		w.Write([]byte(p.Body))
		return
	}
	s.m.Unlock()
	s.h.ServeHTTP(w, req)
}

// Reset restarts the count and installs a new playbook.
func (s *ErrorServer) Reset(playbook []Play) {
	s.m.Lock()
	s.count = 0
	s.playbook = append([]Play(nil), playbook...)
	sort.Slice(s.playbook, func(i, j int) bool { return s.playbook[i].When < s.playbook[j].When })
	s.m.Unlock()
}
