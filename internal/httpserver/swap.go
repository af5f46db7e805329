package httpserver

import (
	"net/http"
	"sync/atomic"
)

// Swappable is an http.Handler whose target is replaced atomically. In-flight
// requests finish on the handler they started with.
type Swappable struct {
	h atomic.Pointer[http.Handler]
}

// Swap publishes h for subsequent requests.
func (s *Swappable) Swap(h http.Handler) {
	s.h.Store(&h)
}

// Current returns the published handler, or nil.
func (s *Swappable) Current() http.Handler {
	if p := s.h.Load(); p != nil {
		return *p
	}
	return nil
}

func (s *Swappable) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h := s.Current()
	if h == nil {
		http.Error(w, "server is starting", http.StatusServiceUnavailable)
		return
	}
	h.ServeHTTP(w, r)
}
