package api

import (
	"context"
	"fmt"
	"net/http"
	"sync"
)

// Server serves an API over HTTP. Create it with NewServer.
type Server struct {
	mtx     *sync.Mutex
	addr    string
	api     *API
	http    *http.Server
	serving bool
	closing bool
}

// NewServer creates a Server that will listen on addr and serve a.
func NewServer(addr string, a *API) *Server {
	return &Server{
		mtx:  &sync.Mutex{},
		addr: addr,
		api:  a,
	}
}

// ServeForever begins listening on the server's address for HTTP requests.
//
// This function will block until the server is stopped. If it returns as a
// result of Shutdown being called elsewhere, it will return
// http.ErrServerClosed.
func (s *Server) ServeForever() (err error) {
	s.mtx.Lock()
	if s.serving {
		s.mtx.Unlock()
		return fmt.Errorf("server is already running")
	}
	s.serving = true
	s.http = &http.Server{Addr: s.addr, Handler: s.api.Router()}
	srv := s.http
	s.mtx.Unlock()

	defer func() {
		s.mtx.Lock()
		s.closing = false
		s.serving = false
		s.mtx.Unlock()
	}()

	s.api.log.Infof("listening on %s", s.addr)
	return srv.ListenAndServe()
}

// Shutdown gracefully stops the server. It causes ServeForever to return in
// any goroutine blocked on it. If ctx is canceled before in-flight requests
// finish, the remaining connections are closed.
//
// Returns a non-nil error if the server is not currently running.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	if s.closing {
		return fmt.Errorf("close already in-progress in another goroutine")
	}
	if !s.serving {
		return fmt.Errorf("server is not running")
	}
	s.closing = true

	err := s.http.Shutdown(ctx)
	s.http = nil
	if err != nil {
		if err == ctx.Err() {
			return err
		}
		return fmt.Errorf("stop HTTP server: %w", err)
	}
	return nil
}
