// Package sinktest provides an in-process ingestion endpoint for tests.
// It validates every POST against the envelope schema and answers with the
// status codes the load generator expects from a real sink.
package sinktest

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"

	"github.com/example/eventsink/tools/loadgen/internal/event"
	"github.com/example/eventsink/tools/loadgen/internal/schema"
)

// Request is one request seen by the server.
type Request struct {
	Method string
	Path   string
	Body   []byte
	Status int
}

// Server is a validating ingestion endpoint backed by httptest.
type Server struct {
	*httptest.Server

	validator *schema.Validator
	override  atomic.Int32

	mu       sync.Mutex
	requests []Request
	accepted []event.Event
}

// NewServer starts a server. It panics if the embedded schema does not
// compile, which only happens on a broken build.
func NewServer() *Server {
	v, err := schema.Default()
	if err != nil {
		panic(err)
	}
	s := &Server{validator: v}
	s.Server = httptest.NewServer(s)
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	status, reply := s.handle(r, body)

	if code := int(s.override.Load()); code != 0 {
		status, reply = code, map[string]string{"error": "forced status"}
	}

	s.mu.Lock()
	s.requests = append(s.requests, Request{Method: r.Method, Path: r.URL.Path, Body: body, Status: status})
	if status == http.StatusOK && r.Method == http.MethodPost {
		var e event.Event
		if json.Unmarshal(body, &e) == nil {
			s.accepted = append(s.accepted, e)
		}
	}
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(reply)
}

func (s *Server) handle(r *http.Request, body []byte) (int, any) {
	if r.URL.Path != "/" {
		return http.StatusNotFound, map[string]string{"error": "not found"}
	}
	switch r.Method {
	case http.MethodOptions:
		return http.StatusOK, map[string]string{"status": "ok"}
	case http.MethodPost:
		if err := s.validator.ValidateBytes(body); err != nil {
			return http.StatusBadRequest, map[string]string{"error": err.Error()}
		}
		return http.StatusOK, map[string]string{"status": "ok"}
	default:
		return http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"}
	}
}

// ForceStatus makes every following response use code. Zero restores
// normal handling.
func (s *Server) ForceStatus(code int) {
	s.override.Store(int32(code))
}

// Requests returns a copy of every request received so far.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

// Accepted returns the events answered with 200, in arrival order.
func (s *Server) Accepted() []event.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]event.Event(nil), s.accepted...)
}

// Reset forgets recorded requests and events.
func (s *Server) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = nil
	s.accepted = nil
}
