// Package modtest serves fake web service functions for handler tests.
package modtest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/tildaslashalef/offsync/internal/config"
	"github.com/tildaslashalef/offsync/internal/loggy"
	syncpkg "github.com/tildaslashalef/offsync/internal/sync"
)

// Call is one request received by the fake site
type Call struct {
	Function string
	Form     url.Values
}

// Site is a fake site answering web service calls with canned responses
type Site struct {
	ID    string
	Sites *syncpkg.Sites

	mu        sync.Mutex
	calls     []Call
	responses map[string]func(url.Values) any
}

// NewSite starts a fake site registered under siteID
func NewSite(t *testing.T, siteID string) *Site {
	t.Helper()

	s := &Site{
		ID:        siteID,
		Sites:     syncpkg.NewSites(),
		responses: make(map[string]func(url.Values) any),
	}

	server := httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(server.Close)

	client := syncpkg.NewClient(config.SiteConfig{
		ID:       siteID,
		URL:      server.URL,
		Token:    "test-token",
		Timeout:  5 * time.Second,
		CacheTTL: time.Minute,
	}, loggy.NewNoopLogger())
	s.Sites.Add(siteID, client)
	return s
}

// On answers function with body, encoded as JSON
func (s *Site) On(function string, body any) {
	s.OnFunc(function, func(url.Values) any { return body })
}

// OnFunc answers function with the result of fn
func (s *Site) OnFunc(function string, fn func(url.Values) any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses[function] = fn
}

// Exception makes function fail with a web service exception
func (s *Site) Exception(function, errorCode, message string) {
	s.On(function, map[string]any{
		"exception": "moodle_exception",
		"errorcode": errorCode,
		"message":   message,
	})
}

// Calls returns the received requests in order
func (s *Site) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

// Functions returns the called function names in order
func (s *Site) Functions() []string {
	var names []string
	for _, c := range s.Calls() {
		names = append(names, c.Function)
	}
	return names
}

// Last returns the form of the last call to function
func (s *Site) Last(function string) url.Values {
	calls := s.Calls()
	for i := len(calls) - 1; i >= 0; i-- {
		if calls[i].Function == function {
			return calls[i].Form
		}
	}
	return nil
}

func (s *Site) serve(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	function := r.PostForm.Get("wsfunction")

	s.mu.Lock()
	s.calls = append(s.calls, Call{Function: function, Form: r.PostForm})
	fn, ok := s.responses[function]
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if !ok {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"exception": "webservice_access_exception",
			"errorcode": "accessexception",
			"message":   "Access control exception: " + function,
		})
		return
	}
	_ = json.NewEncoder(w).Encode(fn(r.PostForm))
}
