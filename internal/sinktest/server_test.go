package sinktest

import (
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServer_StatusContract(t *testing.T) {
	srv := NewServer()
	defer srv.Close()

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"valid heartbeat", http.MethodPost, "/", `{"sessionId":"s","timestamp":1,"playhead":0,"duration":300,"event":"heartbeat"}`, http.StatusOK},
		{"invalid json", http.MethodPost, "/", `invalid json`, http.StatusBadRequest},
		{"missing fields", http.MethodPost, "/", `{"event":"heartbeat"}`, http.StatusBadRequest},
		{"options", http.MethodOptions, "/", "", http.StatusOK},
		{"get root", http.MethodGet, "/", "", http.StatusMethodNotAllowed},
		{"unknown path", http.MethodGet, "/health", "", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(tt.method, srv.URL+tt.path, strings.NewReader(tt.body))
			require.NoError(t, err)
			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			resp.Body.Close()
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}

	assert.Len(t, srv.Requests(), len(tests))
	require.Len(t, srv.Accepted(), 1)
	assert.Equal(t, "s", srv.Accepted()[0].SessionID)
}

func TestServer_ForceStatus(t *testing.T) {
	srv := NewServer()
	defer srv.Close()

	srv.ForceStatus(http.StatusServiceUnavailable)
	resp, err := http.Post(srv.URL+"/", "application/json",
		strings.NewReader(`{"sessionId":"s","timestamp":1,"playhead":0,"duration":300,"event":"heartbeat"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Empty(t, srv.Accepted())

	srv.ForceStatus(0)
	srv.Reset()
	assert.Empty(t, srv.Requests())
}
