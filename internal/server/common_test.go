package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, setup func(s *HatchDbPoolServer), routes ...func(r chi.Router)) *HatchDbPoolServer {
	s, err := CreateNewServer()
	require.NoError(t, err, "create new server")
	if setup != nil {
		setup(s)
	}
	s.MountHandlers(routes...)
	return s
}

func executeTestRequest(t *testing.T, req *http.Request, s *HatchDbPoolServer) *httptest.ResponseRecorder {
	if s == nil {
		s = newTestServer(t, nil)
	}
	rr := httptest.NewRecorder()
	s.ServeHTTP(rr, req)
	return rr
}

func checkHeader(t *testing.T, h http.Header) {
	expected := "application/json"
	got := h.Get("Content-Type")
	assert.Equal(t, expected, got, "Content-Type expected %s, got %s", expected, got)
	assert.NotEmpty(t, h.Get("X-Request-ID"), "No Request Id")
}

func compareJson(t *testing.T, expected any, actual string) {
	j, err := json.Marshal(expected)
	assert.NoError(t, err, "json marshal")
	assert.JSONEq(t, string(j), actual, "Expected: %v\n Got: %v\n", expected, actual)
}
