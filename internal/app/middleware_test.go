package app

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRequestLogMeta(t *testing.T) {
	t.Parallel()

	cases := []struct {
		status     int
		wantLevel  slog.Level
		wantResult string
		wantClass  string
	}{
		{status: 200, wantLevel: slog.LevelInfo, wantResult: "success", wantClass: "2xx"},
		{status: 302, wantLevel: slog.LevelInfo, wantResult: "redirect", wantClass: "3xx"},
		{status: 404, wantLevel: slog.LevelWarn, wantResult: "client_error", wantClass: "4xx"},
		{status: 503, wantLevel: slog.LevelError, wantResult: "server_error", wantClass: "5xx"},
	}
	for _, tc := range cases {
		level, result := requestLogMeta(tc.status)
		assert.Equal(t, tc.wantLevel, level, tc.status)
		assert.Equal(t, tc.wantResult, result, tc.status)
		assert.Equal(t, tc.wantClass, statusClass(tc.status), tc.status)
	}
}

func TestWithRequestLogging(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, nil))

	h := WithRequestLogging(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("short and stout"))
	}), log)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusTeapot, rr.Code)
	assert.NotEmpty(t, rr.Header().Get(headerRequestID))
	assert.Contains(t, buf.String(), "status=418")
	assert.Contains(t, buf.String(), "bytes=15")
	assert.Contains(t, buf.String(), "level=WARN")
}

func TestWithRequestLogging_KeepsRequestID(t *testing.T) {
	log := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	h := WithRequestLogging(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}), log)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(headerRequestID, "abc")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, "abc", rr.Header().Get(headerRequestID))
}
