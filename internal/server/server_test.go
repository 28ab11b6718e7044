package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/gzhole/mailshield/internal/engine"
	"github.com/gzhole/mailshield/internal/message"
)

type stubAnalyzer struct {
	got *message.Message
}

func (s *stubAnalyzer) Analyze(_ context.Context, msg *message.Message) engine.Verdict {
	s.got = msg
	return engine.Verdict{ID: "v-1", Score: 42, CriticalConcerns: []string{"links"}}
}

func newMux(a Analyzer, g prometheus.Gatherer) *http.ServeMux {
	mux := http.NewServeMux()
	RegisterRoutes(mux, a, g)
	return mux
}

func TestHealthz(t *testing.T) {
	rec := httptest.NewRecorder()
	newMux(&stubAnalyzer{}, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
}

func TestAnalyze(t *testing.T) {
	a := &stubAnalyzer{}
	req := httptest.NewRequest(http.MethodPost, "/v1/analyze",
		strings.NewReader(`{"headers":{"From":"a@example.com"},"body":{"text":"hi"}}`))
	rec := httptest.NewRecorder()
	newMux(a, nil).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	require.NotNil(t, a.got)
	assert.Equal(t, "a@example.com", a.got.From())

	var v engine.Verdict
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v))
	assert.Equal(t, "v-1", v.ID)
	assert.Equal(t, 42.0, v.Score)
	assert.Equal(t, []string{"links"}, v.CriticalConcerns)
}

func TestAnalyze_BadRequests(t *testing.T) {
	mux := newMux(&stubAnalyzer{}, nil)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/analyze", strings.NewReader("{not json")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	big := `{"body":{"text":"` + strings.Repeat("a", MaxMessageBytes) + `"}}`
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/analyze", strings.NewReader(big)))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/analyze", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestMetricsRoute(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "mailshield_test_total", Help: "test"})
	reg.MustRegister(c)
	c.Inc()

	rec := httptest.NewRecorder()
	newMux(&stubAnalyzer{}, reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "mailshield_test_total 1")

	rec = httptest.NewRecorder()
	newMux(&stubAnalyzer{}, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestLogging(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	h := Logging(zap.New(core))(newMux(&stubAnalyzer{}, nil))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	entries := logs.FilterMessage("request").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "/healthz", fields["path"])
	assert.EqualValues(t, http.StatusOK, fields["status"])
}
