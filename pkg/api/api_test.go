package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/ethpandaops/durationoor/pkg/config"
	"github.com/ethpandaops/durationoor/pkg/durations"
	"github.com/ethpandaops/durationoor/pkg/history"
	"github.com/ethpandaops/durationoor/pkg/split"
	"github.com/ethpandaops/durationoor/pkg/tracker"
)

type testEnv struct {
	srv     *server
	handler http.Handler
	store   durations.Store
}

func newTestEnv(t *testing.T, cfg *config.APIConfig, withHistory bool) *testEnv {
	t.Helper()

	log, _ := test.NewNullLogger()

	store, err := durations.NewStore(log, durations.Options{
		BaseDir: t.TempDir(),
		NodeID:  "api",
	})
	require.NoError(t, err)

	var opts tracker.Options

	if withHistory {
		h := history.NewStore(log, &config.DatabaseConfig{
			Driver: "sqlite",
			SQLite: config.SQLiteDatabaseConfig{Path: filepath.Join(t.TempDir(), "history.db")},
		})
		require.NoError(t, h.Start(context.Background()))

		t.Cleanup(func() { _ = h.Stop() })

		opts.History = h
	}

	if cfg == nil {
		cfg = &config.APIConfig{}
	}

	srv := NewServer(log, cfg, tracker.New(log, store, opts), split.StrategyDuration).(*server)
	t.Cleanup(func() { _ = srv.Stop() })

	return &testEnv{srv: srv, handler: srv.buildRouter(), store: store}
}

func (e *testEnv) do(t *testing.T, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer

	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")

	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)

	return rec
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, nil, false)

	rec := env.do(t, http.MethodGet, "/api/v1/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestDurations_EmptyWhenNothingCompiled(t *testing.T) {
	env := newTestEnv(t, nil, false)

	rec := env.do(t, http.MethodGet, "/api/v1/durations", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{}`, rec.Body.String())

	// A corrupt compiled file still reads as empty.
	require.NoError(t, os.WriteFile(env.store.CompiledFilePath(), []byte("{broken"), 0o644))

	rec = env.do(t, http.MethodGet, "/api/v1/durations", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{}`, rec.Body.String())
}

func TestSaveCompileAndRead(t *testing.T) {
	env := newTestEnv(t, nil, true)

	rec := env.do(t, http.MethodPut, "/api/v1/nodes/1/durations", map[string]float64{"test_a": 1, "test_b": 2})
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodPut, "/api/v1/nodes/2/durations", map[string]float64{"test_a": 3})
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodGet, "/api/v1/nodes", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"nodes":["1","2"]}`, rec.Body.String())

	rec = env.do(t, http.MethodPost, "/api/v1/compile", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var summary compileResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	assert.Equal(t, 2, summary.Tests)
	assert.ElementsMatch(t, []string{"node_1_durations.json", "node_2_durations.json"}, summary.NodeFiles)
	assert.Empty(t, summary.Skipped)

	rec = env.do(t, http.MethodGet, "/api/v1/durations", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"test_a":2,"test_b":2}`, rec.Body.String())

	rec = env.do(t, http.MethodGet, "/api/v1/history?test=test_a", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var hist testHistoryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &hist))
	require.Len(t, hist.Entries, 1)
	assert.Equal(t, 2.0, hist.Entries[0].Seconds)
	assert.Equal(t, 2, hist.Entries[0].Nodes)

	rec = env.do(t, http.MethodGet, "/api/v1/history/compilations?limit=5", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var comps compilationsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &comps))
	require.Len(t, comps.Compilations, 1)
	assert.Equal(t, 2, comps.Compilations[0].NodeFiles)
}

func TestCompile_ReportsSkippedFiles(t *testing.T) {
	env := newTestEnv(t, nil, false)

	bad := filepath.Join(env.store.BaseDir(), "node_bad_durations.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{"test_a": `), 0o644))

	rec := env.do(t, http.MethodPost, "/api/v1/compile", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var summary compileResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	assert.Equal(t, 0, summary.Tests)
	require.Len(t, summary.Skipped, 1)
	assert.Equal(t, "node_bad_durations.json", summary.Skipped[0].Path)
}

func TestPutNodeDurations_Validation(t *testing.T) {
	env := newTestEnv(t, nil, false)

	tests := []struct {
		name string
		path string
		body any
		want int
	}{
		{name: "invalid json", path: "/api/v1/nodes/1/durations", body: "{nope", want: http.StatusBadRequest},
		{name: "wrong shape", path: "/api/v1/nodes/1/durations", body: `["a"]`, want: http.StatusBadRequest},
		{name: "negative duration", path: "/api/v1/nodes/1/durations", body: map[string]float64{"a": -1}, want: http.StatusBadRequest},
		{name: "dot dot node id", path: "/api/v1/nodes/../durations", body: map[string]float64{}, want: http.StatusBadRequest},
		{name: "traversal in id", path: "/api/v1/nodes/a..b/durations", body: map[string]float64{}, want: http.StatusBadRequest},
		{name: "empty record", path: "/api/v1/nodes/7/durations", body: map[string]float64{}, want: http.StatusNoContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPut, tt.path, tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestSplit(t *testing.T) {
	env := newTestEnv(t, nil, false)

	require.NoError(t, env.store.SaveNodeDurations(durations.Record{
		"t1": 10, "t2": 8, "t3": 5, "t4": 3, "t5": 1,
	}))
	_, err := env.store.CompileDurations()
	require.NoError(t, err)

	rec := env.do(t, http.MethodPost, "/api/v1/split", splitRequest{
		Tests:  []string{"t5", "t4", "t3", "t2", "t1"},
		Splits: 2,
		Group:  0,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var shard split.Shard
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &shard))
	assert.Equal(t, []string{"t1", "t4", "t5"}, shard.Included)
	assert.Equal(t, 14.0, shard.Duration)

	rec = env.do(t, http.MethodPost, "/api/v1/split", splitRequest{
		Tests: []string{"a"}, Splits: 2, Group: 2,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/v1/split", splitRequest{
		Tests: []string{"a"}, Splits: 1, Group: 0, Strategy: "random",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHistoryRoutes_DisabledWithoutHistory(t *testing.T) {
	env := newTestEnv(t, nil, false)

	rec := env.do(t, http.MethodGet, "/api/v1/history/compilations", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHistory_Validation(t *testing.T) {
	env := newTestEnv(t, nil, true)

	rec := env.do(t, http.MethodGet, "/api/v1/history", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v1/history/compilations?limit=abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v1/history?test=missing", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"test":"missing","entries":[]}`, rec.Body.String())
}

func TestRequireToken(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)

	env := newTestEnv(t, &config.APIConfig{
		Auth: config.APIAuthConfig{Enabled: true, TokenHashes: []string{string(hash)}},
	}, false)

	tests := []struct {
		name    string
		headers []string
		want    int
	}{
		{name: "missing token", want: http.StatusUnauthorized},
		{name: "wrong scheme", headers: []string{"Authorization", "Basic s3cret"}, want: http.StatusUnauthorized},
		{name: "wrong token", headers: []string{"Authorization", "Bearer nope"}, want: http.StatusUnauthorized},
		{name: "valid token", headers: []string{"Authorization", "Bearer s3cret"}, want: http.StatusNoContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPut, "/api/v1/nodes/1/durations",
				map[string]float64{"a": 1}, tt.headers...)
			assert.Equal(t, tt.want, rec.Code)
		})
	}

	// Reads stay public.
	rec := env.do(t, http.MethodGet, "/api/v1/durations", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimit(t *testing.T) {
	env := newTestEnv(t, &config.APIConfig{
		Server: config.APIServerConfig{
			RateLimit: config.RateLimitConfig{Enabled: true, RequestsPerMinute: 2},
		},
	}, false)

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		codes = append(codes, env.do(t, http.MethodGet, "/api/v1/health", nil).Code)
	}

	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)

	// Another client has its own budget.
	rec := env.do(t, http.MethodGet, "/api/v1/health", nil, "X-Forwarded-For", "10.0.0.9, 10.0.0.1")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestExtractIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.1:1234"
	assert.Equal(t, "192.0.2.1", extractIP(req))

	req.Header.Set("X-Forwarded-For", "203.0.113.5, 192.0.2.1")
	assert.Equal(t, "203.0.113.5", extractIP(req))
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, nil, false)

	rec := env.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_StartStop(t *testing.T) {
	log := logrus.New()
	log.SetOutput(bytes.NewBuffer(nil))

	store, err := durations.NewStore(log, durations.Options{BaseDir: t.TempDir(), NodeID: "1"})
	require.NoError(t, err)

	srv := NewServer(log, &config.APIConfig{
		Server: config.APIServerConfig{Listen: "127.0.0.1:0"},
	}, tracker.New(log, store, tracker.Options{}), split.StrategyDuration)

	require.NoError(t, srv.Start(context.Background()))
	require.NoError(t, srv.Stop())
}
