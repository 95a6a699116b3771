package api

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fetchpipe/fetchpipe/internal/dispatcher"
	"github.com/fetchpipe/fetchpipe/internal/pipeline"
	queueMemory "github.com/fetchpipe/fetchpipe/internal/queue/memory"
)

type fakeIDGen struct {
	ids []string
	idx int
}

func (g *fakeIDGen) NewID() (string, error) {
	if g.idx >= len(g.ids) {
		return "", fmt.Errorf("no more ids")
	}
	id := g.ids[g.idx]
	g.idx++
	return id, nil
}

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

type fakeDocStore struct {
	docs map[string]pipeline.StoredDocument
}

func (s *fakeDocStore) Get(_ context.Context, key string) (pipeline.StoredDocument, error) {
	doc, ok := s.docs[key]
	if !ok {
		return pipeline.StoredDocument{}, fmt.Errorf("document %q not found", key)
	}
	return doc, nil
}

func newTestServer(t *testing.T, q *queueMemory.Queue, docs map[string]pipeline.StoredDocument, cfg Config) *Server {
	t.Helper()
	return NewServer(
		&fakeDocStore{docs: docs},
		dispatcher.New(q, nil, 1),
		&fakeIDGen{ids: []string{"task-1", "task-2"}},
		&fakeClock{now: time.Unix(100, 0)},
		zap.NewNop(),
		cfg,
	)
}

func TestServerSubmitTaskSucceeds(t *testing.T) {
	t.Parallel()

	q := queueMemory.NewQueue(10)
	server := newTestServer(t, q, nil, Config{})

	reqBody := []byte(`{"url":"https://example.com/jobs","ruleset":"jobs","profile":"chrome"}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/tasks", bytes.NewReader(reqBody))
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Contains(t, rec.Body.String(), "task-1")

	task, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	require.Equal(t, "task-1", task.ID)
	require.Equal(t, "https://example.com/jobs", task.URL)
	require.Equal(t, "jobs", task.RuleSet)
	require.Equal(t, "chrome", task.Profile)
	require.Equal(t, 3, task.MaxAttempts)
}

func TestServerSubmitTaskValidation(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		body string
	}{
		{name: "InvalidJSON", body: `{`},
		{name: "MissingURL", body: `{"ruleset":"jobs"}`},
		{name: "MissingRuleSet", body: `{"url":"https://example.com"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			q := queueMemory.NewQueue(1)
			server := newTestServer(t, q, nil, Config{})

			req := httptest.NewRequest(http.MethodPost, "/v1/tasks", bytes.NewReader([]byte(tc.body)))
			rec := httptest.NewRecorder()
			server.Handler().ServeHTTP(rec, req)

			require.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestServerGetDocument(t *testing.T) {
	t.Parallel()

	docs := map[string]pipeline.StoredDocument{
		"abc": {
			Key:      "abc",
			SourceID: "https://example.com/jobs/1",
			Fields:   map[string]any{"title": "Senior Economist"},
		},
	}
	server := newTestServer(t, queueMemory.NewQueue(1), docs, Config{})

	req := httptest.NewRequest(http.MethodGet, "/v1/documents/abc", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "Senior Economist")
}

func TestServerGetDocumentNotFound(t *testing.T) {
	t.Parallel()

	server := newTestServer(t, queueMemory.NewQueue(1), nil, Config{})

	req := httptest.NewRequest(http.MethodGet, "/v1/documents/missing", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServerHealthEndpoints(t *testing.T) {
	t.Parallel()

	server := newTestServer(t, queueMemory.NewQueue(1), nil, Config{})

	for _, path := range []string{"/healthz", "/readyz"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		server.Handler().ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code, path)
	}
}

func TestServerRequestIDHeader(t *testing.T) {
	t.Parallel()

	server := newTestServer(t, queueMemory.NewQueue(1), nil, Config{})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestServerAPIKeyAuth(t *testing.T) {
	t.Parallel()

	server := newTestServer(t, queueMemory.NewQueue(1), nil, Config{APIKey: "secret"})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusForbidden, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-API-Key", "secret")
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}
