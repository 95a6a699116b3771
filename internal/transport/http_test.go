package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fetchpipe/fetchpipe/internal/pipeline"
)

func newTestClient(t *testing.T, cfg Config) *Client {
	t.Helper()
	r, err := NewRegistry([]Profile{
		{Name: "chrome", UserAgent: "test-chrome", Headers: map[string]string{"Accept-Language": "en-US"}},
		{Name: "firefox", UserAgent: "test-firefox"},
	})
	require.NoError(t, err)
	return New(r, cfg)
}

func TestFetchAppliesProfileSignature(t *testing.T) {
	t.Parallel()

	var gotUA, gotLang string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotLang = r.Header.Get("Accept-Language")
		_, _ = w.Write([]byte("<html>ok</html>"))
	}))
	defer srv.Close()

	c := newTestClient(t, Config{})
	result, err := c.Fetch(context.Background(), srv.URL, "chrome")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, result.StatusCode)
	require.Equal(t, []byte("<html>ok</html>"), result.Body)
	require.Equal(t, "chrome", result.Profile)
	require.Equal(t, "test-chrome", gotUA)
	require.Equal(t, "en-US", gotLang)
	require.Greater(t, result.Elapsed, time.Duration(0))
}

func TestFetchClassifiesHTTPError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	c := newTestClient(t, Config{})
	_, err := c.Fetch(context.Background(), srv.URL, "chrome")
	require.Error(t, err)
	require.Equal(t, pipeline.KindHTTP, pipeline.KindOf(err))
	require.Equal(t, http.StatusNotFound, pipeline.HTTPCodeOf(err))
}

func TestFetchClassifiesBlockedChallenge(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte("<html>please solve this CAPTCHA to continue</html>"))
	}))
	defer srv.Close()

	c := newTestClient(t, Config{})
	result, err := c.Fetch(context.Background(), srv.URL, "chrome")
	require.Error(t, err)
	require.Equal(t, pipeline.KindBlocked, pipeline.KindOf(err))
	// The classified result still carries the body for archival.
	require.NotEmpty(t, result.Body)
}

func TestFetchClassifiesTimeout(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(300 * time.Millisecond)
		_, _ = w.Write([]byte("slow"))
	}))
	defer srv.Close()

	c := newTestClient(t, Config{Timeout: 50 * time.Millisecond})
	_, err := c.Fetch(context.Background(), srv.URL, "chrome")
	require.Error(t, err)
	require.Equal(t, pipeline.KindTimeout, pipeline.KindOf(err))
}

func TestFetchClassifiesConnectionRefused(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	c := newTestClient(t, Config{Timeout: time.Second})
	_, err := c.Fetch(context.Background(), url, "chrome")
	require.Error(t, err)
	require.Equal(t, pipeline.KindConnRefused, pipeline.KindOf(err))
}

func TestFetchUnknownProfileDoesNotDial(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, Config{})
	_, err := c.Fetch(context.Background(), "http://127.0.0.1:0", "netscape")
	require.ErrorIs(t, err, pipeline.ErrUnknownProfile)
}

func TestFetchTruncatesOversizedBody(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(make([]byte, 4096))
	}))
	defer srv.Close()

	c := newTestClient(t, Config{MaxBodyBytes: 1024})
	result, err := c.Fetch(context.Background(), srv.URL, "chrome")
	require.NoError(t, err)
	require.Len(t, result.Body, 1024)
}
