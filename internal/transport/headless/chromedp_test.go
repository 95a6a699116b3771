package headless

import (
	"context"
	"testing"

	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/require"

	"github.com/fetchpipe/fetchpipe/internal/transport"
)

func testRegistry(t *testing.T) *transport.Registry {
	t.Helper()
	r, err := transport.NewRegistry([]transport.Profile{{Name: "chrome", UserAgent: "test"}})
	require.NoError(t, err)
	return r
}

func TestNewLimiterValidation(t *testing.T) {
	t.Parallel()

	_, err := New(testRegistry(t), Config{MaxParallel: -1})
	require.Error(t, err)

	tr, err := New(testRegistry(t), Config{MaxParallel: 2})
	require.NoError(t, err)
	defer tr.Close()
	require.Equal(t, 2, cap(tr.limiter))
}

func TestResponseMetaCaptureAndFallbacks(t *testing.T) {
	t.Parallel()

	meta := newResponseMeta()
	meta.capture(&network.EventResponseReceived{
		Type: network.ResourceTypeDocument,
		Response: &network.Response{
			Status:  204,
			URL:     "https://example.test/rendered",
			Headers: network.Headers{"X-Request-ID": "abc"},
		},
	})
	status, headers, url := meta.snapshotWithFallbacks("https://req", "")
	require.Equal(t, 204, status)
	require.Equal(t, "abc", headers.Get("X-Request-ID"))
	require.Equal(t, "https://example.test/rendered", url)

	meta = newResponseMeta()
	status, _, url = meta.snapshotWithFallbacks("https://req", "https://final")
	require.Equal(t, 200, status)
	require.Equal(t, "https://final", url)
}

func TestNoopTransport(t *testing.T) {
	t.Parallel()

	_, err := NewNoop().Fetch(context.Background(), "https://example.test", "chrome")
	require.Error(t, err)
}
