package transport

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fetchpipe/fetchpipe/internal/pipeline"
)

func TestReplayServesCapturedFlow(t *testing.T) {
	t.Parallel()

	src := NewReplaySource(Capture{
		URL:        "https://example.test/a",
		StatusCode: 200,
		Headers:    map[string][]string{"Content-Type": {"text/html"}},
		Body:       "<html>captured</html>",
	})

	result, err := src.Fetch(context.Background(), "https://example.test/a", "chrome")
	require.NoError(t, err)
	require.True(t, result.Replayed)
	require.Equal(t, 200, result.StatusCode)
	require.Equal(t, "text/html", result.Headers.Get("Content-Type"))
	require.Equal(t, []byte("<html>captured</html>"), result.Body)
}

func TestReplayMissingFlow(t *testing.T) {
	t.Parallel()

	src := NewReplaySource()
	_, err := src.Fetch(context.Background(), "https://example.test/missing", "")
	require.ErrorIs(t, err, ErrNoCapture)
}

func TestReplayClassifiesCapturedErrors(t *testing.T) {
	t.Parallel()

	src := NewReplaySource(Capture{URL: "https://example.test/gone", StatusCode: 404, Body: "nope"})
	_, err := src.Fetch(context.Background(), "https://example.test/gone", "")
	require.Equal(t, pipeline.KindHTTP, pipeline.KindOf(err))
	require.Equal(t, 404, pipeline.HTTPCodeOf(err))
}

func TestLoadReplayFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "flows.json")
	payload := `[{"url":"https://example.test/x","status_code":200,"body":"<html>x</html>"}]`
	require.NoError(t, os.WriteFile(path, []byte(payload), 0o600))

	src, err := LoadReplayFile(path)
	require.NoError(t, err)

	result, err := src.Fetch(context.Background(), "https://example.test/x", "")
	require.NoError(t, err)
	require.Equal(t, []byte("<html>x</html>"), result.Body)

	_, err = LoadReplayFile(filepath.Join(t.TempDir(), "absent.json"))
	require.Error(t, err)
}
