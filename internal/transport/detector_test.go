package transport

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBlockedRequiresChallengeStatus(t *testing.T) {
	t.Parallel()

	d := NewBlockDetector(nil)
	body := []byte("<html>solve the captcha</html>")
	require.True(t, d.Blocked(403, body))
	require.True(t, d.Blocked(429, body))
	require.True(t, d.Blocked(503, body))
	require.False(t, d.Blocked(200, body))
	require.False(t, d.Blocked(404, body))
}

func TestBlockedMatchesCaseInsensitively(t *testing.T) {
	t.Parallel()

	d := NewBlockDetector([]string{"Unusual Traffic"})
	require.True(t, d.Blocked(429, []byte("we detected UNUSUAL TRAFFIC from your network")))
	require.False(t, d.Blocked(429, []byte("rate limit exceeded")))
	require.False(t, d.Blocked(403, nil))
}
