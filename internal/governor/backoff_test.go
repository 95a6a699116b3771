package governor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDelayGrowsAndCaps(t *testing.T) {
	t.Parallel()

	b := NewBackoff(100*time.Millisecond, time.Second)

	for attempt := 1; attempt <= 10; attempt++ {
		d := b.Delay(attempt)
		require.GreaterOrEqual(t, d, 50*time.Millisecond, "attempt %d", attempt)
		require.LessOrEqual(t, d, time.Second, "attempt %d", attempt)
	}

	// Later attempts center on the cap.
	require.GreaterOrEqual(t, b.Delay(10), 500*time.Millisecond)
}

func TestDelayHandlesOutOfRangeAttempt(t *testing.T) {
	t.Parallel()

	b := NewBackoff(0, 0)
	require.Greater(t, b.Delay(0), time.Duration(0))
	require.Greater(t, b.Delay(-3), time.Duration(0))
}
