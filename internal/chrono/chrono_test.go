package chrono

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestElapsedGrows(t *testing.T) {
	c := New()
	time.Sleep(5 * time.Millisecond)
	require.GreaterOrEqual(t, c.Elapsed(nil), 5*time.Millisecond)
}

func TestRestartResetsOrigin(t *testing.T) {
	c := New()
	time.Sleep(5 * time.Millisecond)
	first := c.Restart()
	require.GreaterOrEqual(t, first, 5*time.Millisecond)

	second := c.Elapsed(nil)
	require.Less(t, second, first)
}

func TestFrozenSnapshotIsStable(t *testing.T) {
	c := New()
	now := Snapshot()
	a := c.Millis(&now)
	time.Sleep(5 * time.Millisecond)
	b := c.Millis(&now)
	require.Equal(t, a, b, "frozen now must not advance between calls")
}
