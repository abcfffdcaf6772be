package baseline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTracker_ColdStart(t *testing.T) {
	tr := New()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 4; i++ {
		tr.Observe("alice", now.Add(time.Duration(i)*time.Hour), "partner.com", false)
	}

	b := tr.Snapshot("alice", now.Add(5*time.Hour))
	require.True(t, b.InsufficientHistory)
	require.Equal(t, 4, b.TotalShareCount)
}

func TestTracker_HasSeenDomain(t *testing.T) {
	tr := New()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		tr.Observe("alice", now.Add(time.Duration(i)*time.Hour), "partner.com", false)
	}

	b := tr.Snapshot("alice", now.Add(6*time.Hour))
	require.False(t, b.InsufficientHistory)
	require.True(t, b.HasSeenDomain("partner.com"))
	require.False(t, b.HasSeenDomain("evil.example"))
}

func TestTracker_OwnFileShareRatio(t *testing.T) {
	tr := New()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	tr.Observe("bob", now, "", true)
	tr.Observe("bob", now.Add(time.Hour), "", true)
	tr.Observe("bob", now.Add(2*time.Hour), "x.com", false)
	tr.Observe("bob", now.Add(3*time.Hour), "y.com", false)

	b := tr.Snapshot("bob", now.Add(4*time.Hour))
	require.InDelta(t, 0.5, b.OwnFileShareRatio, 1e-9)
}

func TestTracker_ExternalShareFrequency(t *testing.T) {
	tr := New()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 6; i++ {
		tr.Observe("carol", now.Add(time.Duration(i)*time.Hour), "partner.com", false)
	}

	b := tr.Snapshot("carol", now.Add(7*time.Hour))
	require.InDelta(t, 6.0/30.0, b.ExternalShareFrequency(), 1e-9)
}

func TestTracker_PrunesOutsideRollingWindow(t *testing.T) {
	tr := New()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	tr.Observe("dave", now, "stale.example", false)
	later := now.Add(31 * 24 * time.Hour)
	tr.Observe("dave", later, "fresh.example", false)

	b := tr.Snapshot("dave", later)
	require.Equal(t, 1, b.TotalShareCount)
	require.True(t, b.HasSeenDomain("fresh.example"))
	require.False(t, b.HasSeenDomain("stale.example"))
}

func TestTracker_UnknownActorIsEmptySnapshot(t *testing.T) {
	tr := New()
	b := tr.Snapshot("nobody", time.Now())
	require.True(t, b.InsufficientHistory)
	require.Zero(t, b.TotalShareCount)
}
