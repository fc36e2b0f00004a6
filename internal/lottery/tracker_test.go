package lottery

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTrackerDeduplicatesPostIDs(t *testing.T) {
	tr := NewTracker()

	tr.Record(5, 100)
	tr.Record(1, 100)
	tr.Record(5, 100) // repeat edit: fee accrues, no duplicate entry
	tr.Record(9, 100)

	require.Equal(t, 3, tr.EligibleCount())
	require.Equal(t, int64(400), tr.Pool())

	ids, pool, _ := tr.Snapshot()
	require.Equal(t, []int64{5, 1, 9}, ids, "insertion order must be preserved")
	require.Equal(t, int64(400), pool)
}

func TestTrackerSnapshotIsACopy(t *testing.T) {
	tr := NewTracker()
	tr.Record(1, 10)

	ids, _, _ := tr.Snapshot()
	tr.Record(2, 10)

	require.Equal(t, []int64{1}, ids)
	require.Equal(t, 2, tr.EligibleCount())
}

func TestTrackerDrainRemovesOnlySnapshot(t *testing.T) {
	tr := NewTracker()
	tr.Record(1, 100)
	tr.Record(2, 100)

	ids, pool, cursor := tr.Snapshot()

	// Events arriving while the snapshot is in flight.
	tr.Record(3, 100)
	tr.Record(4, 100)

	tr.Drain(ids, pool, cursor)

	require.Equal(t, 2, tr.EligibleCount())
	require.Equal(t, int64(200), tr.Pool())

	kept, _, _ := tr.Snapshot()
	require.Equal(t, []int64{3, 4}, kept)
}

func TestTrackerDrainKeepsReRecordedPosts(t *testing.T) {
	tr := NewTracker()
	tr.Record(1, 100)
	tr.Record(2, 100)

	ids, pool, cursor := tr.Snapshot()

	// Post 1 qualifies again while the snapshot is in flight: its fee and its
	// eligibility both belong to the next round.
	tr.Record(1, 100)

	tr.Drain(ids, pool, cursor)

	require.Equal(t, 1, tr.EligibleCount())
	require.Equal(t, int64(100), tr.Pool())

	kept, _, _ := tr.Snapshot()
	require.Equal(t, []int64{1}, kept)

	// And the kept entry drains normally with the next round.
	ids, pool, cursor = tr.Snapshot()
	tr.Drain(ids, pool, cursor)
	require.Zero(t, tr.EligibleCount())
	require.Zero(t, tr.Pool())
}

func TestTrackerDrainToEmpty(t *testing.T) {
	tr := NewTracker()
	tr.Record(7, 50)

	ids, pool, cursor := tr.Snapshot()
	tr.Drain(ids, pool, cursor)

	require.Zero(t, tr.EligibleCount())
	require.Zero(t, tr.Pool())

	// The round starts fresh: the same post can qualify again.
	tr.Record(7, 50)
	require.Equal(t, 1, tr.EligibleCount())
	require.Equal(t, int64(50), tr.Pool())
}
