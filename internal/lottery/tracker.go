package lottery

// Tracker accumulates the current round's eligible posts and reward pool.
// Insertion order is preserved and post IDs are deduplicated; the fee of a
// repeat edit still accrues to the pool. Each entry remembers the event
// cursor of its latest qualifying event, so a drain can tell a post that only
// belongs to the drained snapshot from one that re-qualified afterwards. Not
// safe for concurrent use on its own; the Engine serializes access.
type Tracker struct {
	pool     int64
	eligible []int64
	seen     map[int64]uint64
	events   uint64
}

func NewTracker() *Tracker {
	return &Tracker{seen: make(map[int64]uint64)}
}

// Record adds fee to the pool and marks postID eligible if it is not already.
func (t *Tracker) Record(postID, fee int64) {
	t.events++
	t.pool += fee
	if _, ok := t.seen[postID]; !ok {
		t.eligible = append(t.eligible, postID)
	}
	t.seen[postID] = t.events
}

func (t *Tracker) Pool() int64 {
	return t.pool
}

func (t *Tracker) EligibleCount() int {
	return len(t.eligible)
}

// Snapshot returns a copy of the eligible set, the pool balance, and the
// event cursor the snapshot was taken at. The copy is safe to hold across
// the request/fulfillment gap; the cursor is handed back to Drain.
func (t *Tracker) Snapshot() ([]int64, int64, uint64) {
	ids := make([]int64, len(t.eligible))
	copy(ids, t.eligible)
	return ids, t.pool, t.events
}

// Drain removes a previously taken snapshot from the tracker. Events recorded
// after the snapshot was taken are untouched and roll into the next round —
// including a re-edit of a post that was in the snapshot, which keeps the
// post eligible.
func (t *Tracker) Drain(ids []int64, pool int64, cursor uint64) {
	drop := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}
	kept := t.eligible[:0]
	for _, id := range t.eligible {
		if _, ok := drop[id]; ok && t.seen[id] <= cursor {
			delete(t.seen, id)
			continue
		}
		kept = append(kept, id)
	}
	t.eligible = kept
	t.pool -= pool
	if t.pool < 0 {
		t.pool = 0
	}
}
