package lottery

import "errors"

// ErrEmptyEligibleSet rejects winner selection against an empty snapshot.
// Unreachable while upkeep preconditions hold, but the selector defends
// independently in case the snapshot is stale.
var ErrEmptyEligibleSet = errors.New("empty eligible set")

// SelectWinner deterministically maps a random word onto the eligible set.
// The same inputs always yield the same winner.
func SelectWinner(randomWord uint64, eligible []int64) (postID int64, index int, err error) {
	if len(eligible) == 0 {
		return 0, 0, ErrEmptyEligibleSet
	}
	index = int(randomWord % uint64(len(eligible)))
	return eligible[index], index, nil
}
