package models

// CreateUserRequest is the payload for registering a new identity.
type CreateUserRequest struct {
	Username string `json:"username"`
}

// CreatePostRequest is the payload for publishing a post.
type CreatePostRequest struct {
	AuthorID int64  `json:"author_id"`
	Content  string `json:"content"`
}

// EditPostRequest is the payload for a paid post edit.
type EditPostRequest struct {
	EditorID int64  `json:"editor_id"`
	Content  string `json:"content"`
}

// VoteRequest casts a single vote on a post.
type VoteRequest struct {
	UserID int64  `json:"user_id"`
	Value  string `json:"value"`
}

// CreateCommentRequest adds a comment under a post.
type CreateCommentRequest struct {
	AuthorID int64  `json:"author_id"`
	Content  string `json:"content"`
}

// FulfillRequest is the randomness provider's callback payload.
type FulfillRequest struct {
	RequestID   string   `json:"request_id"`
	RandomWords []uint64 `json:"random_words"`
}

// UpkeepResponse mirrors checkUpkeep: a boolean plus the snapshot it was
// computed from, so automation can log why a trigger did or did not fire.
type UpkeepResponse struct {
	Needed        bool  `json:"needed"`
	PoolBalance   int64 `json:"pool_balance"`
	EligibleCount int   `json:"eligible_count"`
}

// PerformUpkeepResponse returns the handle of the randomness request issued by
// a successful trigger.
type PerformUpkeepResponse struct {
	RequestID string `json:"request_id"`
	Round     int64  `json:"round"`
}

// LotteryStatusResponse is the read-only state snapshot.
type LotteryStatusResponse struct {
	State            string `json:"state"`
	Round            int64  `json:"round"`
	PoolBalance      int64  `json:"pool_balance"`
	EligibleCount    int    `json:"eligible_count"`
	IdleSince        string `json:"idle_since"`
	PendingRequestID string `json:"pending_request_id,omitempty"`
	PendingAgeSec    int64  `json:"pending_age_sec,omitempty"`
}
