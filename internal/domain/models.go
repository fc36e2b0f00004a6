package domain

import "time"

// User represents a registered identity with a ledger balance.
type User struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	Balance   int64     `json:"balance"`
	CreatedAt time.Time `json:"created_at"`
}

// Post is a published piece of content. Edits are paid and feed the lottery.
type Post struct {
	ID        int64     `json:"id"`
	AuthorID  int64     `json:"author_id"`
	Content   string    `json:"content"`
	Upvotes   int64     `json:"upvotes"`
	Downvotes int64     `json:"downvotes"`
	EditCount int64     `json:"edit_count"`
	CreatedAt time.Time `json:"created_at"`
	EditedAt  time.Time `json:"edited_at"`
}

// Comment belongs to exactly one post.
type Comment struct {
	ID        int64     `json:"id"`
	PostID    int64     `json:"post_id"`
	AuthorID  int64     `json:"author_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// VoteValue is the direction of a vote. At most one vote per (post, user).
type VoteValue string

const (
	VoteUp   VoteValue = "up"
	VoteDown VoteValue = "down"
)

// Vote records a single user's vote on a post.
type Vote struct {
	PostID    int64     `json:"post_id"`
	UserID    int64     `json:"user_id"`
	Value     VoteValue `json:"value"`
	CreatedAt time.Time `json:"created_at"`
}

// WinnerRecord is an append-only history entry for one completed lottery round.
// The payout leaves the treasury in the same transaction that inserts this row.
type WinnerRecord struct {
	Round     int64     `json:"round"`
	PostID    int64     `json:"post_id"`
	AuthorID  int64     `json:"author_id"`
	Amount    int64     `json:"amount"`
	RequestID string    `json:"request_id"`
	CreatedAt time.Time `json:"created_at"`
}
