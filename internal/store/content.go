package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/max-clinch/ChainSphere/internal/domain"
)

// CreatePost publishes a new post. Publishing is free; edits are the paid,
// lottery-qualifying action.
func (s *Store) CreatePost(ctx context.Context, authorID int64, content string) (int64, error) {
	var id int64
	err := s.Db.QueryRow(ctx,
		"INSERT INTO posts (author_id, content) VALUES ($1, $2) RETURNING id",
		authorID, content,
	).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return 0, ErrUserNotFound
		}
		return 0, err
	}
	return id, nil
}

// GetPost retrieves a single post by ID.
func (s *Store) GetPost(ctx context.Context, id int64) (*domain.Post, error) {
	var p domain.Post
	err := s.Db.QueryRow(ctx,
		`SELECT id, author_id, content, upvotes, downvotes, edit_count, created_at, edited_at
		 FROM posts WHERE id = $1`, id,
	).Scan(&p.ID, &p.AuthorID, &p.Content, &p.Upvotes, &p.Downvotes, &p.EditCount, &p.CreatedAt, &p.EditedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrPostNotFound
		}
		return nil, err
	}
	return &p, nil
}

// ListPosts returns posts newest first.
func (s *Store) ListPosts(ctx context.Context, limit int) ([]domain.Post, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := s.Db.Query(ctx,
		`SELECT id, author_id, content, upvotes, downvotes, edit_count, created_at, edited_at
		 FROM posts ORDER BY id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var posts []domain.Post
	for rows.Next() {
		var p domain.Post
		if err := rows.Scan(&p.ID, &p.AuthorID, &p.Content, &p.Upvotes, &p.Downvotes,
			&p.EditCount, &p.CreatedAt, &p.EditedAt); err != nil {
			return nil, err
		}
		posts = append(posts, p)
	}
	return posts, rows.Err()
}

// ApplyPaidEdit updates a post's content and moves the edit fee from the
// editor to the treasury in one transaction. Locks are taken in a fixed order
// (post, then user, then treasury) to keep concurrent edits deadlock-free.
func (s *Store) ApplyPaidEdit(ctx context.Context, postID, editorID int64, content string, fee int64) error {
	tx, err := s.Db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	var authorID int64
	err = tx.QueryRow(ctx, "SELECT author_id FROM posts WHERE id = $1 FOR UPDATE", postID).Scan(&authorID)
	if err != nil {
		if err == pgx.ErrNoRows {
			return ErrPostNotFound
		}
		return fmt.Errorf("post lock failed: %w", err)
	}
	if authorID != editorID {
		return ErrNotAuthor
	}

	var balance int64
	err = tx.QueryRow(ctx, "SELECT balance FROM users WHERE id = $1 FOR UPDATE", editorID).Scan(&balance)
	if err != nil {
		if err == pgx.ErrNoRows {
			return ErrUserNotFound
		}
		return fmt.Errorf("user lock failed: %w", err)
	}
	if balance < fee {
		return ErrInsufficientFunds
	}

	_, err = tx.Exec(ctx, "UPDATE users SET balance = balance - $1 WHERE id = $2", fee, editorID)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, "UPDATE treasury SET balance = balance + $1 WHERE id = 1", fee)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx,
		"UPDATE posts SET content = $1, edit_count = edit_count + 1, edited_at = now() WHERE id = $2",
		content, postID)
	if err != nil {
		return err
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("tx commit failed: %w", err)
	}
	return nil
}

// CastVote records a single vote and updates the post's aggregate counters.
// The (post_id, user_id) primary key enforces one vote per user per post.
func (s *Store) CastVote(ctx context.Context, postID, userID int64, value domain.VoteValue) error {
	tx, err := s.Db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		"INSERT INTO votes (post_id, user_id, value) VALUES ($1, $2, $3)",
		postID, userID, value)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			switch pgErr.Code {
			case "23505":
				return ErrDuplicateVote
			case "23503":
				return ErrPostNotFound
			}
		}
		return fmt.Errorf("vote insert failed: %w", err)
	}

	column := "upvotes"
	if value == domain.VoteDown {
		column = "downvotes"
	}
	_, err = tx.Exec(ctx,
		fmt.Sprintf("UPDATE posts SET %s = %s + 1 WHERE id = $1", column, column), postID)
	if err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// CreateComment adds a comment under a post.
func (s *Store) CreateComment(ctx context.Context, postID, authorID int64, content string) (int64, error) {
	var id int64
	err := s.Db.QueryRow(ctx,
		"INSERT INTO comments (post_id, author_id, content) VALUES ($1, $2, $3) RETURNING id",
		postID, authorID, content,
	).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return 0, ErrPostNotFound
		}
		return 0, err
	}
	return id, nil
}

// ListComments returns a post's comments oldest first.
func (s *Store) ListComments(ctx context.Context, postID int64) ([]domain.Comment, error) {
	rows, err := s.Db.Query(ctx,
		`SELECT id, post_id, author_id, content, created_at
		 FROM comments WHERE post_id = $1 ORDER BY id ASC`, postID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var comments []domain.Comment
	for rows.Next() {
		var c domain.Comment
		if err := rows.Scan(&c.ID, &c.PostID, &c.AuthorID, &c.Content, &c.CreatedAt); err != nil {
			return nil, err
		}
		comments = append(comments, c)
	}
	return comments, rows.Err()
}
