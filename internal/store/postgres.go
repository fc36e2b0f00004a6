package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/max-clinch/ChainSphere/internal/domain"
)

var (
	ErrUserNotFound         = errors.New("user not found")
	ErrPostNotFound         = errors.New("post not found")
	ErrDuplicateUsername    = errors.New("username already taken")
	ErrDuplicateVote        = errors.New("user already voted on this post")
	ErrNotAuthor            = errors.New("only the author may edit a post")
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrInsufficientTreasury = errors.New("treasury cannot cover the payout")
	ErrAlreadyPaid          = errors.New("request already paid out")
)

// Schema is executed at startup and by the seeder. Idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS users (
	id BIGSERIAL PRIMARY KEY,
	username TEXT NOT NULL UNIQUE,
	balance BIGINT NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS posts (
	id BIGSERIAL PRIMARY KEY,
	author_id BIGINT NOT NULL REFERENCES users(id),
	content TEXT NOT NULL,
	upvotes BIGINT NOT NULL DEFAULT 0,
	downvotes BIGINT NOT NULL DEFAULT 0,
	edit_count BIGINT NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	edited_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS comments (
	id BIGSERIAL PRIMARY KEY,
	post_id BIGINT NOT NULL REFERENCES posts(id),
	author_id BIGINT NOT NULL REFERENCES users(id),
	content TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS votes (
	post_id BIGINT NOT NULL REFERENCES posts(id),
	user_id BIGINT NOT NULL REFERENCES users(id),
	value TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (post_id, user_id)
);

CREATE TABLE IF NOT EXISTS treasury (
	id SMALLINT PRIMARY KEY CHECK (id = 1),
	balance BIGINT NOT NULL DEFAULT 0
);
INSERT INTO treasury (id, balance) VALUES (1, 0) ON CONFLICT (id) DO NOTHING;

CREATE TABLE IF NOT EXISTS winners (
	round BIGINT PRIMARY KEY,
	post_id BIGINT NOT NULL,
	author_id BIGINT NOT NULL REFERENCES users(id),
	amount BIGINT NOT NULL,
	request_id TEXT NOT NULL UNIQUE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

type Store struct {
	Db *pgxpool.Pool
}

func NewStore(connString string) (*Store, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(context.Background(), config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return &Store{Db: pool}, nil
}

func (s *Store) Close() {
	s.Db.Close()
}

// Migrate applies the schema.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.Db.Exec(ctx, Schema)
	return err
}

// CreateUser registers a username and grants the signup bonus.
func (s *Store) CreateUser(ctx context.Context, username string, signupBonus int64) (int64, error) {
	var id int64
	err := s.Db.QueryRow(ctx,
		"INSERT INTO users (username, balance) VALUES ($1, $2) RETURNING id",
		username, signupBonus,
	).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return 0, ErrDuplicateUsername
		}
		return 0, err
	}
	return id, nil
}

// GetUser retrieves a single user by ID.
func (s *Store) GetUser(ctx context.Context, id int64) (*domain.User, error) {
	var u domain.User
	err := s.Db.QueryRow(ctx,
		"SELECT id, username, balance, created_at FROM users WHERE id = $1", id,
	).Scan(&u.ID, &u.Username, &u.Balance, &u.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &u, nil
}

// TreasuryBalance reports the funds currently held for payouts.
func (s *Store) TreasuryBalance(ctx context.Context) (int64, error) {
	var balance int64
	err := s.Db.QueryRow(ctx, "SELECT balance FROM treasury WHERE id = 1").Scan(&balance)
	return balance, err
}

// Author resolves the payout destination for a post.
func (s *Store) Author(ctx context.Context, postID int64) (int64, error) {
	var authorID int64
	err := s.Db.QueryRow(ctx, "SELECT author_id FROM posts WHERE id = $1", postID).Scan(&authorID)
	if err != nil {
		if err == pgx.ErrNoRows {
			return 0, ErrPostNotFound
		}
		return 0, err
	}
	return authorID, nil
}

// PayWinner moves the reward treasury -> author and appends the winner record
// in one transaction. The UNIQUE constraint on request_id is the database
// backstop against paying the same request twice.
func (s *Store) PayWinner(ctx context.Context, rec domain.WinnerRecord) error {
	tx, err := s.Db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	var treasuryBalance int64
	err = tx.QueryRow(ctx, "SELECT balance FROM treasury WHERE id = 1 FOR UPDATE").Scan(&treasuryBalance)
	if err != nil {
		return fmt.Errorf("treasury lock failed: %w", err)
	}
	if treasuryBalance < rec.Amount {
		return ErrInsufficientTreasury
	}

	_, err = tx.Exec(ctx,
		"INSERT INTO winners (round, post_id, author_id, amount, request_id) VALUES ($1, $2, $3, $4, $5)",
		rec.Round, rec.PostID, rec.AuthorID, rec.Amount, rec.RequestID,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrAlreadyPaid
		}
		return fmt.Errorf("winner insert failed: %w", err)
	}

	_, err = tx.Exec(ctx, "UPDATE treasury SET balance = balance - $1 WHERE id = 1", rec.Amount)
	if err != nil {
		return err
	}
	tag, err := tx.Exec(ctx, "UPDATE users SET balance = balance + $1 WHERE id = $2", rec.Amount, rec.AuthorID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("tx commit failed: %w", err)
	}
	return nil
}

// ListWinners returns the payout history, most recent round first.
func (s *Store) ListWinners(ctx context.Context) ([]domain.WinnerRecord, error) {
	rows, err := s.Db.Query(ctx,
		"SELECT round, post_id, author_id, amount, request_id, created_at FROM winners ORDER BY round DESC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []domain.WinnerRecord
	for rows.Next() {
		var r domain.WinnerRecord
		if err := rows.Scan(&r.Round, &r.PostID, &r.AuthorID, &r.Amount, &r.RequestID, &r.CreatedAt); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// CountWinners seeds the engine's round sequence after a restart.
func (s *Store) CountWinners(ctx context.Context) (int64, error) {
	var count int64
	err := s.Db.QueryRow(ctx, "SELECT COUNT(*) FROM winners").Scan(&count)
	return count, err
}
