package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/max-clinch/ChainSphere/internal/domain"
	"github.com/max-clinch/ChainSphere/internal/store"
)

var (
	ErrEmptyUsername = errors.New("username is required")
	ErrEmptyContent  = errors.New("content is required")
	ErrInvalidVote   = errors.New("vote value must be up or down")
)

// QualifyingEventRecorder is the lottery-side sink for paid-edit events.
type QualifyingEventRecorder interface {
	RecordQualifyingEvent(postID, fee int64)
}

// LedgerService is the content ledger: user registry, post/comment CRUD, the
// single-vote rule, and the paid edit that feeds the lottery.
type LedgerService struct {
	store       *store.Store
	lottery     QualifyingEventRecorder
	editFee     int64
	signupBonus int64
}

func NewLedgerService(s *store.Store, lottery QualifyingEventRecorder, editFee, signupBonus int64) *LedgerService {
	return &LedgerService{
		store:       s,
		lottery:     lottery,
		editFee:     editFee,
		signupBonus: signupBonus,
	}
}

func (s *LedgerService) Register(ctx context.Context, username string) (*domain.User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, ErrEmptyUsername
	}
	id, err := s.store.CreateUser(ctx, username, s.signupBonus)
	if err != nil {
		return nil, err
	}
	return s.store.GetUser(ctx, id)
}

func (s *LedgerService) GetUser(ctx context.Context, id int64) (*domain.User, error) {
	return s.store.GetUser(ctx, id)
}

func (s *LedgerService) CreatePost(ctx context.Context, authorID int64, content string) (*domain.Post, error) {
	if strings.TrimSpace(content) == "" {
		return nil, ErrEmptyContent
	}
	id, err := s.store.CreatePost(ctx, authorID, content)
	if err != nil {
		return nil, err
	}
	return s.store.GetPost(ctx, id)
}

func (s *LedgerService) GetPost(ctx context.Context, id int64) (*domain.Post, error) {
	return s.store.GetPost(ctx, id)
}

func (s *LedgerService) ListPosts(ctx context.Context, limit int) ([]domain.Post, error) {
	return s.store.ListPosts(ctx, limit)
}

// EditPost applies a paid edit and, once the fee transfer has committed,
// reports the qualifying event to the lottery. The ordering matters: the
// lottery must never see a fee the ledger did not collect.
func (s *LedgerService) EditPost(ctx context.Context, postID, editorID int64, content string) (*domain.Post, error) {
	if strings.TrimSpace(content) == "" {
		return nil, ErrEmptyContent
	}
	if err := s.store.ApplyPaidEdit(ctx, postID, editorID, content, s.editFee); err != nil {
		return nil, err
	}
	s.lottery.RecordQualifyingEvent(postID, s.editFee)
	return s.store.GetPost(ctx, postID)
}

func (s *LedgerService) Vote(ctx context.Context, postID, userID int64, value string) error {
	var v domain.VoteValue
	switch domain.VoteValue(value) {
	case domain.VoteUp, domain.VoteDown:
		v = domain.VoteValue(value)
	default:
		return fmt.Errorf("%w: %q", ErrInvalidVote, value)
	}
	return s.store.CastVote(ctx, postID, userID, v)
}

func (s *LedgerService) Comment(ctx context.Context, postID, authorID int64, content string) (int64, error) {
	if strings.TrimSpace(content) == "" {
		return 0, ErrEmptyContent
	}
	return s.store.CreateComment(ctx, postID, authorID, content)
}

func (s *LedgerService) Comments(ctx context.Context, postID int64) ([]domain.Comment, error) {
	return s.store.ListComments(ctx, postID)
}

func (s *LedgerService) Winners(ctx context.Context) ([]domain.WinnerRecord, error) {
	return s.store.ListWinners(ctx)
}
