package lottery

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/max-clinch/ChainSphere/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// State of the round controller.
type State string

const (
	StateIdle       State = "IDLE"
	StateRequesting State = "REQUESTING"
)

// Metrics
var (
	roundsCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lottery_rounds_completed_total",
		Help: "Rounds that reached payout and reset",
	})
	fulfillmentsRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lottery_fulfillments_rejected_total",
		Help: "Fulfillment callbacks rejected as unknown or malformed",
	})
	payoutFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lottery_payout_failures_total",
		Help: "Fulfillments aborted because the winner transfer failed",
	})
)

// ErrUnknownRequest rejects a fulfillment whose request ID does not match the
// single outstanding request.
var ErrUnknownRequest = errors.New("unknown randomness request")

// ErrNoRandomWords rejects a fulfillment that carried an empty word list.
var ErrNoRandomWords = errors.New("fulfillment carried no random words")

// UpkeepNotNeededError is the hard rejection for a performUpkeep call made
// while the predicate does not hold. It carries the snapshot the decision was
// made against so automation can log why the trigger was wasted.
type UpkeepNotNeededError struct {
	PoolBalance   int64
	EligibleCount int
}

func (e *UpkeepNotNeededError) Error() string {
	return fmt.Sprintf("upkeep not needed: pool=%d eligible=%d", e.PoolBalance, e.EligibleCount)
}

// RandomnessGateway submits a request to the external randomness provider and
// returns its opaque handle. The fulfillment arrives later, in a separate
// invocation, through Engine.HandleFulfillment.
type RandomnessGateway interface {
	SubmitRequest(ctx context.Context, round int64) (string, error)
}

// Ledger is the slice of the content ledger the lottery consumes: author
// resolution and the winner payout primitive. PayWinner must be atomic —
// either the funds move and the record is appended, or neither happens.
type Ledger interface {
	Author(ctx context.Context, postID int64) (int64, error)
	PayWinner(ctx context.Context, rec domain.WinnerRecord) error
}

// PendingRequest correlates the single outstanding randomness request with
// the round snapshot it must be resolved against.
type PendingRequest struct {
	ID          string
	EligibleIDs []int64
	Pool        int64
	IssuedAt    time.Time

	// cursor is the tracker event position the snapshot was taken at,
	// handed back to Drain at reset.
	cursor uint64
}

// Config is the lottery policy. Reward is a fixed constant independent of the
// pool size; any pool surplus carries into the next round.
type Config struct {
	Interval time.Duration
	Reward   int64
}

// Status is a read-only snapshot of the engine.
type Status struct {
	State            State
	Round            int64
	PoolBalance      int64
	EligibleCount    int
	IdleSince        time.Time
	PendingRequestID string
	PendingAge       time.Duration
}

// Engine is the round controller: it owns the round state, the eligibility
// tracker and the single pending randomness request. All mutations are
// serialized behind one mutex, so callers observe each transition atomically.
//
// Known limitation: if the provider never fulfills a submitted request the
// engine stays in REQUESTING indefinitely. There is no timeout or retry; the
// pending request ID and its age are exposed through Status so operators can
// see a stuck round.
type Engine struct {
	mu sync.Mutex

	cfg     Config
	gateway RandomnessGateway
	ledger  Ledger
	now     func() time.Time

	state      State
	idleSince  time.Time
	round      int64
	tracker    *Tracker
	pending    *PendingRequest
	submitting bool
}

// NewEngine builds an idle engine. startRound seeds the round sequence number,
// normally the count of winner records already on disk.
func NewEngine(cfg Config, gateway RandomnessGateway, ledger Ledger, startRound int64) *Engine {
	e := &Engine{
		cfg:     cfg,
		gateway: gateway,
		ledger:  ledger,
		now:     time.Now,
		state:   StateIdle,
		round:   startRound,
		tracker: NewTracker(),
	}
	e.idleSince = e.now()
	return e
}

// RecordQualifyingEvent is called by the content ledger after a paid edit has
// committed. Valid in any state: events recorded while a request is in flight
// accrue to the next round and never touch the in-flight snapshot.
func (e *Engine) RecordQualifyingEvent(postID, fee int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tracker.Record(postID, fee)
}

// CheckUpkeep is the side-effect-free upkeep predicate plus the snapshot it
// was computed from. Safe to call arbitrarily often; never fails.
func (e *Engine) CheckUpkeep() (needed bool, poolBalance int64, eligibleCount int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.upkeepNeeded(e.now()), e.tracker.Pool(), e.tracker.EligibleCount()
}

func (e *Engine) upkeepNeeded(now time.Time) bool {
	return e.state == StateIdle &&
		!e.submitting &&
		e.tracker.Pool() > 0 &&
		e.tracker.EligibleCount() > 0 &&
		now.Sub(e.idleSince) >= e.cfg.Interval
}

// PerformUpkeep is the IDLE -> REQUESTING transition: it snapshots the
// eligible set and pool, submits a randomness request and stores the returned
// handle. Rejects with *UpkeepNotNeededError when the predicate does not
// hold — including while a request is already outstanding — without mutating
// anything.
//
// The provider round trip runs outside the engine lock so ledger traffic and
// status queries are not stalled by a slow provider; the submitting guard
// keeps a second trigger out during the gap. A fulfillment arriving before
// the submit returns is rejected as unknown, since the request ID is not
// known until the provider responds; the provider is expected to deliver
// after acknowledging the request.
func (e *Engine) PerformUpkeep(ctx context.Context) (*PendingRequest, error) {
	e.mu.Lock()
	if !e.upkeepNeeded(e.now()) {
		err := &UpkeepNotNeededError{
			PoolBalance:   e.tracker.Pool(),
			EligibleCount: e.tracker.EligibleCount(),
		}
		e.mu.Unlock()
		return nil, err
	}
	ids, pool, cursor := e.tracker.Snapshot()
	round := e.round
	e.submitting = true
	e.mu.Unlock()

	requestID, err := e.gateway.SubmitRequest(ctx, round)

	e.mu.Lock()
	defer e.mu.Unlock()
	e.submitting = false
	if err != nil {
		// No pending request was created; the engine stays IDLE.
		return nil, fmt.Errorf("randomness request failed: %w", err)
	}

	e.pending = &PendingRequest{
		ID:          requestID,
		EligibleIDs: ids,
		Pool:        pool,
		IssuedAt:    e.now(),
		cursor:      cursor,
	}
	e.state = StateRequesting
	log.Printf("lottery: round %d requesting randomness, request=%s eligible=%d pool=%d",
		round, requestID, len(ids), pool)

	p := *e.pending
	return &p, nil
}

// HandleFulfillment is the REQUESTING -> IDLE transition, driven by the
// provider's one-time callback. The request ID must match the outstanding
// request exactly; anything else is rejected as a replay or spoof with no
// state change. The whole transition is atomic: if the payout fails, the
// pending request stays outstanding and the fulfillment can be replayed once
// the transfer can succeed.
func (e *Engine) HandleFulfillment(ctx context.Context, requestID string, randomWords []uint64) (*domain.WinnerRecord, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.pending == nil || e.pending.ID != requestID {
		fulfillmentsRejected.Inc()
		log.Printf("lottery: rejected fulfillment for unknown request %q", requestID)
		return nil, ErrUnknownRequest
	}
	if len(randomWords) == 0 {
		fulfillmentsRejected.Inc()
		return nil, fmt.Errorf("request %s: %w", requestID, ErrNoRandomWords)
	}

	postID, _, err := SelectWinner(randomWords[0], e.pending.EligibleIDs)
	if err != nil {
		return nil, err
	}
	authorID, err := e.ledger.Author(ctx, postID)
	if err != nil {
		return nil, fmt.Errorf("resolve author of post %d: %w", postID, err)
	}

	rec := domain.WinnerRecord{
		Round:     e.round,
		PostID:    postID,
		AuthorID:  authorID,
		Amount:    e.cfg.Reward,
		RequestID: requestID,
		CreatedAt: e.now(),
	}
	if err := e.ledger.PayWinner(ctx, rec); err != nil {
		payoutFailures.Inc()
		return nil, fmt.Errorf("winner payout failed: %w", err)
	}

	e.tracker.Drain(e.pending.EligibleIDs, e.pending.Pool, e.pending.cursor)
	e.pending = nil
	e.state = StateIdle
	e.idleSince = e.now()
	e.round++
	roundsCompleted.Inc()
	log.Printf("lottery: round %d won by post %d (author %d), paid %d",
		rec.Round, rec.PostID, rec.AuthorID, rec.Amount)
	return &rec, nil
}

// Status returns a read-only snapshot of the round state.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := Status{
		State:         e.state,
		Round:         e.round,
		PoolBalance:   e.tracker.Pool(),
		EligibleCount: e.tracker.EligibleCount(),
		IdleSince:     e.idleSince,
	}
	if e.pending != nil {
		s.PendingRequestID = e.pending.ID
		s.PendingAge = e.now().Sub(e.pending.IssuedAt)
	}
	return s
}
