// Package roundengine implements the round engine (C2) and its tick
// broadcaster (C3). Grounded on the teacher's internal/game/manager.go for
// the channel-driven single-owner actor shape (request/response channels,
// one goroutine running the loop) and internal/game/hub.go for the
// non-blocking lossy tick fan-out, both generalized from the teacher's
// fixed BETTING/RUNNING/CRASHED three-phase round to spec.md §4.2's
// running/crashed two-phase round with continuous join-while-running.
package roundengine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"aviator/internal/fairness"
	"aviator/internal/money"
	"aviator/internal/seedstore"
)

var (
	ErrNoRunningRound = errors.New("roundengine: no running round")
	ErrAlreadyJoined  = errors.New("roundengine: player already joined this round")
	ErrNotJoined      = errors.New("roundengine: player has no bet in this round")
	ErrAlreadyCashed  = errors.New("roundengine: player already cashed out")
	ErrDegraded       = errors.New("roundengine: refusing to start a round without a seed commitment")
)

// SeedSource is the C1 dependency the engine primes rounds from.
type SeedSource interface {
	EnsureNext(ctx context.Context) (seedstore.Commit, error)
	SeedFor(idx int64) ([]byte, bool)
}

// PlayerBet is a participant's stake in the currently active round. Once
// CashedOut is true, Multiplier/Payout hold the snapshot taken at cashout
// time so a repeated Cashout call can be answered idempotently instead of
// failing (spec.md §8 invariant #5 / scenario S3).
type PlayerBet struct {
	BetAmount  money.Amount
	CashedOut  bool
	Multiplier decimal.Decimal
	Payout     money.Amount
}

// round is the engine's private in-memory state for the active round.
type round struct {
	roundID    string
	commitIdx  *int64
	seedHash   string
	seed       []byte
	crashPoint int64 // hundredths, e.g. 350 == 3.50x
	startedAt  time.Time
	endedAt    time.Time
	status     string // "running" | "crashed"
	players    map[string]*PlayerBet
}

// RoundStarted is emitted exactly once per round, before any tick.
type RoundStarted struct {
	RoundID    string
	CommitIdx  *int64
	SeedHash   string
	CrashPoint decimal.Decimal
	StartedAt  time.Time
}

// RoundCrashed is emitted exactly once per round, after its RoundStarted.
// Ticks for the round keep arriving (with status "crashed") until the next
// round starts. The seed is revealed only here.
type RoundCrashed struct {
	RoundID    string
	CommitIdx  *int64
	SeedHash   string
	Seed       []byte
	CrashPoint decimal.Decimal
	StartedAt  time.Time
	EndedAt    time.Time
}

// Status is the engine's public, read-only snapshot.
type Status struct {
	RoundID    string
	Status     string // "waiting" | "running" | "crashed"
	Multiplier decimal.Decimal
	StartedAt  time.Time
	CommitIdx  *int64
	SeedHash   string
}

type joinRequest struct {
	playerID  string
	betAmount money.Amount
	resp      chan joinResult
}

// JoinResult is what a successful Join call returns to the bet coordinator.
type JoinResult struct {
	RoundID   string
	SeedHash  string
	CommitIdx *int64
	StartedAt time.Time
}

type joinResult struct {
	value JoinResult
	err   error
}

type cashoutRequest struct {
	playerID string
	resp     chan cashoutResult
}

// CashoutResult is what a Cashout call returns to the bet coordinator.
type CashoutResult struct {
	Win        bool
	Multiplier decimal.Decimal
	Payout     money.Amount
}

type cashoutResult struct {
	value CashoutResult
	err   error
}

// Engine owns the single currently-active round and serializes every
// mutation (join, cashout, crash, next-round creation) through one
// goroutine, per spec.md §5's single-writer requirement.
type Engine struct {
	seeds SeedSource
	log   *zap.Logger

	interRoundGap       time.Duration
	allowDegradedRounds bool

	mu      sync.RWMutex // guards `current` and every field of the round it points to
	current *round

	joinCh    chan joinRequest
	cashoutCh chan cashoutRequest
	stopCh    chan struct{}
	doneCh    chan struct{}

	started chan RoundStarted
	crashed chan RoundCrashed
}

// Config bundles the engine's timing knobs.
type Config struct {
	InterRoundGap       time.Duration
	AllowDegradedRounds bool
}

// New builds an Engine. Call Start to begin the round loop.
func New(seeds SeedSource, cfg Config, log *zap.Logger) *Engine {
	return &Engine{
		seeds:               seeds,
		log:                 log.Named("roundengine"),
		interRoundGap:        cfg.InterRoundGap,
		allowDegradedRounds: cfg.AllowDegradedRounds,
		joinCh:               make(chan joinRequest, 256),
		cashoutCh:            make(chan cashoutRequest, 256),
		stopCh:               make(chan struct{}),
		doneCh:               make(chan struct{}),
		started:              make(chan RoundStarted, 64),
		crashed:              make(chan RoundCrashed, 64),
	}
}

// Started yields a reliable, buffered stream of round-start lifecycle
// events. Consumers must drain it; it is never dropped.
func (e *Engine) Started() <-chan RoundStarted { return e.started }

// Crashed yields a reliable, buffered stream of round-crash lifecycle
// events, with the seed revealed.
func (e *Engine) Crashed() <-chan RoundCrashed { return e.crashed }

// Start launches the engine's single owning goroutine.
func (e *Engine) Start(ctx context.Context) {
	go e.loop(ctx)
}

// Stop requests the loop to exit; it does not block for completion. Use
// Dispose for a synchronous, state-clearing shutdown.
func (e *Engine) Stop() {
	close(e.stopCh)
}

// Dispose clears all timers, forgets the round, and zeroes the seed in
// memory, per spec.md §4.2's failure-semantics note. It blocks until the
// loop goroutine has exited.
func (e *Engine) Dispose() {
	select {
	case <-e.stopCh:
	default:
		close(e.stopCh)
	}
	<-e.doneCh
}

func (e *Engine) loop(ctx context.Context) {
	defer close(e.doneCh)

	nextRoundTimer := time.NewTimer(0) // fire immediately to create the first round
	defer nextRoundTimer.Stop()

	var crashTimerC <-chan time.Time

	for {
		select {
		case <-e.stopCh:
			e.disposeCurrent()
			return

		case <-ctx.Done():
			e.disposeCurrent()
			return

		case <-nextRoundTimer.C:
			if err := e.createRound(ctx); err != nil {
				e.log.Error("failed to create round; will retry next tick", zap.Error(err))
				nextRoundTimer.Reset(e.interRoundGap)
				continue
			}
			e.mu.RLock()
			delay := e.delayFor(e.current)
			e.mu.RUnlock()
			timer := time.NewTimer(delay)
			crashTimerC = timer.C

		case <-crashTimerC:
			e.markCrashed("timer")
			crashTimerC = nil
			nextRoundTimer.Reset(e.interRoundGap)

		case req := <-e.joinCh:
			value, err := e.handleJoin(req.playerID, req.betAmount)
			req.resp <- joinResult{value: value, err: err}

		case req := <-e.cashoutCh:
			value, err := e.handleCashout(req.playerID)
			if value.Win == false && err == nil {
				// a cashout that observed the crash condition marks the
				// round crashed as a redundant backstop to the timer.
				if e.markCrashed("observed-by-cashout") {
					crashTimerC = nil
					nextRoundTimer.Reset(e.interRoundGap)
				}
			}
			req.resp <- cashoutResult{value: value, err: err}
		}
	}
}

func (e *Engine) delayFor(r *round) time.Duration {
	crash := decimal.New(r.crashPoint, -2)
	ms := crash.Sub(decimal.NewFromInt(1)).Mul(decimal.NewFromInt(1000))
	delayMs := ms.IntPart()
	if delayMs < 100 {
		delayMs = 100
	}
	return time.Duration(delayMs) * time.Millisecond
}

func (e *Engine) createRound(ctx context.Context) error {
	commit, err := e.seeds.EnsureNext(ctx)
	var idx *int64
	var seedHash string
	var seed []byte

	if err != nil {
		if !e.allowDegradedRounds {
			return fmt.Errorf("roundengine: seed store unavailable and degraded rounds disabled: %w", err)
		}
		e.log.Warn("seed store unavailable; running a degraded ephemeral-seed round")
		seed = seedstore.GenerateRandomSeed()
		seedHash = seedstore.HashCommitment(seed)
	} else {
		commitIdx := commit.Idx
		idx = &commitIdx
		seedHash = commit.SeedHash
		var degraded bool
		seed, degraded = e.seeds.SeedFor(commit.Idx)
		if degraded && !e.allowDegradedRounds {
			return ErrDegraded
		}
	}

	crashPoint := fairness.DeriveCrashPoint(seed, "")
	roundID := uuid.NewString()
	startedAt := time.Now()

	r := &round{
		roundID:    roundID,
		commitIdx:  idx,
		seedHash:   seedHash,
		seed:       seed,
		crashPoint: crashPoint,
		startedAt:  startedAt,
		status:     "running",
		players:    make(map[string]*PlayerBet),
	}

	e.mu.Lock()
	e.current = r
	e.mu.Unlock()

	e.started <- RoundStarted{
		RoundID:    roundID,
		CommitIdx:  idx,
		SeedHash:   seedHash,
		CrashPoint: decimal.New(crashPoint, -2),
		StartedAt:  startedAt,
	}
	return nil
}

func (e *Engine) multiplierAt(r *round, t time.Time) decimal.Decimal {
	elapsedMs := t.Sub(r.startedAt).Milliseconds()
	growth := decimal.NewFromInt(elapsedMs).Div(decimal.NewFromInt(1000))
	return decimal.NewFromInt(1).Add(growth)
}

// GetStatus returns a read-only snapshot of the current round, used by the
// tick broadcaster and the `/round/status` route. Never mutates state, so
// it may run concurrently with the owning goroutine from any caller.
func (e *Engine) GetStatus() Status {
	e.mu.RLock()
	defer e.mu.RUnlock()

	r := e.current
	if r == nil {
		return Status{Status: "waiting"}
	}

	if r.status == "crashed" {
		return Status{
			RoundID:    r.roundID,
			Status:     "crashed",
			Multiplier: decimal.New(r.crashPoint, -2),
			StartedAt:  r.startedAt,
			CommitIdx:  r.commitIdx,
			SeedHash:   r.seedHash,
		}
	}

	mult := e.multiplierAt(r, time.Now())
	crash := decimal.New(r.crashPoint, -2)
	if mult.GreaterThanOrEqual(crash) {
		mult = crash
	}
	return Status{
		RoundID:    r.roundID,
		Status:     "running",
		Multiplier: mult,
		StartedAt:  r.startedAt,
		CommitIdx:  r.commitIdx,
		SeedHash:   r.seedHash,
	}
}

// Join enqueues a join request and blocks for the engine loop's response.
func (e *Engine) Join(playerID string, betAmount money.Amount) (JoinResult, error) {
	resp := make(chan joinResult, 1)
	select {
	case e.joinCh <- joinRequest{playerID: playerID, betAmount: betAmount, resp: resp}:
	case <-time.After(2 * time.Second):
		return JoinResult{}, fmt.Errorf("roundengine: join request timed out")
	}
	r := <-resp
	return r.value, r.err
}

func (e *Engine) handleJoin(playerID string, betAmount money.Amount) (JoinResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.current == nil || e.current.status != "running" {
		return JoinResult{}, ErrNoRunningRound
	}
	r := e.current
	if _, exists := r.players[playerID]; exists {
		return JoinResult{}, ErrAlreadyJoined
	}
	r.players[playerID] = &PlayerBet{BetAmount: betAmount}
	return JoinResult{
		RoundID:   r.roundID,
		SeedHash:  r.seedHash,
		CommitIdx: r.commitIdx,
		StartedAt: r.startedAt,
	}, nil
}

// Cashout enqueues a cashout request and blocks for the engine loop's
// response.
func (e *Engine) Cashout(playerID string) (CashoutResult, error) {
	resp := make(chan cashoutResult, 1)
	select {
	case e.cashoutCh <- cashoutRequest{playerID: playerID, resp: resp}:
	case <-time.After(2 * time.Second):
		return CashoutResult{}, fmt.Errorf("roundengine: cashout request timed out")
	}
	r := <-resp
	return r.value, r.err
}

func (e *Engine) handleCashout(playerID string) (CashoutResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	r := e.current
	if r == nil {
		return CashoutResult{}, ErrNoRunningRound
	}
	p, ok := r.players[playerID]
	if !ok {
		return CashoutResult{}, ErrNotJoined
	}
	if p.CashedOut {
		// Already cashed out: replay the original snapshot rather than
		// erroring, so the ledger's own idempotent branch is reachable
		// end to end from a repeated /cashout call.
		return CashoutResult{Win: true, Multiplier: p.Multiplier, Payout: p.Payout}, nil
	}

	now := time.Now()
	crash := decimal.New(r.crashPoint, -2)
	m := e.multiplierAt(r, now)

	if r.status != "running" || m.GreaterThanOrEqual(crash) {
		return CashoutResult{Win: false, Multiplier: crash, Payout: money.Zero}, nil
	}

	m = m.Round(2)
	payout := p.BetAmount.Mul(m)
	p.CashedOut = true
	p.Multiplier = m
	p.Payout = payout
	return CashoutResult{Win: true, Multiplier: m, Payout: payout}, nil
}

// markCrashed transitions the current round to crashed if it is not
// already, emits roundCrashed, and returns whether it performed the
// transition (false means the round was already crashed — idempotent).
func (e *Engine) markCrashed(reason string) bool {
	e.mu.Lock()
	r := e.current
	if r == nil || r.status == "crashed" {
		e.mu.Unlock()
		return false
	}
	r.status = "crashed"
	r.endedAt = time.Now()
	event := RoundCrashed{
		RoundID:    r.roundID,
		CommitIdx:  r.commitIdx,
		SeedHash:   r.seedHash,
		Seed:       r.seed,
		CrashPoint: decimal.New(r.crashPoint, -2),
		StartedAt:  r.startedAt,
		EndedAt:    r.endedAt,
	}
	e.mu.Unlock()

	e.crashed <- event

	e.log.Info("round crashed",
		zap.String("round_id", r.roundID),
		zap.String("reason", reason),
		zap.String("crash_point", decimal.New(r.crashPoint, -2).String()))
	return true
}

func (e *Engine) disposeCurrent() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.current != nil {
		for i := range e.current.seed {
			e.current.seed[i] = 0
		}
		e.current = nil
	}
}
