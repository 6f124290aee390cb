// Package betcoordinator bridges the round engine and the ledger (C5).
// Grounded on the teacher's Manager.processBet/processCashout
// (internal/game/manager.go) for the overall shape, restructured per
// spec.md §4.5 to call Ledger then Engine (the teacher calls Redis
// directly inline) and to compensate via a second ledger transaction on
// engine-join failure.
package betcoordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"aviator/internal/ledger"
	"aviator/internal/money"
	"aviator/internal/roundengine"
)

var (
	ErrInvalidAmount  = errors.New("betcoordinator: bet amount out of range")
	ErrNoRunningRound = errors.New("betcoordinator: no running round")
	ErrTooFrequent    = errors.New("betcoordinator: cashed out too recently")
)

// PlaceBetResult mirrors the POST /bet success payload in spec.md §6.
type PlaceBetResult struct {
	BetID          string
	RoundID        string
	ServerSeedHash string
	StartedAt      time.Time
	Balance        money.Amount
}

// CashoutOutcome mirrors the POST /cashout success payload.
type CashoutOutcome struct {
	Success    bool
	Payout     money.Amount
	Multiplier string
	Balance    money.Amount
	Idempotent bool
}

// Coordinator is the only caller of Ledger.PlaceBet from user-facing
// paths, per spec.md §4.5.
type Coordinator struct {
	ledger *ledger.Ledger
	engine *roundengine.Engine
	log    *zap.Logger

	minBet money.Amount
	maxBet money.Amount

	cashoutMinInterval time.Duration
	cashoutPruneAge    time.Duration
	maxCashoutEntries  int

	mu           sync.Mutex
	lastCashout  map[string]time.Time
	insertOrder  []string
}

func New(l *ledger.Ledger, e *roundengine.Engine, minBet, maxBet money.Amount, cashoutMinInterval, cashoutPruneAge time.Duration, maxCashoutEntries int, log *zap.Logger) *Coordinator {
	return &Coordinator{
		ledger:             l,
		engine:             e,
		log:                log.Named("betcoordinator"),
		minBet:             minBet,
		maxBet:             maxBet,
		cashoutMinInterval: cashoutMinInterval,
		cashoutPruneAge:    cashoutPruneAge,
		maxCashoutEntries:  maxCashoutEntries,
		lastCashout:        make(map[string]time.Time),
	}
}

// PlaceBet validates, debits via the ledger, then joins the engine,
// compensating with a refund if the join fails.
func (c *Coordinator) PlaceBet(ctx context.Context, userID string, amount money.Amount) (PlaceBetResult, error) {
	if amount.Cmp(c.minBet) < 0 || amount.Cmp(c.maxBet) > 0 {
		return PlaceBetResult{}, ErrInvalidAmount
	}

	status := c.engine.GetStatus()
	if status.Status != "running" {
		return PlaceBetResult{}, ErrNoRunningRound
	}

	betID, balance, err := c.ledger.PlaceBet(ctx, userID, status.RoundID, amount)
	if err != nil {
		return PlaceBetResult{}, err
	}

	joinRes, err := c.engine.Join(userID, amount)
	if err != nil {
		c.compensate(context.Background(), betID, userID, amount, err)
		return PlaceBetResult{}, fmt.Errorf("betcoordinator: engine join failed after debit: %w", err)
	}

	return PlaceBetResult{
		BetID:          betID,
		RoundID:        joinRes.RoundID,
		ServerSeedHash: joinRes.SeedHash,
		StartedAt:      joinRes.StartedAt,
		Balance:        balance,
	}, nil
}

// compensate refunds a bet whose ledger debit succeeded but whose engine
// join failed, logging a critical reconciliation alert if the refund
// itself fails (spec.md §4.5).
func (c *Coordinator) compensate(ctx context.Context, betID, userID string, amount money.Amount, joinErr error) {
	if err := c.ledger.AdminRefund(ctx, betID); err != nil {
		c.log.Error("compensation_failed",
			zap.String("event", "compensation_failed"),
			zap.String("bet_id", betID),
			zap.String("user_id", userID),
			zap.String("amount", amount.String()),
			zap.Error(err),
			zap.NamedError("join_error", joinErr))
		return
	}
	c.log.Warn("compensated a bet after engine join failure",
		zap.String("bet_id", betID), zap.String("user_id", userID), zap.Error(joinErr))
}

// Cashout enforces the per-user minimum inter-cashout interval, calls
// Engine.Cashout, then Ledger.SettleCashout with the engine's result.
func (c *Coordinator) Cashout(ctx context.Context, userID string) (CashoutOutcome, error) {
	if !c.allowCashout(userID) {
		return CashoutOutcome{}, ErrTooFrequent
	}

	status := c.engine.GetStatus()
	if status.Status != "running" {
		return CashoutOutcome{}, ErrNoRunningRound
	}
	roundID := status.RoundID

	engineResult, err := c.engine.Cashout(userID)
	if err != nil {
		return CashoutOutcome{}, err
	}

	payout, balance, idempotent, err := c.ledger.SettleCashout(ctx, userID, roundID, ledger.EngineResult{
		Win:        engineResult.Win,
		Multiplier: engineResult.Multiplier,
		Payout:     engineResult.Payout,
	})
	if err != nil {
		return CashoutOutcome{}, err
	}

	return CashoutOutcome{
		Success:    engineResult.Win,
		Payout:     payout,
		Multiplier: engineResult.Multiplier.StringFixed(2),
		Balance:    balance,
		Idempotent: idempotent,
	}, nil
}

// allowCashout enforces spec.md §4.5's per-user minimum interval using an
// in-memory map pruned on every allowed cashout and bounded in size, per §9's
// "owned collaborator, never module-global" guidance.
func (c *Coordinator) allowCashout(userID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	last, seen := c.lastCashout[userID]
	if seen && now.Sub(last) < c.cashoutMinInterval {
		return false
	}

	c.lastCashout[userID] = now
	if !seen {
		c.insertOrder = append(c.insertOrder, userID)
	}
	c.pruneLocked(now)
	return true
}

func (c *Coordinator) pruneLocked(now time.Time) {
	for k, v := range c.lastCashout {
		if now.Sub(v) > c.cashoutPruneAge {
			delete(c.lastCashout, k)
		}
	}
	for len(c.lastCashout) > c.maxCashoutEntries && len(c.insertOrder) > 0 {
		oldest := c.insertOrder[0]
		c.insertOrder = c.insertOrder[1:]
		delete(c.lastCashout, oldest)
	}
}
