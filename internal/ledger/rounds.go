package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"aviator/internal/money"
)

var ErrRoundStillRunning = errors.New("ledger: round has not crashed yet")

// RoundSummary is the shape returned by round history/status reads.
type RoundSummary struct {
	RoundID    string
	CommitIdx  *int64
	CrashPoint *decimal.Decimal
	StartedAt  time.Time
	EndedAt    *time.Time
}

// BetSummary is a single wager against a round, for round-detail reads.
type BetSummary struct {
	ID          string
	UserID      string
	BetAmount   money.Amount
	Payout      *money.Amount
	Status      string
	BetPlacedAt time.Time
	ClaimedAt   *time.Time
}

// RevealInfo is the post-crash provable-fairness disclosure.
type RevealInfo struct {
	RoundID        string
	CommitIdx      *int64
	ServerSeed     string
	ServerSeedHash string
	CrashPoint     decimal.Decimal
	StartedAt      time.Time
	EndedAt        time.Time
}

// ListRounds returns the most recent rounds, newest first.
func (l *Ledger) ListRounds(ctx context.Context, limit int) ([]RoundSummary, error) {
	rows, err := l.pool.Query(ctx,
		`SELECT round_id, commit_idx, crash_point, started_at, ended_at
		 FROM rounds ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("ledger: list rounds: %w", err)
	}
	defer rows.Close()

	var out []RoundSummary
	for rows.Next() {
		var s RoundSummary
		if err := rows.Scan(&s.RoundID, &s.CommitIdx, &s.CrashPoint, &s.StartedAt, &s.EndedAt); err != nil {
			return nil, fmt.Errorf("ledger: scan round summary: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// GetRound returns a round's summary plus every bet placed against it.
func (l *Ledger) GetRound(ctx context.Context, roundID string) (RoundSummary, []BetSummary, error) {
	var s RoundSummary
	err := l.pool.QueryRow(ctx,
		`SELECT round_id, commit_idx, crash_point, started_at, ended_at FROM rounds WHERE round_id = $1`, roundID).
		Scan(&s.RoundID, &s.CommitIdx, &s.CrashPoint, &s.StartedAt, &s.EndedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return RoundSummary{}, nil, ErrRoundNotFound
		}
		return RoundSummary{}, nil, fmt.Errorf("ledger: get round: %w", err)
	}

	rows, err := l.pool.Query(ctx,
		`SELECT id, user_id, bet_amount, payout, status, bet_placed_at, claimed_at
		 FROM bets WHERE round_id = $1 ORDER BY bet_placed_at ASC`, roundID)
	if err != nil {
		return RoundSummary{}, nil, fmt.Errorf("ledger: get round bets: %w", err)
	}
	defer rows.Close()

	var bets []BetSummary
	for rows.Next() {
		var b BetSummary
		if err := rows.Scan(&b.ID, &b.UserID, &b.BetAmount, &b.Payout, &b.Status, &b.BetPlacedAt, &b.ClaimedAt); err != nil {
			return RoundSummary{}, nil, fmt.Errorf("ledger: scan bet: %w", err)
		}
		bets = append(bets, b)
	}
	return s, bets, rows.Err()
}

// GetReveal returns the provable-fairness disclosure for a crashed round.
func (l *Ledger) GetReveal(ctx context.Context, roundID string) (RevealInfo, error) {
	var r RevealInfo
	var endedAt *time.Time
	var serverSeed *string
	err := l.pool.QueryRow(ctx,
		`SELECT round_id, commit_idx, server_seed, server_seed_hash, crash_point, started_at, ended_at
		 FROM rounds WHERE round_id = $1`, roundID).
		Scan(&r.RoundID, &r.CommitIdx, &serverSeed, &r.ServerSeedHash, &r.CrashPoint, &r.StartedAt, &endedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return RevealInfo{}, ErrRoundNotFound
		}
		return RevealInfo{}, fmt.Errorf("ledger: get reveal: %w", err)
	}
	if endedAt == nil || serverSeed == nil {
		return RevealInfo{}, ErrRoundStillRunning
	}
	r.EndedAt = *endedAt
	r.ServerSeed = *serverSeed
	return r, nil
}
