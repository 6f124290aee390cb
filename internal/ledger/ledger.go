// Package ledger implements the transactional storage for users, bets, and
// rounds (C4). Grounded on rias-glitch-telegram-webapp's
// internal/service/balance_service.go for the row-locked debit/credit
// shape (SELECT ... FOR UPDATE, conditional UPDATE ... RETURNING, deferred
// rollback) and internal/repository/{deposit,withdrawal}_repo.go for the
// idempotent status-column state-machine guards.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"aviator/internal/money"
)

// Ledger is the C4 component: the sole mutator of user balances and of
// Bet, PaymentIntent, and Round rows. User rows themselves are created by
// internal/account.
type Ledger struct {
	pool *pgxpool.Pool
	log  *zap.Logger

	maxRoundAge time.Duration
}

func New(pool *pgxpool.Pool, maxRoundAge time.Duration, log *zap.Logger) *Ledger {
	return &Ledger{pool: pool, maxRoundAge: maxRoundAge, log: log.Named("ledger")}
}

// PlaceBet performs the atomic conditional debit and bet insert described
// in spec.md §4.4.
func (l *Ledger) PlaceBet(ctx context.Context, userID, roundID string, amount money.Amount) (betID string, newBalance money.Amount, err error) {
	if amount.IsZero() || amount.IsNegative() {
		return "", money.Zero, ErrInvalidAmount
	}

	tx, err := l.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return "", money.Zero, fmt.Errorf("ledger: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var startedAt time.Time
	err = tx.QueryRow(ctx, `SELECT started_at FROM rounds WHERE round_id = $1`, roundID).Scan(&startedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", money.Zero, ErrRoundNotFound
		}
		return "", money.Zero, fmt.Errorf("ledger: lookup round: %w", err)
	}
	if time.Since(startedAt) > l.maxRoundAge {
		return "", money.Zero, ErrRoundStale
	}

	var existing int
	err = tx.QueryRow(ctx,
		`SELECT count(*) FROM bets WHERE user_id = $1 AND round_id = $2 AND status = 'active'`,
		userID, roundID).Scan(&existing)
	if err != nil {
		return "", money.Zero, fmt.Errorf("ledger: check duplicate: %w", err)
	}
	if existing > 0 {
		return "", money.Zero, ErrDuplicateBet
	}

	err = tx.QueryRow(ctx,
		`UPDATE users SET balance = balance - $1, updated_at = now() WHERE id = $2 AND balance >= $1 RETURNING balance`,
		amount, userID).Scan(&newBalance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			var exists bool
			_ = tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE id = $1)`, userID).Scan(&exists)
			if !exists {
				return "", money.Zero, ErrUserNotFound
			}
			return "", money.Zero, ErrInsufficientFunds
		}
		return "", money.Zero, fmt.Errorf("ledger: debit: %w", err)
	}

	betID = uuid.NewString()
	_, err = tx.Exec(ctx,
		`INSERT INTO bets (id, round_id, user_id, bet_amount, status, bet_placed_at)
		 VALUES ($1, $2, $3, $4, 'active', now())`,
		betID, roundID, userID, amount)
	if err != nil {
		var pgErr interface{ SQLState() string }
		if errors.As(err, &pgErr) && pgErr.SQLState() == "23505" {
			return "", money.Zero, ErrDuplicateBet
		}
		return "", money.Zero, fmt.Errorf("ledger: insert bet: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return "", money.Zero, fmt.Errorf("ledger: commit: %w", err)
	}
	return betID, newBalance, nil
}

// SettleCashout applies the engine's adjudicated cashout result under a
// row lock, per spec.md §4.4. idempotent reports whether this call
// performed no new mutation because the bet had already reached a terminal
// state.
func (l *Ledger) SettleCashout(ctx context.Context, userID, roundID string, result EngineResult) (payout money.Amount, newBalance money.Amount, idempotent bool, err error) {
	tx, err := l.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return money.Zero, money.Zero, false, fmt.Errorf("ledger: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var settlementClosedAt *time.Time
	err = tx.QueryRow(ctx, `SELECT settlement_closed_at FROM rounds WHERE round_id = $1 FOR UPDATE`, roundID).
		Scan(&settlementClosedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return money.Zero, money.Zero, false, ErrRoundNotFound
		}
		return money.Zero, money.Zero, false, fmt.Errorf("ledger: lock round: %w", err)
	}
	if settlementClosedAt != nil && time.Now().After(*settlementClosedAt) {
		return money.Zero, money.Zero, false, ErrSettlementClosed
	}

	var betID string
	var status BetStatus
	var existingPayout *money.Amount
	err = tx.QueryRow(ctx,
		`SELECT id, status, payout FROM bets WHERE user_id = $1 AND round_id = $2 ORDER BY bet_placed_at DESC LIMIT 1 FOR UPDATE`,
		userID, roundID).Scan(&betID, &status, &existingPayout)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return money.Zero, money.Zero, false, ErrBetNotFound
		}
		return money.Zero, money.Zero, false, fmt.Errorf("ledger: lock bet: %w", err)
	}

	var balance money.Amount
	if status == BetCashed {
		_ = tx.QueryRow(ctx, `SELECT balance FROM users WHERE id = $1`, userID).Scan(&balance)
		p := money.Zero
		if existingPayout != nil {
			p = *existingPayout
		}
		if err := tx.Commit(ctx); err != nil {
			return money.Zero, money.Zero, false, fmt.Errorf("ledger: commit: %w", err)
		}
		return p, balance, true, nil
	}
	if status == BetLost || status == BetRefunded {
		_ = tx.QueryRow(ctx, `SELECT balance FROM users WHERE id = $1`, userID).Scan(&balance)
		if err := tx.Commit(ctx); err != nil {
			return money.Zero, money.Zero, false, fmt.Errorf("ledger: commit: %w", err)
		}
		return money.Zero, balance, true, nil
	}

	if !result.Win {
		_, err = tx.Exec(ctx, `UPDATE bets SET status = 'lost', payout = 0 WHERE id = $1`, betID)
		if err != nil {
			return money.Zero, money.Zero, false, fmt.Errorf("ledger: mark lost: %w", err)
		}
		_ = tx.QueryRow(ctx, `SELECT balance FROM users WHERE id = $1`, userID).Scan(&balance)
		if err := tx.Commit(ctx); err != nil {
			return money.Zero, money.Zero, false, fmt.Errorf("ledger: commit: %w", err)
		}
		return money.Zero, balance, false, nil
	}

	err = tx.QueryRow(ctx,
		`UPDATE users SET balance = balance + $1, updated_at = now() WHERE id = $2 RETURNING balance`,
		result.Payout, userID).Scan(&balance)
	if err != nil {
		return money.Zero, money.Zero, false, fmt.Errorf("ledger: credit: %w", err)
	}
	_, err = tx.Exec(ctx,
		`UPDATE bets SET status = 'cashed', payout = $1, claimed_at = now() WHERE id = $2`,
		result.Payout, betID)
	if err != nil {
		return money.Zero, money.Zero, false, fmt.Errorf("ledger: mark cashed: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return money.Zero, money.Zero, false, fmt.Errorf("ledger: commit: %w", err)
	}
	return result.Payout, balance, false, nil
}

// PersistRoundStart inserts the round row the engine just created,
// insert-or-ignore on round_id (the engine never retries a started round,
// but this stays defensive against process crash/restart races).
func (l *Ledger) PersistRoundStart(ctx context.Context, meta RoundMeta) error {
	_, err := l.pool.Exec(ctx,
		`INSERT INTO rounds (round_id, commit_idx, server_seed_hash, crash_point, started_at, settlement_window_seconds)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (round_id) DO NOTHING`,
		meta.RoundID, meta.CommitIdx, meta.ServerSeedHash, meta.CrashPoint, meta.StartedAt, meta.SettlementWindowSeconds)
	if err != nil {
		return fmt.Errorf("ledger: persist round start: %w", err)
	}
	return nil
}

// PersistRoundCrash reveals the seed and closes the settlement window.
func (l *Ledger) PersistRoundCrash(ctx context.Context, roundID string, seedHex string, endedAt time.Time, settlementWindowSeconds int) error {
	closedAt := endedAt.Add(time.Duration(settlementWindowSeconds) * time.Second)
	_, err := l.pool.Exec(ctx,
		`UPDATE rounds SET server_seed = $1, ended_at = $2, settlement_closed_at = $3 WHERE round_id = $4`,
		seedHex, endedAt, closedAt, roundID)
	if err != nil {
		return fmt.Errorf("ledger: persist round crash: %w", err)
	}
	return nil
}

// AdminRefund reverses a bet's debit, crediting the user by bet_amount.
// No-op if already refunded; rejects if the bet already cashed out.
func (l *Ledger) AdminRefund(ctx context.Context, betID string) error {
	tx, err := l.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("ledger: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var userID string
	var status BetStatus
	var amount money.Amount
	err = tx.QueryRow(ctx, `SELECT user_id, status, bet_amount FROM bets WHERE id = $1 FOR UPDATE`, betID).
		Scan(&userID, &status, &amount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrBetNotFound
		}
		return fmt.Errorf("ledger: lock bet: %w", err)
	}

	if status == BetRefunded {
		return tx.Commit(ctx)
	}
	if status == BetCashed {
		return ErrAlreadyCashed
	}

	_, err = tx.Exec(ctx, `UPDATE users SET balance = balance + $1, updated_at = now() WHERE id = $2`, amount, userID)
	if err != nil {
		return fmt.Errorf("ledger: credit refund: %w", err)
	}
	_, err = tx.Exec(ctx, `UPDATE bets SET status = 'refunded' WHERE id = $1`, betID)
	if err != nil {
		return fmt.Errorf("ledger: mark refunded: %w", err)
	}

	return tx.Commit(ctx)
}
