package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"aviator/internal/money"
)

// PaymentType distinguishes deposit from withdrawal intents.
type PaymentType string

const (
	PaymentDeposit  PaymentType = "deposit"
	PaymentWithdraw PaymentType = "withdraw"
)

// PaymentStatus enumerates the PaymentIntent lifecycle per spec.md §3.
type PaymentStatus string

const (
	PaymentPending    PaymentStatus = "pending"
	PaymentProcessing PaymentStatus = "processing"
	PaymentConfirmed  PaymentStatus = "confirmed"
	PaymentFailed     PaymentStatus = "failed"
	PaymentExpired    PaymentStatus = "expired"
)

// PaymentRecord is a row from the payments table.
type PaymentRecord struct {
	ID            string
	UserID        string
	Type          PaymentType
	Amount        money.Amount
	GatewayTxnID  *string
	ExternalID    string
	Status        PaymentStatus
	GatewayStatus *string
	ErrorReason   *string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

var (
	ErrPendingIntentExists = errors.New("ledger: a pending or processing intent of this type already exists")
	ErrPaymentNotFound     = errors.New("ledger: payment intent not found")
)

// HasPendingIntent reports whether the user already has a pending or
// processing intent of the given type (§6's 409 duplicate-intent check).
func (l *Ledger) HasPendingIntent(ctx context.Context, userID string, t PaymentType) (bool, error) {
	var exists bool
	err := l.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM payments WHERE user_id = $1 AND type = $2 AND status IN ('pending','processing'))`,
		userID, t).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("ledger: has pending intent: %w", err)
	}
	return exists, nil
}

// CreateDepositIntent inserts a pending deposit intent. No balance effect
// happens until the intent is confirmed.
func (l *Ledger) CreateDepositIntent(ctx context.Context, userID string, amount money.Amount, externalID string) (string, error) {
	id := uuid.NewString()
	_, err := l.pool.Exec(ctx,
		`INSERT INTO payments (id, user_id, type, amount, external_id, status) VALUES ($1,$2,'deposit',$3,$4,'pending')`,
		id, userID, amount, externalID)
	if err != nil {
		return "", fmt.Errorf("ledger: create deposit intent: %w", err)
	}
	return id, nil
}

// CreateWithdrawalIntent atomically debits the user and records the intent
// as `processing`, per spec.md §4.6's "debit-on-intent" rule.
func (l *Ledger) CreateWithdrawalIntent(ctx context.Context, userID string, amount money.Amount, externalID string) (paymentID string, newBalance money.Amount, err error) {
	tx, err := l.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return "", money.Zero, fmt.Errorf("ledger: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	err = tx.QueryRow(ctx,
		`UPDATE users SET balance = balance - $1, updated_at = now() WHERE id = $2 AND balance >= $1 RETURNING balance`,
		amount, userID).Scan(&newBalance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", money.Zero, ErrInsufficientFunds
		}
		return "", money.Zero, fmt.Errorf("ledger: debit for withdrawal: %w", err)
	}

	id := uuid.NewString()
	_, err = tx.Exec(ctx,
		`INSERT INTO payments (id, user_id, type, amount, external_id, status) VALUES ($1,$2,'withdraw',$3,$4,'processing')`,
		id, userID, amount, externalID)
	if err != nil {
		return "", money.Zero, fmt.Errorf("ledger: insert withdrawal intent: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return "", money.Zero, fmt.Errorf("ledger: commit: %w", err)
	}
	return id, newBalance, nil
}

// SetGatewayTxnID records the gateway's transaction id once the initial
// POST to the gateway succeeds.
func (l *Ledger) SetGatewayTxnID(ctx context.Context, paymentID, gatewayTxnID string) error {
	_, err := l.pool.Exec(ctx, `UPDATE payments SET gateway_txn_id = $1, updated_at = now() WHERE id = $2`, gatewayTxnID, paymentID)
	if err != nil {
		return fmt.Errorf("ledger: set gateway txn id: %w", err)
	}
	return nil
}

// ConfirmDeposit credits the user exactly once, guarded by a row-locked
// read of the current status (spec.md §8 property 6).
func (l *Ledger) ConfirmDeposit(ctx context.Context, paymentID string) (idempotent bool, err error) {
	tx, err := l.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, fmt.Errorf("ledger: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var userID string
	var amount money.Amount
	var status PaymentStatus
	err = tx.QueryRow(ctx, `SELECT user_id, amount, status FROM payments WHERE id = $1 FOR UPDATE`, paymentID).
		Scan(&userID, &amount, &status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, ErrPaymentNotFound
		}
		return false, fmt.Errorf("ledger: lock payment: %w", err)
	}

	if status != PaymentPending {
		return true, tx.Commit(ctx)
	}

	_, err = tx.Exec(ctx, `UPDATE users SET balance = balance + $1, updated_at = now() WHERE id = $2`, amount, userID)
	if err != nil {
		return false, fmt.Errorf("ledger: credit deposit: %w", err)
	}
	_, err = tx.Exec(ctx, `UPDATE payments SET status = 'confirmed', updated_at = now() WHERE id = $1`, paymentID)
	if err != nil {
		return false, fmt.Errorf("ledger: mark confirmed: %w", err)
	}

	return false, tx.Commit(ctx)
}

// FailOrExpireDeposit transitions a pending deposit to a terminal
// non-confirmed state with no balance effect.
func (l *Ledger) FailOrExpireDeposit(ctx context.Context, paymentID string, terminal PaymentStatus, reason string) (idempotent bool, err error) {
	return l.terminalNoBalanceEffect(ctx, paymentID, terminal, reason)
}

// ConfirmWithdrawal transitions processing → confirmed with no further
// balance change (the debit already happened at intent creation).
func (l *Ledger) ConfirmWithdrawal(ctx context.Context, paymentID string) (idempotent bool, err error) {
	return l.terminalNoBalanceEffect(ctx, paymentID, PaymentConfirmed, "")
}

func (l *Ledger) terminalNoBalanceEffect(ctx context.Context, paymentID string, terminal PaymentStatus, reason string) (idempotent bool, err error) {
	tx, err := l.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, fmt.Errorf("ledger: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var status PaymentStatus
	err = tx.QueryRow(ctx, `SELECT status FROM payments WHERE id = $1 FOR UPDATE`, paymentID).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, ErrPaymentNotFound
		}
		return false, fmt.Errorf("ledger: lock payment: %w", err)
	}

	if status == PaymentConfirmed || status == PaymentFailed || status == PaymentExpired {
		return true, tx.Commit(ctx)
	}

	var reasonArg interface{}
	if reason != "" {
		reasonArg = reason
	}
	_, err = tx.Exec(ctx, `UPDATE payments SET status = $1, error_reason = $2, updated_at = now() WHERE id = $3`,
		terminal, reasonArg, paymentID)
	if err != nil {
		return false, fmt.Errorf("ledger: mark %s: %w", terminal, err)
	}
	return false, tx.Commit(ctx)
}

// FailOrExpireWithdrawal transitions processing → {failed, expired},
// crediting the user back by amount exactly once.
func (l *Ledger) FailOrExpireWithdrawal(ctx context.Context, paymentID string, terminal PaymentStatus, reason string) (idempotent bool, err error) {
	tx, err := l.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, fmt.Errorf("ledger: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var userID string
	var amount money.Amount
	var status PaymentStatus
	err = tx.QueryRow(ctx, `SELECT user_id, amount, status FROM payments WHERE id = $1 FOR UPDATE`, paymentID).
		Scan(&userID, &amount, &status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, ErrPaymentNotFound
		}
		return false, fmt.Errorf("ledger: lock payment: %w", err)
	}

	if status == PaymentConfirmed || status == PaymentFailed || status == PaymentExpired {
		return true, tx.Commit(ctx)
	}

	_, err = tx.Exec(ctx, `UPDATE users SET balance = balance + $1, updated_at = now() WHERE id = $2`, amount, userID)
	if err != nil {
		return false, fmt.Errorf("ledger: refund withdrawal: %w", err)
	}
	_, err = tx.Exec(ctx, `UPDATE payments SET status = $1, error_reason = $2, updated_at = now() WHERE id = $3`,
		terminal, reason, paymentID)
	if err != nil {
		return false, fmt.Errorf("ledger: mark %s: %w", terminal, err)
	}
	return false, tx.Commit(ctx)
}

// GetPayment reads a single payment row (no lock; for status endpoints).
func (l *Ledger) GetPayment(ctx context.Context, paymentID string) (PaymentRecord, error) {
	var p PaymentRecord
	err := l.pool.QueryRow(ctx,
		`SELECT id, user_id, type, amount, gateway_txn_id, external_id, status, gateway_status, error_reason, created_at, updated_at
		 FROM payments WHERE id = $1`, paymentID).
		Scan(&p.ID, &p.UserID, &p.Type, &p.Amount, &p.GatewayTxnID, &p.ExternalID, &p.Status, &p.GatewayStatus, &p.ErrorReason, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PaymentRecord{}, ErrPaymentNotFound
		}
		return PaymentRecord{}, fmt.Errorf("ledger: get payment: %w", err)
	}
	return p, nil
}

// GetPendingPayments returns every intent still awaiting a terminal
// transition, used by the reconciler's startup sweep and recovery.
func (l *Ledger) GetPendingPayments(ctx context.Context) ([]PaymentRecord, error) {
	rows, err := l.pool.Query(ctx,
		`SELECT id, user_id, type, amount, gateway_txn_id, external_id, status, gateway_status, error_reason, created_at, updated_at
		 FROM payments WHERE status IN ('pending','processing') ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("ledger: get pending payments: %w", err)
	}
	defer rows.Close()

	var out []PaymentRecord
	for rows.Next() {
		var p PaymentRecord
		if err := rows.Scan(&p.ID, &p.UserID, &p.Type, &p.Amount, &p.GatewayTxnID, &p.ExternalID, &p.Status, &p.GatewayStatus, &p.ErrorReason, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("ledger: scan pending payment: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// GetPaymentHistory returns a user's payment intents, newest first.
func (l *Ledger) GetPaymentHistory(ctx context.Context, userID string, limit, offset int) ([]PaymentRecord, int, error) {
	var total int
	if err := l.pool.QueryRow(ctx, `SELECT count(*) FROM payments WHERE user_id = $1`, userID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("ledger: count payment history: %w", err)
	}

	rows, err := l.pool.Query(ctx,
		`SELECT id, user_id, type, amount, gateway_txn_id, external_id, status, gateway_status, error_reason, created_at, updated_at
		 FROM payments WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`, userID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("ledger: payment history: %w", err)
	}
	defer rows.Close()

	var out []PaymentRecord
	for rows.Next() {
		var p PaymentRecord
		if err := rows.Scan(&p.ID, &p.UserID, &p.Type, &p.Amount, &p.GatewayTxnID, &p.ExternalID, &p.Status, &p.GatewayStatus, &p.ErrorReason, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, 0, fmt.Errorf("ledger: scan payment history row: %w", err)
		}
		out = append(out, p)
	}
	return out, total, rows.Err()
}
