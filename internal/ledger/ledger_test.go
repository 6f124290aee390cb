package ledger

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"

	"aviator/internal/money"
)

// These tests mirror the teacher's internal/database/database_test.go
// skip-if-no-docker gating: they exercise the real row-locking behavior
// the unit-testable packages cannot.

func isDockerAvailable() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	provider, err := testcontainers.NewDockerProvider()
	if err != nil {
		return false
	}
	defer provider.Close()

	_, err = provider.DaemonHost(ctx)
	return err == nil
}

func mustPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	if os.Getenv("SKIP_INTEGRATION") != "" {
		t.Skip("SKIP_INTEGRATION set")
	}
	if os.Getenv("CI") == "" && !isDockerAvailable() {
		t.Skip("docker not available")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	container, err := postgres.Run(ctx, "postgres:latest",
		postgres.WithDatabase("ledgertest"),
		postgres.WithUsername("user"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)))
	if err != nil {
		t.Fatalf("start postgres: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("connection string: %v", err)
	}

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	t.Cleanup(pool.Close)

	schema := `
	CREATE TABLE users (
		id UUID PRIMARY KEY, phone TEXT UNIQUE, password_hash TEXT,
		balance DECIMAL(18,2) NOT NULL DEFAULT 0 CHECK (balance >= 0),
		external_payment_id TEXT UNIQUE, created_at TIMESTAMPTZ DEFAULT now(), updated_at TIMESTAMPTZ DEFAULT now());
	CREATE TABLE rounds (
		round_id UUID PRIMARY KEY, commit_idx BIGINT, server_seed_hash TEXT, server_seed TEXT,
		crash_point DECIMAL(10,2), started_at TIMESTAMPTZ, ended_at TIMESTAMPTZ,
		settlement_window_seconds INT DEFAULT 300, settlement_closed_at TIMESTAMPTZ);
	CREATE TABLE bets (
		id UUID PRIMARY KEY, round_id UUID REFERENCES rounds(round_id), user_id UUID REFERENCES users(id),
		bet_amount DECIMAL(18,2), payout DECIMAL(18,2), status TEXT,
		bet_placed_at TIMESTAMPTZ DEFAULT now(), claimed_at TIMESTAMPTZ);
	CREATE UNIQUE INDEX idx_bets_active ON bets(user_id, round_id) WHERE status = 'active';
	`
	if _, err := pool.Exec(ctx, schema); err != nil {
		t.Fatalf("schema: %v", err)
	}

	return pool
}

func seedUser(t *testing.T, pool *pgxpool.Pool, balance string) string {
	t.Helper()
	id := uuid.NewString()
	amt, err := money.New(balance)
	if err != nil {
		t.Fatalf("amount: %v", err)
	}
	_, err = pool.Exec(context.Background(),
		`INSERT INTO users (id, phone, password_hash, balance, external_payment_id) VALUES ($1,$2,'x',$3,$4)`,
		id, id, amt, id)
	if err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return id
}

func seedRound(t *testing.T, pool *pgxpool.Pool, crashPoint string) string {
	t.Helper()
	id := uuid.NewString()
	crash, _ := decimal.NewFromString(crashPoint)
	_, err := pool.Exec(context.Background(),
		`INSERT INTO rounds (round_id, server_seed_hash, crash_point, started_at, settlement_window_seconds)
		 VALUES ($1, 'hash', $2, now(), 300)`, id, crash)
	if err != nil {
		t.Fatalf("seed round: %v", err)
	}
	return id
}

func TestPlaceBetAndCashoutHappyPath(t *testing.T) {
	pool := mustPool(t)
	l := New(pool, 300*time.Second, zap.NewNop())
	ctx := context.Background()

	userID := seedUser(t, pool, "100.00")
	roundID := seedRound(t, pool, "3.50")

	betAmount := money.FromCents(1000)
	betID, balance, err := l.PlaceBet(ctx, userID, roundID, betAmount)
	if err != nil {
		t.Fatalf("place bet: %v", err)
	}
	if balance.String() != "90.00" {
		t.Fatalf("expected balance 90.00, got %s", balance)
	}
	if betID == "" {
		t.Fatal("expected a bet id")
	}

	mult, _ := decimal.NewFromString("3.20")
	payout, newBalance, idempotent, err := l.SettleCashout(ctx, userID, roundID, EngineResult{
		Win: true, Multiplier: mult, Payout: money.FromFloat(32.00),
	})
	if err != nil {
		t.Fatalf("settle cashout: %v", err)
	}
	if idempotent {
		t.Fatal("first settle should not be idempotent")
	}
	if payout.String() != "32.00" {
		t.Fatalf("expected payout 32.00, got %s", payout)
	}
	if newBalance.String() != "122.00" {
		t.Fatalf("expected balance 122.00, got %s", newBalance)
	}

	// S3: a repeated cashout returns the same payout idempotently.
	payout2, balance2, idempotent2, err := l.SettleCashout(ctx, userID, roundID, EngineResult{
		Win: true, Multiplier: mult, Payout: money.FromFloat(32.00),
	})
	if err != nil {
		t.Fatalf("second settle: %v", err)
	}
	if !idempotent2 {
		t.Fatal("second settle should be idempotent")
	}
	if payout2.String() != "32.00" || balance2.String() != "122.00" {
		t.Fatalf("idempotent replay mismatch: payout=%s balance=%s", payout2, balance2)
	}
}

func TestPlaceBetInsufficientFunds(t *testing.T) {
	pool := mustPool(t)
	l := New(pool, 300*time.Second, zap.NewNop())
	ctx := context.Background()

	userID := seedUser(t, pool, "5.00")
	roundID := seedRound(t, pool, "2.00")

	_, _, err := l.PlaceBet(ctx, userID, roundID, money.FromCents(1000))
	if err != ErrInsufficientFunds {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
}

func TestPlaceBetDuplicateRejected(t *testing.T) {
	pool := mustPool(t)
	l := New(pool, 300*time.Second, zap.NewNop())
	ctx := context.Background()

	userID := seedUser(t, pool, "100.00")
	roundID := seedRound(t, pool, "2.00")

	if _, _, err := l.PlaceBet(ctx, userID, roundID, money.FromCents(1000)); err != nil {
		t.Fatalf("first bet: %v", err)
	}
	if _, _, err := l.PlaceBet(ctx, userID, roundID, money.FromCents(1000)); err != ErrDuplicateBet {
		t.Fatalf("expected ErrDuplicateBet, got %v", err)
	}
}

func TestAdminRefund(t *testing.T) {
	pool := mustPool(t)
	l := New(pool, 300*time.Second, zap.NewNop())
	ctx := context.Background()

	userID := seedUser(t, pool, "100.00")
	roundID := seedRound(t, pool, "2.00")

	betID, _, err := l.PlaceBet(ctx, userID, roundID, money.FromCents(1000))
	if err != nil {
		t.Fatalf("place bet: %v", err)
	}

	if err := l.AdminRefund(ctx, betID); err != nil {
		t.Fatalf("refund: %v", err)
	}

	var balance money.Amount
	_ = pool.QueryRow(ctx, `SELECT balance FROM users WHERE id = $1`, userID).Scan(&balance)
	if balance.String() != "100.00" {
		t.Fatalf("expected balance restored to 100.00, got %s", balance)
	}

	// Idempotent: refunding again is a no-op, not an error.
	if err := l.AdminRefund(ctx, betID); err != nil {
		t.Fatalf("second refund: %v", err)
	}
}
