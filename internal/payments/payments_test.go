package payments

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"

	"aviator/internal/gateway"
	"aviator/internal/ledger"
	"aviator/internal/money"
)

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
		postgres.WithDatabase("paymentstest"),
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
	CREATE TABLE payments (
		id UUID PRIMARY KEY, user_id UUID REFERENCES users(id), type TEXT,
		amount DECIMAL(18,2), gateway_txn_id TEXT UNIQUE, external_id TEXT UNIQUE,
		status TEXT, gateway_status TEXT, error_reason TEXT,
		created_at TIMESTAMPTZ DEFAULT now(), updated_at TIMESTAMPTZ DEFAULT now());
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

func fakeGateway(t *testing.T, status string) *gateway.Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(gateway.Response{GatewayTxnID: uuid.NewString(), Status: status})
	}))
	t.Cleanup(srv.Close)
	return gateway.New(srv.URL, srv.URL, "test-token")
}

func testConfig() Config {
	return Config{
		PollInterval: 10 * time.Millisecond,
		MaxAttempts:  3,
		MinDeposit:   money.FromCents(100),
		MaxDeposit:   money.FromCents(1000000),
		MinWithdraw:  money.FromCents(100),
		MaxWithdraw:  money.FromCents(1000000),
	}
}

func TestInitiateDepositConfirmsOnSuccessfulGatewayResponse(t *testing.T) {
	pool := mustPool(t)
	l := ledger.New(pool, 300*time.Second, zap.NewNop())
	gw := fakeGateway(t, "SUCCESSFUL")
	r := New(l, gw, testConfig(), zap.NewNop())
	ctx := context.Background()

	userID := seedUser(t, pool, "0.00")

	paymentID, err := r.InitiateDeposit(ctx, userID, "+1000000", money.FromCents(5000))
	if err != nil {
		t.Fatalf("initiate deposit: %v", err)
	}

	rec, err := r.GetStatus(ctx, paymentID)
	if err != nil {
		t.Fatalf("get status: %v", err)
	}
	if rec.Status != ledger.PaymentConfirmed {
		t.Fatalf("expected confirmed, got %s", rec.Status)
	}

	var balance money.Amount
	_ = pool.QueryRow(ctx, `SELECT balance FROM users WHERE id = $1`, userID).Scan(&balance)
	if balance.String() != "50.00" {
		t.Fatalf("expected credited balance 50.00, got %s", balance)
	}
}

func TestInitiateWithdrawalRefundsOnGatewayRejection(t *testing.T) {
	pool := mustPool(t)
	l := ledger.New(pool, 300*time.Second, zap.NewNop())
	gw := fakeGateway(t, "FAILED")
	r := New(l, gw, testConfig(), zap.NewNop())
	ctx := context.Background()

	userID := seedUser(t, pool, "100.00")

	paymentID, newBalance, err := r.InitiateWithdrawal(ctx, userID, "+1000000", money.FromCents(3000))
	if err != nil {
		t.Fatalf("initiate withdrawal: %v", err)
	}
	if newBalance.String() != "70.00" {
		t.Fatalf("expected immediate debit to 70.00, got %s", newBalance)
	}

	rec, err := r.GetStatus(ctx, paymentID)
	if err != nil {
		t.Fatalf("get status: %v", err)
	}
	if rec.Status != ledger.PaymentFailed {
		t.Fatalf("expected failed, got %s", rec.Status)
	}

	var balance money.Amount
	_ = pool.QueryRow(ctx, `SELECT balance FROM users WHERE id = $1`, userID).Scan(&balance)
	if balance.String() != "100.00" {
		t.Fatalf("expected refunded balance 100.00, got %s", balance)
	}
}

func TestInitiateDepositRejectsDuplicatePending(t *testing.T) {
	pool := mustPool(t)
	l := ledger.New(pool, 300*time.Second, zap.NewNop())
	gw := fakeGateway(t, "PENDING")
	r := New(l, gw, testConfig(), zap.NewNop())
	ctx := context.Background()

	userID := seedUser(t, pool, "0.00")

	if _, err := r.InitiateDeposit(ctx, userID, "+1000000", money.FromCents(5000)); err != nil {
		t.Fatalf("first deposit: %v", err)
	}

	if _, err := r.InitiateDeposit(ctx, userID, "+1000000", money.FromCents(5000)); err != ErrPendingIntentOpen {
		t.Fatalf("expected ErrPendingIntentOpen, got %v", err)
	}

	r.Stop()
}
