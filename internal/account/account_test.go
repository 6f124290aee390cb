package account

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
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
		postgres.WithDatabase("accounttest"),
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
	`
	if _, err := pool.Exec(ctx, schema); err != nil {
		t.Fatalf("schema: %v", err)
	}

	return pool
}

func TestRegisterAndLogin(t *testing.T) {
	pool := mustPool(t)
	a := New(pool)
	ctx := context.Background()

	userID, err := a.Register(ctx, "+15550001111", "correct-horse-battery-staple")
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	loggedInID, balance, err := a.Login(ctx, "+15550001111", "correct-horse-battery-staple")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if loggedInID != userID {
		t.Fatalf("expected login to return %s, got %s", userID, loggedInID)
	}
	if balance.String() != "0.00" {
		t.Fatalf("expected zero starting balance, got %s", balance)
	}

	if _, _, err := a.Login(ctx, "+15550001111", "wrong-password"); err != ErrInvalidCredentials {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}

	if _, err := a.Register(ctx, "+15550001111", "another-password"); err != ErrPhoneTaken {
		t.Fatalf("expected ErrPhoneTaken, got %v", err)
	}
}
