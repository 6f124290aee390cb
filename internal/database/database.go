// Package database wraps the pgx connection pool backing the ledger, seed
// store, and payment reconciler. Grounded on rias-glitch-telegram-webapp's
// internal/db/connect.go (pgxpool.New + ping-on-boot) and shaped to the
// Service contract the teacher's own database_test.go and cmd/migrate
// already assume (Health returning "It's healthy", idempotent New/Close).
package database

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	_ "github.com/joho/godotenv/autoload"
)

// Service is the handle every component depends on for Postgres access.
type Service interface {
	Pool() *pgxpool.Pool
	Health() map[string]string
	Close() error
}

type service struct {
	pool *pgxpool.Pool
}

var (
	database = getEnv("BLUEPRINT_DB_DATABASE", "crashdb")
	password = getEnv("BLUEPRINT_DB_PASSWORD", "postgres")
	username = getEnv("BLUEPRINT_DB_USERNAME", "postgres")
	host     = getEnv("BLUEPRINT_DB_HOST", "localhost")
	port     = getEnv("BLUEPRINT_DB_PORT", "5432")

	dbInstance *service
)

// New returns the process-wide Service, connecting lazily on first call.
// Mirrors the teacher's cache.New singleton shape.
func New() Service {
	if dbInstance != nil {
		return dbInstance
	}

	connStr := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		username, password, host, port, database)

	cfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		log.Fatalf("[DATABASE] invalid connection string: %v", err)
	}

	statementTimeoutMs := getEnvAsInt("DB_STATEMENT_TIMEOUT_MS", 5000)
	cfg.ConnConfig.RuntimeParams["statement_timeout"] = strconv.Itoa(statementTimeoutMs)
	cfg.MaxConnIdleTime = time.Duration(getEnvAsInt("DB_IDLE_TIMEOUT_MS", 30000)) * time.Millisecond
	cfg.ConnConfig.ConnectTimeout = time.Duration(getEnvAsInt("DB_CONNECTION_TIMEOUT_MS", 5000)) * time.Millisecond

	pool, err := pgxpool.NewWithConfig(context.Background(), cfg)
	if err != nil {
		log.Fatalf("[DATABASE] failed to open pool: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := pool.Ping(ctx); err != nil {
		log.Fatalf("[DATABASE] ping failed: %v", err)
	}

	dbInstance = &service{pool: pool}
	return dbInstance
}

func (s *service) Pool() *pgxpool.Pool { return s.pool }

func (s *service) Health() map[string]string {
	stats := make(map[string]string)

	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()

	if err := s.pool.Ping(ctx); err != nil {
		stats["status"] = "down"
		stats["error"] = fmt.Sprintf("db down: %v", err)
		return stats
	}

	stats["status"] = "up"
	stats["message"] = "It's healthy"

	poolStats := s.pool.Stat()
	stats["acquired_conns"] = strconv.Itoa(int(poolStats.AcquiredConns()))
	stats["idle_conns"] = strconv.Itoa(int(poolStats.IdleConns()))
	stats["total_conns"] = strconv.Itoa(int(poolStats.TotalConns()))

	return stats
}

func (s *service) Close() error {
	log.Printf("[DATABASE] disconnecting from %s", database)
	s.pool.Close()
	return nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}
