// Package seedstore manages the append-only chain of seed commitments
// (C1). Grounded on the teacher's internal/game/provably_fair.go for
// GenerateSeed/HashCommitment, generalized to persist (idx, seed_hash)
// rows via pgx and to recover seeds deterministically from a master
// secret per spec.md §4.1.
package seedstore

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Commit is one entry in the public commitment chain.
type Commit struct {
	Idx       int64
	SeedHash  string
	CreatedAt time.Time
}

// Store is the C1 seed store.
type Store struct {
	pool       *pgxpool.Pool
	masterSecret string
	log        *zap.Logger
}

func New(pool *pgxpool.Pool, masterSecret string, log *zap.Logger) *Store {
	return &Store{pool: pool, masterSecret: masterSecret, log: log.Named("seedstore")}
}

// Latest returns the highest-idx commit, or (Commit{}, false, nil) if the
// chain is empty.
func (s *Store) Latest(ctx context.Context) (Commit, bool, error) {
	var c Commit
	row := s.pool.QueryRow(ctx,
		`SELECT idx, seed_hash, created_at FROM seed_commits ORDER BY idx DESC LIMIT 1`)
	if err := row.Scan(&c.Idx, &c.SeedHash, &c.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Commit{}, false, nil
		}
		return Commit{}, false, fmt.Errorf("seedstore: latest: %w", err)
	}
	return c, true, nil
}

// EnsureNext derives the seed for max(idx)+1 (or 0 if the chain is empty),
// persists its commitment, and returns it. Idempotent under concurrent
// callers: the insert is an upsert on idx, so if another caller already
// wrote that idx, the existing row is returned instead.
func (s *Store) EnsureNext(ctx context.Context) (Commit, error) {
	latest, ok, err := s.Latest(ctx)
	if err != nil {
		return Commit{}, err
	}
	nextIdx := int64(0)
	if ok {
		nextIdx = latest.Idx + 1
	}

	seed, degraded := s.seedFor(nextIdx)
	if degraded {
		s.log.Warn("seed derived without master secret; auditability across restarts is broken",
			zap.Int64("idx", nextIdx))
	}
	hash := HashCommitment(seed)

	var c Commit
	row := s.pool.QueryRow(ctx,
		`INSERT INTO seed_commits (idx, seed_hash) VALUES ($1, $2)
		 ON CONFLICT (idx) DO UPDATE SET idx = seed_commits.idx
		 RETURNING idx, seed_hash, created_at`,
		nextIdx, hash)
	if err := row.Scan(&c.Idx, &c.SeedHash, &c.CreatedAt); err != nil {
		return Commit{}, fmt.Errorf("seedstore: ensure next: %w", err)
	}
	return c, nil
}

// SeedFor deterministically recovers the seed bytes for idx. Returns
// degraded=true when no master secret is configured, meaning the returned
// seed is a fresh random value that cannot be reproduced on restart.
func (s *Store) SeedFor(idx int64) (seed []byte, degraded bool) {
	return s.seedFor(idx)
}

func (s *Store) seedFor(idx int64) ([]byte, bool) {
	if s.masterSecret == "" {
		b := make([]byte, 32)
		_, _ = rand.Read(b)
		return b, true
	}
	mac := hmac.New(sha256.New, []byte(s.masterSecret))
	mac.Write([]byte(strconv.FormatInt(idx, 10)))
	return mac.Sum(nil), false
}

// HashCommitment hex-encodes SHA256(seed).
func HashCommitment(seed []byte) string {
	sum := sha256.Sum256(seed)
	return hex.EncodeToString(sum[:])
}

// GenerateRandomSeed is used only for the ephemeral/degraded path callers
// that need a seed without persisting a commitment at all.
func GenerateRandomSeed() []byte {
	b := make([]byte, 32)
	_, _ = rand.Read(b)
	return b
}
