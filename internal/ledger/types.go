package ledger

import (
	"time"

	"github.com/shopspring/decimal"

	"aviator/internal/money"
)

// RoundMeta is what the server's round-event consumer (on the engine's
// behalf) passes to PersistRoundStart.
type RoundMeta struct {
	RoundID                 string
	CommitIdx               *int64
	ServerSeedHash          string
	CrashPoint              decimal.Decimal
	StartedAt               time.Time
	SettlementWindowSeconds int
}

// EngineResult mirrors the round engine's cashout outcome without coupling
// the ledger package to roundengine's types.
type EngineResult struct {
	Win        bool
	Multiplier decimal.Decimal
	Payout     money.Amount
}

// BetStatus enumerates the Bet lifecycle per spec.md §3.
type BetStatus string

const (
	BetActive   BetStatus = "active"
	BetCashed   BetStatus = "cashed"
	BetLost     BetStatus = "lost"
	BetRefunded BetStatus = "refunded"
)
