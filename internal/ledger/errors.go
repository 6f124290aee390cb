package ledger

import "errors"

var (
	ErrUserNotFound      = errors.New("ledger: user not found")
	ErrInsufficientFunds = errors.New("ledger: insufficient funds")
	ErrInvalidAmount     = errors.New("ledger: invalid amount")
	ErrRoundNotFound     = errors.New("ledger: round not found")
	ErrRoundStale        = errors.New("ledger: round too old to accept bets")
	ErrDuplicateBet      = errors.New("ledger: an active bet already exists for this round")
	ErrSettlementClosed  = errors.New("ledger: settlement window has closed")
	ErrBetNotFound       = errors.New("ledger: bet not found")
	ErrAlreadyCashed     = errors.New("ledger: bet already cashed out and cannot be refunded")
)
