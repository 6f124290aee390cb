// Package fairness implements the deterministic crash-point derivation and
// its independent verification. Grounded on the teacher's
// internal/game/provably_fair.go for the HMAC-SHA256 → hex-window → numeric
// shape, but the formula itself is the spec's exact 52-bit distribution,
// not the teacher's exponential one — the two are not equivalent and the
// teacher's formula is superseded here (see DESIGN.md).
package fairness

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"math/big"
)

// hexWindow is the number of hex characters taken from the HMAC digest (13
// hex chars = 52 bits), matching the common 52-bit crash distribution.
const hexWindow = 13

var (
	twoPow52 = new(big.Int).Lsh(big.NewInt(1), 52)
	hundred  = big.NewInt(100)
)

// DeriveCrashPoint computes the round's crash point from its server seed
// and an optional client seed (empty string by default per spec.md §9's
// extension point). The result is expressed as hundredths (e.g. 350 means
// 3.50×) to keep the arithmetic exact; callers needing a decimal string
// divide by 100 or use money.FromCents.
func DeriveCrashPoint(seed []byte, clientSeed string) int64 {
	h := hmac.New(sha256.New, seed)
	h.Write([]byte(clientSeed))
	digest := h.Sum(nil)
	hexDigest := hex.EncodeToString(digest)

	window := hexDigest[:hexWindow]
	H := new(big.Int)
	H.SetString(window, 16)

	E := twoPow52

	denom := new(big.Int).Sub(E, H)
	if denom.Sign() <= 0 {
		return 100 // 1.00x
	}

	// numerator = 100 * (100*E - H)
	hundredE := new(big.Int).Mul(hundred, E)
	inner := new(big.Int).Sub(hundredE, H)
	numerator := new(big.Int).Mul(hundred, inner)

	quotient := new(big.Int).Div(numerator, denom)
	result := quotient.Int64()

	if result < 100 {
		return 100
	}
	return result
}

// VerifyCrashPoint recomputes the crash point from a revealed seed and
// confirms it matches the claimed value exactly (hundredths of a unit,
// bit-for-bit per spec.md §8 S7 — no floating-point tolerance is needed
// since both sides compute the same integer arithmetic).
func VerifyCrashPoint(seed []byte, clientSeed string, claimedHundredths int64) bool {
	return DeriveCrashPoint(seed, clientSeed) == claimedHundredths
}

// HashCommitment returns the SHA256 commitment hash of a seed, hex encoded.
func HashCommitment(seed []byte) string {
	sum := sha256.Sum256(seed)
	return hex.EncodeToString(sum[:])
}

// VerifyCommitment confirms a revealed seed hashes to a published commitment.
func VerifyCommitment(seed []byte, commitHash string) bool {
	return HashCommitment(seed) == commitHash
}
