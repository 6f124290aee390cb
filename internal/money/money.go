// Package money implements the fixed-point decimal value type required for
// every balance, wager, and payout in the ledger. Float64 is never used for
// money: all arithmetic flows through shopspring/decimal.
package money

import (
	"database/sql/driver"
	"fmt"

	"github.com/shopspring/decimal"
)

// Amount is a non-negative-by-convention (callers enforce the invariant,
// the type itself allows negative intermediate results so debits can be
// checked before being rejected) fixed-point value rounded (half away
// from zero) to two fractional digits, matching the `decimal(18,2)` columns in §6.
type Amount struct {
	d decimal.Decimal
}

// Zero is the additive identity.
var Zero = Amount{d: decimal.Zero}

// New builds an Amount from a string, the only safe boundary format for
// money per the spec's "serialization at system boundaries is bit-exact
// decimal strings" note.
func New(s string) (Amount, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Amount{}, fmt.Errorf("money: invalid amount %q: %w", s, err)
	}
	return Amount{d: d.Round(2)}, nil
}

// FromFloat exists only for constructing test fixtures and literals that
// originate in Go source, never for values crossing a request or storage
// boundary.
func FromFloat(f float64) Amount {
	return Amount{d: decimal.NewFromFloat(f).Round(2)}
}

// FromCents builds an Amount from an integer cent count.
func FromCents(cents int64) Amount {
	return Amount{d: decimal.New(cents, -2)}
}

func (a Amount) String() string { return a.d.StringFixed(2) }

// Decimal exposes the underlying value for callers (e.g. pgx row scanning)
// that need direct decimal.Decimal interop.
func (a Amount) Decimal() decimal.Decimal { return a.d }

func FromDecimal(d decimal.Decimal) Amount { return Amount{d: d.Round(2)} }

func (a Amount) Add(b Amount) Amount { return Amount{d: a.d.Add(b.d).Round(2)} }
func (a Amount) Sub(b Amount) Amount { return Amount{d: a.d.Sub(b.d).Round(2)} }

func (a Amount) Mul(factor decimal.Decimal) Amount {
	return Amount{d: a.d.Mul(factor).Round(2)}
}

func (a Amount) Cmp(b Amount) int { return a.d.Cmp(b.d) }

func (a Amount) IsNegative() bool { return a.d.IsNegative() }
func (a Amount) IsPositive() bool { return a.d.IsPositive() }
func (a Amount) IsZero() bool     { return a.d.IsZero() }

// GreaterThanOrEqual reports whether a >= b. The ledger's conditional
// debit does not call it; that check runs in SQL (balance >= amount).
func (a Amount) GreaterThanOrEqual(b Amount) bool { return a.d.Cmp(b.d) >= 0 }

// Value implements driver.Valuer so Amount can be passed directly as a pgx
// query argument against a numeric column.
func (a Amount) Value() (driver.Value, error) {
	return a.d.StringFixed(2), nil
}

// Scan implements sql.Scanner so Amount can be read directly out of a
// numeric/decimal column.
func (a *Amount) Scan(src interface{}) error {
	var d decimal.Decimal
	switch v := src.(type) {
	case nil:
		a.d = decimal.Zero
		return nil
	case float64:
		d = decimal.NewFromFloat(v)
	case string:
		parsed, err := decimal.NewFromString(v)
		if err != nil {
			return fmt.Errorf("money: scan string %q: %w", v, err)
		}
		d = parsed
	case []byte:
		parsed, err := decimal.NewFromString(string(v))
		if err != nil {
			return fmt.Errorf("money: scan bytes %q: %w", v, err)
		}
		d = parsed
	default:
		return fmt.Errorf("money: unsupported scan source %T", src)
	}
	a.d = d.Round(2)
	return nil
}

func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(`"` + a.d.StringFixed(2) + `"`), nil
}

func (a *Amount) UnmarshalJSON(b []byte) error {
	s := string(b)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return fmt.Errorf("money: unmarshal %q: %w", s, err)
	}
	a.d = d.Round(2)
	return nil
}
