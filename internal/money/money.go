package money

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Money is an amount of currency in minor units (cents). All balance and
// transaction arithmetic in the ledger happens on this type; floating point
// never touches a stored amount.
type Money int64

// Zero is the empty amount.
const Zero Money = 0

// MaxAmount bounds any single amount the ledger will accept. A million
// dollars in cents, far above every operational limit, low enough that no
// sequence of fee computations can overflow int64.
const MaxAmount Money = 100_000_000

const minorUnitsPerMajor = 100

var centsFactor = decimal.NewFromInt(minorUnitsPerMajor)

// FromDecimalString converts a decimal currency string ("55.00", "0.01",
// "1234.567") to Money, rounding to the nearest minor unit. Malformed and
// out-of-range inputs are rejected; sign is preserved, callers that need a
// strictly positive amount check IsPositive itself.
func FromDecimalString(s string) (Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return fromDecimal(d)
}

// FromFloat converts a float amount of major units to Money. It exists only
// for the legacy migration path, where the old store kept dollar floats;
// live operations parse strings.
func FromFloat(f float64) (Money, error) {
	if f != f || f > float64(MaxAmount) || f < -float64(MaxAmount) {
		return 0, fmt.Errorf("amount %v is not a finite value in range", f)
	}
	return fromDecimal(decimal.NewFromFloat(f))
}

func fromDecimal(d decimal.Decimal) (Money, error) {
	cents := d.Mul(centsFactor).Round(0)
	big := cents.BigInt()
	if !big.IsInt64() {
		return 0, fmt.Errorf("amount %s out of range", d.String())
	}
	m := Money(big.Int64())
	if m < -MaxAmount || m > MaxAmount {
		return 0, fmt.Errorf("amount %s out of range", d.String())
	}
	return m, nil
}

// FromCents wraps a raw minor-unit count.
func FromCents(v int64) Money { return Money(v) }

// Cents returns the raw minor-unit count.
func (m Money) Cents() int64 { return int64(m) }

// Neg returns the negated amount.
func (m Money) Neg() Money { return -m }

// IsPositive reports whether the amount is strictly greater than zero.
func (m Money) IsPositive() bool { return m > 0 }

// IsNegative reports whether the amount is below zero.
func (m Money) IsNegative() bool { return m < 0 }

// Decimal returns the amount in major units as an exact decimal.
func (m Money) Decimal() decimal.Decimal {
	return decimal.NewFromInt(int64(m)).Div(centsFactor)
}

// String formats the amount in major units, e.g. "55.00".
func (m Money) String() string {
	return m.Decimal().StringFixed(2)
}

// SplitFee divides amount into a platform fee and the net remainder using a
// fee expressed in basis points (1000 = 10%). The fee truncates toward zero,
// so fee+net always reconstructs amount exactly. Callers must pass a
// non-negative amount and a rate within [0, 10000].
func SplitFee(amount Money, feeBps int64) (fee, net Money, err error) {
	if amount < 0 {
		return 0, 0, fmt.Errorf("cannot split a negative amount %s", amount)
	}
	if feeBps < 0 || feeBps > 10_000 {
		return 0, 0, fmt.Errorf("fee basis points %d out of range [0, 10000]", feeBps)
	}
	fee = Money(int64(amount) * feeBps / 10_000)
	net = amount - fee
	return fee, net, nil
}
