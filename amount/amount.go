package amount

import (
	"encoding/json"
	"math/big"
	"regexp"

	"github.com/accord-one/accord/errors"
)

// isDecimal ensures only plain decimal digit strings are accepted. No sign,
// no separators, no exponent and therefore no way to smuggle in a float.
var isDecimal = regexp.MustCompile(`^[0-9]+$`).MatchString

// Amount is an arbitrary precision non-negative integer. All monetary values
// and voting weights in the engine use this type exclusively, so tallying a
// proposal never goes through floating point arithmetic.
//
// The zero value is a valid amount of value zero.
type Amount struct {
	value big.Int
}

// New returns an amount of the given value.
func New(v uint64) Amount {
	var a Amount
	a.value.SetUint64(v)
	return a
}

// FromBig returns an amount holding a copy of the given integer. Negative
// input is rejected.
func FromBig(v *big.Int) (Amount, error) {
	var a Amount
	if v.Sign() < 0 {
		return a, errors.Wrapf(errors.ErrAmount, "negative value: %s", v)
	}
	a.value.Set(v)
	return a, nil
}

// Parse interprets a decimal digit string as an amount.
func Parse(raw string) (Amount, error) {
	var a Amount
	if !isDecimal(raw) {
		return a, errors.Wrapf(errors.ErrAmount, "not a decimal digit string: %q", raw)
	}
	if _, ok := a.value.SetString(raw, 10); !ok {
		return a, errors.Wrapf(errors.ErrAmount, "cannot parse: %q", raw)
	}
	return a, nil
}

// Add returns the sum of both amounts.
func (a Amount) Add(b Amount) Amount {
	var out Amount
	out.value.Add(&a.value, &b.value)
	return out
}

// Sub returns the difference of both amounts. It fails if the result would
// be negative.
func (a Amount) Sub(b Amount) (Amount, error) {
	var out Amount
	if a.value.Cmp(&b.value) < 0 {
		return out, errors.Wrapf(errors.ErrAmount, "subtraction yields negative result: %s - %s", a.String(), b.String())
	}
	out.value.Sub(&a.value, &b.value)
	return out, nil
}

// Mul returns this amount multiplied by the given factor. Used for cross
// multiplied fraction comparisons.
func (a Amount) Mul(n uint64) Amount {
	var out Amount
	var f big.Int
	f.SetUint64(n)
	out.value.Mul(&a.value, &f)
	return out
}

// Cmp compares both amounts and returns -1, 0 or 1 when this amount is
// respectively lower than, equal to or greater than the other.
func (a Amount) Cmp(b Amount) int {
	return a.value.Cmp(&b.value)
}

// IsZero returns true for an amount of value zero.
func (a Amount) IsZero() bool {
	return a.value.Sign() == 0
}

// Clone returns an independent copy of this amount.
func (a Amount) Clone() Amount {
	var out Amount
	out.value.Set(&a.value)
	return out
}

// BigInt returns a copy of the underlying integer.
func (a Amount) BigInt() *big.Int {
	return new(big.Int).Set(&a.value)
}

// String returns the decimal digit representation.
func (a Amount) String() string {
	return a.value.String()
}

// Validate returns an error if this amount holds an invalid value.
func (a Amount) Validate() error {
	if a.value.Sign() < 0 {
		return errors.Wrap(errors.ErrAmount, "negative value")
	}
	return nil
}

// MarshalJSON serializes the amount as a decimal digit string.
func (a Amount) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

func (a *Amount) UnmarshalJSON(raw []byte) error {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return errors.Wrap(err, "cannot decode json")
	}
	parsed, err := Parse(s)
	if err != nil {
		return err
	}
	a.value.Set(&parsed.value)
	return nil
}
