package lending

import (
	"fmt"
	"strings"

	"github.com/holiman/uint256"
)

// wad is the 1e18 fixed-point scale used for rates, ratios and share pricing.
var wad = uint256.NewInt(1_000_000_000_000_000_000)

// Wad returns the 1e18 fixed-point unit.
func Wad() *uint256.Int { return new(uint256.Int).Set(wad) }

func add(a, b *uint256.Int) (*uint256.Int, error) {
	if a == nil || b == nil {
		return nil, ErrArithmetic
	}
	sum, overflow := new(uint256.Int).AddOverflow(a, b)
	if overflow {
		return nil, ErrArithmetic
	}
	return sum, nil
}

func sub(a, b *uint256.Int) (*uint256.Int, error) {
	if a == nil || b == nil {
		return nil, ErrArithmetic
	}
	diff, underflow := new(uint256.Int).SubOverflow(a, b)
	if underflow {
		return nil, ErrArithmetic
	}
	return diff, nil
}

// subClamp subtracts b from a, flooring at zero instead of failing. Used where
// rounding drift can legitimately push a subtrahend past its counterpart.
func subClamp(a, b *uint256.Int) *uint256.Int {
	if a == nil {
		return new(uint256.Int)
	}
	if b == nil {
		return new(uint256.Int).Set(a)
	}
	if a.Lt(b) {
		return new(uint256.Int)
	}
	return new(uint256.Int).Sub(a, b)
}

func mul(a, b *uint256.Int) (*uint256.Int, error) {
	if a == nil || b == nil {
		return nil, ErrArithmetic
	}
	product, overflow := new(uint256.Int).MulOverflow(a, b)
	if overflow {
		return nil, ErrArithmetic
	}
	return product, nil
}

// mulDiv computes a*b/c with a full-precision intermediate, rounding toward
// zero.
func mulDiv(a, b, c *uint256.Int) (*uint256.Int, error) {
	if a == nil || b == nil || c == nil || c.IsZero() {
		return nil, ErrArithmetic
	}
	result, overflow := new(uint256.Int).MulDivOverflow(a, b, c)
	if overflow {
		return nil, ErrArithmetic
	}
	return result, nil
}

func wadMul(a, b *uint256.Int) (*uint256.Int, error) {
	return mulDiv(a, b, wad)
}

// wadMulUp is wadMul rounded up. Debt owed is always priced with this so the
// pool is never short-funded by truncation.
func wadMulUp(a, b *uint256.Int) (*uint256.Int, error) {
	result, err := mulDiv(a, b, wad)
	if err != nil {
		return nil, err
	}
	remainder := new(uint256.Int).MulMod(a, b, wad)
	if remainder.IsZero() {
		return result, nil
	}
	return add(result, uint256.NewInt(1))
}

func wadDiv(a, b *uint256.Int) (*uint256.Int, error) {
	return mulDiv(a, wad, b)
}

func umin(a, b *uint256.Int) *uint256.Int {
	if a == nil {
		return new(uint256.Int).Set(b)
	}
	if b == nil || a.Lt(b) {
		return new(uint256.Int).Set(a)
	}
	return new(uint256.Int).Set(b)
}

// ParseWad converts a non-negative decimal string such as "0.90" into its wad
// representation. At most 18 fractional digits are accepted.
func ParseWad(value string) (*uint256.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, fmt.Errorf("parse wad: empty value")
	}
	whole, frac, _ := strings.Cut(trimmed, ".")
	if whole == "" {
		whole = "0"
	}
	if len(frac) > 18 {
		return nil, fmt.Errorf("parse wad %q: more than 18 fractional digits", value)
	}
	wholePart, err := uint256.FromDecimal(whole)
	if err != nil {
		return nil, fmt.Errorf("parse wad %q: %w", value, err)
	}
	scaled, overflow := new(uint256.Int).MulOverflow(wholePart, wad)
	if overflow {
		return nil, fmt.Errorf("parse wad %q: value out of range", value)
	}
	frac = frac + strings.Repeat("0", 18-len(frac))
	frac = strings.TrimLeft(frac, "0")
	if frac == "" {
		return scaled, nil
	}
	fracPart, err := uint256.FromDecimal(frac)
	if err != nil {
		return nil, fmt.Errorf("parse wad %q: %w", value, err)
	}
	sum, overflow := new(uint256.Int).AddOverflow(scaled, fracPart)
	if overflow {
		return nil, fmt.Errorf("parse wad %q: value out of range", value)
	}
	return sum, nil
}

// FormatWad renders a wad value as a decimal string with trailing zeros
// trimmed, e.g. 900000000000000000 -> "0.9".
func FormatWad(value *uint256.Int) string {
	if value == nil {
		return "0"
	}
	whole := new(uint256.Int).Div(value, wad)
	frac := new(uint256.Int).Mod(value, wad)
	if frac.IsZero() {
		return whole.Dec()
	}
	digits := fmt.Sprintf("%018s", frac.Dec())
	digits = strings.TrimRight(digits, "0")
	return whole.Dec() + "." + digits
}
