// Package units holds the shared amount arithmetic: overflow-checked uint256 math,
// basis-point splits and the schedule period length.
package units

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/holiman/uint256"
)

const (
	// MaxBasisPoints is 100%.
	MaxBasisPoints uint64 = 10_000

	// FourWeeks is the length of one cliff/duration period in seconds.
	FourWeeks uint64 = 4 * 7 * 24 * 60 * 60
)

var (
	ErrOverflow      = errors.New("units: uint256 overflow")
	ErrUnderflow     = errors.New("units: uint256 underflow")
	ErrDivByZero     = errors.New("units: division by zero")
	ErrInvalidAmount = errors.New("units: invalid amount")
	ErrBasisPoints   = errors.New("units: basis points above 10000")
)

// Zero returns a fresh zero amount.
func Zero() *uint256.Int { return new(uint256.Int) }

// New returns a fresh amount holding v.
func New(v uint64) *uint256.Int { return uint256.NewInt(v) }

// Clone returns a copy of v, treating nil as zero.
func Clone(v *uint256.Int) *uint256.Int {
	if v == nil {
		return Zero()
	}
	return new(uint256.Int).Set(v)
}

// IsZero treats nil as zero.
func IsZero(v *uint256.Int) bool { return v == nil || v.IsZero() }

// Parse decodes a base-10 amount.
func Parse(s string) (*uint256.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidAmount)
	}
	b, ok := new(big.Int).SetString(s, 10)
	if !ok || b.Sign() < 0 {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	v, overflow := uint256.FromBig(b)
	if overflow {
		return nil, fmt.Errorf("%w: %q", ErrOverflow, s)
	}
	return v, nil
}

// MustParse is Parse for constants and tests.
func MustParse(s string) *uint256.Int {
	v, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return v
}

// String renders v in base 10, treating nil as zero.
func String(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.ToBig().String()
}

func Add(a, b *uint256.Int) (*uint256.Int, error) {
	out, overflow := new(uint256.Int).AddOverflow(Clone(a), Clone(b))
	if overflow {
		return nil, fmt.Errorf("%w: %s + %s", ErrOverflow, String(a), String(b))
	}
	return out, nil
}

func Sub(a, b *uint256.Int) (*uint256.Int, error) {
	out, underflow := new(uint256.Int).SubOverflow(Clone(a), Clone(b))
	if underflow {
		return nil, fmt.Errorf("%w: %s - %s", ErrUnderflow, String(a), String(b))
	}
	return out, nil
}

func Mul(a, b *uint256.Int) (*uint256.Int, error) {
	out, overflow := new(uint256.Int).MulOverflow(Clone(a), Clone(b))
	if overflow {
		return nil, fmt.Errorf("%w: %s * %s", ErrOverflow, String(a), String(b))
	}
	return out, nil
}

// Div is floor division.
func Div(a, b *uint256.Int) (*uint256.Int, error) {
	if IsZero(b) {
		return nil, ErrDivByZero
	}
	return new(uint256.Int).Div(Clone(a), b), nil
}

// CeilDiv rounds the quotient up.
func CeilDiv(a, b *uint256.Int) (*uint256.Int, error) {
	if IsZero(b) {
		return nil, ErrDivByZero
	}
	q, r := new(uint256.Int), new(uint256.Int)
	q.DivMod(Clone(a), b, r)
	if !r.IsZero() {
		// q < a/b + 1 <= max, so this cannot wrap.
		q.AddUint64(q, 1)
	}
	return q, nil
}

// MulDiv returns floor(a*b/d) with a 512-bit intermediate product.
func MulDiv(a, b, d *uint256.Int) (*uint256.Int, error) {
	if IsZero(d) {
		return nil, ErrDivByZero
	}
	out, overflow := new(uint256.Int).MulDivOverflow(Clone(a), Clone(b), d)
	if overflow {
		return nil, fmt.Errorf("%w: %s * %s / %s", ErrOverflow, String(a), String(b), String(d))
	}
	return out, nil
}

func Min(a, b *uint256.Int) *uint256.Int {
	if Clone(a).Lt(Clone(b)) {
		return Clone(a)
	}
	return Clone(b)
}

// SplitBasisPoints splits amount into share = floor(amount*bp/10000) and rest = amount-share.
// share+rest == amount for every bp in [0, 10000].
func SplitBasisPoints(amount *uint256.Int, bp uint64) (share, rest *uint256.Int, err error) {
	if bp > MaxBasisPoints {
		return nil, nil, fmt.Errorf("%w: %d", ErrBasisPoints, bp)
	}
	share, err = MulDiv(amount, uint256.NewInt(bp), uint256.NewInt(MaxBasisPoints))
	if err != nil {
		return nil, nil, err
	}
	rest, err = Sub(amount, share)
	if err != nil {
		return nil, nil, err
	}
	return share, rest, nil
}

// PeriodsToSeconds converts cliff/duration periods into seconds.
func PeriodsToSeconds(periods uint64) (uint64, error) {
	if periods != 0 && periods > ^uint64(0)/FourWeeks {
		return 0, fmt.Errorf("%w: %d periods", ErrOverflow, periods)
	}
	return periods * FourWeeks, nil
}
