package schedule

import (
	"fmt"
	"math/big"
)

// Fraction is a numerator/denominator pair of 16-bit values, the way the
// lockup stores its cliff and vesting shares.
type Fraction struct {
	Numerator   uint16
	Denominator uint16
}

// Valid reports whether 0 < f <= 1.
func (f Fraction) Valid() bool {
	return f.Denominator > 0 && f.Numerator > 0 && f.Numerator <= f.Denominator
}

// Of returns floor(amount * f). The product is taken before the division.
func (f Fraction) Of(amount *big.Int) *big.Int {
	if f.Denominator == 0 || amount == nil {
		return new(big.Int)
	}
	res := new(big.Int).Mul(amount, new(big.Int).SetUint64(uint64(f.Numerator)))
	return res.Quo(res, new(big.Int).SetUint64(uint64(f.Denominator)))
}

func (f Fraction) String() string {
	return fmt.Sprintf("%d/%d", f.Numerator, f.Denominator)
}
