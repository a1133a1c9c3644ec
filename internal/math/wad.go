package math

import "math/big"

// WAD is the fixed-point scale used throughout the ledger: 1.0 == 1e18.
// All rates, indexes, prices, and factors are WAD-scaled big integers.
var WAD = mustBigInt("1000000000000000000")

func mustBigInt(value string) *big.Int {
	v, ok := new(big.Int).SetString(value, 10)
	if !ok {
		panic("invalid big integer constant")
	}
	return v
}

// Wad converts an integer unit count to its WAD representation.
func Wad(units int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(units), WAD)
}

// WadFromFraction builds a WAD value from num/den, truncating.
func WadFromFraction(num, den int64) *big.Int {
	if den == 0 {
		return big.NewInt(0)
	}
	v := new(big.Int).Mul(big.NewInt(num), WAD)
	return v.Quo(v, big.NewInt(den))
}

// WadMul computes a*b/WAD, truncating toward zero. Every multiplication of
// two WAD-scaled quantities in the ledger goes through here so that rounding
// always favors the protocol, never the caller.
func WadMul(a, b *big.Int) *big.Int {
	if a == nil || b == nil {
		return big.NewInt(0)
	}
	product := new(big.Int).Mul(a, b)
	return product.Quo(product, WAD)
}

// WadDiv computes a*WAD/b, truncating. Returns zero when b is zero; callers
// that must distinguish a zero denominator check it before dividing.
func WadDiv(a, b *big.Int) *big.Int {
	if a == nil || b == nil || b.Sign() == 0 {
		return big.NewInt(0)
	}
	scaled := new(big.Int).Mul(a, WAD)
	return scaled.Quo(scaled, b)
}

// MulDiv computes a*b/den without intermediate WAD scaling, truncating.
func MulDiv(a, b, den *big.Int) *big.Int {
	if a == nil || b == nil || den == nil || den.Sign() == 0 {
		return big.NewInt(0)
	}
	product := new(big.Int).Mul(a, b)
	return product.Quo(product, den)
}

// Clone returns a defensive copy, treating nil as zero.
func Clone(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

// Min returns the smaller of a and b as a fresh value.
func Min(a, b *big.Int) *big.Int {
	if a.Cmp(b) <= 0 {
		return new(big.Int).Set(a)
	}
	return new(big.Int).Set(b)
}

// IsPositive reports whether v is non-nil and > 0.
func IsPositive(v *big.Int) bool {
	return v != nil && v.Sign() > 0
}
