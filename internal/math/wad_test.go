package math

import (
	"math/big"
	"testing"
)

func TestWadMul_TruncatesTowardZero(t *testing.T) {
	// 1.5 * 1.5 = 2.25 exactly; a third of a WAD times three loses the
	// remainder instead of rounding it back up.
	got := WadMul(WadFromFraction(3, 2), WadFromFraction(3, 2))
	if got.Cmp(WadFromFraction(9, 4)) != 0 {
		t.Fatalf("1.5*1.5: got %s", got)
	}

	third := WadFromFraction(1, 3)
	got = WadMul(third, Wad(3))
	want := new(big.Int).Mul(third, big.NewInt(3))
	if got.Cmp(want) != 0 {
		t.Fatalf("(1/3)*3: got %s want %s", got, want)
	}
	if got.Cmp(WAD) >= 0 {
		t.Fatal("truncation must not round up to a full WAD")
	}
}

func TestWadMul_NilOperandIsZero(t *testing.T) {
	if WadMul(nil, WAD).Sign() != 0 || WadMul(WAD, nil).Sign() != 0 {
		t.Fatal("nil operand should yield zero")
	}
}

func TestWadDiv_ZeroDenominator(t *testing.T) {
	if WadDiv(Wad(5), big.NewInt(0)).Sign() != 0 {
		t.Fatal("division by zero should yield zero")
	}
	if WadDiv(Wad(5), nil).Sign() != 0 {
		t.Fatal("nil denominator should yield zero")
	}
	got := WadDiv(Wad(1), Wad(2))
	if got.Cmp(WadFromFraction(1, 2)) != 0 {
		t.Fatalf("1/2: got %s", got)
	}
}

func TestMulDiv_NoIntermediateScaling(t *testing.T) {
	// 400 * 1.08 / 0.5 in raw units: the intermediate product must not be
	// rescaled through WAD, or small amounts would truncate to zero.
	got := MulDiv(big.NewInt(400), WadFromFraction(108, 100), WadFromFraction(1, 2))
	if got.Cmp(big.NewInt(864)) != 0 {
		t.Fatalf("400*1.08/0.5: got %s want 864", got)
	}
	if MulDiv(Wad(1), Wad(1), big.NewInt(0)).Sign() != 0 {
		t.Fatal("zero denominator should yield zero")
	}
}

func TestWadFromFraction_ZeroDenominator(t *testing.T) {
	if WadFromFraction(7, 0).Sign() != 0 {
		t.Fatal("den 0 should yield zero")
	}
	if WadFromFraction(1, 100).Cmp(big.NewInt(10_000_000_000_000_000)) != 0 {
		t.Fatal("1/100 should be 1e16")
	}
}

func TestClone_NilIsZeroAndDetached(t *testing.T) {
	if Clone(nil).Sign() != 0 {
		t.Fatal("Clone(nil) should be zero")
	}
	orig := big.NewInt(42)
	c := Clone(orig)
	c.SetInt64(7)
	if orig.Int64() != 42 {
		t.Fatal("Clone must not alias the original")
	}
}

func TestMin_ReturnsFreshValue(t *testing.T) {
	a, b := big.NewInt(3), big.NewInt(9)
	m := Min(a, b)
	if m.Cmp(a) != 0 {
		t.Fatalf("min(3,9): got %s", m)
	}
	m.SetInt64(0)
	if a.Int64() != 3 {
		t.Fatal("Min must not alias its argument")
	}
}

func TestIsPositive(t *testing.T) {
	if IsPositive(nil) || IsPositive(big.NewInt(0)) || IsPositive(big.NewInt(-1)) {
		t.Fatal("nil, zero, and negatives are not positive")
	}
	if !IsPositive(big.NewInt(1)) {
		t.Fatal("one is positive")
	}
}
