package rates

import (
	"math/big"

	fpmath "LendLedger/internal/math"
)

// JumpRateModel is the kinked utilization curve used by every market.
// Below the kink the borrow rate climbs linearly from the base; at and above
// the kink a steeper jump multiplier takes over to defend pool liquidity.
// All parameters are WAD-scaled per-second rates, fixed at construction.
// The model holds no state and is safe to share across markets.
type JumpRateModel struct {
	base           *big.Int // rate at zero utilization
	multiplier     *big.Int // slope below the kink
	jumpMultiplier *big.Int // slope above the kink
	kink           *big.Int // utilization where the slope changes
}

// Rates is the pair of per-second rates a market accrues with.
type Rates struct {
	BorrowRate *big.Int
	SupplyRate *big.Int
}

func NewJumpRateModel(base, multiplier, jumpMultiplier, kink *big.Int) *JumpRateModel {
	return &JumpRateModel{
		base:           fpmath.Clone(base),
		multiplier:     fpmath.Clone(multiplier),
		jumpMultiplier: fpmath.Clone(jumpMultiplier),
		kink:           fpmath.Clone(kink),
	}
}

// Utilization computes borrows / (cash + borrows − reserves), WAD-scaled.
// Defined as zero when there are no borrows or the denominator is empty
// rather than failing on division by zero.
func (m *JumpRateModel) Utilization(cash, borrows, reserves *big.Int) *big.Int {
	if !fpmath.IsPositive(borrows) {
		return big.NewInt(0)
	}
	denom := new(big.Int).Add(cash, borrows)
	denom.Sub(denom, reserves)
	if denom.Sign() <= 0 {
		return big.NewInt(0)
	}
	return fpmath.WadDiv(borrows, denom)
}

// BorrowRate derives the per-second borrow rate for the given pool balances.
func (m *JumpRateModel) BorrowRate(cash, borrows, reserves *big.Int) *big.Int {
	util := m.Utilization(cash, borrows, reserves)

	if m.kink.Sign() == 0 || util.Cmp(m.kink) < 0 {
		rate := fpmath.WadMul(util, m.multiplier)
		return rate.Add(rate, m.base)
	}

	// Rate at the kink, then the excess at the jump slope.
	rate := fpmath.WadMul(m.kink, m.multiplier)
	rate.Add(rate, m.base)
	excess := new(big.Int).Sub(util, m.kink)
	rate.Add(rate, fpmath.WadMul(excess, m.jumpMultiplier))
	return rate
}

// Rates returns the borrow and supply rates for the given pool balances.
// supplyRate = borrowRate * (1 − reserveFactor) * utilization.
func (m *JumpRateModel) Rates(cash, borrows, reserves, reserveFactor *big.Int) Rates {
	borrowRate := m.BorrowRate(cash, borrows, reserves)
	util := m.Utilization(cash, borrows, reserves)

	oneMinusReserve := new(big.Int).Sub(fpmath.WAD, reserveFactor)
	if oneMinusReserve.Sign() < 0 {
		oneMinusReserve.SetInt64(0)
	}

	supplyRate := fpmath.WadMul(borrowRate, oneMinusReserve)
	supplyRate = fpmath.WadMul(supplyRate, util)

	return Rates{BorrowRate: borrowRate, SupplyRate: supplyRate}
}

// SecondsPerYear converts annualized WAD rates to the per-second rates the
// model consumes.
const SecondsPerYear = 31_536_000

// PerSecond scales an annualized WAD rate down to a per-second rate.
func PerSecond(annual *big.Int) *big.Int {
	if annual == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Quo(annual, big.NewInt(SecondsPerYear))
}

// DefaultModel is a conservative starting curve: 2% base, 15% slope to an
// 80% kink, 60% jump slope beyond it (annualized, converted per second).
func DefaultModel() *JumpRateModel {
	return NewJumpRateModel(
		PerSecond(fpmath.WadFromFraction(2, 100)),
		PerSecond(fpmath.WadFromFraction(15, 100)),
		PerSecond(fpmath.WadFromFraction(60, 100)),
		fpmath.WadFromFraction(80, 100),
	)
}
