package risk

import (
	"fmt"
	"math/big"

	fpmath "LendLedger/internal/math"
	"LendLedger/internal/oracle"
	"LendLedger/internal/state"
)

// Params are the protocol-wide risk knobs. CloseFactor caps how much of a
// borrow one liquidation may repay, LiquidationIncentive is the collateral
// bonus paid to liquidators, MaxMarketsPerAccount bounds the membership set
// so liquidity sweeps stay O(small).
type Params struct {
	CloseFactor          *big.Int // WAD
	LiquidationIncentive *big.Int // WAD, e.g. 1.08
	MaxMarketsPerAccount int
}

func DefaultParams() Params {
	return Params{
		CloseFactor:          fpmath.WadFromFraction(1, 2),
		LiquidationIncentive: fpmath.WadFromFraction(108, 100),
		MaxMarketsPerAccount: 20,
	}
}

// Hypothetical describes a not-yet-applied action folded into a liquidity
// check: redeeming shares and/or borrowing from one market.
type Hypothetical struct {
	MarketID     string
	RedeemShares *big.Int
	BorrowAmount *big.Int
}

// Liquidity is the outcome of an account sweep, WAD-scaled in the unit of
// account. At most one of Available/Shortfall is positive.
type Liquidity struct {
	Available *big.Int
	Shortfall *big.Int
}

// Calculator prices an account's standing across its entered markets. It
// reads ledger state and oracle prices but never mutates either; policy
// decisions stay with the caller.
type Calculator struct {
	oracle oracle.PriceOracle
	params Params
}

func NewCalculator(o oracle.PriceOracle, params Params) *Calculator {
	return &Calculator{oracle: o, params: params}
}

func (c *Calculator) Params() Params {
	return c.params
}

func (c *Calculator) SetOracle(o oracle.PriceOracle) {
	c.oracle = o
}

// AccountLiquidity sweeps the account's entered markets and nets discounted
// collateral against debt, optionally folding in one hypothetical action.
// Any missing price aborts the whole computation: a market that cannot be
// priced must never be valued at zero.
//
// Overrides substitute a running operation's not-yet-committed market
// copies (staged accruals) for the stored versions, so the sweep prices
// debt at the index the operation will commit.
func (c *Calculator) AccountLiquidity(store *state.Store, account string, hypo *Hypothetical, overrides ...*state.Market) (Liquidity, error) {
	collateral := big.NewInt(0)
	borrows := big.NewInt(0)

	for _, marketID := range store.Memberships(account) {
		m := store.GetMarket(marketID)
		for _, o := range overrides {
			if o != nil && o.MarketID == marketID {
				m = o
			}
		}
		if m == nil || !m.Listed {
			continue
		}
		price, err := c.oracle.Price(m.Asset)
		if err != nil {
			return Liquidity{}, fmt.Errorf("pricing %s: %w", m.Asset, err)
		}

		pos := store.GetPosition(account, marketID)
		exchangeRate := m.ExchangeRate()

		// Discounted collateral: shares × exchangeRate × price × collateralFactor.
		if pos.Shares.Sign() > 0 {
			value := fpmath.WadMul(pos.Shares, exchangeRate)
			value = fpmath.WadMul(value, price)
			collateral.Add(collateral, fpmath.WadMul(value, m.CollateralFactor))
		}

		// Debt at the live index, undiscounted.
		debt := pos.CurrentDebt(m.BorrowIndex)
		if debt.Sign() > 0 {
			borrows.Add(borrows, fpmath.WadMul(debt, price))
		}

		if hypo != nil && hypo.MarketID == marketID {
			// Hypothetical effects land on the borrow side, the redeem
			// discounted exactly like the collateral it would remove.
			if fpmath.IsPositive(hypo.RedeemShares) {
				value := fpmath.WadMul(hypo.RedeemShares, exchangeRate)
				value = fpmath.WadMul(value, price)
				borrows.Add(borrows, fpmath.WadMul(value, m.CollateralFactor))
			}
			if fpmath.IsPositive(hypo.BorrowAmount) {
				borrows.Add(borrows, fpmath.WadMul(hypo.BorrowAmount, price))
			}
		}
	}

	diff := new(big.Int).Sub(collateral, borrows)
	if diff.Sign() >= 0 {
		return Liquidity{Available: diff, Shortfall: big.NewInt(0)}, nil
	}
	return Liquidity{Available: big.NewInt(0), Shortfall: diff.Neg(diff)}, nil
}

// MaxClose returns the largest repay a single liquidation may make against
// the given debt: debt × closeFactor, truncated.
func (c *Calculator) MaxClose(debt *big.Int) *big.Int {
	return fpmath.WadMul(debt, c.params.CloseFactor)
}

// SeizeShares converts a repay amount in the borrowed asset into collateral
// shares to seize:
//
//	repay × priceBorrowed × incentive / priceCollateral / exchangeRate
//
// evaluated stepwise with truncation at every division, so the result never
// rounds in the liquidator's favor.
func (c *Calculator) SeizeShares(repay, priceBorrowed, priceCollateral, exchangeRateCollateral *big.Int) *big.Int {
	value := fpmath.WadMul(repay, priceBorrowed)
	value = fpmath.WadMul(value, c.params.LiquidationIncentive)
	value = fpmath.WadDiv(value, priceCollateral)
	return fpmath.WadDiv(value, exchangeRateCollateral)
}
