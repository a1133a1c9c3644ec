package risk_test

import (
	"errors"
	"math/big"
	"testing"

	fpmath "LendLedger/internal/math"
	"LendLedger/internal/oracle"
	"LendLedger/internal/risk"
	"LendLedger/internal/state"
)

func fixture(t *testing.T) (*state.Store, *oracle.StaticOracle, *risk.Calculator) {
	t.Helper()
	store := state.NewStore()
	prices := oracle.NewStaticOracle()
	calc := risk.NewCalculator(prices, risk.DefaultParams())

	usdc := state.NewMarket("USDC", "USDC")
	usdc.Listed = true
	usdc.CollateralFactor = fpmath.WadFromFraction(1, 2)
	store.PutMarket(usdc)
	prices.SetPrice("USDC", fpmath.Wad(1))

	weth := state.NewMarket("WETH", "WETH")
	weth.Listed = true
	weth.CollateralFactor = fpmath.WadFromFraction(8, 10)
	store.PutMarket(weth)
	prices.SetPrice("WETH", fpmath.Wad(2000))

	return store, prices, calc
}

func TestAccountLiquidity_CollateralDiscount(t *testing.T) {
	store, _, calc := fixture(t)

	// 1000 USDC supplied at cf 0.5 → 500 borrowing power.
	pos := state.NewPosition("alice", "USDC")
	pos.Shares = big.NewInt(1000)
	store.PutPosition(pos)
	store.AddMembership("alice", "USDC")

	liq, err := calc.AccountLiquidity(store, "alice", nil)
	if err != nil {
		t.Fatalf("liquidity: %v", err)
	}
	if liq.Available.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("available: got %s want 500", liq.Available)
	}
	if liq.Shortfall.Sign() != 0 {
		t.Fatalf("shortfall should be 0, got %s", liq.Shortfall)
	}
}

func TestAccountLiquidity_HypotheticalBorrowAtLimit(t *testing.T) {
	store, _, calc := fixture(t)

	pos := state.NewPosition("alice", "USDC")
	pos.Shares = big.NewInt(1000)
	store.PutPosition(pos)
	store.AddMembership("alice", "USDC")

	// Borrowing exactly the limit leaves zero liquidity, no shortfall.
	liq, err := calc.AccountLiquidity(store, "alice", &risk.Hypothetical{
		MarketID:     "USDC",
		BorrowAmount: big.NewInt(500),
	})
	if err != nil {
		t.Fatalf("liquidity: %v", err)
	}
	if liq.Available.Sign() != 0 || liq.Shortfall.Sign() != 0 {
		t.Fatalf("at limit: available=%s shortfall=%s", liq.Available, liq.Shortfall)
	}

	// One unit more tips into shortfall.
	liq, err = calc.AccountLiquidity(store, "alice", &risk.Hypothetical{
		MarketID:     "USDC",
		BorrowAmount: big.NewInt(501),
	})
	if err != nil {
		t.Fatalf("liquidity: %v", err)
	}
	if liq.Shortfall.Cmp(big.NewInt(1)) != 0 {
		t.Fatalf("shortfall: got %s want 1", liq.Shortfall)
	}
}

func TestAccountLiquidity_HypotheticalRedeemDiscounted(t *testing.T) {
	store, _, calc := fixture(t)

	pos := state.NewPosition("alice", "USDC")
	pos.Shares = big.NewInt(1000)
	store.PutPosition(pos)
	store.AddMembership("alice", "USDC")

	// Redeeming 400 shares removes 400×0.5 = 200 of discounted collateral.
	liq, err := calc.AccountLiquidity(store, "alice", &risk.Hypothetical{
		MarketID:     "USDC",
		RedeemShares: big.NewInt(400),
	})
	if err != nil {
		t.Fatalf("liquidity: %v", err)
	}
	if liq.Available.Cmp(big.NewInt(300)) != 0 {
		t.Fatalf("available after redeem: got %s want 300", liq.Available)
	}
}

func TestAccountLiquidity_CrossMarket(t *testing.T) {
	store, _, calc := fixture(t)

	// Supply 1 WETH (cf 0.8, price 2000) → 1600 power; borrow 1000 USDC.
	wethPos := state.NewPosition("alice", "WETH")
	wethPos.Shares = big.NewInt(1)
	store.PutPosition(wethPos)
	store.AddMembership("alice", "WETH")

	usdcPos := state.NewPosition("alice", "USDC")
	usdcPos.BorrowPrincipal = big.NewInt(1000)
	store.PutPosition(usdcPos)
	store.AddMembership("alice", "USDC")

	liq, err := calc.AccountLiquidity(store, "alice", nil)
	if err != nil {
		t.Fatalf("liquidity: %v", err)
	}
	if liq.Available.Cmp(big.NewInt(600)) != 0 {
		t.Fatalf("available: got %s want 600", liq.Available)
	}
}

func TestAccountLiquidity_DebtUsesLiveIndex(t *testing.T) {
	store, _, calc := fixture(t)

	m := store.GetMarket("USDC")
	m.BorrowIndex = fpmath.WadFromFraction(12, 10)
	store.PutMarket(m)

	pos := state.NewPosition("alice", "USDC")
	pos.BorrowPrincipal = big.NewInt(1000)
	pos.InterestIndex = fpmath.Clone(fpmath.WAD)
	store.PutPosition(pos)
	store.AddMembership("alice", "USDC")

	liq, err := calc.AccountLiquidity(store, "alice", nil)
	if err != nil {
		t.Fatalf("liquidity: %v", err)
	}
	// Debt 1000 × 1.2 = 1200 with no collateral.
	if liq.Shortfall.Cmp(big.NewInt(1200)) != 0 {
		t.Fatalf("shortfall: got %s want 1200", liq.Shortfall)
	}
}

func TestAccountLiquidity_MissingPriceAborts(t *testing.T) {
	store, prices, calc := fixture(t)

	pos := state.NewPosition("alice", "WETH")
	pos.Shares = big.NewInt(1)
	store.PutPosition(pos)
	store.AddMembership("alice", "WETH")
	store.AddMembership("alice", "USDC")

	// Even though USDC still prices fine, a single missing price poisons
	// the whole sweep.
	prices.SetPrice("WETH", big.NewInt(0))

	if _, err := calc.AccountLiquidity(store, "alice", nil); !errors.Is(err, oracle.ErrPriceUnavailable) {
		t.Fatalf("expected ErrPriceUnavailable, got %v", err)
	}
}

func TestMaxClose(t *testing.T) {
	calc := risk.NewCalculator(oracle.NewStaticOracle(), risk.DefaultParams())
	// closeFactor 0.5 on debt 200 → 100.
	if got := calc.MaxClose(big.NewInt(200)); got.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("max close: got %s want 100", got)
	}
}

func TestSeizeShares(t *testing.T) {
	calc := risk.NewCalculator(oracle.NewStaticOracle(), risk.DefaultParams())

	// repay 100 of a 1.0-priced asset, incentive 1.08, collateral priced 2.0
	// at exchange rate 1.0 → 100×1×1.08/2/1 = 54 shares.
	got := calc.SeizeShares(
		big.NewInt(100),
		fpmath.Wad(1),
		fpmath.Wad(2),
		fpmath.Clone(fpmath.WAD),
	)
	if got.Cmp(big.NewInt(54)) != 0 {
		t.Fatalf("seize shares: got %s want 54", got)
	}
}

func TestSeizeShares_TruncatesEachStep(t *testing.T) {
	calc := risk.NewCalculator(oracle.NewStaticOracle(), risk.DefaultParams())

	// repay 1 × price 1 × 1.08 = 1 after truncation (1.08 → 1 in integer
	// units), then ÷ price 1 ÷ rate 1 = 1. Step-wise truncation means the
	// liquidator never picks up a rounding bonus.
	got := calc.SeizeShares(
		big.NewInt(1),
		fpmath.Wad(1),
		fpmath.Wad(1),
		fpmath.Clone(fpmath.WAD),
	)
	if got.Cmp(big.NewInt(1)) != 0 {
		t.Fatalf("seize shares: got %s want 1", got)
	}
}
