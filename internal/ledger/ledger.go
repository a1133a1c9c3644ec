package ledger

import (
	"fmt"
	"math/big"

	"LendLedger/internal/event"
	fpmath "LendLedger/internal/math"
	"LendLedger/internal/oracle"
	"LendLedger/internal/rates"
	"LendLedger/internal/risk"
	"LendLedger/internal/state"
	"LendLedger/internal/vault"
)

// Ledger applies lending operations to the market state. It is the pure
// accounting layer: no sequencing, no hashing, no I/O beyond the vault —
// the deterministic core drives it single-threaded and owns the pipeline.
//
// Operations follow a fixed shape: validate inputs, stage interest accrual
// on the operation's market copies, run solvency checks against those
// copies, move funds through the vault, and only then write the mutated
// copies back. A failure at any step leaves the ledger untouched — the
// accrual aborts with everything else.
type Ledger struct {
	store       *state.Store
	vault       vault.Vault
	prices      oracle.PriceOracle
	calc        *risk.Calculator
	models      map[string]*rates.JumpRateModel
	defaultRate *rates.JumpRateModel
	repayPolicy RepayPolicy
	auth        Authorizer

	// Accruals staged while handling an operation. The core drains them
	// after a successful operation and discards them when it fails; the
	// accrued state only reaches the store through the operation's own
	// success-path writes.
	pendingAccruals []*event.InterestAccrued
}

func NewLedger(store *state.Store, v vault.Vault, prices oracle.PriceOracle, calc *risk.Calculator) *Ledger {
	return &Ledger{
		store:       store,
		vault:       v,
		prices:      prices,
		calc:        calc,
		models:      make(map[string]*rates.JumpRateModel),
		defaultRate: rates.DefaultModel(),
	}
}

// SetRepayPolicy switches overpayment handling; CapRepay is the default.
func (l *Ledger) SetRepayPolicy(policy RepayPolicy) {
	l.repayPolicy = policy
}

// SetRateModel installs a per-market interest curve.
func (l *Ledger) SetRateModel(marketID string, model *rates.JumpRateModel) {
	l.models[marketID] = model
}

// Store exposes the underlying state for the core's hashing and queries.
func (l *Ledger) Store() *state.Store {
	return l.store
}

// Calculator exposes the risk calculator for query-side liquidity reads.
func (l *Ledger) Calculator() *risk.Calculator {
	return l.calc
}

func (l *Ledger) model(marketID string) *rates.JumpRateModel {
	if m, ok := l.models[marketID]; ok {
		return m
	}
	return l.defaultRate
}

// listedMarket fetches a market copy, failing if unknown or not listed.
func (l *Ledger) listedMarket(marketID string) (*state.Market, error) {
	m := l.store.GetMarket(marketID)
	if m == nil || !m.Listed {
		return nil, fmt.Errorf("%w: %s", ErrMarketNotListed, marketID)
	}
	return m, nil
}

// AccrueInterest advances a market to the given timestamp and commits the
// result. Idempotent per timestamp: a second call with the same now is a
// no-op. Returns the accrual event, or nil when nothing moved.
//
// Simple interest per accrual window: factor = borrowRate × elapsed, then
//
//	interest      = totalBorrows × factor
//	reservesAdded = interest × reserveFactor
//	borrowIndex  ×= (1 + factor)
//
// The index advances even with zero borrows so debt snapshots taken at any
// time scale consistently.
func (l *Ledger) AccrueInterest(marketID string, now int64) (*event.InterestAccrued, error) {
	m, err := l.listedMarket(marketID)
	if err != nil {
		return nil, err
	}
	evt := l.accrue(m, now)
	if evt == nil {
		return nil, nil
	}
	l.store.PutMarket(m)
	return evt, nil
}

// accrue mutates the market copy in place; the caller decides when to Put.
func (l *Ledger) accrue(m *state.Market, now int64) *event.InterestAccrued {
	if now <= m.LastAccrualTime {
		return nil
	}
	elapsed := now - m.LastAccrualTime

	borrowRate := l.model(m.MarketID).BorrowRate(m.Cash, m.TotalBorrows, m.TotalReserves)
	factor := new(big.Int).Mul(borrowRate, big.NewInt(elapsed))

	interest := fpmath.WadMul(m.TotalBorrows, factor)
	reservesAdded := fpmath.WadMul(interest, m.ReserveFactor)

	m.TotalBorrows = new(big.Int).Add(m.TotalBorrows, interest)
	m.TotalReserves = new(big.Int).Add(m.TotalReserves, reservesAdded)
	m.BorrowIndex = new(big.Int).Add(m.BorrowIndex, fpmath.WadMul(m.BorrowIndex, factor))
	m.LastAccrualTime = now

	return &event.InterestAccrued{
		Market:          m.MarketID,
		Timestamp:       now,
		Elapsed:         elapsed,
		BorrowRate:      borrowRate,
		BorrowIndex:     fpmath.Clone(m.BorrowIndex),
		InterestAccrued: interest,
		ReservesAdded:   reservesAdded,
	}
}

// stageAccrual accrues on the operation's market copy without touching the
// store. The copy carries the accrued values through the rest of the
// operation; they persist only when the operation writes the copy back on
// success, so a failed operation leaves no partial accrual behind.
func (l *Ledger) stageAccrual(m *state.Market, now int64) {
	evt := l.accrue(m, now)
	if evt == nil {
		return
	}
	l.pendingAccruals = append(l.pendingAccruals, evt)
}

// DrainAccruals hands out and clears the accruals staged since the last
// drain, in staging order. The caller emits them when the operation
// succeeded and discards them when it failed.
func (l *Ledger) DrainAccruals() []*event.InterestAccrued {
	out := l.pendingAccruals
	l.pendingAccruals = nil
	return out
}

// refreshDebt folds accrued interest into the position's principal and
// re-anchors its snapshot at the market's live index.
func refreshDebt(pos *state.Position, m *state.Market) *big.Int {
	debt := pos.CurrentDebt(m.BorrowIndex)
	pos.BorrowPrincipal = debt
	pos.InterestIndex = fpmath.Clone(m.BorrowIndex)
	return debt
}

// CurrentRates reports the live borrow/supply rates for a market.
func (l *Ledger) CurrentRates(marketID string) (rates.Rates, error) {
	m, err := l.listedMarket(marketID)
	if err != nil {
		return rates.Rates{}, err
	}
	return l.model(marketID).Rates(m.Cash, m.TotalBorrows, m.TotalReserves, m.ReserveFactor), nil
}

// AccountLiquidity reports the account's current liquidity standing.
func (l *Ledger) AccountLiquidity(account string) (risk.Liquidity, error) {
	return l.calc.AccountLiquidity(l.store, account, nil)
}
