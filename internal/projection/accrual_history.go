package projection

import (
	"math/big"
	"sync"

	fpmath "LendLedger/internal/math"
)

// AccrualEntry records one interest accrual for query consumers.
type AccrualEntry struct {
	MarketID        string
	Timestamp       int64
	Elapsed         int64
	BorrowRate      *big.Int
	BorrowIndex     *big.Int
	InterestAccrued *big.Int
	ReservesAdded   *big.Int
	Sequence        int64
}

// LiquidationEntry records one executed liquidation.
type LiquidationEntry struct {
	Liquidator       string
	Borrower         string
	BorrowMarket     string
	CollateralMarket string
	AmountApplied    *big.Int
	SharesSeized     *big.Int
	Timestamp        int64
	Sequence         int64
}

// HistoryProjection keeps a bounded in-memory ring of recent accruals and
// liquidations for the query surface. Older entries age out; the full
// history lives in the event log.
type HistoryProjection struct {
	mu           sync.RWMutex
	maxEntries   int
	accruals     []AccrualEntry
	liquidations []LiquidationEntry
}

func NewHistoryProjection(maxEntries int) *HistoryProjection {
	if maxEntries <= 0 {
		maxEntries = 10_000
	}
	return &HistoryProjection{maxEntries: maxEntries}
}

// AddAccrual records an interest accrual.
func (p *HistoryProjection) AddAccrual(e AccrualEntry) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.accruals = append(p.accruals, e)
	if len(p.accruals) > p.maxEntries {
		p.accruals = p.accruals[len(p.accruals)-p.maxEntries:]
	}
}

// AddLiquidation records an executed liquidation.
func (p *HistoryProjection) AddLiquidation(e LiquidationEntry) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.liquidations = append(p.liquidations, e)
	if len(p.liquidations) > p.maxEntries {
		p.liquidations = p.liquidations[len(p.liquidations)-p.maxEntries:]
	}
}

// AccrualsByMarket returns the most recent accruals for a market, newest
// first, up to limit.
func (p *HistoryProjection) AccrualsByMarket(marketID string, limit int) []AccrualEntry {
	p.mu.RLock()
	defer p.mu.RUnlock()

	result := make([]AccrualEntry, 0, limit)
	for i := len(p.accruals) - 1; i >= 0 && len(result) < limit; i-- {
		if p.accruals[i].MarketID == marketID {
			result = append(result, cloneAccrual(p.accruals[i]))
		}
	}
	return result
}

// LiquidationsByBorrower returns the most recent liquidations against a
// borrower, newest first, up to limit.
func (p *HistoryProjection) LiquidationsByBorrower(borrower string, limit int) []LiquidationEntry {
	p.mu.RLock()
	defer p.mu.RUnlock()

	result := make([]LiquidationEntry, 0, limit)
	for i := len(p.liquidations) - 1; i >= 0 && len(result) < limit; i-- {
		if p.liquidations[i].Borrower == borrower {
			result = append(result, cloneLiquidation(p.liquidations[i]))
		}
	}
	return result
}

func cloneAccrual(e AccrualEntry) AccrualEntry {
	e.BorrowRate = fpmath.Clone(e.BorrowRate)
	e.BorrowIndex = fpmath.Clone(e.BorrowIndex)
	e.InterestAccrued = fpmath.Clone(e.InterestAccrued)
	e.ReservesAdded = fpmath.Clone(e.ReservesAdded)
	return e
}

func cloneLiquidation(e LiquidationEntry) LiquidationEntry {
	e.AmountApplied = fpmath.Clone(e.AmountApplied)
	e.SharesSeized = fpmath.Clone(e.SharesSeized)
	return e
}
