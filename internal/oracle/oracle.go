package oracle

import (
	"errors"
	"math/big"
	"sync"

	fpmath "LendLedger/internal/math"
)

// ErrPriceUnavailable is returned when no price is known for an asset.
// Solvency checks treat this as fatal — a missing price must never be read
// as a zero valuation.
var ErrPriceUnavailable = errors.New("oracle: price unavailable")

// PriceOracle resolves an asset symbol to its WAD-scaled price in the
// reference unit of account. Implementations own any staleness or deviation
// policy; the ledger consumes prices as-is.
type PriceOracle interface {
	Price(asset string) (*big.Int, error)
}

// StaticOracle is a fixed price table, set by admin or test fixtures.
type StaticOracle struct {
	prices map[string]*big.Int
}

func NewStaticOracle() *StaticOracle {
	return &StaticOracle{prices: make(map[string]*big.Int)}
}

func (o *StaticOracle) SetPrice(asset string, price *big.Int) {
	o.prices[asset] = fpmath.Clone(price)
}

func (o *StaticOracle) Price(asset string) (*big.Int, error) {
	price, ok := o.prices[asset]
	if !ok || price.Sign() <= 0 {
		return nil, ErrPriceUnavailable
	}
	return fpmath.Clone(price), nil
}

// FeedOracle holds the latest price per asset pushed from an external feed
// (the NATS price subjects). Last write wins; assets never seen report
// ErrPriceUnavailable. Reads and writes may come from different goroutines
// (feed updates vs the engine), so access is guarded.
type FeedOracle struct {
	mu     sync.RWMutex
	prices map[string]*big.Int
}

func NewFeedOracle() *FeedOracle {
	return &FeedOracle{prices: make(map[string]*big.Int)}
}

// Update records a new price. Non-positive prices clear the entry so a
// poisoned feed value surfaces as PriceUnavailable instead of a zero value.
func (o *FeedOracle) Update(asset string, price *big.Int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !fpmath.IsPositive(price) {
		delete(o.prices, asset)
		return
	}
	o.prices[asset] = fpmath.Clone(price)
}

func (o *FeedOracle) Price(asset string) (*big.Int, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	price, ok := o.prices[asset]
	if !ok {
		return nil, ErrPriceUnavailable
	}
	return fpmath.Clone(price), nil
}

// Snapshot returns a copy of every known price, for snapshot persistence.
func (o *FeedOracle) Snapshot() map[string]*big.Int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make(map[string]*big.Int, len(o.prices))
	for asset, price := range o.prices {
		out[asset] = fpmath.Clone(price)
	}
	return out
}

// Restore loads prices from a snapshot, replacing existing entries.
func (o *FeedOracle) Restore(prices map[string]*big.Int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for asset, price := range prices {
		if fpmath.IsPositive(price) {
			o.prices[asset] = fpmath.Clone(price)
		}
	}
}
