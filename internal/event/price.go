package event

import (
	"fmt"
	"math/big"
)

// PriceUpdate carries a WAD-scaled oracle price for one asset. Updates are
// keyed by asset + feed sequence so replays dedupe naturally.
type PriceUpdate struct {
	Asset     string
	Price     *big.Int
	Sequence  int64
	Timestamp int64 // unix seconds, versioned input
}

func (p *PriceUpdate) IdempotencyKey() string {
	return fmt.Sprintf("price:%s:%d", p.Asset, p.Sequence)
}

func (p *PriceUpdate) EventType() EventType {
	return EventTypePriceUpdate
}

func (p *PriceUpdate) MarketID() *string {
	return nil // prices are per-asset, not per-market
}

func (p *PriceUpdate) SourceSequence() int64 {
	return p.Sequence
}
