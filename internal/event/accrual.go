package event

import (
	"fmt"
	"math/big"
)

// InterestAccrued is emitted by core when an accrual pass moves a market's
// index. It is derived, never ingested: its idempotency key is synthesized
// from the market and accrual timestamp.
type InterestAccrued struct {
	Market          string
	Timestamp       int64 // unix seconds of the accrual
	Elapsed         int64 // seconds covered by this accrual
	BorrowRate      *big.Int
	BorrowIndex     *big.Int // index after accrual
	InterestAccrued *big.Int // underlying units added to totalBorrows
	ReservesAdded   *big.Int
	Sequence        int64
}

func (a *InterestAccrued) IdempotencyKey() string {
	return fmt.Sprintf("accrue:%s:%d", a.Market, a.Timestamp)
}

func (a *InterestAccrued) EventType() EventType {
	return EventTypeInterestAccrued
}

func (a *InterestAccrued) MarketID() *string {
	return &a.Market
}

func (a *InterestAccrued) SourceSequence() int64 {
	return a.Sequence
}
