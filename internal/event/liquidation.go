package event

import (
	"math/big"

	"github.com/google/uuid"
)

// Liquidate is a liquidator repaying part of an underwater account's debt in
// BorrowMarket and seizing discounted collateral shares in CollateralMarket.
type Liquidate struct {
	OpID             uuid.UUID
	Liquidator       string
	Borrower         string
	BorrowMarket     string
	CollateralMarket string
	RepayAmount      *big.Int
	Sequence         int64
	Timestamp        int64 // unix seconds, versioned input
	// Filled by core on success.
	AmountApplied *big.Int
	SharesSeized  *big.Int
}

func (l *Liquidate) IdempotencyKey() string {
	return l.OpID.String()
}

func (l *Liquidate) EventType() EventType {
	return EventTypeLiquidate
}

func (l *Liquidate) MarketID() *string {
	return &l.BorrowMarket
}

func (l *Liquidate) SourceSequence() int64 {
	return l.Sequence
}
