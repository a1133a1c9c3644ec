package event

import (
	"math/big"

	"github.com/google/uuid"
)

// Borrow draws underlying out of the pool against the account's collateral.
type Borrow struct {
	OpID      uuid.UUID
	Account   string
	Market    string
	Amount    *big.Int
	Sequence  int64
	Timestamp int64 // unix seconds, versioned input
}

func (b *Borrow) IdempotencyKey() string {
	return b.OpID.String()
}

func (b *Borrow) EventType() EventType {
	return EventTypeBorrow
}

func (b *Borrow) MarketID() *string {
	return &b.Market
}

func (b *Borrow) SourceSequence() int64 {
	return b.Sequence
}

// Repay pays down the account's debt. Payer may differ from the borrower
// (liquidations and third-party repays). A nil/zero Amount with Full set
// repays the entire live debt.
type Repay struct {
	OpID      uuid.UUID
	Payer     string
	Account   string
	Market    string
	Amount    *big.Int
	Full      bool
	Sequence  int64
	Timestamp int64 // unix seconds, versioned input
	// Filled by core on success.
	AmountApplied *big.Int
}

func (r *Repay) IdempotencyKey() string {
	return r.OpID.String()
}

func (r *Repay) EventType() EventType {
	return EventTypeRepay
}

func (r *Repay) MarketID() *string {
	return &r.Market
}

func (r *Repay) SourceSequence() int64 {
	return r.Sequence
}
