package event

import (
	"math/big"

	"github.com/google/uuid"
)

// Supply is a user depositing underlying into a market pool for shares.
type Supply struct {
	OpID      uuid.UUID
	Account   string
	Market    string
	Amount    *big.Int // underlying units requested
	Sequence  int64
	Timestamp int64 // unix seconds, versioned input
	// Filled by core on success.
	AmountReceived *big.Int // actual units after transfer fees
	SharesMinted   *big.Int
}

func (s *Supply) IdempotencyKey() string {
	return s.OpID.String()
}

func (s *Supply) EventType() EventType {
	return EventTypeSupply
}

func (s *Supply) MarketID() *string {
	return &s.Market
}

func (s *Supply) SourceSequence() int64 {
	return s.Sequence
}

// Withdraw redeems supply shares back into underlying. Exactly one of
// Amount (underlying) or Shares is set on input; core resolves the other.
type Withdraw struct {
	OpID      uuid.UUID
	Account   string
	Market    string
	Amount    *big.Int // underlying units, nil when redeeming by shares
	Shares    *big.Int // share count, nil when redeeming by amount
	Sequence  int64
	Timestamp int64 // unix seconds, versioned input
	// Filled by core on success.
	SharesBurned *big.Int
	AmountPaid   *big.Int
}

func (w *Withdraw) IdempotencyKey() string {
	return w.OpID.String()
}

func (w *Withdraw) EventType() EventType {
	return EventTypeWithdraw
}

func (w *Withdraw) MarketID() *string {
	return &w.Market
}

func (w *Withdraw) SourceSequence() int64 {
	return w.Sequence
}
