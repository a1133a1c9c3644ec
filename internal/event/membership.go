package event

import "github.com/google/uuid"

// MarketEntered opts an account's holdings in a market into its collateral
// and debt accounting.
type MarketEntered struct {
	OpID      uuid.UUID
	Account   string
	Market    string
	Sequence  int64
	Timestamp int64 // unix seconds, versioned input
}

func (e *MarketEntered) IdempotencyKey() string {
	return e.OpID.String()
}

func (e *MarketEntered) EventType() EventType {
	return EventTypeMarketEntered
}

func (e *MarketEntered) MarketID() *string {
	return &e.Market
}

func (e *MarketEntered) SourceSequence() int64 {
	return e.Sequence
}

// MarketExited removes a market from the account's membership set.
type MarketExited struct {
	OpID      uuid.UUID
	Account   string
	Market    string
	Sequence  int64
	Timestamp int64 // unix seconds, versioned input
}

func (e *MarketExited) IdempotencyKey() string {
	return e.OpID.String()
}

func (e *MarketExited) EventType() EventType {
	return EventTypeMarketExited
}

func (e *MarketExited) MarketID() *string {
	return &e.Market
}

func (e *MarketExited) SourceSequence() int64 {
	return e.Sequence
}
