package event

import (
	"math/big"

	"github.com/google/uuid"
)

// MarketListed activates a market for use. Listing is one-way.
type MarketListed struct {
	OpID             uuid.UUID
	Admin            string
	Market           string
	Asset            string
	CollateralFactor *big.Int
	ReserveFactor    *big.Int
	Sequence         int64
	Timestamp        int64 // unix seconds, versioned input
}

func (m *MarketListed) IdempotencyKey() string {
	return m.OpID.String()
}

func (m *MarketListed) EventType() EventType {
	return EventTypeMarketListed
}

func (m *MarketListed) MarketID() *string {
	return &m.Market
}

func (m *MarketListed) SourceSequence() int64 {
	return m.Sequence
}

// CollateralFactorUpdated sets a market's collateral factor, bounded [0, 0.9].
type CollateralFactorUpdated struct {
	OpID      uuid.UUID
	Admin     string
	Market    string
	Factor    *big.Int
	Sequence  int64
	Timestamp int64 // unix seconds, versioned input
}

func (c *CollateralFactorUpdated) IdempotencyKey() string {
	return c.OpID.String()
}

func (c *CollateralFactorUpdated) EventType() EventType {
	return EventTypeCollateralFactorUpdated
}

func (c *CollateralFactorUpdated) MarketID() *string {
	return &c.Market
}

func (c *CollateralFactorUpdated) SourceSequence() int64 {
	return c.Sequence
}

// ReserveFactorUpdated sets a market's reserve factor, bounded [0, 1].
type ReserveFactorUpdated struct {
	OpID      uuid.UUID
	Admin     string
	Market    string
	Factor    *big.Int
	Sequence  int64
	Timestamp int64 // unix seconds, versioned input
}

func (r *ReserveFactorUpdated) IdempotencyKey() string {
	return r.OpID.String()
}

func (r *ReserveFactorUpdated) EventType() EventType {
	return EventTypeReserveFactorUpdated
}

func (r *ReserveFactorUpdated) MarketID() *string {
	return &r.Market
}

func (r *ReserveFactorUpdated) SourceSequence() int64 {
	return r.Sequence
}

// BorrowCapUpdated sets the total-borrow ceiling; zero removes the cap.
type BorrowCapUpdated struct {
	OpID      uuid.UUID
	Admin     string
	Market    string
	Cap       *big.Int
	Sequence  int64
	Timestamp int64 // unix seconds, versioned input
}

func (b *BorrowCapUpdated) IdempotencyKey() string {
	return b.OpID.String()
}

func (b *BorrowCapUpdated) EventType() EventType {
	return EventTypeBorrowCapUpdated
}

func (b *BorrowCapUpdated) MarketID() *string {
	return &b.Market
}

func (b *BorrowCapUpdated) SourceSequence() int64 {
	return b.Sequence
}

// PauseUpdated toggles supply and/or borrow pauses on a market.
type PauseUpdated struct {
	OpID         uuid.UUID
	Admin        string
	Market       string
	SupplyPaused bool
	BorrowPaused bool
	Sequence     int64
	Timestamp    int64 // unix seconds, versioned input
}

func (p *PauseUpdated) IdempotencyKey() string {
	return p.OpID.String()
}

func (p *PauseUpdated) EventType() EventType {
	return EventTypePauseUpdated
}

func (p *PauseUpdated) MarketID() *string {
	return &p.Market
}

func (p *PauseUpdated) SourceSequence() int64 {
	return p.Sequence
}
