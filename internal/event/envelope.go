package event

import (
	"time"
)

// EventType discriminator for event payloads
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypeSupply
	EventTypeWithdraw
	EventTypeBorrow
	EventTypeRepay
	EventTypeLiquidate
	EventTypeMarketEntered
	EventTypeMarketExited
	EventTypeInterestAccrued
	EventTypePriceUpdate
	EventTypeMarketListed
	EventTypeCollateralFactorUpdated
	EventTypeReserveFactorUpdated
	EventTypeBorrowCapUpdated
	EventTypePauseUpdated
)

// EventEnvelope wraps every event in the log
type EventEnvelope struct {
	// Global monotonic sequence assigned by core
	Sequence int64

	// Stable idempotency key from upstream
	IdempotencyKey string

	// Event type discriminator
	EventType EventType

	// Market context (nullable for global events)
	MarketID *string

	// Versioned input timestamp (NOT wall-clock)
	Timestamp time.Time

	// Upstream sequence for ordering validation
	SourceSequence int64

	// JSON-encoded event-specific data
	Payload []byte

	// SHA-256 of state AFTER applying this event
	StateHash [32]byte

	// Previous event's state hash (chain integrity)
	PrevHash [32]byte
}

// Event is the interface all event payloads must implement
type Event interface {
	// IdempotencyKey returns the stable dedup key
	IdempotencyKey() string

	// EventType returns the discriminator
	EventType() EventType

	// MarketID returns the market context (nil for global events)
	MarketID() *string

	// SourceSequence returns upstream ordering key
	SourceSequence() int64
}

func (et EventType) String() string {
	switch et {
	case EventTypeSupply:
		return "Supply"
	case EventTypeWithdraw:
		return "Withdraw"
	case EventTypeBorrow:
		return "Borrow"
	case EventTypeRepay:
		return "Repay"
	case EventTypeLiquidate:
		return "Liquidate"
	case EventTypeMarketEntered:
		return "MarketEntered"
	case EventTypeMarketExited:
		return "MarketExited"
	case EventTypeInterestAccrued:
		return "InterestAccrued"
	case EventTypePriceUpdate:
		return "PriceUpdate"
	case EventTypeMarketListed:
		return "MarketListed"
	case EventTypeCollateralFactorUpdated:
		return "CollateralFactorUpdated"
	case EventTypeReserveFactorUpdated:
		return "ReserveFactorUpdated"
	case EventTypeBorrowCapUpdated:
		return "BorrowCapUpdated"
	case EventTypePauseUpdated:
		return "PauseUpdated"
	default:
		return "Unknown"
	}
}
