package ingestion

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"LendLedger/internal/event"

	fpmath "LendLedger/internal/math"

	"github.com/google/uuid"
)

// IngestService provides admin/manual event injection from the API surface.
// This path is for admin operations and operational backfills, not for
// high-throughput ingestion (use NATS for that).
type IngestService struct {
	eventChan chan<- event.Event
}

func NewIngestService(eventChan chan<- event.Event) *IngestService {
	return &IngestService{eventChan: eventChan}
}

// EventChan exposes the injection channel for the server wiring.
func (s *IngestService) EventChan() chan<- event.Event {
	return s.eventChan
}

// Inject queues an already-built event for core processing.
func (s *IngestService) Inject(ctx context.Context, evt event.Event) error {
	select {
	case s.eventChan <- evt:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// InjectListMarket injects a MarketListed admin operation.
// Admin-injected operations use the wall-clock microsecond as their source
// sequence; the admin partition has no upstream sequencer.
func (s *IngestService) InjectListMarket(
	ctx context.Context,
	admin, marketID, asset string,
	collateralFactor, reserveFactor *big.Int,
) error {
	if collateralFactor == nil || reserveFactor == nil {
		return fmt.Errorf("collateral and reserve factors are required")
	}

	now := time.Now()
	evt := &event.MarketListed{
		OpID:             uuid.New(),
		Admin:            admin,
		Market:           marketID,
		Asset:            asset,
		CollateralFactor: fpmath.Clone(collateralFactor),
		ReserveFactor:    fpmath.Clone(reserveFactor),
		Sequence:         now.UnixMicro(),
		Timestamp:        now.Unix(),
	}
	return s.Inject(ctx, evt)
}

// InjectCollateralFactor injects a CollateralFactorUpdated admin operation.
func (s *IngestService) InjectCollateralFactor(
	ctx context.Context,
	admin, marketID string,
	factor *big.Int,
) error {
	if factor == nil {
		return fmt.Errorf("factor is required")
	}

	now := time.Now()
	evt := &event.CollateralFactorUpdated{
		OpID:      uuid.New(),
		Admin:     admin,
		Market:    marketID,
		Factor:    fpmath.Clone(factor),
		Sequence:  now.UnixMicro(),
		Timestamp: now.Unix(),
	}
	return s.Inject(ctx, evt)
}

// InjectReserveFactor injects a ReserveFactorUpdated admin operation.
func (s *IngestService) InjectReserveFactor(
	ctx context.Context,
	admin, marketID string,
	factor *big.Int,
) error {
	if factor == nil {
		return fmt.Errorf("factor is required")
	}

	now := time.Now()
	evt := &event.ReserveFactorUpdated{
		OpID:      uuid.New(),
		Admin:     admin,
		Market:    marketID,
		Factor:    fpmath.Clone(factor),
		Sequence:  now.UnixMicro(),
		Timestamp: now.Unix(),
	}
	return s.Inject(ctx, evt)
}

// InjectBorrowCap injects a BorrowCapUpdated admin operation.
func (s *IngestService) InjectBorrowCap(
	ctx context.Context,
	admin, marketID string,
	cap *big.Int,
) error {
	if cap == nil {
		return fmt.Errorf("cap is required")
	}

	now := time.Now()
	evt := &event.BorrowCapUpdated{
		OpID:      uuid.New(),
		Admin:     admin,
		Market:    marketID,
		Cap:       fpmath.Clone(cap),
		Sequence:  now.UnixMicro(),
		Timestamp: now.Unix(),
	}
	return s.Inject(ctx, evt)
}

// InjectPause injects a PauseUpdated admin operation.
func (s *IngestService) InjectPause(
	ctx context.Context,
	admin, marketID string,
	supplyPaused, borrowPaused bool,
) error {
	now := time.Now()
	evt := &event.PauseUpdated{
		OpID:         uuid.New(),
		Admin:        admin,
		Market:       marketID,
		SupplyPaused: supplyPaused,
		BorrowPaused: borrowPaused,
		Sequence:     now.UnixMicro(),
		Timestamp:    now.Unix(),
	}
	return s.Inject(ctx, evt)
}

// InjectPrice injects a PriceUpdate, e.g. for operational repair when a
// feed is down.
func (s *IngestService) InjectPrice(
	ctx context.Context,
	asset string,
	price *big.Int,
	priceSequence int64,
) error {
	if !fpmath.IsPositive(price) {
		return fmt.Errorf("price must be positive")
	}

	evt := &event.PriceUpdate{
		Asset:     asset,
		Price:     fpmath.Clone(price),
		Sequence:  priceSequence,
		Timestamp: time.Now().Unix(),
	}
	return s.Inject(ctx, evt)
}
