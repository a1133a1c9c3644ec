package core

import (
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"LendLedger/internal/event"
	"LendLedger/internal/ledger"
	"LendLedger/internal/observability"
	"LendLedger/internal/oracle"
	"LendLedger/internal/state"
	"LendLedger/internal/vault"
)

// DeterministicCore is the strictly serialized event processor. It owns the
// pipeline around the ledger: dedup, source-sequence validation, dispatch,
// state hashing, and emission to the persistence and projection channels.
// All state mutation flows through ProcessEvent (live) or ReplayEvent
// (recovery); both assign global sequence numbers and extend the hash chain
// the same way, so a replayed log reproduces the live chain byte for byte.
// One mutex serializes the whole engine — processing, replay, and snapshot
// reads may be driven from any goroutine.
type DeterministicCore struct {
	mu sync.Mutex

	sequence          int64
	hasher            *StateHasher
	ledger            *ledger.Ledger
	prices            *oracle.FeedOracle
	idempotency       *IdempotencyChecker
	sequenceValidator *SequenceValidator
	metrics           *observability.Metrics

	persistChan    chan<- CoreOutput
	projectionChan chan<- CoreOutput
}

// CoreOutput is one emitted envelope plus the typed event and copies of the
// state it touched, for persistence, projections, and outbound publishing.
type CoreOutput struct {
	Envelope  *event.EventEnvelope
	Event     event.Event
	Markets   []*state.Market
	Positions []*state.Position
}

func NewDeterministicCore(
	startSequence int64,
	ldg *ledger.Ledger,
	prices *oracle.FeedOracle,
	persistChan, projectionChan chan<- CoreOutput,
	dbChecker DBIdempotencyChecker,
	metrics *observability.Metrics,
) *DeterministicCore {
	return &DeterministicCore{
		sequence:          startSequence,
		hasher:            NewStateHasher(),
		ledger:            ldg,
		prices:            prices,
		idempotency:       NewIdempotencyChecker(1_000_000, dbChecker),
		sequenceValidator: NewSequenceValidator(),
		metrics:           metrics,
		persistChan:       persistChan,
		projectionChan:    projectionChan,
	}
}

// ProcessEvent is the main processing pipeline
func (c *DeterministicCore) ProcessEvent(evt event.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	start := time.Now()
	eventType := evt.EventType().String()
	idempotencyKey := evt.IdempotencyKey()

	// Step 1: Idempotency check (two-tier)
	isDuplicate := c.idempotency.IsDuplicate(eventType, idempotencyKey)

	// Step 2: Sequence validation. Price feeds are lossy (gaps tolerated,
	// stale skipped); accrual events are derived from operations and carry
	// no partition of their own; everything else validates strictly.
	switch e := evt.(type) {
	case *event.PriceUpdate:
		if !c.sequenceValidator.CheckPriceSequence(e.Asset, e.Sequence) {
			c.recordRejected(eventType, "stale_price")
			return nil
		}
	case *event.InterestAccrued:
		// No partition to advance.
	default:
		partition := c.getPartition(evt)
		if err := c.sequenceValidator.ValidateSequence(partition, evt.SourceSequence(), idempotencyKey, isDuplicate); err != nil {
			c.recordRejected(eventType, "sequence")
			return fmt.Errorf("sequence validation failed: %w", err)
		}
	}

	// If duplicate, skip processing
	if isDuplicate {
		c.recordRejected(eventType, "duplicate")
		return nil
	}

	// Step 3: Dispatch to the ledger
	dispatchErr := c.applyEvent(evt)

	// Step 4: Emit. A failed dispatch left the store untouched, so the
	// accruals it staged are discarded with it — nothing reaches the log.
	if dispatchErr != nil {
		c.ledger.DrainAccruals()
		reason := rejectionReason(dispatchErr)
		c.recordRejected(eventType, reason)
		if liq, ok := evt.(*event.Liquidate); ok && c.metrics != nil {
			c.metrics.LiquidationsRejected.WithLabelValues(liq.BorrowMarket, reason).Inc()
		}
		return fmt.Errorf("dispatch failed: %w", dispatchErr)
	}

	// The operation's envelope goes first, then the interest accruals it
	// staged. Every envelope emitted here hashes the store as it stands at
	// emission, which is exactly what a later replay reproduces.
	c.emit(evt)
	c.idempotency.MarkProcessed(eventType, idempotencyKey)

	for _, acc := range c.ledger.DrainAccruals() {
		acc.Sequence = evt.SourceSequence()
		c.emit(acc)
		c.idempotency.MarkProcessed(acc.EventType().String(), acc.IdempotencyKey())
		if c.metrics != nil {
			c.metrics.AccrualsApplied.WithLabelValues(acc.Market).Inc()
			c.metrics.AccrualElapsed.WithLabelValues(acc.Market).Observe(float64(acc.Elapsed))
		}
	}

	// Record metrics
	if c.metrics != nil {
		c.metrics.CoreEventsApplied.WithLabelValues(eventType).Inc()
		c.metrics.CoreEventDuration.WithLabelValues(eventType).Observe(time.Since(start).Seconds())
		c.metrics.CoreSequence.Set(float64(c.sequence))
		if liq, ok := evt.(*event.Liquidate); ok {
			c.metrics.LiquidationsExecuted.WithLabelValues(liq.BorrowMarket, liq.CollateralMarket).Inc()
		}
	}

	return nil
}

// ReplayEvent re-applies a logged event during recovery. It mirrors
// ProcessEvent's state transitions and hash-chain arithmetic but skips the
// idempotency dedup (the log rows being replayed are by definition already
// in the event log) and emits nothing to the output channels.
func (c *DeterministicCore) ReplayEvent(evt event.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	eventType := evt.EventType().String()
	idempotencyKey := evt.IdempotencyKey()

	switch e := evt.(type) {
	case *event.PriceUpdate:
		if c.sequenceValidator.CheckPriceSequence(e.Asset, e.Sequence) {
			c.prices.Update(e.Asset, e.Price)
		}
	case *event.InterestAccrued:
		// A no-op when the operation row just replayed already advanced the
		// market to this timestamp; applies standalone accrual rows.
		if _, err := c.ledger.AccrueInterest(e.Market, e.Timestamp); err != nil {
			return fmt.Errorf("replay accrual %s: %w", e.Market, err)
		}
	default:
		partition := c.getPartition(evt)
		if err := c.sequenceValidator.ValidateSequence(partition, evt.SourceSequence(), idempotencyKey, false); err != nil {
			return fmt.Errorf("replay sequence: %w", err)
		}
		if err := c.applyEvent(evt); err != nil {
			c.ledger.DrainAccruals()
			return fmt.Errorf("replay dispatch: %w", err)
		}
		// The op's accruals are logged as their own rows; the state change
		// just happened as part of the op, so the drained events are not
		// re-emitted here.
		c.ledger.DrainAccruals()
	}

	c.hasher.ComputeHash(c.sequence, c.ledger.Store().CanonicalBytes())
	c.sequence++
	c.idempotency.MarkProcessed(eventType, idempotencyKey)
	return nil
}

// emit assigns the next global sequence, extends the hash chain over the
// store's canonical bytes, and pushes the output to the persist channel
// (blocking — backpressure) and projection channel (non-blocking — drop).
func (c *DeterministicCore) emit(evt event.Event) {
	hashStart := time.Now()
	digest := c.ledger.Store().CanonicalBytes()
	prevHash := c.hasher.GetPrevHash()
	stateHash := c.hasher.ComputeHash(c.sequence, digest)
	if c.metrics != nil {
		c.metrics.CoreStateHashDur.Observe(time.Since(hashStart).Seconds())
	}

	envelope := &event.EventEnvelope{
		Sequence:       c.sequence,
		IdempotencyKey: evt.IdempotencyKey(),
		EventType:      evt.EventType(),
		MarketID:       evt.MarketID(),
		Timestamp:      time.Unix(c.getEventTimestamp(evt), 0).UTC(),
		SourceSequence: evt.SourceSequence(),
		StateHash:      stateHash,
		PrevHash:       prevHash,
	}

	markets, positions := c.collectDeltas(evt)

	output := CoreOutput{
		Envelope:  envelope,
		Event:     evt,
		Markets:   markets,
		Positions: positions,
	}

	c.sequence++

	// Persistence: blocking send — the core stalls until the persistence
	// worker drains. This guarantees no event is lost.
	c.persistChan <- output

	// Projections: non-blocking send — drop on full. Projection workers
	// can rebuild from the event log if they fall behind.
	select {
	case c.projectionChan <- output:
	default:
		if c.metrics != nil {
			c.metrics.ProjectionDrops.WithLabelValues("core").Inc()
		}
	}
}

// applyEvent routes an event to its ledger operation. Timestamps are
// versioned inputs carried by the event — the core never reads the clock.
func (c *DeterministicCore) applyEvent(evt event.Event) error {
	switch e := evt.(type) {
	case *event.Supply:
		return c.ledger.Supply(e, e.Timestamp)
	case *event.Withdraw:
		return c.ledger.Withdraw(e, e.Timestamp)
	case *event.Borrow:
		return c.ledger.Borrow(e, e.Timestamp)
	case *event.Repay:
		return c.ledger.Repay(e, e.Timestamp)
	case *event.Liquidate:
		return c.ledger.Liquidate(e, e.Timestamp)
	case *event.MarketEntered:
		return c.ledger.EnterMarket(e, e.Timestamp)
	case *event.MarketExited:
		return c.ledger.ExitMarket(e, e.Timestamp)
	case *event.PriceUpdate:
		c.prices.Update(e.Asset, e.Price)
		return nil
	case *event.InterestAccrued:
		_, err := c.ledger.AccrueInterest(e.Market, e.Timestamp)
		return err
	case *event.MarketListed:
		return c.ledger.ListMarket(e, e.Timestamp)
	case *event.CollateralFactorUpdated:
		return c.ledger.SetCollateralFactor(e, e.Timestamp)
	case *event.ReserveFactorUpdated:
		return c.ledger.SetReserveFactor(e, e.Timestamp)
	case *event.BorrowCapUpdated:
		return c.ledger.SetBorrowCap(e, e.Timestamp)
	case *event.PauseUpdated:
		return c.ledger.SetPaused(e, e.Timestamp)
	default:
		return fmt.Errorf("unknown event type: %T", evt)
	}
}

// getPartition determines partition key for sequence validation
func (c *DeterministicCore) getPartition(evt event.Event) string {
	if marketID := evt.MarketID(); marketID != nil {
		return fmt.Sprintf("market:%s", *marketID)
	}
	return "global"
}

// getEventTimestamp extracts the versioned timestamp from an event. The
// core MUST NOT call time.Now(); every event carries its own timestamp.
func (c *DeterministicCore) getEventTimestamp(evt event.Event) int64 {
	switch e := evt.(type) {
	case *event.Supply:
		return e.Timestamp
	case *event.Withdraw:
		return e.Timestamp
	case *event.Borrow:
		return e.Timestamp
	case *event.Repay:
		return e.Timestamp
	case *event.Liquidate:
		return e.Timestamp
	case *event.MarketEntered:
		return e.Timestamp
	case *event.MarketExited:
		return e.Timestamp
	case *event.PriceUpdate:
		return e.Timestamp
	case *event.InterestAccrued:
		return e.Timestamp
	case *event.MarketListed:
		return e.Timestamp
	case *event.CollateralFactorUpdated:
		return e.Timestamp
	case *event.ReserveFactorUpdated:
		return e.Timestamp
	case *event.BorrowCapUpdated:
		return e.Timestamp
	case *event.PauseUpdated:
		return e.Timestamp
	default:
		panic(fmt.Sprintf("FATAL: getEventTimestamp called with unhandled event type %T — deterministic core cannot use wall-clock time", evt))
	}
}

// collectDeltas returns post-apply copies of the markets and positions the
// event touched, for projections and outbound publishing.
func (c *DeterministicCore) collectDeltas(evt event.Event) ([]*state.Market, []*state.Position) {
	store := c.ledger.Store()

	var marketIDs []string
	var positionKeys []state.PositionKey

	switch e := evt.(type) {
	case *event.Supply:
		marketIDs = []string{e.Market}
		positionKeys = []state.PositionKey{{Account: e.Account, MarketID: e.Market}}
	case *event.Withdraw:
		marketIDs = []string{e.Market}
		positionKeys = []state.PositionKey{{Account: e.Account, MarketID: e.Market}}
	case *event.Borrow:
		marketIDs = []string{e.Market}
		positionKeys = []state.PositionKey{{Account: e.Account, MarketID: e.Market}}
	case *event.Repay:
		marketIDs = []string{e.Market}
		positionKeys = []state.PositionKey{{Account: e.Account, MarketID: e.Market}}
	case *event.Liquidate:
		marketIDs = []string{e.BorrowMarket, e.CollateralMarket}
		positionKeys = []state.PositionKey{
			{Account: e.Borrower, MarketID: e.BorrowMarket},
			{Account: e.Borrower, MarketID: e.CollateralMarket},
			{Account: e.Liquidator, MarketID: e.CollateralMarket},
		}
	case *event.MarketEntered:
		positionKeys = []state.PositionKey{{Account: e.Account, MarketID: e.Market}}
	case *event.MarketExited:
		positionKeys = []state.PositionKey{{Account: e.Account, MarketID: e.Market}}
	case *event.InterestAccrued:
		marketIDs = []string{e.Market}
	case *event.MarketListed:
		marketIDs = []string{e.Market}
	case *event.CollateralFactorUpdated:
		marketIDs = []string{e.Market}
	case *event.ReserveFactorUpdated:
		marketIDs = []string{e.Market}
	case *event.BorrowCapUpdated:
		marketIDs = []string{e.Market}
	case *event.PauseUpdated:
		marketIDs = []string{e.Market}
	}

	var markets []*state.Market
	for _, id := range marketIDs {
		if m := store.GetMarket(id); m != nil {
			markets = append(markets, m)
		}
	}
	var positions []*state.Position
	for _, key := range positionKeys {
		positions = append(positions, store.GetPosition(key.Account, key.MarketID))
	}
	return markets, positions
}

func (c *DeterministicCore) recordRejected(eventType, reason string) {
	if c.metrics != nil {
		c.metrics.CoreEventsRejected.WithLabelValues(eventType, reason).Inc()
	}
}

// rejectionReason folds a dispatch error into a bounded metric label.
func rejectionReason(err error) string {
	switch {
	case errors.Is(err, ledger.ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, ledger.ErrMarketNotListed):
		return "market_not_listed"
	case errors.Is(err, ledger.ErrMarketAlreadyListed):
		return "already_listed"
	case errors.Is(err, ledger.ErrInsufficientCash):
		return "insufficient_cash"
	case errors.Is(err, ledger.ErrInsufficientLiquidity):
		return "insufficient_liquidity"
	case errors.Is(err, ledger.ErrNotLiquidatable):
		return "not_liquidatable"
	case errors.Is(err, ledger.ErrRepayTooLarge):
		return "repay_too_large"
	case errors.Is(err, ledger.ErrRepayExceedsDebt):
		return "repay_exceeds_debt"
	case errors.Is(err, ledger.ErrInsufficientCollateral):
		return "insufficient_collateral"
	case errors.Is(err, ledger.ErrTooManyMarkets):
		return "too_many_markets"
	case errors.Is(err, ledger.ErrNonzeroBalance):
		return "nonzero_balance"
	case errors.Is(err, ledger.ErrBorrowCapExceeded):
		return "borrow_cap"
	case errors.Is(err, ledger.ErrMarketPaused):
		return "paused"
	case errors.Is(err, ledger.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, oracle.ErrPriceUnavailable):
		return "price_unavailable"
	case errors.Is(err, vault.ErrInsufficientFunds):
		return "insufficient_funds"
	default:
		return "error"
	}
}

// --- Snapshot Restore & Startup Methods ---

// SnapshotState holds the serializable in-memory state for restore.
// This mirrors persistence.SnapshotData but uses typed fields.
type SnapshotState struct {
	Sequence        int64
	StateHash       [32]byte
	Markets         []*state.Market
	Positions       []*state.Position
	Memberships     map[string][]string
	Prices          map[string]*big.Int
	SequenceState   map[string]int64
	IdempotencyKeys []string
}

// RestoreFromSnapshot restores the core's in-memory state from a snapshot.
// On warm restart: load latest snapshot, restore, then replay events.
func (c *DeterministicCore) RestoreFromSnapshot(snap *SnapshotState) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Next sequence to assign
	c.sequence = snap.Sequence + 1

	// Restore state hash chain
	c.hasher.SetPrevHash(snap.StateHash)

	store := c.ledger.Store()
	for _, m := range snap.Markets {
		store.PutMarket(m.Clone())
	}
	for _, p := range snap.Positions {
		store.PutPosition(p.Clone())
	}
	for account, markets := range snap.Memberships {
		for _, marketID := range markets {
			store.AddMembership(account, marketID)
		}
	}

	c.prices.Restore(snap.Prices)

	for partition, nextSeq := range snap.SequenceState {
		c.sequenceValidator.RestorePartition(partition, nextSeq)
	}
}

// WarmLRU loads recent idempotency keys into the LRU cache, avoiding
// cold-path DB lookups for recently processed events.
func (c *DeterministicCore) WarmLRU(keys []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.idempotency.lru.WarmFromKeys(keys)
}

// GetSequence returns the next global sequence number to assign.
func (c *DeterministicCore) GetSequence() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sequence
}

// GetStateHash returns the current state hash (chain tip).
func (c *DeterministicCore) GetStateHash() [32]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hasher.GetPrevHash()
}

// CreateSnapshotState captures the current in-memory state for persistence.
// The engine mutex holds processing off while the copy is taken, so the
// snapshot is consistent with the sequence and chain tip it records.
func (c *DeterministicCore) CreateSnapshotState() *SnapshotState {
	c.mu.Lock()
	defer c.mu.Unlock()

	store := c.ledger.Store()

	markets := make([]*state.Market, 0)
	for _, id := range store.MarketIDs() {
		markets = append(markets, store.GetMarket(id))
	}
	positions := make([]*state.Position, 0)
	for _, key := range store.PositionKeys() {
		positions = append(positions, store.GetPosition(key.Account, key.MarketID))
	}
	memberships := make(map[string][]string)
	for _, account := range store.MemberAccounts() {
		memberships[account] = store.Memberships(account)
	}

	return &SnapshotState{
		Sequence:        c.sequence - 1, // Last processed sequence
		StateHash:       c.hasher.GetPrevHash(),
		Markets:         markets,
		Positions:       positions,
		Memberships:     memberships,
		Prices:          c.prices.Snapshot(),
		SequenceState:   c.sequenceValidator.GetAllPartitions(),
		IdempotencyKeys: c.idempotency.lru.GetAllKeys(),
	}
}
