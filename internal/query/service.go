package query

import (
	"context"
	"database/sql"
	"fmt"
	"math/big"
	"time"

	"LendLedger/internal/observability"
	"LendLedger/internal/projection"
	"LendLedger/internal/risk"
	"LendLedger/internal/state"
)

// QueryService provides read-only access to the projection tables and the
// event log. All responses include as_of_sequence: the projection watermark
// at read time, so callers can gauge staleness against the event log.
type QueryService struct {
	db      *sql.DB
	calc    *risk.Calculator
	history *projection.HistoryProjection
	metrics *observability.Metrics
}

func NewQueryService(db *sql.DB, calc *risk.Calculator, history *projection.HistoryProjection, metrics *observability.Metrics) *QueryService {
	return &QueryService{db: db, calc: calc, history: history, metrics: metrics}
}

// GetMarket returns one market's projected state, or nil if unknown.
func (qs *QueryService) GetMarket(ctx context.Context, marketID string) (*MarketResponse, error) {
	defer qs.observe("get_market", time.Now())

	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, qs.fail("get_market", fmt.Errorf("watermark: %w", err))
	}

	row := qs.db.QueryRowContext(ctx, marketSelect+` WHERE market_id = $1`, marketID)
	m, err := scanMarket(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, qs.fail("get_market", err)
	}

	resp := marketToResponse(m, asOfSeq)
	return &resp, nil
}

// ListMarkets returns all listed markets.
func (qs *QueryService) ListMarkets(ctx context.Context) ([]MarketResponse, error) {
	defer qs.observe("list_markets", time.Now())

	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, qs.fail("list_markets", err)
	}

	rows, err := qs.db.QueryContext(ctx, marketSelect+` WHERE listed = TRUE ORDER BY market_id`)
	if err != nil {
		return nil, qs.fail("list_markets", err)
	}
	defer rows.Close()

	var markets []MarketResponse
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, qs.fail("list_markets", err)
		}
		markets = append(markets, marketToResponse(m, asOfSeq))
	}

	return markets, rows.Err()
}

// GetAccountPositions returns all non-empty positions for an account, with
// the current debt derived against each market's projected borrow index.
func (qs *QueryService) GetAccountPositions(ctx context.Context, account string) ([]PositionResponse, error) {
	defer qs.observe("get_positions", time.Now())

	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, qs.fail("get_positions", err)
	}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT p.account, p.market_id, p.shares::text, p.borrow_principal::text,
		       p.interest_index::text, p.version, m.borrow_index::text
		FROM projections.positions p
		JOIN projections.markets m ON m.market_id = p.market_id
		WHERE p.account = $1 AND (p.shares > 0 OR p.borrow_principal > 0)
		ORDER BY p.market_id
	`, account)
	if err != nil {
		return nil, qs.fail("get_positions", err)
	}
	defer rows.Close()

	var positions []PositionResponse
	for rows.Next() {
		var r PositionResponse
		var borrowIndexStr string
		r.AsOfSequence = asOfSeq
		if err := rows.Scan(
			&r.Account, &r.MarketID, &r.Shares, &r.BorrowPrincipal,
			&r.InterestIndex, &r.Version, &borrowIndexStr,
		); err != nil {
			return nil, qs.fail("get_positions", err)
		}

		pos, err := positionFromResponse(r)
		if err != nil {
			return nil, qs.fail("get_positions", err)
		}
		borrowIndex, err := parseNumeric(borrowIndexStr, "borrow_index")
		if err != nil {
			return nil, qs.fail("get_positions", err)
		}
		r.CurrentDebt = pos.CurrentDebt(borrowIndex).String()

		positions = append(positions, r)
	}

	return positions, rows.Err()
}

// GetAccountLiquidity sweeps the account's projected positions and nets
// discounted collateral against priced debt. Positions stand in for
// membership here: an entered-but-empty market contributes nothing to the
// sweep either way.
func (qs *QueryService) GetAccountLiquidity(ctx context.Context, account string) (*LiquidityResponse, error) {
	defer qs.observe("get_liquidity", time.Now())

	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, qs.fail("get_liquidity", err)
	}

	store, err := qs.buildAccountView(ctx, account)
	if err != nil {
		return nil, qs.fail("get_liquidity", err)
	}

	liq, err := qs.calc.AccountLiquidity(store, account, nil)
	if err != nil {
		return nil, qs.fail("get_liquidity", err)
	}

	return &LiquidityResponse{
		Account:      account,
		Available:    liq.Available.String(),
		Shortfall:    liq.Shortfall.String(),
		Healthy:      liq.Shortfall.Sign() == 0,
		AsOfSequence: asOfSeq,
	}, nil
}

// GetEventHistory returns event log rows, newest first, with cursor-based
// pagination on sequence.
func (qs *QueryService) GetEventHistory(
	ctx context.Context,
	marketID *string,
	limit int,
	beforeSequence *int64,
) ([]EventHistoryEntry, error) {
	defer qs.observe("get_events", time.Now())

	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	query := `
		SELECT sequence, event_type, idempotency_key, market_id, payload,
		       EXTRACT(EPOCH FROM timestamp)::bigint, source_sequence
		FROM event_log.events
		WHERE 1=1
	`
	args := []interface{}{}
	argIdx := 1

	if marketID != nil {
		query += fmt.Sprintf(" AND market_id = $%d", argIdx)
		args = append(args, *marketID)
		argIdx++
	}

	if beforeSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *beforeSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, qs.fail("get_events", err)
	}
	defer rows.Close()

	var entries []EventHistoryEntry
	for rows.Next() {
		var e EventHistoryEntry
		if err := rows.Scan(
			&e.Sequence, &e.EventType, &e.IdempotencyKey, &e.MarketID,
			&e.Payload, &e.Timestamp, &e.SourceSequence,
		); err != nil {
			return nil, qs.fail("get_events", err)
		}
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// GetAccrualHistory returns recent interest accruals for a market, newest
// first, from the in-memory history ring.
func (qs *QueryService) GetAccrualHistory(marketID string, limit int) []AccrualResponse {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	entries := qs.history.AccrualsByMarket(marketID, limit)
	out := make([]AccrualResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, AccrualResponse{
			MarketID:        e.MarketID,
			Timestamp:       e.Timestamp,
			Elapsed:         e.Elapsed,
			BorrowRate:      e.BorrowRate.String(),
			BorrowIndex:     e.BorrowIndex.String(),
			InterestAccrued: e.InterestAccrued.String(),
			ReservesAdded:   e.ReservesAdded.String(),
			Sequence:        e.Sequence,
		})
	}
	return out
}

// GetLiquidationHistory returns recent liquidations against a borrower,
// newest first.
func (qs *QueryService) GetLiquidationHistory(borrower string, limit int) []LiquidationResponse {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	entries := qs.history.LiquidationsByBorrower(borrower, limit)
	out := make([]LiquidationResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, LiquidationResponse{
			Liquidator:       e.Liquidator,
			Borrower:         e.Borrower,
			BorrowMarket:     e.BorrowMarket,
			CollateralMarket: e.CollateralMarket,
			AmountApplied:    e.AmountApplied.String(),
			SharesSeized:     e.SharesSeized.String(),
			Timestamp:        e.Timestamp,
			Sequence:         e.Sequence,
		})
	}
	return out
}

// --- Admin APIs ---

// VerifyIntegrity checks hash chain continuity in the event log and pool
// invariants in the market projections.
func (qs *QueryService) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	defer qs.observe("verify_integrity", time.Now())

	report := &IntegrityReport{}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT e1.sequence
		FROM event_log.events e1
		JOIN event_log.events e2 ON e2.sequence = e1.sequence - 1
		WHERE e1.prev_hash != e2.state_hash
		ORDER BY e1.sequence
		LIMIT 10
	`)
	if err != nil {
		return nil, qs.fail("verify_integrity", err)
	}
	defer rows.Close()

	for rows.Next() {
		var seq int64
		if err := rows.Scan(&seq); err != nil {
			return nil, qs.fail("verify_integrity", err)
		}
		report.HashChainBreaks = append(report.HashChainBreaks, seq)
	}
	if err := rows.Err(); err != nil {
		return nil, qs.fail("verify_integrity", err)
	}

	// Pool invariants: no negative balances, and reserves never exceed the
	// pool they were carved from.
	anomalyRows, err := qs.db.QueryContext(ctx, `
		SELECT market_id,
		       CASE
		           WHEN cash < 0 THEN 'negative cash'
		           WHEN total_borrows < 0 THEN 'negative total_borrows'
		           WHEN total_reserves < 0 THEN 'negative total_reserves'
		           WHEN total_shares < 0 THEN 'negative total_shares'
		           ELSE 'reserves exceed pool'
		       END
		FROM projections.markets
		WHERE cash < 0 OR total_borrows < 0 OR total_reserves < 0 OR total_shares < 0
		   OR total_reserves > cash + total_borrows
	`)
	if err != nil {
		return nil, qs.fail("verify_integrity", err)
	}
	defer anomalyRows.Close()

	for anomalyRows.Next() {
		var a MarketAnomaly
		if err := anomalyRows.Scan(&a.MarketID, &a.Detail); err != nil {
			return nil, qs.fail("verify_integrity", err)
		}
		report.MarketAnomalies = append(report.MarketAnomalies, a)
	}
	if err := anomalyRows.Err(); err != nil {
		return nil, qs.fail("verify_integrity", err)
	}

	report.IsHealthy = len(report.HashChainBreaks) == 0 && len(report.MarketAnomalies) == 0
	return report, nil
}

// --- helpers ---

const marketSelect = `
	SELECT market_id, asset, listed, collateral_factor::text, reserve_factor::text,
	       borrow_cap::text, cash::text, total_shares::text, total_borrows::text,
	       total_reserves::text, borrow_index::text, last_accrual_time,
	       supply_paused, borrow_paused, version
	FROM projections.markets`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMarket(row rowScanner) (*state.Market, error) {
	var (
		marketID, asset                              string
		listed, supplyPaused, borrowPaused           bool
		cf, rf, cap, cash, shares, borrows, reserves string
		borrowIndex                                  string
		lastAccrual, version                         int64
	)
	if err := row.Scan(
		&marketID, &asset, &listed, &cf, &rf, &cap, &cash, &shares,
		&borrows, &reserves, &borrowIndex, &lastAccrual,
		&supplyPaused, &borrowPaused, &version,
	); err != nil {
		return nil, err
	}

	m := state.NewMarket(marketID, asset)
	m.Listed = listed
	m.LastAccrualTime = lastAccrual
	m.SupplyPaused = supplyPaused
	m.BorrowPaused = borrowPaused
	m.Version = version

	fields := []struct {
		dst  **big.Int
		src  string
		name string
	}{
		{&m.CollateralFactor, cf, "collateral_factor"},
		{&m.ReserveFactor, rf, "reserve_factor"},
		{&m.BorrowCap, cap, "borrow_cap"},
		{&m.Cash, cash, "cash"},
		{&m.TotalShares, shares, "total_shares"},
		{&m.TotalBorrows, borrows, "total_borrows"},
		{&m.TotalReserves, reserves, "total_reserves"},
		{&m.BorrowIndex, borrowIndex, "borrow_index"},
	}
	for _, f := range fields {
		v, err := parseNumeric(f.src, f.name)
		if err != nil {
			return nil, fmt.Errorf("market %s: %w", marketID, err)
		}
		*f.dst = v
	}
	return m, nil
}

func marketToResponse(m *state.Market, asOfSeq int64) MarketResponse {
	return MarketResponse{
		MarketID:         m.MarketID,
		Asset:            m.Asset,
		Listed:           m.Listed,
		CollateralFactor: m.CollateralFactor.String(),
		ReserveFactor:    m.ReserveFactor.String(),
		BorrowCap:        m.BorrowCap.String(),
		Cash:             m.Cash.String(),
		TotalShares:      m.TotalShares.String(),
		TotalBorrows:     m.TotalBorrows.String(),
		TotalReserves:    m.TotalReserves.String(),
		BorrowIndex:      m.BorrowIndex.String(),
		ExchangeRate:     m.ExchangeRate().String(),
		LastAccrualTime:  m.LastAccrualTime,
		SupplyPaused:     m.SupplyPaused,
		BorrowPaused:     m.BorrowPaused,
		Version:          m.Version,
		AsOfSequence:     asOfSeq,
	}
}

func positionFromResponse(r PositionResponse) (*state.Position, error) {
	p := state.NewPosition(r.Account, r.MarketID)
	p.Version = r.Version

	var err error
	if p.Shares, err = parseNumeric(r.Shares, "shares"); err != nil {
		return nil, err
	}
	if p.BorrowPrincipal, err = parseNumeric(r.BorrowPrincipal, "borrow_principal"); err != nil {
		return nil, err
	}
	if p.InterestIndex, err = parseNumeric(r.InterestIndex, "interest_index"); err != nil {
		return nil, err
	}
	return p, nil
}

// buildAccountView reconstructs an ephemeral store from the account's
// projected positions and their markets, enough for a liquidity sweep.
func (qs *QueryService) buildAccountView(ctx context.Context, account string) (*state.Store, error) {
	rows, err := qs.db.QueryContext(ctx, `
		SELECT p.account, p.market_id, p.shares::text, p.borrow_principal::text,
		       p.interest_index::text, p.version
		FROM projections.positions p
		WHERE p.account = $1 AND (p.shares > 0 OR p.borrow_principal > 0)
	`, account)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	store := state.NewStore()
	var marketIDs []string
	for rows.Next() {
		var r PositionResponse
		if err := rows.Scan(
			&r.Account, &r.MarketID, &r.Shares, &r.BorrowPrincipal,
			&r.InterestIndex, &r.Version,
		); err != nil {
			return nil, err
		}
		pos, err := positionFromResponse(r)
		if err != nil {
			return nil, err
		}
		store.PutPosition(pos)
		store.AddMembership(account, r.MarketID)
		marketIDs = append(marketIDs, r.MarketID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, marketID := range marketIDs {
		row := qs.db.QueryRowContext(ctx, marketSelect+` WHERE market_id = $1`, marketID)
		m, err := scanMarket(row)
		if err != nil {
			return nil, fmt.Errorf("load market %s: %w", marketID, err)
		}
		store.PutMarket(m)
	}

	return store, nil
}

func (qs *QueryService) getWatermark(ctx context.Context) (int64, error) {
	var seq int64
	err := qs.db.QueryRowContext(ctx, `
		SELECT last_sequence FROM projections.watermark WHERE id = 1
	`).Scan(&seq)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return seq, err
}

func parseNumeric(s, field string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid %s: %q", field, s)
	}
	return v, nil
}

func (qs *QueryService) observe(endpoint string, start time.Time) {
	if qs.metrics == nil {
		return
	}
	qs.metrics.QueryRequests.WithLabelValues(endpoint).Inc()
	qs.metrics.QueryDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
}

func (qs *QueryService) fail(endpoint string, err error) error {
	if qs.metrics != nil {
		qs.metrics.QueryErrors.WithLabelValues(endpoint).Inc()
	}
	return err
}
