package projection

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"LendLedger/internal/observability"
	"LendLedger/internal/state"
)

// ProjectionOutput carries the state deltas of one applied event: deep
// copies of every market and position the event touched. The orchestrator
// bridges between core.CoreOutput and this.
type ProjectionOutput struct {
	Sequence  int64
	EventType string
	MarketID  *string
	Markets   []*state.Market
	Positions []*state.Position
	Timestamp int64
}

// ProjectionWorker updates the Postgres read-model from processed events.
// The projection channel is non-blocking with drop: if projections fall
// behind, they can be rebuilt from authoritative core state.
type ProjectionWorker struct {
	db        *sql.DB
	inputChan <-chan ProjectionOutput
	metrics   *observability.Metrics
	log       zerolog.Logger
	lastSeq   int64
}

func NewProjectionWorker(db *sql.DB, inputChan <-chan ProjectionOutput, metrics *observability.Metrics) *ProjectionWorker {
	return &ProjectionWorker{
		db:        db,
		inputChan: inputChan,
		metrics:   metrics,
		log:       observability.NewLogger("projection"),
	}
}

// Run starts the projection worker loop.
func (pw *ProjectionWorker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case output, ok := <-pw.inputChan:
			if !ok {
				return nil
			}

			if err := pw.processOutput(ctx, output); err != nil {
				// Continue — projections are eventually consistent and can
				// be rebuilt from core state
				pw.log.Warn().Err(err).Int64("sequence", output.Sequence).
					Msg("projection update failed")
			}

			pw.lastSeq = output.Sequence
		}
	}
}

func (pw *ProjectionWorker) processOutput(ctx context.Context, output ProjectionOutput) error {
	start := time.Now()

	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, m := range output.Markets {
		if err := upsertMarket(ctx, tx, m); err != nil {
			return fmt.Errorf("market projection %s: %w", m.MarketID, err)
		}
	}

	for _, p := range output.Positions {
		if err := upsertPosition(ctx, tx, p); err != nil {
			return fmt.Errorf("position projection %s/%s: %w", p.Account, p.MarketID, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE projections.watermark SET last_sequence = $1, updated_at = NOW() WHERE id = 1
	`, output.Sequence); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	if pw.metrics != nil {
		pw.metrics.ProjectionUpdateDur.Observe(time.Since(start).Seconds())
	}
	return nil
}

// upsertMarket writes one market row. Big integers go over the wire as
// decimal strings; Postgres casts them into NUMERIC(78,0).
func upsertMarket(ctx context.Context, tx *sql.Tx, m *state.Market) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.markets
			(market_id, asset, listed, collateral_factor, reserve_factor, borrow_cap,
			 cash, total_shares, total_borrows, total_reserves, borrow_index,
			 last_accrual_time, supply_paused, borrow_paused, version, updated_at)
		VALUES ($1, $2, $3, $4::numeric, $5::numeric, $6::numeric,
		        $7::numeric, $8::numeric, $9::numeric, $10::numeric, $11::numeric,
		        $12, $13, $14, $15, NOW())
		ON CONFLICT (market_id) DO UPDATE SET
			asset = $2, listed = $3,
			collateral_factor = $4::numeric, reserve_factor = $5::numeric, borrow_cap = $6::numeric,
			cash = $7::numeric, total_shares = $8::numeric, total_borrows = $9::numeric,
			total_reserves = $10::numeric, borrow_index = $11::numeric,
			last_accrual_time = $12, supply_paused = $13, borrow_paused = $14,
			version = $15, updated_at = NOW()
		WHERE projections.markets.version <= $15
	`, m.MarketID, m.Asset, m.Listed,
		m.CollateralFactor.String(), m.ReserveFactor.String(), m.BorrowCap.String(),
		m.Cash.String(), m.TotalShares.String(), m.TotalBorrows.String(),
		m.TotalReserves.String(), m.BorrowIndex.String(),
		m.LastAccrualTime, m.SupplyPaused, m.BorrowPaused, m.Version)
	return err
}

func upsertPosition(ctx context.Context, tx *sql.Tx, p *state.Position) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.positions
			(account, market_id, shares, borrow_principal, interest_index, version, updated_at)
		VALUES ($1, $2, $3::numeric, $4::numeric, $5::numeric, $6, NOW())
		ON CONFLICT (account, market_id) DO UPDATE SET
			shares = $3::numeric, borrow_principal = $4::numeric,
			interest_index = $5::numeric, version = $6, updated_at = NOW()
		WHERE projections.positions.version <= $6
	`, p.Account, p.MarketID,
		p.Shares.String(), p.BorrowPrincipal.String(), p.InterestIndex.String(),
		p.Version)
	return err
}

// RebuildFromState truncates the projection tables and rewrites them from
// the authoritative in-memory state. Core state is the source of truth;
// projections are disposable.
func RebuildFromState(ctx context.Context, db *sql.DB, markets []*state.Market, positions []*state.Position, lastSequence int64) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, stmt := range []string{
		`TRUNCATE projections.markets`,
		`TRUNCATE projections.positions`,
	} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("truncate failed: %w", err)
		}
	}

	for _, m := range markets {
		if err := upsertMarket(ctx, tx, m); err != nil {
			return fmt.Errorf("rebuild market %s: %w", m.MarketID, err)
		}
	}
	for _, p := range positions {
		if err := upsertPosition(ctx, tx, p); err != nil {
			return fmt.Errorf("rebuild position %s/%s: %w", p.Account, p.MarketID, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE projections.watermark SET last_sequence = $1, updated_at = NOW() WHERE id = 1
	`, lastSequence); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	log := observability.NewLogger("projection")
	log.Info().
		Int("markets", len(markets)).Int("positions", len(positions)).
		Int64("sequence", lastSequence).Msg("projection rebuild complete")
	return nil
}
