package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"LendLedger/internal/state"
	"LendLedger/internal/vault"

	"github.com/google/uuid"
)

// SnapshotManager handles creating and loading state snapshots for recovery.
// Snapshots contain markets, positions, memberships, oracle prices, vault
// custody, sequence counters, recent idempotency keys, and the last state
// hash. Warm restart loads the latest verified snapshot and replays events
// from snapshot.sequence+1.
type SnapshotManager struct {
	db *sql.DB
}

// SnapshotData contains the full in-memory state at a point in time.
// Big integers are stored as decimal strings — token amounts at 1e18 scale
// do not fit in int64 and JSON numbers lose precision past 2^53.
type SnapshotData struct {
	Sequence        int64               `json:"sequence"`
	StateHash       []byte              `json:"state_hash"`
	Markets         []MarketSnapshot    `json:"markets"`
	Positions       []PositionSnapshot  `json:"positions"`
	Memberships     map[string][]string `json:"memberships"` // account -> entered markets
	Prices          map[string]string   `json:"prices"`      // asset -> WAD price
	Vault           VaultSnapshot       `json:"vault"`
	SequenceState   map[string]int64    `json:"sequence_state"`   // partition -> next expected seq
	IdempotencyKeys []string            `json:"idempotency_keys"` // recent keys for LRU warming
	CreatedAt       time.Time           `json:"created_at"`
}

// MarketSnapshot is a serializable market.
type MarketSnapshot struct {
	MarketID         string `json:"market_id"`
	Asset            string `json:"asset"`
	Listed           bool   `json:"listed"`
	CollateralFactor string `json:"collateral_factor"`
	ReserveFactor    string `json:"reserve_factor"`
	BorrowCap        string `json:"borrow_cap"`
	Cash             string `json:"cash"`
	TotalShares      string `json:"total_shares"`
	TotalBorrows     string `json:"total_borrows"`
	TotalReserves    string `json:"total_reserves"`
	BorrowIndex      string `json:"borrow_index"`
	LastAccrualTime  int64  `json:"last_accrual_time"`
	SupplyPaused     bool   `json:"supply_paused"`
	BorrowPaused     bool   `json:"borrow_paused"`
	Version          int64  `json:"version"`
}

// PositionSnapshot is a serializable position.
type PositionSnapshot struct {
	Account         string `json:"account"`
	MarketID        string `json:"market_id"`
	Shares          string `json:"shares"`
	BorrowPrincipal string `json:"borrow_principal"`
	InterestIndex   string `json:"interest_index"`
	Version         int64  `json:"version"`
}

// VaultSnapshot is the serializable custody state.
type VaultSnapshot struct {
	Balances map[string]string `json:"balances"` // account|asset -> balance
	Custody  map[string]string `json:"custody"`  // asset -> market holdings
	Fees     map[string]string `json:"fees"`     // asset -> WAD transfer fee
}

// SnapshotMarket converts a market to its snapshot form.
func SnapshotMarket(m *state.Market) MarketSnapshot {
	return MarketSnapshot{
		MarketID:         m.MarketID,
		Asset:            m.Asset,
		Listed:           m.Listed,
		CollateralFactor: bigToStr(m.CollateralFactor),
		ReserveFactor:    bigToStr(m.ReserveFactor),
		BorrowCap:        bigToStr(m.BorrowCap),
		Cash:             bigToStr(m.Cash),
		TotalShares:      bigToStr(m.TotalShares),
		TotalBorrows:     bigToStr(m.TotalBorrows),
		TotalReserves:    bigToStr(m.TotalReserves),
		BorrowIndex:      bigToStr(m.BorrowIndex),
		LastAccrualTime:  m.LastAccrualTime,
		SupplyPaused:     m.SupplyPaused,
		BorrowPaused:     m.BorrowPaused,
		Version:          m.Version,
	}
}

// ToMarket converts a snapshot back into a market.
func (ms MarketSnapshot) ToMarket() (*state.Market, error) {
	m := state.NewMarket(ms.MarketID, ms.Asset)
	m.Listed = ms.Listed
	m.LastAccrualTime = ms.LastAccrualTime
	m.SupplyPaused = ms.SupplyPaused
	m.BorrowPaused = ms.BorrowPaused
	m.Version = ms.Version

	fields := []struct {
		dst  **big.Int
		src  string
		name string
	}{
		{&m.CollateralFactor, ms.CollateralFactor, "collateral_factor"},
		{&m.ReserveFactor, ms.ReserveFactor, "reserve_factor"},
		{&m.BorrowCap, ms.BorrowCap, "borrow_cap"},
		{&m.Cash, ms.Cash, "cash"},
		{&m.TotalShares, ms.TotalShares, "total_shares"},
		{&m.TotalBorrows, ms.TotalBorrows, "total_borrows"},
		{&m.TotalReserves, ms.TotalReserves, "total_reserves"},
		{&m.BorrowIndex, ms.BorrowIndex, "borrow_index"},
	}
	for _, f := range fields {
		v, err := strToBig(f.src, f.name)
		if err != nil {
			return nil, fmt.Errorf("market %s: %w", ms.MarketID, err)
		}
		*f.dst = v
	}
	return m, nil
}

// SnapshotPosition converts a position to its snapshot form.
func SnapshotPosition(p *state.Position) PositionSnapshot {
	return PositionSnapshot{
		Account:         p.Account,
		MarketID:        p.MarketID,
		Shares:          bigToStr(p.Shares),
		BorrowPrincipal: bigToStr(p.BorrowPrincipal),
		InterestIndex:   bigToStr(p.InterestIndex),
		Version:         p.Version,
	}
}

// ToPosition converts a snapshot back into a position.
func (ps PositionSnapshot) ToPosition() (*state.Position, error) {
	p := state.NewPosition(ps.Account, ps.MarketID)
	p.Version = ps.Version

	var err error
	if p.Shares, err = strToBig(ps.Shares, "shares"); err != nil {
		return nil, fmt.Errorf("position %s/%s: %w", ps.Account, ps.MarketID, err)
	}
	if p.BorrowPrincipal, err = strToBig(ps.BorrowPrincipal, "borrow_principal"); err != nil {
		return nil, fmt.Errorf("position %s/%s: %w", ps.Account, ps.MarketID, err)
	}
	if p.InterestIndex, err = strToBig(ps.InterestIndex, "interest_index"); err != nil {
		return nil, fmt.Errorf("position %s/%s: %w", ps.Account, ps.MarketID, err)
	}
	return p, nil
}

// SnapshotVault converts vault state to its snapshot form.
func SnapshotVault(vs vault.VaultState) VaultSnapshot {
	return VaultSnapshot{
		Balances: bigMapToStr(vs.Balances),
		Custody:  bigMapToStr(vs.Custody),
		Fees:     bigMapToStr(vs.Fees),
	}
}

// ToVaultState converts a snapshot back into vault state.
func (vs VaultSnapshot) ToVaultState() (vault.VaultState, error) {
	balances, err := strMapToBig(vs.Balances, "balances")
	if err != nil {
		return vault.VaultState{}, err
	}
	custody, err := strMapToBig(vs.Custody, "custody")
	if err != nil {
		return vault.VaultState{}, err
	}
	fees, err := strMapToBig(vs.Fees, "fees")
	if err != nil {
		return vault.VaultState{}, err
	}
	return vault.VaultState{Balances: balances, Custody: custody, Fees: fees}, nil
}

func NewSnapshotManager(db *sql.DB) *SnapshotManager {
	return &SnapshotManager{db: db}
}

// SaveSnapshot persists a snapshot to Postgres. Snapshots are written
// unverified; the caller marks them verified after an integrity check.
func (sm *SnapshotManager) SaveSnapshot(ctx context.Context, snap *SnapshotData) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	snapshotID := uuid.New()
	sizeBytes := len(data)
	formatVersion := int32(1) // v1: JSON-encoded SnapshotData

	_, err = sm.db.ExecContext(ctx, `
		INSERT INTO event_log.snapshots
			(snapshot_id, sequence, data, state_hash, format_version, size_bytes, verified, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE, $7)
		ON CONFLICT (sequence) DO UPDATE SET data = $3, state_hash = $4, size_bytes = $6
	`, snapshotID, snap.Sequence, data, snap.StateHash, formatVersion, sizeBytes, snap.CreatedAt)

	return err
}

// LoadLatestSnapshot loads the most recent verified snapshot, or nil for a
// cold start.
func (sm *SnapshotManager) LoadLatestSnapshot(ctx context.Context) (*SnapshotData, error) {
	row := sm.db.QueryRowContext(ctx, `
		SELECT data FROM event_log.snapshots
		WHERE verified = TRUE
		ORDER BY sequence DESC
		LIMIT 1
	`)

	var data []byte
	if err := row.Scan(&data); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	var snap SnapshotData
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}

	return &snap, nil
}

// MarkVerified marks a snapshot as verified after integrity check.
func (sm *SnapshotManager) MarkVerified(ctx context.Context, sequence int64) error {
	_, err := sm.db.ExecContext(ctx, `
		UPDATE event_log.snapshots SET verified = TRUE WHERE sequence = $1
	`, sequence)
	return err
}

// LoadEventsFrom loads events from a given sequence for replay, in batches.
func (sm *SnapshotManager) LoadEventsFrom(ctx context.Context, fromSequence int64, limit int) ([]EventRow, error) {
	rows, err := sm.db.QueryContext(ctx, `
		SELECT sequence, event_type, idempotency_key, market_id, payload,
		       state_hash, prev_hash, timestamp, source_sequence
		FROM event_log.events
		WHERE sequence >= $1
		ORDER BY sequence ASC
		LIMIT $2
	`, fromSequence, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []EventRow
	for rows.Next() {
		var e EventRow
		if err := rows.Scan(
			&e.Sequence, &e.EventType, &e.IdempotencyKey, &e.MarketID,
			&e.Payload, &e.StateHash, &e.PrevHash, &e.Timestamp, &e.SourceSequence,
		); err != nil {
			return nil, err
		}
		events = append(events, e)
	}

	return events, rows.Err()
}

// GetLatestSequence returns the highest sequence in the event log.
func (sm *SnapshotManager) GetLatestSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	err := sm.db.QueryRowContext(ctx, `
		SELECT MAX(sequence) FROM event_log.events
	`).Scan(&seq)
	if err != nil {
		return 0, err
	}
	if !seq.Valid {
		return 0, nil // Empty event log
	}
	return seq.Int64, nil
}

func bigToStr(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func strToBig(s, field string) (*big.Int, error) {
	if s == "" {
		return big.NewInt(0), nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid %s: %q", field, s)
	}
	return v, nil
}

func bigMapToStr(m map[string]*big.Int) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = bigToStr(v)
	}
	return out
}

func strMapToBig(m map[string]string, field string) (map[string]*big.Int, error) {
	out := make(map[string]*big.Int, len(m))
	for k, s := range m {
		v, err := strToBig(s, field)
		if err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, nil
}
