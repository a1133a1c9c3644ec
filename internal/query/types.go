package query

import "encoding/json"

// All big integer quantities are decimal strings: token amounts at 1e18
// scale overflow int64 and JSON numbers lose precision past 2^53.

// MarketResponse represents a market for API queries.
type MarketResponse struct {
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
	ExchangeRate     string `json:"exchange_rate"` // derived at query time
	LastAccrualTime  int64  `json:"last_accrual_time"`
	SupplyPaused     bool   `json:"supply_paused"`
	BorrowPaused     bool   `json:"borrow_paused"`
	Version          int64  `json:"version"`
	AsOfSequence     int64  `json:"as_of_sequence"`
}

// PositionResponse represents an account's standing in one market.
type PositionResponse struct {
	Account         string `json:"account"`
	MarketID        string `json:"market_id"`
	Shares          string `json:"shares"`
	BorrowPrincipal string `json:"borrow_principal"`
	InterestIndex   string `json:"interest_index"`
	CurrentDebt     string `json:"current_debt"` // derived at query time
	Version         int64  `json:"version"`
	AsOfSequence    int64  `json:"as_of_sequence"`
}

// LiquidityResponse is the account-level solvency summary.
type LiquidityResponse struct {
	Account      string `json:"account"`
	Available    string `json:"available"`
	Shortfall    string `json:"shortfall"`
	Healthy      bool   `json:"healthy"`
	AsOfSequence int64  `json:"as_of_sequence"`
}

// EventHistoryEntry represents one event log row for API queries.
type EventHistoryEntry struct {
	Sequence       int64           `json:"sequence"`
	EventType      string          `json:"event_type"`
	IdempotencyKey string          `json:"idempotency_key"`
	MarketID       *string         `json:"market_id,omitempty"`
	Payload        json.RawMessage `json:"payload"`
	Timestamp      int64           `json:"timestamp"`
	SourceSequence int64           `json:"source_sequence"`
}

// AccrualResponse represents one interest accrual record.
type AccrualResponse struct {
	MarketID        string `json:"market_id"`
	Timestamp       int64  `json:"timestamp"`
	Elapsed         int64  `json:"elapsed"`
	BorrowRate      string `json:"borrow_rate"`
	BorrowIndex     string `json:"borrow_index"`
	InterestAccrued string `json:"interest_accrued"`
	ReservesAdded   string `json:"reserves_added"`
	Sequence        int64  `json:"sequence"`
}

// LiquidationResponse represents one executed liquidation record.
type LiquidationResponse struct {
	Liquidator       string `json:"liquidator"`
	Borrower         string `json:"borrower"`
	BorrowMarket     string `json:"borrow_market"`
	CollateralMarket string `json:"collateral_market"`
	AmountApplied    string `json:"amount_applied"`
	SharesSeized     string `json:"shares_seized"`
	Timestamp        int64  `json:"timestamp"`
	Sequence         int64  `json:"sequence"`
}

// IntegrityReport is the result of an integrity verification check.
type IntegrityReport struct {
	IsHealthy       bool            `json:"is_healthy"`
	HashChainBreaks []int64         `json:"hash_chain_breaks,omitempty"`
	MarketAnomalies []MarketAnomaly `json:"market_anomalies,omitempty"`
}

// MarketAnomaly flags a projected market violating a pool invariant.
type MarketAnomaly struct {
	MarketID string `json:"market_id"`
	Detail   string `json:"detail"`
}
