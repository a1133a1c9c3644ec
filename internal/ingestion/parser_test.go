package ingestion_test

import (
	"encoding/json"
	"math/big"
	"testing"
	"time"

	"LendLedger/internal/event"
	"LendLedger/internal/ingestion"

	"github.com/google/uuid"
)

func rawFromJSON(t *testing.T, v interface{}) ingestion.RawEvent {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return ingestion.RawEvent{
		Subject:   "test",
		Data:      data,
		Timestamp: time.Now(),
		AckFunc:   func() {},
		NakFunc:   func() {},
	}
}

func TestParseSupply(t *testing.T) {
	payload := map[string]interface{}{
		"op_id":     "550e8400-e29b-41d4-a716-446655440000",
		"account":   "alice",
		"market":    "USDC",
		"amount":    "2500000000000000000000", // 2500e18: exceeds int64
		"sequence":  int64(42),
		"timestamp": int64(1700000000),
	}

	raw := rawFromJSON(t, payload)
	evt, err := ingestion.ParseRawEvent(raw, "Supply")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	sup, ok := evt.(*event.Supply)
	if !ok {
		t.Fatalf("expected *event.Supply, got %T", evt)
	}

	if sup.Account != "alice" {
		t.Errorf("account: got %s, want alice", sup.Account)
	}
	if sup.Market != "USDC" {
		t.Errorf("market: got %s, want USDC", sup.Market)
	}
	want, _ := new(big.Int).SetString("2500000000000000000000", 10)
	if sup.Amount.Cmp(want) != 0 {
		t.Errorf("amount: got %s, want %s", sup.Amount, want)
	}
	if sup.Sequence != 42 {
		t.Errorf("sequence: got %d, want 42", sup.Sequence)
	}
	if sup.Timestamp != 1700000000 {
		t.Errorf("timestamp: got %d, want 1700000000", sup.Timestamp)
	}
	if sup.IdempotencyKey() != "550e8400-e29b-41d4-a716-446655440000" {
		t.Errorf("idempotency key: got %s", sup.IdempotencyKey())
	}
}

func TestParseWithdrawByAmount(t *testing.T) {
	payload := map[string]interface{}{
		"op_id":     "660e8400-e29b-41d4-a716-446655440001",
		"account":   "bob",
		"market":    "WETH",
		"amount":    "1000000000000000000",
		"sequence":  int64(7),
		"timestamp": int64(1700000100),
	}

	raw := rawFromJSON(t, payload)
	evt, err := ingestion.ParseRawEvent(raw, "Withdraw")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	wd := evt.(*event.Withdraw)
	if wd.Amount == nil || wd.Amount.String() != "1000000000000000000" {
		t.Errorf("amount: got %v", wd.Amount)
	}
	if wd.Shares != nil {
		t.Errorf("shares should be nil when amount given, got %v", wd.Shares)
	}
}

func TestParseWithdrawByShares(t *testing.T) {
	payload := map[string]interface{}{
		"op_id":     "660e8400-e29b-41d4-a716-446655440002",
		"account":   "bob",
		"market":    "WETH",
		"shares":    "500000000000000000",
		"sequence":  int64(8),
		"timestamp": int64(1700000200),
	}

	raw := rawFromJSON(t, payload)
	evt, err := ingestion.ParseRawEvent(raw, "Withdraw")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	wd := evt.(*event.Withdraw)
	if wd.Shares == nil || wd.Shares.String() != "500000000000000000" {
		t.Errorf("shares: got %v", wd.Shares)
	}
	if wd.Amount != nil {
		t.Errorf("amount should be nil when shares given, got %v", wd.Amount)
	}
}

func TestParseRepayPayerDefaults(t *testing.T) {
	payload := map[string]interface{}{
		"op_id":     "770e8400-e29b-41d4-a716-446655440003",
		"account":   "carol",
		"market":    "USDC",
		"amount":    "300000000000000000000",
		"sequence":  int64(9),
		"timestamp": int64(1700000300),
	}

	raw := rawFromJSON(t, payload)
	evt, err := ingestion.ParseRawEvent(raw, "Repay")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	rp := evt.(*event.Repay)
	if rp.Payer != "carol" {
		t.Errorf("payer should default to account, got %s", rp.Payer)
	}
	if rp.Full {
		t.Error("full should default to false")
	}
}

func TestParseRepayFull(t *testing.T) {
	payload := map[string]interface{}{
		"op_id":     "770e8400-e29b-41d4-a716-446655440004",
		"payer":     "dave",
		"account":   "carol",
		"market":    "USDC",
		"full":      true,
		"sequence":  int64(10),
		"timestamp": int64(1700000400),
	}

	raw := rawFromJSON(t, payload)
	evt, err := ingestion.ParseRawEvent(raw, "Repay")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	rp := evt.(*event.Repay)
	if rp.Payer != "dave" {
		t.Errorf("payer: got %s, want dave", rp.Payer)
	}
	if !rp.Full {
		t.Error("full flag lost")
	}
	if rp.Amount != nil {
		t.Errorf("amount should be nil for full repay, got %v", rp.Amount)
	}
}

func TestParseLiquidate(t *testing.T) {
	payload := map[string]interface{}{
		"op_id":             "880e8400-e29b-41d4-a716-446655440005",
		"liquidator":        "liq-desk",
		"borrower":          "carol",
		"borrow_market":     "USDC",
		"collateral_market": "WETH",
		"repay_amount":      "150000000000000000000",
		"sequence":          int64(11),
		"timestamp":         int64(1700000500),
	}

	raw := rawFromJSON(t, payload)
	evt, err := ingestion.ParseRawEvent(raw, "Liquidate")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	lq := evt.(*event.Liquidate)
	if lq.BorrowMarket != "USDC" || lq.CollateralMarket != "WETH" {
		t.Errorf("markets: got %s/%s", lq.BorrowMarket, lq.CollateralMarket)
	}
	if lq.RepayAmount.String() != "150000000000000000000" {
		t.Errorf("repay amount: got %s", lq.RepayAmount)
	}
	// Liquidations are sequenced on the borrow market's partition.
	if lq.MarketID() == nil || *lq.MarketID() != "USDC" {
		t.Errorf("market id: got %v", lq.MarketID())
	}
}

func TestParsePriceUpdate(t *testing.T) {
	payload := map[string]interface{}{
		"asset":     "WETH",
		"price":     "3200000000000000000000",
		"sequence":  int64(9001),
		"timestamp": int64(1700000600),
	}

	raw := rawFromJSON(t, payload)
	evt, err := ingestion.ParseRawEvent(raw, "PriceUpdate")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	pu := evt.(*event.PriceUpdate)
	if pu.Asset != "WETH" {
		t.Errorf("asset: got %s", pu.Asset)
	}
	if pu.Price.String() != "3200000000000000000000" {
		t.Errorf("price: got %s", pu.Price)
	}
	if pu.MarketID() != nil {
		t.Errorf("price updates are not market-scoped, got %v", pu.MarketID())
	}
}

func TestParseMarketListed(t *testing.T) {
	payload := map[string]interface{}{
		"op_id":             "990e8400-e29b-41d4-a716-446655440006",
		"admin":             "ops",
		"market":            "WBTC",
		"asset":             "WBTC",
		"collateral_factor": "700000000000000000",
		"reserve_factor":    "100000000000000000",
		"sequence":          int64(1),
		"timestamp":         int64(1700000700),
	}

	raw := rawFromJSON(t, payload)
	evt, err := ingestion.ParseRawEvent(raw, "MarketListed")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	ml := evt.(*event.MarketListed)
	if ml.Market != "WBTC" || ml.Asset != "WBTC" {
		t.Errorf("market/asset: got %s/%s", ml.Market, ml.Asset)
	}
	if ml.CollateralFactor.String() != "700000000000000000" {
		t.Errorf("collateral factor: got %s", ml.CollateralFactor)
	}
}

func TestParseUnknownTypeFails(t *testing.T) {
	raw := rawFromJSON(t, map[string]interface{}{"foo": "bar"})
	_, err := ingestion.ParseRawEvent(raw, "Unknown")
	if err == nil {
		t.Fatal("expected error for unknown event type")
	}
}

func TestParseInvalidJSONFails(t *testing.T) {
	raw := ingestion.RawEvent{
		Subject:   "test",
		Data:      []byte("not json"),
		Timestamp: time.Now(),
		AckFunc:   func() {},
		NakFunc:   func() {},
	}
	_, err := ingestion.ParseRawEvent(raw, "Supply")
	if err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

func TestParseInvalidUUIDFails(t *testing.T) {
	payload := map[string]interface{}{
		"op_id":     "not-a-uuid",
		"account":   "alice",
		"market":    "USDC",
		"amount":    "100",
		"sequence":  int64(1),
		"timestamp": int64(1700000000),
	}

	raw := rawFromJSON(t, payload)
	_, err := ingestion.ParseRawEvent(raw, "Supply")
	if err == nil {
		t.Fatal("expected error for invalid UUID")
	}
}

func TestParseInvalidAmountFails(t *testing.T) {
	payload := map[string]interface{}{
		"op_id":     "550e8400-e29b-41d4-a716-446655440000",
		"account":   "alice",
		"market":    "USDC",
		"amount":    "1.5e18",
		"sequence":  int64(1),
		"timestamp": int64(1700000000),
	}

	raw := rawFromJSON(t, payload)
	_, err := ingestion.ParseRawEvent(raw, "Supply")
	if err == nil {
		t.Fatal("expected error for non-integer amount")
	}
}

func TestEncodeParseRoundTrip(t *testing.T) {
	amount, _ := new(big.Int).SetString("12345678901234567890123", 10)
	orig := &event.Supply{
		OpID:      uuid.New(),
		Account:   "alice",
		Market:    "USDC",
		Amount:    amount,
		Sequence:  77,
		Timestamp: 1700001000,
	}

	data, err := ingestion.EncodeEvent(orig)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}

	raw := ingestion.RawEvent{Subject: "test", Data: data, Timestamp: time.Now(), AckFunc: func() {}, NakFunc: func() {}}
	parsed, err := ingestion.ParseRawEvent(raw, "Supply")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	got := parsed.(*event.Supply)
	if got.OpID != orig.OpID {
		t.Errorf("op_id: got %s, want %s", got.OpID, orig.OpID)
	}
	if got.Amount.Cmp(orig.Amount) != 0 {
		t.Errorf("amount: got %s, want %s", got.Amount, orig.Amount)
	}
	if got.Sequence != orig.Sequence || got.Timestamp != orig.Timestamp {
		t.Errorf("sequence/timestamp mismatch: %d/%d", got.Sequence, got.Timestamp)
	}
}

func TestEncodeParseRoundTripAccrual(t *testing.T) {
	orig := &event.InterestAccrued{
		Market:          "USDC",
		Timestamp:       1700002000,
		Elapsed:         3600,
		BorrowRate:      big.NewInt(3170979198),
		BorrowIndex:     big.NewInt(1000011415525114),
		InterestAccrued: big.NewInt(114155251),
		ReservesAdded:   big.NewInt(11415525),
		Sequence:        12,
	}

	data, err := ingestion.EncodeEvent(orig)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}

	raw := ingestion.RawEvent{Subject: "test", Data: data, Timestamp: time.Now(), AckFunc: func() {}, NakFunc: func() {}}
	parsed, err := ingestion.ParseRawEvent(raw, "InterestAccrued")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	got := parsed.(*event.InterestAccrued)
	if got.BorrowIndex.Cmp(orig.BorrowIndex) != 0 {
		t.Errorf("borrow index: got %s, want %s", got.BorrowIndex, orig.BorrowIndex)
	}
	if got.IdempotencyKey() != orig.IdempotencyKey() {
		t.Errorf("idempotency key: got %s, want %s", got.IdempotencyKey(), orig.IdempotencyKey())
	}
}
