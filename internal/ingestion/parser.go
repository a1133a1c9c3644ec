package ingestion

import (
	"encoding/json"
	"fmt"
	"math/big"

	"LendLedger/internal/event"

	"github.com/google/uuid"
)

// ParseRawEvent converts a RawEvent (JSON bytes + event type string) into a
// typed event.Event. The ingestion shell validates, parses, and converts raw
// events before sending to the deterministic core; the same codec decodes
// logged payloads during replay.
func ParseRawEvent(raw RawEvent, eventType string) (event.Event, error) {
	switch eventType {
	case "Supply":
		return parseSupply(raw.Data)
	case "Withdraw":
		return parseWithdraw(raw.Data)
	case "Borrow":
		return parseBorrow(raw.Data)
	case "Repay":
		return parseRepay(raw.Data)
	case "Liquidate":
		return parseLiquidate(raw.Data)
	case "MarketEntered":
		return parseMarketEntered(raw.Data)
	case "MarketExited":
		return parseMarketExited(raw.Data)
	case "PriceUpdate":
		return parsePriceUpdate(raw.Data)
	case "InterestAccrued":
		return parseInterestAccrued(raw.Data)
	case "MarketListed":
		return parseMarketListed(raw.Data)
	case "CollateralFactorUpdated":
		return parseCollateralFactorUpdated(raw.Data)
	case "ReserveFactorUpdated":
		return parseReserveFactorUpdated(raw.Data)
	case "BorrowCapUpdated":
		return parseBorrowCapUpdated(raw.Data)
	case "PauseUpdated":
		return parsePauseUpdated(raw.Data)
	default:
		return nil, fmt.Errorf("unknown event type: %s", eventType)
	}
}

// EncodeEvent marshals a typed event into its JSON wire form. This is the
// payload stored in the event log and published outbound; ParseRawEvent
// round-trips it during replay.
func EncodeEvent(evt event.Event) ([]byte, error) {
	switch e := evt.(type) {
	case *event.Supply:
		return json.Marshal(supplyJSON{
			OpID: e.OpID.String(), Account: e.Account, Market: e.Market,
			Amount: bigString(e.Amount), AmountReceived: bigString(e.AmountReceived),
			SharesMinted: bigString(e.SharesMinted), Sequence: e.Sequence, Timestamp: e.Timestamp,
		})
	case *event.Withdraw:
		return json.Marshal(withdrawJSON{
			OpID: e.OpID.String(), Account: e.Account, Market: e.Market,
			Amount: bigString(e.Amount), Shares: bigString(e.Shares),
			SharesBurned: bigString(e.SharesBurned), AmountPaid: bigString(e.AmountPaid),
			Sequence: e.Sequence, Timestamp: e.Timestamp,
		})
	case *event.Borrow:
		return json.Marshal(borrowJSON{
			OpID: e.OpID.String(), Account: e.Account, Market: e.Market,
			Amount: bigString(e.Amount), Sequence: e.Sequence, Timestamp: e.Timestamp,
		})
	case *event.Repay:
		return json.Marshal(repayJSON{
			OpID: e.OpID.String(), Payer: e.Payer, Account: e.Account, Market: e.Market,
			Amount: bigString(e.Amount), Full: e.Full, AmountApplied: bigString(e.AmountApplied),
			Sequence: e.Sequence, Timestamp: e.Timestamp,
		})
	case *event.Liquidate:
		return json.Marshal(liquidateJSON{
			OpID: e.OpID.String(), Liquidator: e.Liquidator, Borrower: e.Borrower,
			BorrowMarket: e.BorrowMarket, CollateralMarket: e.CollateralMarket,
			RepayAmount: bigString(e.RepayAmount), AmountApplied: bigString(e.AmountApplied),
			SharesSeized: bigString(e.SharesSeized), Sequence: e.Sequence, Timestamp: e.Timestamp,
		})
	case *event.MarketEntered:
		return json.Marshal(membershipJSON{
			OpID: e.OpID.String(), Account: e.Account, Market: e.Market,
			Sequence: e.Sequence, Timestamp: e.Timestamp,
		})
	case *event.MarketExited:
		return json.Marshal(membershipJSON{
			OpID: e.OpID.String(), Account: e.Account, Market: e.Market,
			Sequence: e.Sequence, Timestamp: e.Timestamp,
		})
	case *event.PriceUpdate:
		return json.Marshal(priceJSON{
			Asset: e.Asset, Price: bigString(e.Price), Sequence: e.Sequence, Timestamp: e.Timestamp,
		})
	case *event.InterestAccrued:
		return json.Marshal(accrualJSON{
			Market: e.Market, Timestamp: e.Timestamp, Elapsed: e.Elapsed,
			BorrowRate: bigString(e.BorrowRate), BorrowIndex: bigString(e.BorrowIndex),
			InterestAccrued: bigString(e.InterestAccrued), ReservesAdded: bigString(e.ReservesAdded),
			Sequence: e.Sequence,
		})
	case *event.MarketListed:
		return json.Marshal(listMarketJSON{
			OpID: e.OpID.String(), Admin: e.Admin, Market: e.Market, Asset: e.Asset,
			CollateralFactor: bigString(e.CollateralFactor), ReserveFactor: bigString(e.ReserveFactor),
			Sequence: e.Sequence, Timestamp: e.Timestamp,
		})
	case *event.CollateralFactorUpdated:
		return json.Marshal(factorJSON{
			OpID: e.OpID.String(), Admin: e.Admin, Market: e.Market,
			Factor: bigString(e.Factor), Sequence: e.Sequence, Timestamp: e.Timestamp,
		})
	case *event.ReserveFactorUpdated:
		return json.Marshal(factorJSON{
			OpID: e.OpID.String(), Admin: e.Admin, Market: e.Market,
			Factor: bigString(e.Factor), Sequence: e.Sequence, Timestamp: e.Timestamp,
		})
	case *event.BorrowCapUpdated:
		return json.Marshal(capJSON{
			OpID: e.OpID.String(), Admin: e.Admin, Market: e.Market,
			Cap: bigString(e.Cap), Sequence: e.Sequence, Timestamp: e.Timestamp,
		})
	case *event.PauseUpdated:
		return json.Marshal(pauseJSON{
			OpID: e.OpID.String(), Admin: e.Admin, Market: e.Market,
			SupplyPaused: e.SupplyPaused, BorrowPaused: e.BorrowPaused,
			Sequence: e.Sequence, Timestamp: e.Timestamp,
		})
	default:
		return nil, fmt.Errorf("encode: unknown event type %T", evt)
	}
}

// --- JSON wire formats ---
// These structs represent the JSON payloads received from NATS and stored in
// the event log. Field names use snake_case to match upstream producers.
// Token amounts are decimal strings — they routinely exceed int64 at 1e18
// scale.

type supplyJSON struct {
	OpID           string `json:"op_id"`
	Account        string `json:"account"`
	Market         string `json:"market"`
	Amount         string `json:"amount"`
	AmountReceived string `json:"amount_received,omitempty"`
	SharesMinted   string `json:"shares_minted,omitempty"`
	Sequence       int64  `json:"sequence"`
	Timestamp      int64  `json:"timestamp"`
}

type withdrawJSON struct {
	OpID         string `json:"op_id"`
	Account      string `json:"account"`
	Market       string `json:"market"`
	Amount       string `json:"amount,omitempty"`
	Shares       string `json:"shares,omitempty"`
	SharesBurned string `json:"shares_burned,omitempty"`
	AmountPaid   string `json:"amount_paid,omitempty"`
	Sequence     int64  `json:"sequence"`
	Timestamp    int64  `json:"timestamp"`
}

type borrowJSON struct {
	OpID      string `json:"op_id"`
	Account   string `json:"account"`
	Market    string `json:"market"`
	Amount    string `json:"amount"`
	Sequence  int64  `json:"sequence"`
	Timestamp int64  `json:"timestamp"`
}

type repayJSON struct {
	OpID          string `json:"op_id"`
	Payer         string `json:"payer,omitempty"`
	Account       string `json:"account"`
	Market        string `json:"market"`
	Amount        string `json:"amount,omitempty"`
	Full          bool   `json:"full,omitempty"`
	AmountApplied string `json:"amount_applied,omitempty"`
	Sequence      int64  `json:"sequence"`
	Timestamp     int64  `json:"timestamp"`
}

type liquidateJSON struct {
	OpID             string `json:"op_id"`
	Liquidator       string `json:"liquidator"`
	Borrower         string `json:"borrower"`
	BorrowMarket     string `json:"borrow_market"`
	CollateralMarket string `json:"collateral_market"`
	RepayAmount      string `json:"repay_amount"`
	AmountApplied    string `json:"amount_applied,omitempty"`
	SharesSeized     string `json:"shares_seized,omitempty"`
	Sequence         int64  `json:"sequence"`
	Timestamp        int64  `json:"timestamp"`
}

type membershipJSON struct {
	OpID      string `json:"op_id"`
	Account   string `json:"account"`
	Market    string `json:"market"`
	Sequence  int64  `json:"sequence"`
	Timestamp int64  `json:"timestamp"`
}

type priceJSON struct {
	Asset     string `json:"asset"`
	Price     string `json:"price"`
	Sequence  int64  `json:"sequence"`
	Timestamp int64  `json:"timestamp"`
}

type accrualJSON struct {
	Market          string `json:"market"`
	Timestamp       int64  `json:"timestamp"`
	Elapsed         int64  `json:"elapsed"`
	BorrowRate      string `json:"borrow_rate"`
	BorrowIndex     string `json:"borrow_index"`
	InterestAccrued string `json:"interest_accrued"`
	ReservesAdded   string `json:"reserves_added"`
	Sequence        int64  `json:"sequence"`
}

type listMarketJSON struct {
	OpID             string `json:"op_id"`
	Admin            string `json:"admin"`
	Market           string `json:"market"`
	Asset            string `json:"asset"`
	CollateralFactor string `json:"collateral_factor"`
	ReserveFactor    string `json:"reserve_factor"`
	Sequence         int64  `json:"sequence"`
	Timestamp        int64  `json:"timestamp"`
}

type factorJSON struct {
	OpID      string `json:"op_id"`
	Admin     string `json:"admin"`
	Market    string `json:"market"`
	Factor    string `json:"factor"`
	Sequence  int64  `json:"sequence"`
	Timestamp int64  `json:"timestamp"`
}

type capJSON struct {
	OpID      string `json:"op_id"`
	Admin     string `json:"admin"`
	Market    string `json:"market"`
	Cap       string `json:"cap"`
	Sequence  int64  `json:"sequence"`
	Timestamp int64  `json:"timestamp"`
}

type pauseJSON struct {
	OpID         string `json:"op_id"`
	Admin        string `json:"admin"`
	Market       string `json:"market"`
	SupplyPaused bool   `json:"supply_paused"`
	BorrowPaused bool   `json:"borrow_paused"`
	Sequence     int64  `json:"sequence"`
	Timestamp    int64  `json:"timestamp"`
}

// --- Parsers ---

func parseSupply(data []byte) (*event.Supply, error) {
	var j supplyJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse Supply: %w", err)
	}
	opID, err := uuid.Parse(j.OpID)
	if err != nil {
		return nil, fmt.Errorf("parse op_id: %w", err)
	}
	amount, err := parseBig(j.Amount, "amount")
	if err != nil {
		return nil, err
	}
	return &event.Supply{
		OpID:      opID,
		Account:   j.Account,
		Market:    j.Market,
		Amount:    amount,
		Sequence:  j.Sequence,
		Timestamp: j.Timestamp,
	}, nil
}

func parseWithdraw(data []byte) (*event.Withdraw, error) {
	var j withdrawJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse Withdraw: %w", err)
	}
	opID, err := uuid.Parse(j.OpID)
	if err != nil {
		return nil, fmt.Errorf("parse op_id: %w", err)
	}
	amount, err := parseBigOptional(j.Amount, "amount")
	if err != nil {
		return nil, err
	}
	shares, err := parseBigOptional(j.Shares, "shares")
	if err != nil {
		return nil, err
	}
	return &event.Withdraw{
		OpID:      opID,
		Account:   j.Account,
		Market:    j.Market,
		Amount:    amount,
		Shares:    shares,
		Sequence:  j.Sequence,
		Timestamp: j.Timestamp,
	}, nil
}

func parseBorrow(data []byte) (*event.Borrow, error) {
	var j borrowJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse Borrow: %w", err)
	}
	opID, err := uuid.Parse(j.OpID)
	if err != nil {
		return nil, fmt.Errorf("parse op_id: %w", err)
	}
	amount, err := parseBig(j.Amount, "amount")
	if err != nil {
		return nil, err
	}
	return &event.Borrow{
		OpID:      opID,
		Account:   j.Account,
		Market:    j.Market,
		Amount:    amount,
		Sequence:  j.Sequence,
		Timestamp: j.Timestamp,
	}, nil
}

func parseRepay(data []byte) (*event.Repay, error) {
	var j repayJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse Repay: %w", err)
	}
	opID, err := uuid.Parse(j.OpID)
	if err != nil {
		return nil, fmt.Errorf("parse op_id: %w", err)
	}
	amount, err := parseBigOptional(j.Amount, "amount")
	if err != nil {
		return nil, err
	}
	payer := j.Payer
	if payer == "" {
		payer = j.Account
	}
	return &event.Repay{
		OpID:      opID,
		Payer:     payer,
		Account:   j.Account,
		Market:    j.Market,
		Amount:    amount,
		Full:      j.Full,
		Sequence:  j.Sequence,
		Timestamp: j.Timestamp,
	}, nil
}

func parseLiquidate(data []byte) (*event.Liquidate, error) {
	var j liquidateJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse Liquidate: %w", err)
	}
	opID, err := uuid.Parse(j.OpID)
	if err != nil {
		return nil, fmt.Errorf("parse op_id: %w", err)
	}
	repayAmount, err := parseBig(j.RepayAmount, "repay_amount")
	if err != nil {
		return nil, err
	}
	return &event.Liquidate{
		OpID:             opID,
		Liquidator:       j.Liquidator,
		Borrower:         j.Borrower,
		BorrowMarket:     j.BorrowMarket,
		CollateralMarket: j.CollateralMarket,
		RepayAmount:      repayAmount,
		Sequence:         j.Sequence,
		Timestamp:        j.Timestamp,
	}, nil
}

func parseMarketEntered(data []byte) (*event.MarketEntered, error) {
	var j membershipJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse MarketEntered: %w", err)
	}
	opID, err := uuid.Parse(j.OpID)
	if err != nil {
		return nil, fmt.Errorf("parse op_id: %w", err)
	}
	return &event.MarketEntered{
		OpID:      opID,
		Account:   j.Account,
		Market:    j.Market,
		Sequence:  j.Sequence,
		Timestamp: j.Timestamp,
	}, nil
}

func parseMarketExited(data []byte) (*event.MarketExited, error) {
	var j membershipJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse MarketExited: %w", err)
	}
	opID, err := uuid.Parse(j.OpID)
	if err != nil {
		return nil, fmt.Errorf("parse op_id: %w", err)
	}
	return &event.MarketExited{
		OpID:      opID,
		Account:   j.Account,
		Market:    j.Market,
		Sequence:  j.Sequence,
		Timestamp: j.Timestamp,
	}, nil
}

func parsePriceUpdate(data []byte) (*event.PriceUpdate, error) {
	var j priceJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse PriceUpdate: %w", err)
	}
	price, err := parseBig(j.Price, "price")
	if err != nil {
		return nil, err
	}
	return &event.PriceUpdate{
		Asset:     j.Asset,
		Price:     price,
		Sequence:  j.Sequence,
		Timestamp: j.Timestamp,
	}, nil
}

func parseInterestAccrued(data []byte) (*event.InterestAccrued, error) {
	var j accrualJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse InterestAccrued: %w", err)
	}
	borrowRate, err := parseBig(j.BorrowRate, "borrow_rate")
	if err != nil {
		return nil, err
	}
	borrowIndex, err := parseBig(j.BorrowIndex, "borrow_index")
	if err != nil {
		return nil, err
	}
	interest, err := parseBig(j.InterestAccrued, "interest_accrued")
	if err != nil {
		return nil, err
	}
	reserves, err := parseBig(j.ReservesAdded, "reserves_added")
	if err != nil {
		return nil, err
	}
	return &event.InterestAccrued{
		Market:          j.Market,
		Timestamp:       j.Timestamp,
		Elapsed:         j.Elapsed,
		BorrowRate:      borrowRate,
		BorrowIndex:     borrowIndex,
		InterestAccrued: interest,
		ReservesAdded:   reserves,
		Sequence:        j.Sequence,
	}, nil
}

func parseMarketListed(data []byte) (*event.MarketListed, error) {
	var j listMarketJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse MarketListed: %w", err)
	}
	opID, err := uuid.Parse(j.OpID)
	if err != nil {
		return nil, fmt.Errorf("parse op_id: %w", err)
	}
	cf, err := parseBig(j.CollateralFactor, "collateral_factor")
	if err != nil {
		return nil, err
	}
	rf, err := parseBig(j.ReserveFactor, "reserve_factor")
	if err != nil {
		return nil, err
	}
	return &event.MarketListed{
		OpID:             opID,
		Admin:            j.Admin,
		Market:           j.Market,
		Asset:            j.Asset,
		CollateralFactor: cf,
		ReserveFactor:    rf,
		Sequence:         j.Sequence,
		Timestamp:        j.Timestamp,
	}, nil
}

func parseCollateralFactorUpdated(data []byte) (*event.CollateralFactorUpdated, error) {
	var j factorJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse CollateralFactorUpdated: %w", err)
	}
	opID, err := uuid.Parse(j.OpID)
	if err != nil {
		return nil, fmt.Errorf("parse op_id: %w", err)
	}
	factor, err := parseBig(j.Factor, "factor")
	if err != nil {
		return nil, err
	}
	return &event.CollateralFactorUpdated{
		OpID:      opID,
		Admin:     j.Admin,
		Market:    j.Market,
		Factor:    factor,
		Sequence:  j.Sequence,
		Timestamp: j.Timestamp,
	}, nil
}

func parseReserveFactorUpdated(data []byte) (*event.ReserveFactorUpdated, error) {
	var j factorJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse ReserveFactorUpdated: %w", err)
	}
	opID, err := uuid.Parse(j.OpID)
	if err != nil {
		return nil, fmt.Errorf("parse op_id: %w", err)
	}
	factor, err := parseBig(j.Factor, "factor")
	if err != nil {
		return nil, err
	}
	return &event.ReserveFactorUpdated{
		OpID:      opID,
		Admin:     j.Admin,
		Market:    j.Market,
		Factor:    factor,
		Sequence:  j.Sequence,
		Timestamp: j.Timestamp,
	}, nil
}

func parseBorrowCapUpdated(data []byte) (*event.BorrowCapUpdated, error) {
	var j capJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse BorrowCapUpdated: %w", err)
	}
	opID, err := uuid.Parse(j.OpID)
	if err != nil {
		return nil, fmt.Errorf("parse op_id: %w", err)
	}
	cap, err := parseBig(j.Cap, "cap")
	if err != nil {
		return nil, err
	}
	return &event.BorrowCapUpdated{
		OpID:      opID,
		Admin:     j.Admin,
		Market:    j.Market,
		Cap:       cap,
		Sequence:  j.Sequence,
		Timestamp: j.Timestamp,
	}, nil
}

func parsePauseUpdated(data []byte) (*event.PauseUpdated, error) {
	var j pauseJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse PauseUpdated: %w", err)
	}
	opID, err := uuid.Parse(j.OpID)
	if err != nil {
		return nil, fmt.Errorf("parse op_id: %w", err)
	}
	return &event.PauseUpdated{
		OpID:         opID,
		Admin:        j.Admin,
		Market:       j.Market,
		SupplyPaused: j.SupplyPaused,
		BorrowPaused: j.BorrowPaused,
		Sequence:     j.Sequence,
		Timestamp:    j.Timestamp,
	}, nil
}

// --- Helpers ---

func parseBig(s, field string) (*big.Int, error) {
	if s == "" {
		return nil, fmt.Errorf("missing %s", field)
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("parse %s: invalid integer %q", field, s)
	}
	return v, nil
}

func parseBigOptional(s, field string) (*big.Int, error) {
	if s == "" {
		return nil, nil
	}
	return parseBig(s, field)
}

func bigString(v *big.Int) string {
	if v == nil {
		return ""
	}
	return v.String()
}
