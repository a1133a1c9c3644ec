package state

import (
	"math/big"

	fpmath "LendLedger/internal/math"
)

// Market is the full ledger state of one listed asset pool. All WAD-scaled
// fields are big integers; Cash/TotalBorrows/TotalReserves are underlying
// token amounts, TotalShares counts supply shares, BorrowIndex is the
// monotone interest accumulator starting at 1.0 WAD.
type Market struct {
	MarketID         string
	Asset            string
	Listed           bool
	CollateralFactor *big.Int // WAD, [0, 0.9]
	ReserveFactor    *big.Int // WAD, [0, 1]
	BorrowCap        *big.Int // underlying units; nil or 0 means uncapped
	Cash             *big.Int
	TotalShares      *big.Int
	TotalBorrows     *big.Int
	TotalReserves    *big.Int
	BorrowIndex      *big.Int
	LastAccrualTime  int64 // unix seconds of last interest accrual
	SupplyPaused     bool
	BorrowPaused     bool
	Version          int64
}

// NewMarket returns an unlisted market shell with index 1.0 and zero pool.
func NewMarket(marketID, asset string) *Market {
	return &Market{
		MarketID:         marketID,
		Asset:            asset,
		CollateralFactor: big.NewInt(0),
		ReserveFactor:    big.NewInt(0),
		BorrowCap:        big.NewInt(0),
		Cash:             big.NewInt(0),
		TotalShares:      big.NewInt(0),
		TotalBorrows:     big.NewInt(0),
		TotalReserves:    big.NewInt(0),
		BorrowIndex:      fpmath.Clone(fpmath.WAD),
	}
}

// ExchangeRate returns the WAD-scaled underlying value of one supply share:
// (cash + totalBorrows − totalReserves) / totalShares, or 1.0 for an empty
// market so the first supplier mints 1:1.
func (m *Market) ExchangeRate() *big.Int {
	if m.TotalShares.Sign() == 0 {
		return fpmath.Clone(fpmath.WAD)
	}
	pool := new(big.Int).Add(m.Cash, m.TotalBorrows)
	pool.Sub(pool, m.TotalReserves)
	return fpmath.WadDiv(pool, m.TotalShares)
}

// Clone returns a deep copy.
func (m *Market) Clone() *Market {
	return &Market{
		MarketID:         m.MarketID,
		Asset:            m.Asset,
		Listed:           m.Listed,
		CollateralFactor: fpmath.Clone(m.CollateralFactor),
		ReserveFactor:    fpmath.Clone(m.ReserveFactor),
		BorrowCap:        fpmath.Clone(m.BorrowCap),
		Cash:             fpmath.Clone(m.Cash),
		TotalShares:      fpmath.Clone(m.TotalShares),
		TotalBorrows:     fpmath.Clone(m.TotalBorrows),
		TotalReserves:    fpmath.Clone(m.TotalReserves),
		BorrowIndex:      fpmath.Clone(m.BorrowIndex),
		LastAccrualTime:  m.LastAccrualTime,
		SupplyPaused:     m.SupplyPaused,
		BorrowPaused:     m.BorrowPaused,
		Version:          m.Version,
	}
}

// CanonicalBytes for deterministic hashing
func (m *Market) CanonicalBytes() []byte {
	buf := make([]byte, 0, 256)
	buf = appendString(buf, m.MarketID)
	buf = appendString(buf, m.Asset)
	buf = appendBool(buf, m.Listed)
	buf = appendBigInt(buf, m.CollateralFactor)
	buf = appendBigInt(buf, m.ReserveFactor)
	buf = appendBigInt(buf, m.BorrowCap)
	buf = appendBigInt(buf, m.Cash)
	buf = appendBigInt(buf, m.TotalShares)
	buf = appendBigInt(buf, m.TotalBorrows)
	buf = appendBigInt(buf, m.TotalReserves)
	buf = appendBigInt(buf, m.BorrowIndex)
	buf = appendInt64LE(buf, m.LastAccrualTime)
	buf = appendBool(buf, m.SupplyPaused)
	buf = appendBool(buf, m.BorrowPaused)
	return buf
}

// Position is one account's standing in one market: supply shares plus the
// borrow snapshot (principal booked at InterestIndex, the market BorrowIndex
// value current when the snapshot was last refreshed).
type Position struct {
	Account         string
	MarketID        string
	Shares          *big.Int
	BorrowPrincipal *big.Int
	InterestIndex   *big.Int // market BorrowIndex at last borrow/repay
	Version         int64
}

// NewPosition returns an empty position with a 1.0 snapshot index.
func NewPosition(account, marketID string) *Position {
	return &Position{
		Account:         account,
		MarketID:        marketID,
		Shares:          big.NewInt(0),
		BorrowPrincipal: big.NewInt(0),
		InterestIndex:   fpmath.Clone(fpmath.WAD),
	}
}

// CurrentDebt scales the stored principal by the drift between the market's
// live borrow index and the snapshot index: principal * index / snapshot.
func (p *Position) CurrentDebt(borrowIndex *big.Int) *big.Int {
	if p.BorrowPrincipal.Sign() == 0 {
		return big.NewInt(0)
	}
	return fpmath.MulDiv(p.BorrowPrincipal, borrowIndex, p.InterestIndex)
}

// IsEmpty reports whether the position holds no shares and no debt.
func (p *Position) IsEmpty() bool {
	return p.Shares.Sign() == 0 && p.BorrowPrincipal.Sign() == 0
}

// Clone returns a deep copy.
func (p *Position) Clone() *Position {
	return &Position{
		Account:         p.Account,
		MarketID:        p.MarketID,
		Shares:          fpmath.Clone(p.Shares),
		BorrowPrincipal: fpmath.Clone(p.BorrowPrincipal),
		InterestIndex:   fpmath.Clone(p.InterestIndex),
		Version:         p.Version,
	}
}

// CanonicalBytes for deterministic hashing
func (p *Position) CanonicalBytes() []byte {
	buf := make([]byte, 0, 128)
	buf = appendString(buf, p.Account)
	buf = appendString(buf, p.MarketID)
	buf = appendBigInt(buf, p.Shares)
	buf = appendBigInt(buf, p.BorrowPrincipal)
	buf = appendBigInt(buf, p.InterestIndex)
	return buf
}

func appendString(buf []byte, s string) []byte {
	buf = append(buf, byte(len(s)))
	return append(buf, s...)
}

func appendBool(buf []byte, b bool) []byte {
	if b {
		return append(buf, 1)
	}
	return append(buf, 0)
}

// appendBigInt writes a two-byte little-endian length followed by the
// magnitude bytes. All ledger quantities are non-negative.
func appendBigInt(buf []byte, v *big.Int) []byte {
	var raw []byte
	if v != nil {
		raw = v.Bytes()
	}
	buf = append(buf, byte(len(raw)), byte(len(raw)>>8))
	return append(buf, raw...)
}

func appendInt64LE(buf []byte, v int64) []byte {
	for i := 0; i < 8; i++ {
		buf = append(buf, byte(v>>(8*i)))
	}
	return buf
}
