package ledger

import (
	"fmt"
	"math/big"

	"LendLedger/internal/event"
	fpmath "LendLedger/internal/math"
	"LendLedger/internal/state"
)

// Authorizer gates admin operations.
type Authorizer interface {
	IsAdmin(account string) bool
}

// AllowList is the static admin set used by the standalone deployment.
type AllowList map[string]struct{}

func NewAllowList(accounts ...string) AllowList {
	al := make(AllowList, len(accounts))
	for _, a := range accounts {
		al[a] = struct{}{}
	}
	return al
}

func (al AllowList) IsAdmin(account string) bool {
	_, ok := al[account]
	return ok
}

// maxCollateralFactor caps how much of an asset's value can back borrows.
var maxCollateralFactor = fpmath.WadFromFraction(9, 10)

// SetAuthorizer installs the admin gate. A nil authorizer rejects everything.
func (l *Ledger) SetAuthorizer(auth Authorizer) {
	l.auth = auth
}

func (l *Ledger) requireAdmin(account string) error {
	if l.auth == nil || !l.auth.IsAdmin(account) {
		return fmt.Errorf("%w: %s", ErrUnauthorized, account)
	}
	return nil
}

// ListMarket activates a new market. Listing is one-way; there is no
// delisting. The accrual clock starts at the listing timestamp.
func (l *Ledger) ListMarket(op *event.MarketListed, now int64) error {
	if err := l.requireAdmin(op.Admin); err != nil {
		return err
	}
	if existing := l.store.GetMarket(op.Market); existing != nil && existing.Listed {
		return fmt.Errorf("%w: %s", ErrMarketAlreadyListed, op.Market)
	}
	if err := validateCollateralFactor(op.CollateralFactor); err != nil {
		return err
	}
	if err := validateReserveFactor(op.ReserveFactor); err != nil {
		return err
	}

	m := state.NewMarket(op.Market, op.Asset)
	m.Listed = true
	m.CollateralFactor = fpmath.Clone(op.CollateralFactor)
	m.ReserveFactor = fpmath.Clone(op.ReserveFactor)
	m.LastAccrualTime = now
	l.store.PutMarket(m)
	return nil
}

// SetCollateralFactor updates a market's collateral factor within [0, 0.9].
func (l *Ledger) SetCollateralFactor(op *event.CollateralFactorUpdated, now int64) error {
	if err := l.requireAdmin(op.Admin); err != nil {
		return err
	}
	m, err := l.listedMarket(op.Market)
	if err != nil {
		return err
	}
	if err := validateCollateralFactor(op.Factor); err != nil {
		return err
	}
	l.stageAccrual(m, now)
	m.CollateralFactor = fpmath.Clone(op.Factor)
	l.store.PutMarket(m)
	return nil
}

// SetReserveFactor updates a market's reserve factor within [0, 1].
func (l *Ledger) SetReserveFactor(op *event.ReserveFactorUpdated, now int64) error {
	if err := l.requireAdmin(op.Admin); err != nil {
		return err
	}
	m, err := l.listedMarket(op.Market)
	if err != nil {
		return err
	}
	if err := validateReserveFactor(op.Factor); err != nil {
		return err
	}
	// Accrue under the old factor before the new one takes effect.
	l.stageAccrual(m, now)
	m.ReserveFactor = fpmath.Clone(op.Factor)
	l.store.PutMarket(m)
	return nil
}

// SetBorrowCap sets the total-borrow ceiling; zero removes the cap. The cap
// only gates new borrows, existing debt above it is untouched.
func (l *Ledger) SetBorrowCap(op *event.BorrowCapUpdated, now int64) error {
	if err := l.requireAdmin(op.Admin); err != nil {
		return err
	}
	m, err := l.listedMarket(op.Market)
	if err != nil {
		return err
	}
	if op.Cap != nil && op.Cap.Sign() < 0 {
		return fmt.Errorf("%w: negative borrow cap", ErrInvalidAmount)
	}
	m.BorrowCap = fpmath.Clone(op.Cap)
	l.store.PutMarket(m)
	return nil
}

// SetPaused toggles supply/borrow pauses. Withdraw and repay are never
// paused: users can always reduce exposure.
func (l *Ledger) SetPaused(op *event.PauseUpdated, now int64) error {
	if err := l.requireAdmin(op.Admin); err != nil {
		return err
	}
	m, err := l.listedMarket(op.Market)
	if err != nil {
		return err
	}
	m.SupplyPaused = op.SupplyPaused
	m.BorrowPaused = op.BorrowPaused
	l.store.PutMarket(m)
	return nil
}

func validateCollateralFactor(factor *big.Int) error {
	if factor == nil || factor.Sign() < 0 || factor.Cmp(maxCollateralFactor) > 0 {
		return fmt.Errorf("%w: collateral factor outside [0, 0.9]", ErrInvalidAmount)
	}
	return nil
}

func validateReserveFactor(factor *big.Int) error {
	if factor == nil || factor.Sign() < 0 || factor.Cmp(fpmath.WAD) > 0 {
		return fmt.Errorf("%w: reserve factor outside [0, 1]", ErrInvalidAmount)
	}
	return nil
}
