package ledger

import (
	"fmt"
	"math/big"

	"LendLedger/internal/event"
	fpmath "LendLedger/internal/math"
	"LendLedger/internal/risk"
)

// Borrow draws underlying from the pool against the account's collateral.
// The borrower is entered into the market automatically so the new debt is
// always counted by liquidity sweeps.
func (l *Ledger) Borrow(op *event.Borrow, now int64) error {
	if !fpmath.IsPositive(op.Amount) {
		return fmt.Errorf("%w: borrow amount must be positive", ErrInvalidAmount)
	}
	m, err := l.listedMarket(op.Market)
	if err != nil {
		return err
	}
	if m.BorrowPaused {
		return fmt.Errorf("%w: borrow on %s", ErrMarketPaused, op.Market)
	}

	l.stageAccrual(m, now)

	if m.Cash.Cmp(op.Amount) < 0 {
		return fmt.Errorf("%w: market %s", ErrInsufficientCash, op.Market)
	}
	if fpmath.IsPositive(m.BorrowCap) {
		projected := new(big.Int).Add(m.TotalBorrows, op.Amount)
		if projected.Cmp(m.BorrowCap) > 0 {
			return fmt.Errorf("%w: market %s cap %s", ErrBorrowCapExceeded, op.Market, m.BorrowCap)
		}
	}

	// Membership is implied by borrowing; it only fails at the set cap.
	joined := false
	if !l.store.IsMember(op.Account, op.Market) {
		if l.store.MembershipCount(op.Account) >= l.calc.Params().MaxMarketsPerAccount {
			return fmt.Errorf("%w: account %s", ErrTooManyMarkets, op.Account)
		}
		l.store.AddMembership(op.Account, op.Market)
		joined = true
	}

	liq, err := l.calc.AccountLiquidity(l.store, op.Account, &risk.Hypothetical{
		MarketID:     op.Market,
		BorrowAmount: op.Amount,
	}, m)
	if err != nil {
		l.rollbackJoin(joined, op.Account, op.Market)
		return err
	}
	if liq.Shortfall.Sign() > 0 {
		l.rollbackJoin(joined, op.Account, op.Market)
		return fmt.Errorf("%w: shortfall %s", ErrInsufficientLiquidity, liq.Shortfall)
	}

	if err := l.vault.Credit(op.Account, m.Asset, op.Amount); err != nil {
		l.rollbackJoin(joined, op.Account, op.Market)
		return err
	}

	pos := l.store.GetPosition(op.Account, op.Market)
	debt := refreshDebt(pos, m)
	pos.BorrowPrincipal = new(big.Int).Add(debt, op.Amount)
	m.TotalBorrows = new(big.Int).Add(m.TotalBorrows, op.Amount)
	m.Cash = new(big.Int).Sub(m.Cash, op.Amount)

	l.store.PutMarket(m)
	l.store.PutPosition(pos)
	return nil
}

func (l *Ledger) rollbackJoin(joined bool, account, marketID string) {
	if joined {
		l.store.RemoveMembership(account, marketID)
	}
}

// Repay pays down an account's debt; the payer may be a third party. Under
// CapRepay an overpayment is clamped to the live debt, under RejectRepay it
// fails. Full repays the entire debt regardless of Amount.
func (l *Ledger) Repay(op *event.Repay, now int64) error {
	if !op.Full && !fpmath.IsPositive(op.Amount) {
		return fmt.Errorf("%w: repay amount must be positive", ErrInvalidAmount)
	}
	m, err := l.listedMarket(op.Market)
	if err != nil {
		return err
	}

	l.stageAccrual(m, now)

	pos := l.store.GetPosition(op.Account, op.Market)
	debt := refreshDebt(pos, m)
	if debt.Sign() == 0 {
		return fmt.Errorf("%w: no outstanding debt", ErrInvalidAmount)
	}

	var amount *big.Int
	switch {
	case op.Full:
		amount = fpmath.Clone(debt)
	case op.Amount.Cmp(debt) > 0:
		if l.repayPolicy == RejectRepay {
			return fmt.Errorf("%w: debt is %s", ErrRepayExceedsDebt, debt)
		}
		amount = fpmath.Clone(debt)
	default:
		amount = fpmath.Clone(op.Amount)
	}

	received, err := l.vault.Debit(op.Payer, m.Asset, amount)
	if err != nil {
		return err
	}
	// Fee-on-transfer: only what arrived retires debt.
	applied := fpmath.Min(received, debt)

	pos.BorrowPrincipal = new(big.Int).Sub(debt, applied)
	m.TotalBorrows = new(big.Int).Sub(m.TotalBorrows, applied)
	if m.TotalBorrows.Sign() < 0 {
		m.TotalBorrows.SetInt64(0)
	}
	m.Cash = new(big.Int).Add(m.Cash, received)

	l.store.PutMarket(m)
	l.store.PutPosition(pos)

	op.AmountApplied = applied
	return nil
}
