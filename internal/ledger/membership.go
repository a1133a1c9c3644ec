package ledger

import (
	"fmt"

	"LendLedger/internal/event"
)

// EnterMarket opts the account's holdings in a market into its collateral
// and debt accounting. Re-entering is a no-op; the membership set is capped.
func (l *Ledger) EnterMarket(op *event.MarketEntered, now int64) error {
	if _, err := l.listedMarket(op.Market); err != nil {
		return err
	}
	if l.store.IsMember(op.Account, op.Market) {
		return nil
	}
	if l.store.MembershipCount(op.Account) >= l.calc.Params().MaxMarketsPerAccount {
		return fmt.Errorf("%w: account %s", ErrTooManyMarkets, op.Account)
	}
	l.store.AddMembership(op.Account, op.Market)
	return nil
}

// ExitMarket removes a market from the membership set. The account must
// hold no shares and owe no debt there — exit is only for positions fully
// wound down. Exiting a market never entered is a no-op.
func (l *Ledger) ExitMarket(op *event.MarketExited, now int64) error {
	if !l.store.IsMember(op.Account, op.Market) {
		return nil
	}
	m, err := l.listedMarket(op.Market)
	if err != nil {
		return err
	}

	pos := l.store.GetPosition(op.Account, op.Market)
	if pos.Shares.Sign() > 0 {
		return fmt.Errorf("%w: %s shares still held in %s", ErrNonzeroBalance, pos.Shares, op.Market)
	}
	// The debt sign is index-independent, so the stored index suffices.
	if pos.CurrentDebt(m.BorrowIndex).Sign() > 0 {
		return fmt.Errorf("%w: outstanding borrow in %s", ErrNonzeroBalance, op.Market)
	}

	l.store.RemoveMembership(op.Account, op.Market)
	return nil
}
