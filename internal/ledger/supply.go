package ledger

import (
	"fmt"
	"math/big"

	"LendLedger/internal/event"
	fpmath "LendLedger/internal/math"
	"LendLedger/internal/risk"
)

// Supply pulls underlying from the account into the pool and mints shares
// at the pre-deposit exchange rate. The booked amount is what the vault
// actually delivered, so fee-on-transfer assets stay consistent.
func (l *Ledger) Supply(op *event.Supply, now int64) error {
	if !fpmath.IsPositive(op.Amount) {
		return fmt.Errorf("%w: supply amount must be positive", ErrInvalidAmount)
	}
	m, err := l.listedMarket(op.Market)
	if err != nil {
		return err
	}
	if m.SupplyPaused {
		return fmt.Errorf("%w: supply on %s", ErrMarketPaused, op.Market)
	}

	l.stageAccrual(m, now)

	// Exchange rate is fixed before the deposit changes the pool.
	exchangeRate := m.ExchangeRate()

	received, err := l.vault.Debit(op.Account, m.Asset, op.Amount)
	if err != nil {
		return err
	}
	shares := fpmath.WadDiv(received, exchangeRate)
	if shares.Sign() == 0 {
		// Dust too small to mint a share: hand it back rather than absorb it.
		if err := l.vault.Credit(op.Account, m.Asset, received); err != nil {
			return err
		}
		return fmt.Errorf("%w: amount too small to mint shares", ErrInvalidAmount)
	}

	pos := l.store.GetPosition(op.Account, op.Market)
	pos.Shares = new(big.Int).Add(pos.Shares, shares)
	m.Cash = new(big.Int).Add(m.Cash, received)
	m.TotalShares = new(big.Int).Add(m.TotalShares, shares)

	l.store.PutMarket(m)
	l.store.PutPosition(pos)

	op.AmountReceived = received
	op.SharesMinted = shares
	return nil
}

// Withdraw burns shares and pays out underlying. The caller redeems either
// by share count or by underlying amount; the other side is derived from
// the live exchange rate. Members must stay solvent after the redeem.
func (l *Ledger) Withdraw(op *event.Withdraw, now int64) error {
	byShares := fpmath.IsPositive(op.Shares)
	byAmount := fpmath.IsPositive(op.Amount)
	if byShares == byAmount {
		return fmt.Errorf("%w: withdraw needs exactly one of shares or amount", ErrInvalidAmount)
	}
	m, err := l.listedMarket(op.Market)
	if err != nil {
		return err
	}

	l.stageAccrual(m, now)

	exchangeRate := m.ExchangeRate()
	var shares, amount *big.Int
	if byShares {
		shares = fpmath.Clone(op.Shares)
		amount = fpmath.WadMul(shares, exchangeRate)
	} else {
		amount = fpmath.Clone(op.Amount)
		shares = fpmath.WadDiv(amount, exchangeRate)
	}
	if shares.Sign() == 0 || amount.Sign() == 0 {
		return fmt.Errorf("%w: withdraw resolves to zero", ErrInvalidAmount)
	}

	pos := l.store.GetPosition(op.Account, op.Market)
	if pos.Shares.Cmp(shares) < 0 {
		return fmt.Errorf("%w: withdraw exceeds share balance", ErrInvalidAmount)
	}
	if m.Cash.Cmp(amount) < 0 {
		return fmt.Errorf("%w: market %s", ErrInsufficientCash, op.Market)
	}

	// Solvency only binds when the market is counted as collateral.
	if l.store.IsMember(op.Account, op.Market) {
		liq, err := l.calc.AccountLiquidity(l.store, op.Account, &risk.Hypothetical{
			MarketID:     op.Market,
			RedeemShares: shares,
		}, m)
		if err != nil {
			return err
		}
		if liq.Shortfall.Sign() > 0 {
			return fmt.Errorf("%w: shortfall %s", ErrInsufficientLiquidity, liq.Shortfall)
		}
	}

	if err := l.vault.Credit(op.Account, m.Asset, amount); err != nil {
		return err
	}

	pos.Shares = new(big.Int).Sub(pos.Shares, shares)
	m.TotalShares = new(big.Int).Sub(m.TotalShares, shares)
	m.Cash = new(big.Int).Sub(m.Cash, amount)

	l.store.PutMarket(m)
	l.store.PutPosition(pos)

	op.SharesBurned = shares
	op.AmountPaid = amount
	return nil
}
