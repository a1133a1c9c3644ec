package ledger

import (
	"fmt"
	"math/big"

	"LendLedger/internal/event"
	fpmath "LendLedger/internal/math"
)

// Liquidate lets a liquidator repay part of an underwater borrower's debt
// and seize discounted collateral shares in another market. Checks run in a
// fixed order so rejections are deterministic: shortfall, close factor,
// prices, collateral depth, and only then the vault transfer.
func (l *Ledger) Liquidate(op *event.Liquidate, now int64) error {
	if !fpmath.IsPositive(op.RepayAmount) {
		return fmt.Errorf("%w: repay amount must be positive", ErrInvalidAmount)
	}
	if op.Liquidator == op.Borrower {
		return fmt.Errorf("%w: self-liquidation", ErrInvalidAmount)
	}
	borrowMkt, err := l.listedMarket(op.BorrowMarket)
	if err != nil {
		return err
	}
	collateralMkt, err := l.listedMarket(op.CollateralMarket)
	if err != nil {
		return err
	}

	l.stageAccrual(borrowMkt, now)
	if op.CollateralMarket != op.BorrowMarket {
		l.stageAccrual(collateralMkt, now)
	} else {
		collateralMkt = borrowMkt
	}

	liq, err := l.calc.AccountLiquidity(l.store, op.Borrower, nil, borrowMkt, collateralMkt)
	if err != nil {
		return err
	}
	if liq.Shortfall.Sign() == 0 {
		return fmt.Errorf("%w: account %s", ErrNotLiquidatable, op.Borrower)
	}

	borrowerDebtPos := l.store.GetPosition(op.Borrower, op.BorrowMarket)
	debt := refreshDebt(borrowerDebtPos, borrowMkt)
	maxClose := l.calc.MaxClose(debt)
	if op.RepayAmount.Cmp(maxClose) > 0 {
		return fmt.Errorf("%w: repay %s exceeds max close %s", ErrRepayTooLarge, op.RepayAmount, maxClose)
	}

	priceBorrowed, err := l.prices.Price(borrowMkt.Asset)
	if err != nil {
		return err
	}
	priceCollateral, err := l.prices.Price(collateralMkt.Asset)
	if err != nil {
		return err
	}
	exchangeRate := collateralMkt.ExchangeRate()

	// Upper bound on the seize before moving funds: the vault may shave the
	// repay (fee-on-transfer), so the final seize can only be smaller.
	seizeBound := l.calc.SeizeShares(op.RepayAmount, priceBorrowed, priceCollateral, exchangeRate)
	// Same-market liquidation reuses the debt position object so both the
	// principal and share writes land on one record.
	borrowerCollateral := borrowerDebtPos
	if op.CollateralMarket != op.BorrowMarket {
		borrowerCollateral = l.store.GetPosition(op.Borrower, op.CollateralMarket)
	}
	if borrowerCollateral.Shares.Cmp(seizeBound) < 0 {
		return fmt.Errorf("%w: borrower holds %s shares, seize needs %s",
			ErrInsufficientCollateral, borrowerCollateral.Shares, seizeBound)
	}

	received, err := l.vault.Debit(op.Liquidator, borrowMkt.Asset, op.RepayAmount)
	if err != nil {
		return err
	}
	applied := fpmath.Min(received, debt)
	seize := l.calc.SeizeShares(applied, priceBorrowed, priceCollateral, exchangeRate)

	borrowerDebtPos.BorrowPrincipal = new(big.Int).Sub(debt, applied)
	borrowMkt.TotalBorrows = new(big.Int).Sub(borrowMkt.TotalBorrows, applied)
	if borrowMkt.TotalBorrows.Sign() < 0 {
		borrowMkt.TotalBorrows.SetInt64(0)
	}
	borrowMkt.Cash = new(big.Int).Add(borrowMkt.Cash, received)

	borrowerCollateral.Shares = new(big.Int).Sub(borrowerCollateral.Shares, seize)
	liquidatorCollateral := l.store.GetPosition(op.Liquidator, op.CollateralMarket)
	liquidatorCollateral.Shares = new(big.Int).Add(liquidatorCollateral.Shares, seize)

	l.store.PutMarket(borrowMkt)
	if op.CollateralMarket != op.BorrowMarket {
		l.store.PutMarket(collateralMkt)
	}
	l.store.PutPosition(borrowerDebtPos)
	if op.CollateralMarket != op.BorrowMarket {
		l.store.PutPosition(borrowerCollateral)
	}
	l.store.PutPosition(liquidatorCollateral)

	op.AmountApplied = applied
	op.SharesSeized = seize
	return nil
}
