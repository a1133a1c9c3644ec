package ledger

import "errors"

// Operation failures are reported through this fixed set of sentinels so
// callers can branch with errors.Is. Wrapped messages add the offending
// account/market; the sentinel identity is the contract.
var (
	// ErrInvalidAmount rejects zero, negative, or otherwise malformed inputs.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrMarketNotListed rejects operations against unknown or unlisted markets.
	ErrMarketNotListed = errors.New("market not listed")

	// ErrMarketAlreadyListed rejects a second listing; listing is one-way.
	ErrMarketAlreadyListed = errors.New("market already listed")

	// ErrInsufficientCash means the pool holds too little underlying to pay out.
	ErrInsufficientCash = errors.New("insufficient cash")

	// ErrInsufficientLiquidity means the action would leave the account
	// undercollateralized.
	ErrInsufficientLiquidity = errors.New("insufficient liquidity")

	// ErrNotLiquidatable means the target account has no shortfall.
	ErrNotLiquidatable = errors.New("account not liquidatable")

	// ErrRepayTooLarge means a liquidation repay exceeds closeFactor × debt.
	ErrRepayTooLarge = errors.New("repay exceeds close factor limit")

	// ErrRepayExceedsDebt means a repay exceeds the live debt under the
	// rejecting repay policy.
	ErrRepayExceedsDebt = errors.New("repay exceeds outstanding debt")

	// ErrInsufficientCollateral means the borrower holds fewer collateral
	// shares than a liquidation would seize.
	ErrInsufficientCollateral = errors.New("insufficient collateral to seize")

	// ErrTooManyMarkets means the account's membership set is at capacity.
	ErrTooManyMarkets = errors.New("too many entered markets")

	// ErrNonzeroBalance means the account still holds shares or owes debt
	// in a market it is trying to exit.
	ErrNonzeroBalance = errors.New("nonzero balance in market")

	// ErrBorrowCapExceeded means the borrow would push totalBorrows past the
	// market's cap.
	ErrBorrowCapExceeded = errors.New("borrow cap exceeded")

	// ErrMarketPaused means the requested action is administratively paused.
	ErrMarketPaused = errors.New("market action paused")

	// ErrUnauthorized rejects admin operations from non-admin callers.
	ErrUnauthorized = errors.New("unauthorized")
)

// RepayPolicy selects how a repay larger than the live debt is handled.
type RepayPolicy int

const (
	// CapRepay clamps the repay to the outstanding debt (default).
	CapRepay RepayPolicy = iota
	// RejectRepay fails the operation with ErrRepayExceedsDebt.
	RejectRepay
)
