package vault

import (
	"errors"
	"fmt"
	"math/big"

	fpmath "LendLedger/internal/math"
)

var ErrInsufficientFunds = errors.New("vault: insufficient funds")

// Vault is the custody collaborator: it moves underlying between external
// accounts and the market's own holdings. Debit returns the amount that
// actually arrived, which can be less than requested for fee-on-transfer
// assets — the ledger books the returned value, never the requested one.
type Vault interface {
	// Debit pulls amount of asset from the account into market custody and
	// returns the actually received amount.
	Debit(account, asset string, amount *big.Int) (*big.Int, error)
	// Credit pays amount of asset from market custody out to the account.
	Credit(account, asset string, amount *big.Int) error
}

// InMemoryVault is the standalone/test custody backend: per-account,
// per-asset balances plus a market custody bucket per asset. An optional
// WAD-scaled transfer fee models fee-on-transfer assets.
type InMemoryVault struct {
	balances map[string]*big.Int // account|asset → balance
	custody  map[string]*big.Int // asset → market holdings
	fees     map[string]*big.Int // asset → WAD fee taken on transfer in
}

func NewInMemoryVault() *InMemoryVault {
	return &InMemoryVault{
		balances: make(map[string]*big.Int),
		custody:  make(map[string]*big.Int),
		fees:     make(map[string]*big.Int),
	}
}

func key(account, asset string) string {
	return account + "|" + asset
}

// Fund seeds an external account balance (test/bootstrap helper).
func (v *InMemoryVault) Fund(account, asset string, amount *big.Int) {
	k := key(account, asset)
	cur, ok := v.balances[k]
	if !ok {
		cur = big.NewInt(0)
	}
	v.balances[k] = new(big.Int).Add(cur, amount)
}

// SetTransferFee configures a WAD-scaled inbound fee for an asset, e.g.
// 0.01 WAD burns 1% of every transfer into custody.
func (v *InMemoryVault) SetTransferFee(asset string, fee *big.Int) {
	v.fees[asset] = fpmath.Clone(fee)
}

// Balance returns an account's external balance.
func (v *InMemoryVault) Balance(account, asset string) *big.Int {
	if bal, ok := v.balances[key(account, asset)]; ok {
		return fpmath.Clone(bal)
	}
	return big.NewInt(0)
}

// Custody returns the market's holdings of an asset.
func (v *InMemoryVault) Custody(asset string) *big.Int {
	if bal, ok := v.custody[asset]; ok {
		return fpmath.Clone(bal)
	}
	return big.NewInt(0)
}

func (v *InMemoryVault) Debit(account, asset string, amount *big.Int) (*big.Int, error) {
	if !fpmath.IsPositive(amount) {
		return big.NewInt(0), nil
	}
	k := key(account, asset)
	bal, ok := v.balances[k]
	if !ok || bal.Cmp(amount) < 0 {
		return nil, fmt.Errorf("%w: account %s asset %s", ErrInsufficientFunds, account, asset)
	}

	received := fpmath.Clone(amount)
	if fee, ok := v.fees[asset]; ok && fee.Sign() > 0 {
		taken := fpmath.WadMul(amount, fee)
		received.Sub(received, taken)
	}

	v.balances[k] = new(big.Int).Sub(bal, amount)
	cust, ok := v.custody[asset]
	if !ok {
		cust = big.NewInt(0)
	}
	v.custody[asset] = new(big.Int).Add(cust, received)

	return received, nil
}

// VaultState is the serializable form of the vault, included in snapshots
// so replay resumes against the same custody balances.
type VaultState struct {
	Balances map[string]*big.Int
	Custody  map[string]*big.Int
	Fees     map[string]*big.Int
}

// Snapshot copies the full vault state.
func (v *InMemoryVault) Snapshot() VaultState {
	return VaultState{
		Balances: cloneMap(v.balances),
		Custody:  cloneMap(v.custody),
		Fees:     cloneMap(v.fees),
	}
}

// Restore replaces the vault state with a snapshot.
func (v *InMemoryVault) Restore(s VaultState) {
	v.balances = cloneMap(s.Balances)
	v.custody = cloneMap(s.Custody)
	v.fees = cloneMap(s.Fees)
}

func cloneMap(m map[string]*big.Int) map[string]*big.Int {
	out := make(map[string]*big.Int, len(m))
	for k, val := range m {
		out[k] = fpmath.Clone(val)
	}
	return out
}

func (v *InMemoryVault) Credit(account, asset string, amount *big.Int) error {
	if !fpmath.IsPositive(amount) {
		return nil
	}
	cust, ok := v.custody[asset]
	if !ok || cust.Cmp(amount) < 0 {
		return fmt.Errorf("%w: market custody of %s", ErrInsufficientFunds, asset)
	}
	v.custody[asset] = new(big.Int).Sub(cust, amount)

	k := key(account, asset)
	bal, ok := v.balances[k]
	if !ok {
		bal = big.NewInt(0)
	}
	v.balances[k] = new(big.Int).Add(bal, amount)
	return nil
}
