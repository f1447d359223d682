package engine

import (
	"github.com/shopspring/decimal"

	"github.com/wmartingleason/crypto-exchange-simulator/pkg/types"
)

// Account holds one session's balances. Accounts are created lazily on first
// touch with the configured default balances and live until process exit.
//
// Account is not self-locking: every mutation happens inside the engine's
// serial section, which is what makes a trade's double-ledger transfer atomic.
type Account struct {
	SessionID string
	Balances  map[string]*types.Balance

	// frozen is set when a settlement invariant is violated for this
	// session. A frozen account rejects new orders; the process continues.
	frozen bool
}

func newAccount(sessionID string, defaults map[string]decimal.Decimal) *Account {
	balances := make(map[string]*types.Balance, len(defaults))
	for asset, amount := range defaults {
		balances[asset] = &types.Balance{Free: amount}
	}
	return &Account{SessionID: sessionID, Balances: balances}
}

// balance returns the asset's balance entry, creating a zero one if absent.
func (a *Account) balance(asset string) *types.Balance {
	b, ok := a.Balances[asset]
	if !ok {
		b = &types.Balance{}
		a.Balances[asset] = b
	}
	return b
}

// Free returns the free amount for an asset.
func (a *Account) Free(asset string) decimal.Decimal {
	if b, ok := a.Balances[asset]; ok {
		return b.Free
	}
	return decimal.Zero
}

// lock moves amount from free to locked. free + locked is invariant.
func (a *Account) lock(asset string, amount decimal.Decimal) error {
	b := a.balance(asset)
	if b.Free.LessThan(amount) {
		return types.E(types.KindInsufficientBalance,
			"need %s %s free, have %s", amount, asset, b.Free)
	}
	b.Free = b.Free.Sub(amount)
	b.Locked = b.Locked.Add(amount)
	return nil
}

// unlock returns amount from locked to free.
func (a *Account) unlock(asset string, amount decimal.Decimal) {
	b := a.balance(asset)
	b.Locked = b.Locked.Sub(amount)
	b.Free = b.Free.Add(amount)
}

// debitLocked consumes amount from the locked balance, the settlement leg of
// a previously reserved order.
func (a *Account) debitLocked(asset string, amount decimal.Decimal) {
	b := a.balance(asset)
	b.Locked = b.Locked.Sub(amount)
}

// debitFree consumes amount directly from free. Used by BUY MARKET orders,
// which carry no reservation.
func (a *Account) debitFree(asset string, amount decimal.Decimal) {
	b := a.balance(asset)
	b.Free = b.Free.Sub(amount)
}

// creditFree adds amount to free.
func (a *Account) creditFree(asset string, amount decimal.Decimal) {
	b := a.balance(asset)
	b.Free = b.Free.Add(amount)
}

// negative reports whether any balance went below zero, the fatal
// settlement invariant.
func (a *Account) negative() bool {
	for _, b := range a.Balances {
		if b.Free.IsNegative() || b.Locked.IsNegative() {
			return true
		}
	}
	return false
}

// snapshotBalances returns a deep copy safe to hand outside the engine lock.
func (a *Account) snapshotBalances() map[string]types.Balance {
	out := make(map[string]types.Balance, len(a.Balances))
	for asset, b := range a.Balances {
		out[asset] = *b
	}
	return out
}
