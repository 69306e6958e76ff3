package balances

import (
	"math/big"

	"github.com/kdimentionaltree/wallet-balances-go/balances/models"
)

func nz(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}

func clampZero(v *big.Int) *big.Int {
	if v.Sign() < 0 {
		return v.SetInt64(0)
	}
	return v
}

// Transferable returns the spendable part of the account:
//
//	free - max(frozen - reserved, minimum if keep-alive else 0)
//
// clamped at zero.
func Transferable(t *AccountTotals, minimum *big.Int, tc models.TransferContext) *big.Int {
	if t == nil {
		return new(big.Int)
	}
	untouchable := clampZero(new(big.Int).Sub(nz(t.Frozen), nz(t.Reserved)))
	if tc.KeepAlive && untouchable.Cmp(nz(minimum)) < 0 {
		untouchable.Set(nz(minimum))
	}
	return clampZero(new(big.Int).Sub(nz(t.Free), untouchable))
}

// Total is free plus reserved.
func Total(t *AccountTotals) *big.Int {
	if t == nil {
		return new(big.Int)
	}
	return new(big.Int).Add(nz(t.Free), nz(t.Reserved))
}

// PoolLocked is the stake held by a nomination pool membership, bonded and unbonding.
func PoolLocked(p *PoolMembership) *big.Int {
	if p == nil {
		return new(big.Int)
	}
	return new(big.Int).Add(nz(p.Points), nz(p.Unbonding))
}

// SystemLocked is total - free + pool stake + derived stake, never negative.
func SystemLocked(total, free, pool, derived *big.Int) *big.Int {
	locked := new(big.Int).Sub(nz(total), nz(free))
	locked.Add(locked, nz(pool))
	locked.Add(locked, nz(derived))
	return clampZero(locked)
}

// tokenAmounts normalizes a pallet token account into free and locked.
// A frozen account has nothing transferable.
func tokenAmounts(acc *TokenAccount) (free, locked *big.Int) {
	if acc == nil {
		return new(big.Int), new(big.Int)
	}
	total := new(big.Int).Add(nz(acc.Free), nz(acc.Reserved))
	if acc.IsFrozen {
		free = new(big.Int)
	} else {
		free = clampZero(new(big.Int).Sub(nz(acc.Free), nz(acc.Frozen)))
	}
	return free, clampZero(new(big.Int).Sub(total, free))
}
