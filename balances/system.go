package balances

import (
	"context"
	"fmt"
	"time"

	"github.com/kdimentionaltree/wallet-balances-go/balances/models"
)

// startSystem subscribes to the native account totals of addresses. Pool
// memberships are requested too unless the chain has migrated its staking
// bookkeeping, in which case pool stake is already part of the totals.
func startSystem(ctx context.Context, e *env, chain *models.ChainDescriptor, native *models.TokenDescriptor, addresses []string, client AccountModelClient, emit emitFunc) (TeardownFunc, error) {
	logger := e.chainLogger(chain, "system")
	withPools := chain.Features.NominationPools && !e.probes.stakingMigrated(ctx, client, logger)

	flag := &cancelFlag{}
	unsub, err := client.SubscribeAccounts(ctx, addresses, withPools, func(states []*AccountState) {
		now := time.Now()
		records := make([]models.BalanceRecord, len(addresses))
		for i, addr := range addresses {
			var st *AccountState
			if i < len(states) {
				st = states[i]
			}
			records[i] = systemRecord(addr, native, st, e.transfer, now)
		}
		flag.emit(emit, records)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe accounts on %s: %w", chain.ID, err)
	}

	logger.WithField("pools", withPools).Debug("system subscription started")
	return pushTeardown(flag, unsub, logger), nil
}

func systemRecord(addr string, native *models.TokenDescriptor, st *AccountState, tc models.TransferContext, now time.Time) models.BalanceRecord {
	if st == nil || st.Totals == nil {
		return models.ZeroRecord(addr, native.ID, models.StateReady, now)
	}

	free := Transferable(st.Totals, native.MinBalance(), tc)
	pool := PoolLocked(st.Pool)
	locked := SystemLocked(Total(st.Totals), free, pool, st.DerivedLock)

	r := models.NewReadyRecord(addr, native.ID, free, locked, now)
	r.Metadata = map[string]string{
		"reserved":   nz(st.Totals.Reserved).String(),
		"frozen":     nz(st.Totals.Frozen).String(),
		"poolLocked": pool.String(),
	}
	return r
}
