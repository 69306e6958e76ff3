package balances

import (
	"context"
	"math/big"
	"strconv"
	"time"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/kdimentionaltree/wallet-balances-go/balances/models"
)

type derivedKey struct {
	address   string
	subLedger uint16
}

// sumDerived adds up rows per (address, sub-ledger), ignoring addresses outside want.
func sumDerived(rows []DerivedStake, want mapset.Set[string]) map[derivedKey]*big.Int {
	sums := make(map[derivedKey]*big.Int)
	for _, row := range rows {
		if !want.Contains(row.Address) {
			continue
		}
		k := derivedKey{row.Address, row.SubLedger}
		if sums[k] == nil {
			sums[k] = new(big.Int)
		}
		sums[k].Add(sums[k], nz(row.Amount))
	}
	return sums
}

// startDerived polls the sub-ledger table, which the chain only returns whole,
// and emits one batch per staking-derived token.
func startDerived(ctx context.Context, e *env, chain *models.ChainDescriptor, tokens []*models.TokenDescriptor, addresses []string, client AccountModelClient, emit emitFunc) TeardownFunc {
	logger := e.chainLogger(chain, "staking-derived")
	want := mapset.NewThreadUnsafeSet(addresses...)

	return startPolling(ctx, chain.ID+"/staking-derived", e.intervals.StakingDerived, logger, func(ctx context.Context, flag *cancelFlag) {
		rows, err := client.QueryDerivedStake(ctx, addresses)
		if err != nil {
			logger.WithError(err).Debug("derived stake query failed, reporting zero")
			rows = nil
		}
		sums := sumDerived(rows, want)

		now := time.Now()
		for _, token := range tokens {
			records := make([]models.BalanceRecord, len(addresses))
			for i, addr := range addresses {
				var amount *big.Int
				if token.SubLedger != nil {
					amount = sums[derivedKey{addr, *token.SubLedger}]
				}
				records[i] = models.NewReadyRecord(addr, token.ID, amount, nil, now)
				if token.SubLedger != nil {
					records[i].Metadata = map[string]string{"subLedger": strconv.Itoa(int(*token.SubLedger))}
				}
			}
			flag.emit(emit, records)
		}
	})
}
