package balances

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kdimentionaltree/wallet-balances-go/balances/models"
)

type emitFunc func([]models.BalanceRecord)

// env is what every strategy of one subscription shares.
type env struct {
	logger    *logrus.Entry
	intervals Intervals
	transfer  models.TransferContext
	limit     int
	probes    *probeCache
}

func (e *env) chainLogger(chain *models.ChainDescriptor, strategy string) *logrus.Entry {
	return e.logger.WithFields(logrus.Fields{
		"chain":    chain.ID,
		"strategy": strategy,
	})
}

func (e *env) interval(family models.Family) time.Duration {
	switch family {
	case models.FamilyEVM:
		return e.intervals.EVM
	case models.FamilyNativeLedger:
		return e.intervals.NativeLedger
	case models.FamilyUTXO:
		return e.intervals.UTXO
	}
	return e.intervals.Contracts
}

// probeCache remembers the staking bookkeeping probe per client. Clients are
// long-lived pointers, so the result is kept for the client's lifetime.
type probeCache struct {
	mu       sync.Mutex
	migrated map[AccountModelClient]bool
}

func newProbeCache() *probeCache {
	return &probeCache{migrated: make(map[AccountModelClient]bool)}
}

func (c *probeCache) stakingMigrated(ctx context.Context, client AccountModelClient, logger *logrus.Entry) bool {
	c.mu.Lock()
	v, ok := c.migrated[client]
	c.mu.Unlock()
	if ok {
		return v
	}

	migrated, err := client.StakingMigrated(ctx)
	if err != nil {
		// not cached, the next setup probes again
		logger.WithError(err).Debug("staking probe failed")
		return false
	}
	c.mu.Lock()
	c.migrated[client] = migrated
	c.mu.Unlock()
	return migrated
}

func zeroOnError(logger *logrus.Entry, tokenID string) func(string, error) *big.Int {
	return func(addr string, err error) *big.Int {
		logger.WithError(err).WithFields(logrus.Fields{
			"address": addr,
			"token":   tokenID,
		}).Debug("balance read failed, reporting zero")
		return new(big.Int)
	}
}

// readyBatch builds one READY record per address; amounts[i] belongs to addresses[i].
func readyBatch(addresses []string, tokenID string, amounts []*big.Int, now time.Time) []models.BalanceRecord {
	records := make([]models.BalanceRecord, len(addresses))
	for i, addr := range addresses {
		var free *big.Int
		if i < len(amounts) {
			free = amounts[i]
		}
		records[i] = models.NewReadyRecord(addr, tokenID, free, nil, now)
	}
	return records
}

func nativeToken(tokens []*models.TokenDescriptor, chain *models.ChainDescriptor) *models.TokenDescriptor {
	for _, t := range tokens {
		if t.OriginChain == chain.ID && t.Kind == models.TokenNative && (chain.NativeTokenID == "" || t.ID == chain.NativeTokenID) {
			return t
		}
	}
	return nil
}
