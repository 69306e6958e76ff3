package main

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/kdimentionaltree/wallet-balances-go/balances"
	"github.com/kdimentionaltree/wallet-balances-go/balances/models"
	"github.com/kdimentionaltree/wallet-balances-go/clients/esplora"
	"github.com/kdimentionaltree/wallet-balances-go/clients/evm"
	"github.com/kdimentionaltree/wallet-balances-go/clients/relay"
	"github.com/kdimentionaltree/wallet-balances-go/clients/ton"
	"github.com/kdimentionaltree/wallet-balances-go/config"
)

const relayRestartDelay = 5 * time.Second

type clientSet struct {
	balances.Clients
	relays  map[string]*relay.Client
	closers []func()
}

func (cs *clientSet) Close() {
	for _, c := range cs.closers {
		c()
	}
}

// buildClients creates one client per configured chain. A chain whose client
// cannot be created is left without one; the engine reports its addresses as
// not supported.
func buildClients(ctx context.Context, reg *config.Registry, rdb redis.UniversalClient, logger *logrus.Entry) *clientSet {
	cs := &clientSet{
		Clients: balances.Clients{
			AccountModel: make(map[string]balances.AccountModelClient),
			EVM:          make(map[string]balances.EVMClient),
			NativeLedger: make(map[string]balances.NativeLedgerClient),
			UTXO:         make(map[string]balances.UTXOClient),
		},
		relays: make(map[string]*relay.Client),
	}

	for _, chain := range reg.Chains {
		log := logger.WithFields(logrus.Fields{"chain": chain.ID, "family": chain.Family})

		switch chain.Family {
		case models.FamilyAccountModel:
			rc := relay.New(rdb, chain.Client.RelayPrefix, logger)
			cs.AccountModel[chain.ID] = rc
			cs.relays[chain.ID] = rc
			go runRelay(ctx, rc, log)

		case models.FamilyEVM:
			c, ec, err := evm.Dial(ctx, chain.Client.URL)
			if err != nil {
				log.WithError(err).Error("failed to create evm client")
				continue
			}
			cs.EVM[chain.ID] = c
			cs.closers = append(cs.closers, ec.Close)

		case models.FamilyNativeLedger:
			c, pool, err := ton.Connect(ctx, chain.Client.URL)
			if err != nil {
				log.WithError(err).Error("failed to create native ledger client")
				continue
			}
			cs.NativeLedger[chain.ID] = c
			cs.closers = append(cs.closers, pool.Stop)

		case models.FamilyUTXO:
			cs.UTXO[chain.ID] = esplora.New(chain.Client.URL, chain.Client.Timeout)
		}
		log.Info("chain client created")
	}
	return cs
}

func runRelay(ctx context.Context, rc *relay.Client, logger *logrus.Entry) {
	for {
		err := rc.Run(ctx)
		if ctx.Err() != nil {
			return
		}
		logger.WithError(err).Warn("relay updates stopped, restarting")
		select {
		case <-ctx.Done():
			return
		case <-time.After(relayRestartDelay):
		}
	}
}
