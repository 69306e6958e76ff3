package main

import (
	"context"
	"sort"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/kdimentionaltree/wallet-balances-go/balances"
	"github.com/kdimentionaltree/wallet-balances-go/balances/models"
	"github.com/kdimentionaltree/wallet-balances-go/clients/relay"
	"github.com/kdimentionaltree/wallet-balances-go/config"
	"github.com/kdimentionaltree/wallet-balances-go/loader"
	"github.com/kdimentionaltree/wallet-balances-go/store"
)

// Service wires the engine to its clients, the store and the HTTP handlers.
type Service struct {
	registry *config.Registry
	chains   map[string]*models.ChainDescriptor
	tokens   map[string]*models.TokenDescriptor

	engine  *balances.Engine
	clients balances.Clients
	relays  map[string]*relay.Client
	store   *store.BalanceStore
	rdb     redis.UniversalClient
	db      *loader.DbClient

	maxAddresses int
	logger       *logrus.Entry
}

// BalanceView is a stored or streamed record with display amounts.
type BalanceView struct {
	models.BalanceRecord
	Chain           string `json:"chain"`
	Symbol          string `json:"symbol,omitempty"`
	FreeFormatted   string `json:"free_formatted"`
	LockedFormatted string `json:"locked_formatted"`
}

func formatAmount(amount string, decimals int) string {
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return amount
	}
	return d.Shift(-int32(decimals)).String()
}

func (s *Service) view(r models.BalanceRecord) BalanceView {
	v := BalanceView{BalanceRecord: r, FreeFormatted: r.Free, LockedFormatted: r.Locked}
	if t, ok := s.tokens[r.TokenID]; ok {
		v.Chain = t.OriginChain
		v.Symbol = t.Symbol
		v.FreeFormatted = formatAmount(r.Free, t.Decimals)
		v.LockedFormatted = formatAmount(r.Locked, t.Decimals)
	}
	return v
}

func (s *Service) views(records []models.BalanceRecord) []BalanceView {
	res := make([]BalanceView, len(records))
	for i, r := range records {
		res[i] = s.view(r)
	}
	return res
}

// params builds a subscription over the configured registry. Empty chain or
// token lists mean all of them.
func (s *Service) params(addresses, chains, tokens []string, transfer *models.TransferContext) balances.SubscribeParams {
	if len(chains) == 0 {
		chains = s.registry.ChainIDs()
	}
	if len(tokens) == 0 {
		tokens = s.registry.TokenIDs()
	}
	return balances.SubscribeParams{
		Addresses:  addresses,
		Chains:     chains,
		Tokens:     tokens,
		TokenIndex: s.tokens,
		ChainIndex: s.chains,
		Clients:    s.clients,
		Transfer:   transfer,
	}
}

// watched is every address the background sink keeps fresh.
func (s *Service) watched() mapset.Set[string] {
	addrs := s.engine.Directory().Addresses()
	for _, a := range s.registry.WatchAddresses {
		addrs.Add(a)
	}
	return addrs
}

func sortedAddresses(set mapset.Set[string]) []string {
	res := set.ToSlice()
	sort.Strings(res)
	return res
}

// persist stores every batch of a subscription.
func (s *Service) persist(ctx context.Context) balances.Callback {
	return func(records []models.BalanceRecord) {
		if err := s.store.Put(ctx, records); err != nil {
			s.logger.WithError(err).WithField("records", len(records)).Warn("failed to store balances")
		}
	}
}
