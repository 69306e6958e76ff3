package main

import (
	"context"
	"time"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/kdimentionaltree/wallet-balances-go/balances"
)

// runSink keeps one subscription over every watched address and writes its
// batches into the store. The address set is re-read every refresh; a changed
// set replaces the subscription.
func (s *Service) runSink(ctx context.Context, refresh time.Duration) {
	var current mapset.Set[string]
	stop := balances.TeardownFunc(func() {})
	defer func() { stop() }()

	check := func() {
		addrs := s.watched()
		if current != nil && current.Equal(addrs) {
			return
		}
		stop()
		current = addrs
		stop = func() {}
		if addrs.Cardinality() == 0 {
			return
		}
		stop = s.engine.Subscribe(ctx, s.params(sortedAddresses(addrs), nil, nil, nil), s.persist(ctx))
		s.logger.WithField("addresses", addrs.Cardinality()).Info("sink subscription started")
	}

	check()
	ticker := time.NewTicker(refresh)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			check()
		}
	}
}
