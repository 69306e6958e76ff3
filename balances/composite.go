package balances

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/kdimentionaltree/wallet-balances-go/balances/models"
)

type compositeState int32

const (
	stateInit compositeState = iota
	stateNativeStarted
	stateLive
	stateTornDown
)

func (s compositeState) String() string {
	switch s {
	case stateInit:
		return "init"
	case stateNativeStarted:
		return "native-started"
	case stateLive:
		return "live"
	case stateTornDown:
		return "torn-down"
	}
	return "unknown"
}

// composite runs the sub-strategies of one account-model chain.
type composite struct {
	state   atomic.Int32
	mu      sync.Mutex
	handles []TeardownFunc
	logger  *logrus.Entry
}

func (c *composite) setState(s compositeState) {
	c.state.Store(int32(s))
}

func (c *composite) State() compositeState {
	return compositeState(c.state.Load())
}

func (c *composite) capture(h TeardownFunc) {
	c.mu.Lock()
	c.handles = append(c.handles, h)
	c.mu.Unlock()
}

// try runs one sub-strategy setup. Its failure, or panic, only affects itself.
func (c *composite) try(name string, setup func() (TeardownFunc, error)) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.WithFields(logrus.Fields{"sub": name, "panic": r}).Error("sub-strategy setup failed")
		}
	}()
	h, err := setup()
	if err != nil {
		c.logger.WithError(err).WithField("sub", name).Warn("sub-strategy not started")
		return
	}
	c.capture(h)
}

func (c *composite) teardown() {
	c.mu.Lock()
	handles := c.handles
	c.handles = nil
	c.mu.Unlock()

	for _, h := range handles {
		if h != nil {
			h()
		}
	}
	c.setState(stateTornDown)
}

// startComposite starts every sub-strategy the chain's features allow. Chains in
// the native exclusion set report the native token through the token ledger.
func startComposite(ctx context.Context, e *env, chain *models.ChainDescriptor, tokens []*models.TokenDescriptor, addresses []string, client AccountModelClient, excludeNative bool, emit emitFunc) (*composite, TeardownFunc) {
	c := &composite{logger: e.chainLogger(chain, "composite")}
	native := nativeToken(tokens, chain)

	if native != nil && !excludeNative {
		c.try("system", func() (TeardownFunc, error) {
			return startSystem(ctx, e, chain, native, addresses, client, emit)
		})
		c.setState(stateNativeStarted)
	}

	includeNative := excludeNative && native != nil
	features := chain.Features

	local := tokensOfKind(tokens, models.TokenLocal)
	bridged := tokensOfKind(tokens, models.TokenBridged)

	if features.OrmlTokens {
		set := append(append([]*models.TokenDescriptor{}, local...), bridged...)
		if includeNative {
			set = append(set, native)
			includeNative = false
		}
		c.startTokens(ctx, e, chain, SourceOrmlTokens, set, addresses, client, emit)
	} else {
		if features.Assets {
			set := local
			if includeNative {
				set = append(append([]*models.TokenDescriptor{}, local...), native)
				includeNative = false
			}
			c.startTokens(ctx, e, chain, SourceAssets, set, addresses, client, emit)
		}
		if features.ForeignAssets {
			c.startTokens(ctx, e, chain, SourceForeignAssets, bridged, addresses, client, emit)
		}
	}
	// tokens no enabled sub-strategy serves still get a record
	var unserved []*models.TokenDescriptor
	if includeNative {
		c.logger.WithField("token", native.ID).Warn("native token excluded but chain has no token ledger")
		unserved = append(unserved, native)
	}
	if !features.OrmlTokens {
		if !features.Assets {
			unserved = append(unserved, local...)
		}
		if !features.ForeignAssets {
			unserved = append(unserved, bridged...)
		}
	}

	contracts := tokensOfKind(tokens, models.TokenContract)
	if features.Contracts && len(contracts) > 0 {
		c.try("contracts", func() (TeardownFunc, error) {
			return startContracts(ctx, e, chain, contracts, addresses, client, emit), nil
		})
	} else {
		unserved = append(unserved, contracts...)
	}
	derived := tokensOfKind(tokens, models.TokenStakingDerived)
	if features.StakingDerived && len(derived) > 0 {
		c.try("staking-derived", func() (TeardownFunc, error) {
			return startDerived(ctx, e, chain, derived, addresses, client, emit), nil
		})
	} else {
		unserved = append(unserved, derived...)
	}

	if len(unserved) > 0 {
		c.logger.WithField("tokens", len(unserved)).Debug("tokens not served on chain")
		emit(Placeholders(addresses, chain, unserved, models.Ready))
	}

	c.setState(stateLive)
	c.logger.WithField("handles", len(c.handles)).Debug("composite strategy live")
	return c, Once(c.teardown)
}

func (c *composite) startTokens(ctx context.Context, e *env, chain *models.ChainDescriptor, source TokenSource, tokens []*models.TokenDescriptor, addresses []string, client AccountModelClient, emit emitFunc) {
	if len(tokens) == 0 {
		return
	}
	c.try(string(source), func() (TeardownFunc, error) {
		h, err := startTokens(ctx, e, chain, source, tokens, addresses, client, emit)
		if err != nil {
			return nil, fmt.Errorf("%s ledger: %w", source, err)
		}
		return h, nil
	})
}
