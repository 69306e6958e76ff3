package balances

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kdimentionaltree/wallet-balances-go/balances/models"
)

// handleCache keeps resolved contract handles for the lifetime of one
// strategy. It is only touched from the strategy's poller goroutine.
type handleCache struct {
	client  PullClient
	handles map[string]TokenHandle
}

func newHandleCache(client PullClient) *handleCache {
	return &handleCache{client: client, handles: make(map[string]TokenHandle)}
}

// get resolves token once. Failed resolutions are not cached.
func (c *handleCache) get(ctx context.Context, token *models.TokenDescriptor) (TokenHandle, error) {
	if h, ok := c.handles[token.ID]; ok {
		return h, nil
	}
	h, err := c.client.ResolveToken(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("resolve token %s: %w", token.ID, err)
	}
	c.handles[token.ID] = h
	return h, nil
}

// startPull polls a poll-only chain: one poller for the native token and one
// for the chain's contract tokens, both at the family interval.
func startPull(ctx context.Context, e *env, chain *models.ChainDescriptor, tokens []*models.TokenDescriptor, addresses []string, client PullClient, emit emitFunc) TeardownFunc {
	logger := e.chainLogger(chain, string(chain.Family))
	interval := e.interval(chain.Family)

	var handles []TeardownFunc
	if native := nativeToken(tokens, chain); native != nil {
		handles = append(handles, startPolling(ctx, chain.ID+"/native", interval, logger, func(ctx context.Context, flag *cancelFlag) {
			amounts := fanOut(ctx, e.limit, addresses, client.NativeBalance, zeroOnError(logger, native.ID))
			flag.emit(emit, readyBatch(addresses, native.ID, amounts, time.Now()))
		}))
	}

	contractTokens := tokensOfKind(tokens, models.TokenContract)
	if len(contractTokens) > 0 {
		cache := newHandleCache(client)
		handles = append(handles, startPolling(ctx, chain.ID+"/tokens", interval, logger, func(ctx context.Context, flag *cancelFlag) {
			for _, token := range contractTokens {
				if !flag.live() {
					return
				}
				h, err := cache.get(ctx, token)
				if err != nil {
					logger.WithError(err).WithFields(logrus.Fields{"token": token.ID}).Debug("token handle unavailable, reporting zero")
					flag.emit(emit, readyBatch(addresses, token.ID, nil, time.Now()))
					continue
				}
				amounts := fanOut(ctx, e.limit, addresses, func(ctx context.Context, addr string) (*big.Int, error) {
					return h.BalanceOf(ctx, addr)
				}, zeroOnError(logger, token.ID))
				flag.emit(emit, readyBatch(addresses, token.ID, amounts, time.Now()))
			}
		}))
	}

	return merge(handles...)
}
