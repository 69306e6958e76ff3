package relay

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/kdimentionaltree/wallet-balances-go/balances"
	"github.com/kdimentionaltree/wallet-balances-go/balances/models"
)

const defaultReadyPoll = 500 * time.Millisecond

// Client reads the state a node relay mirrors into Redis and turns relay
// update notifications into push callbacks.
type Client struct {
	rdb       redis.UniversalClient
	prefix    string
	logger    *logrus.Entry
	readyPoll time.Duration
	ready     atomic.Bool

	mu     sync.Mutex
	nextID uint64
	subs   map[uint64]*subscription
}

type subscription struct {
	keys      mapset.Set[string]
	addresses mapset.Set[string]
	refresh   func(ctx context.Context) error
}

var _ balances.AccountModelClient = (*Client)(nil)

func New(rdb redis.UniversalClient, prefix string, logger *logrus.Entry) *Client {
	return &Client{
		rdb:       rdb,
		prefix:    prefix,
		logger:    logger.WithField("relay", prefix),
		readyPoll: defaultReadyPoll,
		subs:      make(map[uint64]*subscription),
	}
}

func (c *Client) key(parts ...string) string {
	return c.prefix + ":" + strings.Join(parts, ":")
}

func (c *Client) Ready() bool {
	return c.ready.Load()
}

// Refresh re-reads the readiness flag.
func (c *Client) Refresh(ctx context.Context) error {
	v, err := c.rdb.HGet(ctx, c.key(keyMeta), fieldReady).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	c.ready.Store(v == "1")
	return nil
}

func (c *Client) WaitReady(ctx context.Context) error {
	for {
		if err := c.Refresh(ctx); err != nil {
			c.logger.WithError(err).Debug("readiness check failed")
		}
		if c.Ready() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.readyPoll):
		}
	}
}

// Heartbeat returns the time the relay last reported itself alive.
func (c *Client) Heartbeat(ctx context.Context) (time.Time, error) {
	v, err := c.rdb.HGet(ctx, c.key(keyMeta), fieldHeartbeat).Int64()
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(v, 0), nil
}

func (c *Client) hasFeature(ctx context.Context, feature string) (bool, error) {
	v, err := c.rdb.HGet(ctx, c.key(keyMeta), fieldFeatures).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	for _, f := range strings.Split(v, ",") {
		if strings.TrimSpace(f) == feature {
			return true, nil
		}
	}
	return false, nil
}

func (c *Client) requireFeature(ctx context.Context, feature string) error {
	ok, err := c.hasFeature(ctx, feature)
	if err != nil {
		return fmt.Errorf("read features: %w", err)
	}
	if !ok {
		return fmt.Errorf("%s on %s: %w", feature, c.prefix, balances.ErrFeatureAbsent)
	}
	return nil
}

func (c *Client) StakingMigrated(ctx context.Context) (bool, error) {
	v, err := c.rdb.HGet(ctx, c.key(keyMeta), fieldStakingMigrated).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return v == "1", nil
}

// hmget returns the raw field values aligned with fields; missing fields are nil.
func (c *Client) hmget(ctx context.Context, key string, fields []string) ([][]byte, error) {
	if len(fields) == 0 {
		return nil, nil
	}
	values, err := c.rdb.HMGet(ctx, key, fields...).Result()
	if err != nil {
		return nil, err
	}
	res := make([][]byte, len(values))
	for i, v := range values {
		if s, ok := v.(string); ok {
			res[i] = []byte(s)
		}
	}
	return res, nil
}

func (c *Client) readAccounts(ctx context.Context, addresses []string, withPools bool) ([]*balances.AccountState, error) {
	raw, err := c.hmget(ctx, c.key(keyAccounts), addresses)
	if err != nil {
		return nil, fmt.Errorf("read accounts: %w", err)
	}
	var pools [][]byte
	if withPools {
		if pools, err = c.hmget(ctx, c.key(keyPools), addresses); err != nil {
			return nil, fmt.Errorf("read pools: %w", err)
		}
	}

	states := make([]*balances.AccountState, len(addresses))
	for i, data := range raw {
		if data == nil {
			continue
		}
		st, err := decodeAccount(addresses[i], data)
		if err != nil {
			c.logger.WithError(err).WithField("address", addresses[i]).Warn("skipping bad account entry")
			continue
		}
		if i < len(pools) && pools[i] != nil {
			if st.Pool, err = decodePool(pools[i]); err != nil {
				c.logger.WithError(err).WithField("address", addresses[i]).Warn("skipping bad pool entry")
			}
		}
		states[i] = st
	}
	return states, nil
}

func decodeAccount(address string, data []byte) (*balances.AccountState, error) {
	var acc Account
	if err := msgpack.Unmarshal(data, &acc); err != nil {
		return nil, fmt.Errorf("decode account: %w", err)
	}
	return acc.state(address)
}

func decodePool(data []byte) (*balances.PoolMembership, error) {
	var p Pool
	if err := msgpack.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode pool: %w", err)
	}
	return p.membership()
}

// readTokens leaves a nil entry for an address whose record cannot be decoded.
func (c *Client) readTokens(ctx context.Context, key string, addresses []string) ([]*balances.TokenAccount, error) {
	raw, err := c.hmget(ctx, c.key(key), addresses)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	accounts := make([]*balances.TokenAccount, len(addresses))
	for i, data := range raw {
		if data == nil {
			continue
		}
		var t Token
		if err := msgpack.Unmarshal(data, &t); err != nil {
			c.logger.WithError(err).WithFields(logrus.Fields{"key": key, "address": addresses[i]}).Warn("skipping bad token entry")
			continue
		}
		acc, err := t.account()
		if err != nil {
			c.logger.WithError(err).WithFields(logrus.Fields{"key": key, "address": addresses[i]}).Warn("skipping bad token entry")
			continue
		}
		accounts[i] = acc
	}
	return accounts, nil
}

func (c *Client) SubscribeAccounts(ctx context.Context, addresses []string, withPools bool, cb func([]*balances.AccountState)) (balances.UnsubscribeFunc, error) {
	keys := []string{keyAccounts}
	if withPools {
		keys = append(keys, keyPools)
	}
	return c.subscribe(ctx, keys, addresses, func(ctx context.Context) error {
		states, err := c.readAccounts(ctx, addresses, withPools)
		if err != nil {
			return err
		}
		cb(states)
		return nil
	})
}

func (c *Client) SubscribeTokenAccounts(ctx context.Context, source balances.TokenSource, ref models.AssetRef, addresses []string, cb func([]*balances.TokenAccount)) (balances.UnsubscribeFunc, error) {
	if err := c.requireFeature(ctx, string(source)); err != nil {
		return nil, err
	}
	key := TokenKey(source, ref)
	return c.subscribe(ctx, []string{key}, addresses, func(ctx context.Context) error {
		accounts, err := c.readTokens(ctx, key, addresses)
		if err != nil {
			return err
		}
		cb(accounts)
		return nil
	})
}

// subscribe delivers the current snapshot before returning.
func (c *Client) subscribe(ctx context.Context, keys, addresses []string, refresh func(ctx context.Context) error) (balances.UnsubscribeFunc, error) {
	if err := refresh(ctx); err != nil {
		return nil, err
	}

	sub := &subscription{
		keys:      mapset.NewThreadUnsafeSet(keys...),
		addresses: mapset.NewThreadUnsafeSet(addresses...),
		refresh:   refresh,
	}
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	c.subs[id] = sub
	c.mu.Unlock()

	return func() error {
		c.mu.Lock()
		defer c.mu.Unlock()
		if _, ok := c.subs[id]; !ok {
			return fmt.Errorf("subscription %d already closed", id)
		}
		delete(c.subs, id)
		return nil
	}, nil
}

func (c *Client) interested(u Update) []*subscription {
	c.mu.Lock()
	defer c.mu.Unlock()

	var res []*subscription
	for _, sub := range c.subs {
		if !sub.keys.Contains(u.Key) {
			continue
		}
		if len(u.Addresses) == 0 || sub.addresses.ContainsAny(u.Addresses...) {
			res = append(res, sub)
		}
	}
	return res
}

func (c *Client) handleUpdate(ctx context.Context, u Update) {
	if u.Key == keyMeta {
		if err := c.Refresh(ctx); err != nil {
			c.logger.WithError(err).Warn("failed to refresh readiness")
		}
		return
	}
	for _, sub := range c.interested(u) {
		if err := sub.refresh(ctx); err != nil {
			c.logger.WithError(err).WithField("key", u.Key).Warn("failed to refresh subscription")
		}
	}
}

// Run consumes relay updates until ctx is done.
func (c *Client) Run(ctx context.Context) error {
	pubsub := c.rdb.Subscribe(ctx, c.key(keyUpdates))
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe updates: %w", err)
	}
	if err := c.Refresh(ctx); err != nil {
		c.logger.WithError(err).Warn("failed to read readiness")
	}

	for {
		msg, err := pubsub.ReceiveMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("receive update: %w", err)
		}
		var u Update
		if err := msgpack.Unmarshal([]byte(msg.Payload), &u); err != nil {
			c.logger.WithError(err).Warn("bad update")
			continue
		}
		c.handleUpdate(ctx, u)
	}
}

func (c *Client) QueryDerivedStake(ctx context.Context, addresses []string) ([]balances.DerivedStake, error) {
	if err := c.requireFeature(ctx, featureDerived); err != nil {
		return nil, err
	}

	pipe := c.rdb.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(addresses))
	for i, addr := range addresses {
		cmds[i] = pipe.HGetAll(ctx, c.key(keyDerived, addr))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("read derived stake: %w", err)
	}

	var rows []balances.DerivedStake
	for i, cmd := range cmds {
		for field, value := range cmd.Val() {
			sub, err := strconv.ParseUint(field, 10, 16)
			if err != nil {
				return nil, fmt.Errorf("derived stake of %s: bad sub-ledger %q", addresses[i], field)
			}
			amount, err := parseAmount(value)
			if err != nil {
				return nil, fmt.Errorf("derived stake of %s: %w", addresses[i], err)
			}
			rows = append(rows, balances.DerivedStake{Address: addresses[i], SubLedger: uint16(sub), Amount: amount})
		}
	}
	return rows, nil
}

func (c *Client) ContractBalance(ctx context.Context, contract, address string) (*big.Int, error) {
	if err := c.requireFeature(ctx, featureContracts); err != nil {
		return nil, err
	}
	v, err := c.rdb.HGet(ctx, c.key(keyContracts, contract), address).Result()
	if errors.Is(err, redis.Nil) {
		return new(big.Int), nil
	}
	if err != nil {
		return nil, err
	}
	amount, err := parseAmount(v)
	if err != nil {
		return nil, err
	}
	return amount, nil
}
