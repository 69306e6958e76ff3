package main

import (
	"context"
	"encoding/json"
	"io"
	"math/big"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kdimentionaltree/wallet-balances-go/balances"
	"github.com/kdimentionaltree/wallet-balances-go/balances/models"
	"github.com/kdimentionaltree/wallet-balances-go/clients/relay"
	"github.com/kdimentionaltree/wallet-balances-go/config"
	"github.com/kdimentionaltree/wallet-balances-go/store"
)

const (
	evmA = "0x52908400098527886E0F7030069857D2E4169EE7"
	evmB = "0x8617E340B3D01FA5F11F306F4090FD50E238070D"
)

type fakeEVM struct{}

func (fakeEVM) NativeBalance(context.Context, string) (*big.Int, error) {
	v, _ := new(big.Int).SetString("1500000000000000000", 10)
	return v, nil
}

func (fakeEVM) ResolveToken(context.Context, *models.TokenDescriptor) (balances.TokenHandle, error) {
	return fakeHandle{}, nil
}

type fakeHandle struct{}

func (fakeHandle) BalanceOf(context.Context, string) (*big.Int, error) {
	return big.NewInt(2500000), nil
}

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func testRegistry() *config.Registry {
	return &config.Registry{
		Chains: []config.Chain{
			{ChainDescriptor: models.ChainDescriptor{ID: "eth", Family: models.FamilyEVM, NativeTokenID: "ETH"}},
		},
		Tokens: []config.Token{
			{TokenDescriptor: models.TokenDescriptor{ID: "ETH", OriginChain: "eth", Kind: models.TokenNative, Symbol: "ETH", Decimals: 18}},
			{TokenDescriptor: models.TokenDescriptor{ID: "ETH-USDC", OriginChain: "eth", Kind: models.TokenContract, Symbol: "USDC", Decimals: 6, ContractAddress: evmB}},
		},
		Intervals: balances.Intervals{EVM: 20 * time.Millisecond},
	}
}

func setupTestService(t *testing.T) (*Service, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	reg := testRegistry()
	opts := reg.EngineOptions()
	opts.Logger = testLogger()
	svc := &Service{
		registry: reg,
		chains:   reg.ChainIndex(),
		tokens:   reg.TokenIndex(),
		engine:   balances.NewEngine(balances.NewAccountDirectory(), opts),
		clients: balances.Clients{
			EVM: map[string]balances.EVMClient{"eth": fakeEVM{}},
		},
		relays:       map[string]*relay.Client{},
		store:        store.NewBalanceStore(rdb, "", 0),
		rdb:          rdb,
		maxAddresses: 2,
		logger:       testLogger(),
	}
	return svc, rdb
}

func TestFormatAmount(t *testing.T) {
	assert.Equal(t, "1.5", formatAmount("1500000", 6))
	assert.Equal(t, "0", formatAmount("0", 18))
	assert.Equal(t, "42", formatAmount("42", 0))
	assert.Equal(t, "bogus", formatAmount("bogus", 6))
}

func TestGetBalances(t *testing.T) {
	svc, _ := setupTestService(t)
	ctx := context.Background()

	err := svc.store.Put(ctx, []models.BalanceRecord{
		{Address: evmA, TokenID: "ETH-USDC", Free: "2500000", Locked: "0", State: models.StateReady, ObservedAt: time.Now()},
		{Address: evmA, TokenID: "ETH", Free: "1500000000000000000", Locked: "0", State: models.StateReady, ObservedAt: time.Now()},
	})
	require.NoError(t, err)

	app := fiber.New(fiber.Config{ErrorHandler: errorHandler(testLogger())})
	app.Get("/api/v1/balances", svc.GetBalances)

	resp, err := app.Test(httptest.NewRequest("GET", "/api/v1/balances?address="+evmA, nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var body BalancesResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Balances, 2)
	assert.Equal(t, "ETH", body.Balances[0].TokenID)
	assert.Equal(t, "1.5", body.Balances[0].FreeFormatted)
	assert.Equal(t, "USDC", body.Balances[1].Symbol)
	assert.Equal(t, "2.5", body.Balances[1].FreeFormatted)
	assert.Equal(t, "eth", body.Balances[1].Chain)

	resp, err = app.Test(httptest.NewRequest("GET", "/api/v1/balances?address="+evmA+"&token=ETH-USDC", nil))
	require.NoError(t, err)
	body = BalancesResponse{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Balances, 1)

	cases := []struct {
		query string
		code  int
	}{
		{"", fiber.StatusBadRequest},
		{"?address=" + evmA + "&token=DOGE", fiber.StatusBadRequest},
		{"?address=" + evmB, fiber.StatusNotFound},
	}
	for _, c := range cases {
		resp, err := app.Test(httptest.NewRequest("GET", "/api/v1/balances"+c.query, nil))
		require.NoError(t, err)
		assert.Equal(t, c.code, resp.StatusCode, c.query)
	}
}

type sent struct {
	mu   sync.Mutex
	msgs []any
}

func (s *sent) send(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, v)
	return nil
}

func (s *sent) snapshot() []any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]any(nil), s.msgs...)
}

func (s *sent) statuses() []string {
	var res []string
	for _, m := range s.snapshot() {
		switch v := m.(type) {
		case StatusResponse:
			res = append(res, v.Status)
		case ErrorResponse:
			res = append(res, "error: "+v.Error)
		}
	}
	return res
}

func TestSessionValidation(t *testing.T) {
	svc, _ := setupTestService(t)
	out := &sent{}
	s := newSession(context.Background(), svc, out.send)
	defer s.unsubscribe()

	s.handle([]byte(`not json`))
	s.handle([]byte(`{"operation":"subscribe","addresses":[]}`))
	s.handle([]byte(`{"operation":"subscribe","addresses":["a","b","c"]}`))
	s.handle([]byte(`{"operation":"subscribe","addresses":["` + evmA + `"],"chains":["sol"]}`))
	s.handle([]byte(`{"operation":"subscribe","addresses":["` + evmA + `"],"tokens":["DOGE"]}`))
	s.handle([]byte(`{"operation":"transfer"}`))
	s.handle([]byte(`{"operation":"ping","id":"1"}`))

	got := out.statuses()
	require.Len(t, got, 7)
	assert.Contains(t, got[0], "invalid request")
	assert.Equal(t, "error: addresses are required", got[1])
	assert.Equal(t, "error: too many addresses: 3 > 2", got[2])
	assert.Equal(t, "error: unknown chain: sol", got[3])
	assert.Equal(t, "error: unknown token: DOGE", got[4])
	assert.Equal(t, "error: unknown operation: transfer", got[5])
	assert.Equal(t, "pong", got[6])
}

func TestSessionSubscribeReplacesPrevious(t *testing.T) {
	svc, _ := setupTestService(t)
	out := &sent{}
	s := newSession(context.Background(), svc, out.send)
	defer s.unsubscribe()

	addressesAfter := func(from int) map[string]bool {
		seen := map[string]bool{}
		for _, m := range out.snapshot()[from:] {
			if n, ok := m.(BalancesNotification); ok {
				for _, b := range n.Balances {
					seen[b.Address] = true
				}
			}
		}
		return seen
	}

	s.handle([]byte(`{"operation":"subscribe","addresses":["` + evmA + `"]}`))
	require.Eventually(t, func() bool { return addressesAfter(0)[evmA] }, time.Second, 5*time.Millisecond)

	s.handle([]byte(`{"operation":"subscribe","addresses":["` + evmB + `"],"tokens":["ETH"]}`))
	var ack int
	for i, m := range out.snapshot() {
		if st, ok := m.(StatusResponse); ok && st.Status == "subscribed" {
			ack = i
		}
	}
	require.Eventually(t, func() bool { return addressesAfter(ack)[evmB] }, time.Second, 5*time.Millisecond)
	time.Sleep(60 * time.Millisecond)
	assert.False(t, addressesAfter(ack)[evmA])

	s.handle([]byte(`{"operation":"unsubscribe"}`))
	time.Sleep(20 * time.Millisecond)
	n := len(out.snapshot())
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, n, len(out.snapshot()))
}

func TestSinkStoresWatchedAddresses(t *testing.T) {
	svc, _ := setupTestService(t)
	svc.registry.WatchAddresses = []string{evmA}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go svc.runSink(ctx, time.Hour)

	require.Eventually(t, func() bool {
		recs, err := svc.store.ByAddress(context.Background(), evmA, nil)
		return err == nil && len(recs) == 2
	}, 2*time.Second, 10*time.Millisecond)

	rec, err := svc.store.Get(context.Background(), evmA, "ETH")
	require.NoError(t, err)
	assert.Equal(t, models.StateReady, rec.State)
	assert.Equal(t, "1500000000000000000", rec.Free)
}

func TestHealth(t *testing.T) {
	svc, rdb := setupTestService(t)
	ctx := context.Background()

	rc := relay.New(rdb, "dot", testLogger())
	svc.relays["dot"] = rc
	rdb.HSet(ctx, "dot:meta", "ready", "1", "last_heartbeat", time.Now().Unix())
	require.NoError(t, rc.Refresh(ctx))

	h := svc.health(ctx, time.Now())
	assert.True(t, h.OK, h.Components)
	assert.True(t, h.Components["redis"].OK)

	rdb.HSet(ctx, "dot:meta", "last_heartbeat", time.Now().Add(-time.Minute).Unix())
	h = svc.health(ctx, time.Now())
	assert.False(t, h.OK)
	assert.Equal(t, "heartbeat is too old", h.Components["relay:dot"].Error)

	rdb.HDel(ctx, "dot:meta", "last_heartbeat")
	h = svc.health(ctx, time.Now())
	assert.False(t, h.Components["relay:dot"].OK)
}
