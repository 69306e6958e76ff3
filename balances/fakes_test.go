package balances

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/kdimentionaltree/wallet-balances-go/balances/models"
)

const (
	alice = "5GrwvaEF5zXb26Fz9rcQpDWS57CtERHpNehXCPcNoHGKutQY"
	bob   = "5FHneW46xGXgs5mUiveU4sbTyGBzmstUspZC92UhjJM694ty"

	evmA = "0x52908400098527886E0F7030069857D2E4169EE7"
	evmB = "0x8617E340B3D01FA5F11F306F4090FD50E238070D"
)

var errBackend = errors.New("backend unavailable")

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func fastIntervals() Intervals {
	d := 20 * time.Millisecond
	return Intervals{Contracts: d, StakingDerived: d, EVM: d, NativeLedger: d, UTXO: d}
}

func amount(v int64) *big.Int {
	return big.NewInt(v)
}

type accountSub struct {
	addresses []string
	withPools bool
	cb        func([]*AccountState)
}

type tokenSub struct {
	source    TokenSource
	ref       models.AssetRef
	addresses []string
	cb        func([]*TokenAccount)
}

type fakeAccountClient struct {
	mu sync.Mutex

	ready   bool
	readyCh chan struct{}

	migrated bool
	probes   int

	absent    map[TokenSource]bool
	tokenErrs map[string]error

	accountSubs []*accountSub
	tokenSubs   []*tokenSub
	unsubs      int

	derived    []DerivedStake
	derivedErr error

	contract    map[string]*big.Int
	contractErr map[string]error
}

func newFakeAccountClient() *fakeAccountClient {
	return &fakeAccountClient{
		ready:       true,
		readyCh:     make(chan struct{}),
		absent:      map[TokenSource]bool{},
		tokenErrs:   map[string]error{},
		contract:    map[string]*big.Int{},
		contractErr: map[string]error{},
	}
}

func (f *fakeAccountClient) Ready() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ready
}

func (f *fakeAccountClient) markReady() {
	f.mu.Lock()
	f.ready = true
	f.mu.Unlock()
	close(f.readyCh)
}

func (f *fakeAccountClient) WaitReady(ctx context.Context) error {
	if f.Ready() {
		return nil
	}
	select {
	case <-f.readyCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *fakeAccountClient) unsubscribe() error {
	f.mu.Lock()
	f.unsubs++
	f.mu.Unlock()
	return nil
}

func (f *fakeAccountClient) SubscribeAccounts(_ context.Context, addresses []string, withPools bool, cb func([]*AccountState)) (UnsubscribeFunc, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accountSubs = append(f.accountSubs, &accountSub{addresses: addresses, withPools: withPools, cb: cb})
	return f.unsubscribe, nil
}

func refKey(ref models.AssetRef) string {
	if ref.Kind == models.AssetRefNumeric {
		return fmt.Sprintf("%d", ref.Numeric)
	}
	return ref.Location
}

func (f *fakeAccountClient) SubscribeTokenAccounts(_ context.Context, source TokenSource, ref models.AssetRef, addresses []string, cb func([]*TokenAccount)) (UnsubscribeFunc, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.absent[source] {
		return nil, ErrFeatureAbsent
	}
	if err := f.tokenErrs[refKey(ref)]; err != nil {
		return nil, err
	}
	f.tokenSubs = append(f.tokenSubs, &tokenSub{source: source, ref: ref, addresses: addresses, cb: cb})
	return f.unsubscribe, nil
}

func (f *fakeAccountClient) QueryDerivedStake(context.Context, []string) ([]DerivedStake, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.derived, f.derivedErr
}

func (f *fakeAccountClient) ContractBalance(_ context.Context, _ string, address string) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.contractErr[address]; err != nil {
		return nil, err
	}
	return f.contract[address], nil
}

func (f *fakeAccountClient) StakingMigrated(context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.probes++
	return f.migrated, nil
}

func (f *fakeAccountClient) accountSubscriptions() []*accountSub {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*accountSub(nil), f.accountSubs...)
}

func (f *fakeAccountClient) tokenSubscriptions() []*tokenSub {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*tokenSub(nil), f.tokenSubs...)
}

func (f *fakeAccountClient) unsubscribeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.unsubs
}

func (f *fakeAccountClient) probeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.probes
}

type fakeHandle struct {
	client *fakePullClient
	token  string
}

func (h *fakeHandle) BalanceOf(_ context.Context, address string) (*big.Int, error) {
	h.client.mu.Lock()
	defer h.client.mu.Unlock()
	if err := h.client.fail[address]; err != nil {
		return nil, err
	}
	return h.client.tokens[h.token+"/"+address], nil
}

type fakePullClient struct {
	mu sync.Mutex

	native   map[string]*big.Int
	tokens   map[string]*big.Int
	fail     map[string]error
	resolves int
	reads    int
}

func newFakePullClient() *fakePullClient {
	return &fakePullClient{
		native: map[string]*big.Int{},
		tokens: map[string]*big.Int{},
		fail:   map[string]error{},
	}
}

func (f *fakePullClient) NativeBalance(_ context.Context, address string) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads++
	if err := f.fail[address]; err != nil {
		return nil, err
	}
	return f.native[address], nil
}

func (f *fakePullClient) ResolveToken(_ context.Context, token *models.TokenDescriptor) (TokenHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resolves++
	return &fakeHandle{client: f, token: token.ID}, nil
}

func (f *fakePullClient) resolveCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.resolves
}

func (f *fakePullClient) readCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reads
}

// collector records every delivered batch.
type collector struct {
	mu      sync.Mutex
	batches [][]models.BalanceRecord
}

func (c *collector) cb(records []models.BalanceRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.batches = append(c.batches, records)
}

func (c *collector) all() [][]models.BalanceRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]models.BalanceRecord(nil), c.batches...)
}

func (c *collector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.batches)
}

// find returns the latest batch matching pred.
func (c *collector) find(pred func([]models.BalanceRecord) bool) []models.BalanceRecord {
	batches := c.all()
	for i := len(batches) - 1; i >= 0; i-- {
		if pred(batches[i]) {
			return batches[i]
		}
	}
	return nil
}

func (c *collector) waitFor(t *testing.T, pred func([]models.BalanceRecord) bool) []models.BalanceRecord {
	t.Helper()
	var found []models.BalanceRecord
	require.Eventually(t, func() bool {
		found = c.find(pred)
		return found != nil
	}, 2*time.Second, 5*time.Millisecond)
	return found
}

func batchOf(tokenID string, state models.BalanceState) func([]models.BalanceRecord) bool {
	return func(records []models.BalanceRecord) bool {
		return len(records) > 0 && records[0].TokenID == tokenID && records[0].State == state
	}
}

func byAddress(records []models.BalanceRecord) map[string]models.BalanceRecord {
	res := make(map[string]models.BalanceRecord, len(records))
	for _, r := range records {
		res[r.Address] = r
	}
	return res
}
