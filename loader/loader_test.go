package loader

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/kdimentionaltree/wallet-balances-go/balances"
)

const (
	alice = "5GrwvaEF5zXb26Fz9rcQpDWS57CtERHpNehXCPcNoHGKutQY"
	bob   = "5FHneW46xGXgs5mUiveU4sbTyGBzmstUspZC92UhjJM694ty"
)

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func TestAccountFromRow(t *testing.T) {
	a := accountFromRow(row{
		"address":        alice,
		"hardware":       true,
		"generic":        false,
		"genesis_hashes": []any{"0xaaaa", nil, "0xbbbb"},
	})
	assert.Equal(t, alice, a.Address)
	assert.True(t, a.Hardware)
	assert.Equal(t, []string{"0xaaaa", "0xbbbb"}, a.GenesisHashes)

	a = accountFromRow(row{"address": bob, "genesis_hashes": nil})
	assert.Equal(t, balances.Account{Address: bob}, a)
}

func TestChangeEvents(t *testing.T) {
	insert := changeEvents(nil, row{"address": alice, "hardware": true})
	require.Len(t, insert, 1)
	assert.Equal(t, balances.AccountAdded, insert[0].Type)

	update := changeEvents(row{"address": alice}, row{"address": alice, "generic": true})
	require.Len(t, update, 1)
	assert.Equal(t, balances.AccountAdded, update[0].Type)
	assert.True(t, update[0].Account.Generic)

	moved := changeEvents(row{"address": alice}, row{"address": bob})
	require.Len(t, moved, 2)
	assert.Equal(t, balances.AccountRemoved, moved[0].Type)
	assert.Equal(t, alice, moved[0].Account.Address)
	assert.Equal(t, bob, moved[1].Account.Address)

	deleted := changeEvents(row{"address": bob}, nil)
	require.Len(t, deleted, 1)
	assert.Equal(t, balances.AccountRemoved, deleted[0].Type)

	assert.Empty(t, changeEvents(nil, row{"hardware": true}))
}

func TestWatchEventsAppliesToDirectory(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	dir := balances.NewAccountDirectory(balances.Account{Address: bob})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- WatchEvents(ctx, client, DefaultAccountsChannel, dir, testLogger()) }()

	publish := func(ev balances.AccountEvent) {
		data, err := msgpack.Marshal(ev)
		require.NoError(t, err)
		client.Publish(context.Background(), DefaultAccountsChannel, data)
	}
	require.Eventually(t, func() bool {
		subs := mr.PubSubNumSub(DefaultAccountsChannel)
		return subs[DefaultAccountsChannel] == 1
	}, time.Second, 5*time.Millisecond)

	client.Publish(context.Background(), DefaultAccountsChannel, "garbage")
	publish(balances.AccountEvent{Type: balances.AccountAdded, Account: balances.Account{Address: alice, Hardware: true}})
	publish(balances.AccountEvent{Type: balances.AccountRemoved, Account: balances.Account{Address: bob}})

	require.Eventually(t, func() bool {
		_, err := dir.Lookup(bob)
		return err != nil
	}, time.Second, 5*time.Millisecond)
	a, err := dir.Lookup(alice)
	require.NoError(t, err)
	assert.True(t, a.Hardware)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("watcher did not stop")
	}
}
