package balances

import (
	"context"
	"errors"
	"math/big"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kdimentionaltree/wallet-balances-go/balances/models"
)

func TestOnce(t *testing.T) {
	var calls atomic.Int32
	h := Once(func() { calls.Add(1) })
	h()
	h()
	assert.Equal(t, int32(1), calls.Load())

	require.NotPanics(t, func() { Once(nil)() })
}

func TestArenaClosesEveryHandle(t *testing.T) {
	a := newArena(testLogger())
	var order []int
	a.add(func() { order = append(order, 1) })
	a.add(func() { panic("boom") })
	a.add(func() { order = append(order, 3) })
	a.add(nil)
	require.Equal(t, 3, a.size())

	require.NotPanics(t, a.close)
	assert.Equal(t, []int{3, 1}, order)

	require.NotPanics(t, a.close)
	assert.Equal(t, []int{3, 1}, order)

	// late handles run right away
	a.add(func() { order = append(order, 4) })
	assert.Equal(t, []int{3, 1, 4}, order)
}

func TestPendingSetupWaitsForResolve(t *testing.T) {
	p := newPendingSetup()
	var stopped atomic.Bool

	done := make(chan struct{})
	go func() {
		p.teardown()
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("teardown returned before setup resolved")
	case <-time.After(20 * time.Millisecond):
	}

	p.resolve(func() { stopped.Store(true) })
	<-done
	assert.True(t, stopped.Load())
}

func TestPushTeardownLogsUnsubscribeError(t *testing.T) {
	flag := &cancelFlag{}
	var calls int
	h := pushTeardown(flag, func() error {
		calls++
		return errors.New("closed connection")
	}, testLogger())

	require.NotPanics(t, func() { h() })
	require.NotPanics(t, func() { h() })
	assert.Equal(t, 1, calls)
	assert.False(t, flag.live())

	var got int
	flag.emit(func([]models.BalanceRecord) { got++ }, []models.BalanceRecord{{}})
	assert.Zero(t, got)
}

func TestSerialEmitterDropsAfterClose(t *testing.T) {
	var got int
	s := &serialEmitter{cb: func(records []models.BalanceRecord) { got += len(records) }}
	s.emit([]models.BalanceRecord{{}, {}})
	s.emit(nil)
	s.close()
	s.emit([]models.BalanceRecord{{}})
	assert.Equal(t, 2, got)
}

func TestSerialEmitterClosedFromCallback(t *testing.T) {
	var got int
	s := &serialEmitter{}
	s.cb = func(records []models.BalanceRecord) {
		got += len(records)
		assert.True(t, s.delivering())
		s.close()
	}
	s.emit([]models.BalanceRecord{{}})
	s.emit([]models.BalanceRecord{{}})
	assert.Equal(t, 1, got)
	assert.False(t, s.delivering())
}

func TestFanOutIsolatesFailures(t *testing.T) {
	items := []int{1, 2, 3, 4, 5, 6}
	var inFlight, peak atomic.Int32

	res := fanOut(context.Background(), 2, items, func(_ context.Context, v int) (*big.Int, error) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		switch v {
		case 2:
			return nil, errBackend
		case 4:
			panic("decode")
		}
		return big.NewInt(int64(v * 10)), nil
	}, func(int, error) *big.Int { return big.NewInt(-1) })

	require.Len(t, res, len(items))
	want := []int64{10, -1, 30, -1, 50, 60}
	for i, w := range want {
		assert.Equal(t, w, res[i].Int64(), "item %d", items[i])
	}
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestPollingStopsOnTeardown(t *testing.T) {
	var ticks atomic.Int32
	h := startPolling(context.Background(), "test", 10*time.Millisecond, testLogger(), func(context.Context, *cancelFlag) {
		ticks.Add(1)
	})
	require.Eventually(t, func() bool { return ticks.Load() >= 3 }, time.Second, time.Millisecond)

	h()
	h()
	time.Sleep(20 * time.Millisecond)
	n := ticks.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, n, ticks.Load())
}

func TestPollingDropsInFlightResult(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	var delivered atomic.Int32

	h := startPolling(context.Background(), "slow", time.Second, testLogger(), func(ctx context.Context, flag *cancelFlag) {
		close(started)
		<-release
		assert.NoError(t, ctx.Err())
		flag.emit(func([]models.BalanceRecord) { delivered.Add(1) }, []models.BalanceRecord{{}})
	})

	<-started
	h()
	close(release)
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, delivered.Load())
}
