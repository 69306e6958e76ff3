package balances

import (
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/kdimentionaltree/wallet-balances-go/balances/models"
)

// TeardownFunc stops a running subscription. Calling it more than once is safe.
type TeardownFunc func()

func noopTeardown() {}

// Once makes f idempotent. A nil f becomes a no-op.
func Once(f TeardownFunc) TeardownFunc {
	if f == nil {
		return noopTeardown
	}
	var once sync.Once
	return func() {
		once.Do(f)
	}
}

// UnsubscribeFunc is the transport-level unsubscribe of a push subscription.
type UnsubscribeFunc func() error

// cancelFlag is checked right before a result is handed to the callback, so a
// fetch that finishes after teardown is dropped instead of delivered.
type cancelFlag struct {
	stopped atomic.Bool
}

func (f *cancelFlag) stop() {
	f.stopped.Store(true)
}

func (f *cancelFlag) live() bool {
	return !f.stopped.Load()
}

func (f *cancelFlag) emit(emit emitFunc, records []models.BalanceRecord) {
	if len(records) == 0 || !f.live() {
		return
	}
	emit(records)
}

// pushTeardown wraps a transport unsubscribe: the flag is raised first, then the
// transport is asked to stop. Unsubscribe errors are logged only.
func pushTeardown(flag *cancelFlag, unsub UnsubscribeFunc, logger *logrus.Entry) TeardownFunc {
	return Once(func() {
		flag.stop()
		if unsub == nil {
			return
		}
		if err := unsub(); err != nil {
			logger.WithError(err).Warn("unsubscribe failed")
		}
	})
}

// arena owns the cancellation handles of one subscription and closes them together.
type arena struct {
	mu      sync.Mutex
	closed  bool
	handles []TeardownFunc
	logger  *logrus.Entry
}

func newArena(logger *logrus.Entry) *arena {
	return &arena{logger: logger}
}

// add registers h. When the arena is already closed h runs immediately.
func (a *arena) add(h TeardownFunc) {
	if h == nil {
		return
	}
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		a.run(h)
		return
	}
	a.handles = append(a.handles, h)
	a.mu.Unlock()
}

func (a *arena) close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	handles := a.handles
	a.handles = nil
	a.mu.Unlock()

	for i := len(handles) - 1; i >= 0; i-- {
		a.run(handles[i])
	}
}

func (a *arena) size() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.handles)
}

func (a *arena) run(h TeardownFunc) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.WithField("panic", r).Error("teardown handle failed")
		}
	}()
	h()
}

// pendingSetup is the handle of a strategy whose setup may still be running.
type pendingSetup struct {
	done   chan struct{}
	handle TeardownFunc
}

func newPendingSetup() *pendingSetup {
	return &pendingSetup{done: make(chan struct{})}
}

func (p *pendingSetup) resolve(h TeardownFunc) {
	p.handle = h
	close(p.done)
}

// teardown waits for the setup to finish, then stops what it started.
func (p *pendingSetup) teardown() {
	<-p.done
	if p.handle != nil {
		p.handle()
	}
}

// serialEmitter serializes callback invocations and drops batches after close.
// close never takes the call lock, so the callback may close its own emitter.
type serialEmitter struct {
	mu       sync.Mutex
	closed   atomic.Bool
	delivery atomic.Bool
	cb       Callback
}

func (s *serialEmitter) emit(records []models.BalanceRecord) {
	if len(records) == 0 || s.closed.Load() {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Load() || s.cb == nil {
		return
	}
	s.delivery.Store(true)
	defer s.delivery.Store(false)
	s.cb(records)
}

func (s *serialEmitter) close() {
	s.closed.Store(true)
}

// delivering reports whether a callback is running right now.
func (s *serialEmitter) delivering() bool {
	return s.delivery.Load()
}

// merge combines handles into one idempotent handle. Nil handles are skipped.
func merge(handles ...TeardownFunc) TeardownFunc {
	return Once(func() {
		for _, h := range handles {
			if h != nil {
				h()
			}
		}
	})
}
