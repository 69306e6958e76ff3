package balances

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/kdimentionaltree/wallet-balances-go/balances"

func tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// Intervals are the fixed polling periods per strategy family.
type Intervals struct {
	Contracts      time.Duration `yaml:"contracts"`
	StakingDerived time.Duration `yaml:"staking_derived"`
	EVM            time.Duration `yaml:"evm"`
	NativeLedger   time.Duration `yaml:"native_ledger"`
	UTXO           time.Duration `yaml:"utxo"`
}

func DefaultIntervals() Intervals {
	return Intervals{
		Contracts:      30 * time.Second,
		StakingDerived: 30 * time.Second,
		EVM:            30 * time.Second,
		NativeLedger:   30 * time.Second,
		UTXO:           60 * time.Second,
	}
}

// withDefaults fills zero fields from DefaultIntervals.
func (iv Intervals) withDefaults() Intervals {
	def := DefaultIntervals()
	if iv.Contracts <= 0 {
		iv.Contracts = def.Contracts
	}
	if iv.StakingDerived <= 0 {
		iv.StakingDerived = def.StakingDerived
	}
	if iv.EVM <= 0 {
		iv.EVM = def.EVM
	}
	if iv.NativeLedger <= 0 {
		iv.NativeLedger = def.NativeLedger
	}
	if iv.UTXO <= 0 {
		iv.UTXO = def.UTXO
	}
	return iv
}

type tickFunc func(ctx context.Context, flag *cancelFlag)

// startPolling runs tick immediately and then every interval until the returned
// handle is called. Teardown only stops the ticker: a tick already running
// keeps its context and finishes, and its result is dropped by the flag.
// Each tick gets at most one interval to complete.
func startPolling(ctx context.Context, name string, interval time.Duration, logger *logrus.Entry, tick tickFunc) TeardownFunc {
	flag := &cancelFlag{}
	stop := make(chan struct{})
	fetchCtx := context.WithoutCancel(ctx)

	run := func() {
		tickCtx, cancel := context.WithTimeout(fetchCtx, interval)
		defer cancel()
		tickCtx, span := tracer().Start(tickCtx, "poll "+name, trace.WithAttributes(
			attribute.String("poller", name),
		))
		defer span.End()
		defer func() {
			if r := recover(); r != nil {
				logger.WithFields(logrus.Fields{"poller": name, "panic": r}).Error("poll tick failed")
			}
		}()
		tick(tickCtx, flag)
	}

	go func() {
		run()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if !flag.live() {
					return
				}
				run()
			}
		}
	}()

	logger.WithFields(logrus.Fields{"poller": name, "interval": interval}).Debug("polling started")
	return Once(func() {
		flag.stop()
		close(stop)
		logger.WithField("poller", name).Debug("polling stopped")
	})
}
