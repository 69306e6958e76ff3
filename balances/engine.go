package balances

import (
	"context"
	"sort"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/kdimentionaltree/wallet-balances-go/balances/models"
)

// Callback receives balance batches. Calls are serialized per subscription.
type Callback func(records []models.BalanceRecord)

type Options struct {
	Intervals Intervals
	// NativeExclusions lists chains whose native balance lives in a token ledger.
	NativeExclusions []string
	// FanOutLimit bounds concurrent per-address reads of one poll tick.
	FanOutLimit int
	Logger      *logrus.Entry
}

// Engine multiplexes balance subscriptions over many chains.
type Engine struct {
	directory        *AccountDirectory
	intervals        Intervals
	nativeExclusions mapset.Set[string]
	limit            int
	logger           *logrus.Entry
	probes           *probeCache
}

func NewEngine(directory *AccountDirectory, opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	limit := opts.FanOutLimit
	if limit <= 0 {
		limit = defaultFanOutLimit
	}
	if directory == nil {
		directory = NewAccountDirectory()
	}
	return &Engine{
		directory:        directory,
		intervals:        opts.Intervals.withDefaults(),
		nativeExclusions: mapset.NewSet(opts.NativeExclusions...),
		limit:            limit,
		logger:           logger.WithField("component", "balances"),
		probes:           newProbeCache(),
	}
}

func (e *Engine) Directory() *AccountDirectory {
	return e.directory
}

type SubscribeParams struct {
	Addresses  []string
	Chains     []string
	Tokens     []string
	TokenIndex map[string]*models.TokenDescriptor
	ChainIndex map[string]*models.ChainDescriptor
	Clients    Clients
	// Transfer defaults to keep-alive accounting.
	Transfer *models.TransferContext
}

// selectTokens keeps the indexed tokens named in ids, ordered by id.
func selectTokens(index map[string]*models.TokenDescriptor, ids []string) []*models.TokenDescriptor {
	want := mapset.NewThreadUnsafeSet(ids...)
	res := make([]*models.TokenDescriptor, 0, len(ids))
	for id, t := range index {
		if t != nil && want.Contains(id) {
			res = append(res, t)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res
}

// selectChains keeps the indexed chains named in ids, in request order.
func selectChains(index map[string]*models.ChainDescriptor, ids []string) []*models.ChainDescriptor {
	seen := mapset.NewThreadUnsafeSet[string]()
	res := make([]*models.ChainDescriptor, 0, len(ids))
	for _, id := range ids {
		c, ok := index[id]
		if !ok || c == nil || !seen.Add(id) {
			continue
		}
		res = append(res, c)
	}
	return res
}

// Subscribe starts balance production for every requested chain and returns
// immediately. Placeholders for addresses a chain cannot serve are delivered
// before Subscribe returns. The returned handle stops everything; it also runs
// when ctx ends.
func (e *Engine) Subscribe(ctx context.Context, p SubscribeParams, cb Callback) TeardownFunc {
	session, cancel := context.WithCancel(ctx)
	id := uuid.NewString()
	logger := e.logger.WithField("subscription", id)

	transfer := models.DefaultTransferContext()
	if p.Transfer != nil {
		transfer = *p.Transfer
	}
	env := &env{
		logger:    logger,
		intervals: e.intervals,
		transfer:  transfer,
		limit:     e.limit,
		probes:    e.probes,
	}

	out := &serialEmitter{cb: cb}
	handles := newArena(logger)

	tokens := selectTokens(p.TokenIndex, p.Tokens)
	chains := selectChains(p.ChainIndex, p.Chains)

	for _, chain := range chains {
		chainTokens := tokensOfChain(tokens, chain.ID)
		part := Classify(p.Addresses, chain, e.directory)
		out.emit(Placeholders(part.Skipped, chain, chainTokens, models.Ready))

		if len(part.Queryable) == 0 || len(chainTokens) == 0 {
			continue
		}
		setup := newPendingSetup()
		handles.add(setup.teardown)
		go func() {
			setup.resolve(e.dispatch(session, env, chain, chainTokens, part.Queryable, p.Clients, out.emit))
		}()
	}

	logger.WithFields(logrus.Fields{
		"addresses": len(p.Addresses),
		"chains":    len(chains),
		"tokens":    len(tokens),
	}).Info("subscription started")

	teardown := Once(func() {
		cancel()
		out.close()
		// a handle called from the callback must not wait on the setup that is delivering
		if out.delivering() {
			go handles.close()
		} else {
			handles.close()
		}
		logger.Info("subscription stopped")
	})
	go func() {
		<-session.Done()
		teardown()
	}()
	return teardown
}

// dispatch selects the chain's strategy by its family tag.
func (e *Engine) dispatch(ctx context.Context, env *env, chain *models.ChainDescriptor, tokens []*models.TokenDescriptor, addresses []string, clients Clients, emit emitFunc) (h TeardownFunc) {
	logger := env.logger.WithFields(logrus.Fields{"chain": chain.ID, "family": chain.Family})
	defer func() {
		if r := recover(); r != nil {
			logger.WithField("panic", r).Error("chain setup failed")
			h = nil
		}
	}()

	ctx, span := tracer().Start(ctx, "setup "+chain.ID, trace.WithAttributes(
		attribute.String("chain", chain.ID),
		attribute.String("family", string(chain.Family)),
		attribute.Int("addresses", len(addresses)),
	))
	defer span.End()

	switch chain.Family {
	case models.FamilyNativeLedger, models.FamilyEVM, models.FamilyUTXO:
		client, ok := clients.pull(chain.Family, chain.ID)
		if !ok {
			logger.Warn("no client for chain")
			emit(Placeholders(addresses, chain, tokens, models.Ready))
			return nil
		}
		return startPull(ctx, env, chain, tokens, addresses, client, emit)

	case models.FamilyAccountModel:
		client, ok := clients.AccountModel[chain.ID]
		if !ok || client == nil {
			logger.Warn("no client for chain")
			emit(Placeholders(addresses, chain, tokens, models.Ready))
			return nil
		}
		if !client.Ready() {
			emit(Placeholders(addresses, chain, tokens, models.NotReady))
			if err := client.WaitReady(ctx); err != nil {
				logger.WithError(err).Debug("chain never became ready")
				return nil
			}
		}
		if ctx.Err() != nil {
			return nil
		}
		_, h := startComposite(ctx, env, chain, tokens, addresses, client, e.nativeExclusions.Contains(chain.ID), emit)
		return h
	}

	logger.Warn("unknown chain family")
	emit(Placeholders(addresses, chain, tokens, models.Ready))
	return nil
}
