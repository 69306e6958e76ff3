package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/pprof"
	"github.com/gofiber/swagger"
	"github.com/gofiber/websocket/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/kdimentionaltree/wallet-balances-go/balances"
	"github.com/kdimentionaltree/wallet-balances-go/config"
	_ "github.com/kdimentionaltree/wallet-balances-go/docs"
	"github.com/kdimentionaltree/wallet-balances-go/loader"
	"github.com/kdimentionaltree/wallet-balances-go/store"
	"github.com/kdimentionaltree/wallet-balances-go/telemetry"
)

type Settings struct {
	ConfigPath      string
	RedisDsn        string
	PgDsn           string
	PgReplDsn       string
	MaxConns        int
	MinConns        int
	Bind            string
	Prefork         bool
	Debug           bool
	OtlpEndpoint    string
	LogLevel        string
	AccountsChannel string
	RecordsChannel  string
	RecordTTL       time.Duration
	SinkRefresh     time.Duration
	MaxAddresses    int
}

//	@title			Wallet Balances API
//	@version		1.0.0
//	@description	Live wallet balances across account-model, evm, native-ledger and utxo chains.

func main() {
	var settings Settings
	flag.StringVar(&settings.ConfigPath, "config", "registry.yaml", "Chain and token registry")
	flag.StringVar(&settings.RedisDsn, "redis", "redis://localhost:6379", "Redis URL")
	flag.StringVar(&settings.PgDsn, "pg", "", "PostgreSQL connection string for the account directory")
	flag.StringVar(&settings.PgReplDsn, "pg-repl", "", "PostgreSQL replication connection string; follows account changes when set")
	flag.IntVar(&settings.MaxConns, "maxconns", 10, "PostgreSQL max connections")
	flag.IntVar(&settings.MinConns, "minconns", 0, "PostgreSQL min connections")
	flag.StringVar(&settings.Bind, "bind", ":8000", "Bind address")
	flag.BoolVar(&settings.Prefork, "prefork", false, "Prefork workers")
	flag.BoolVar(&settings.Debug, "debug", false, "Enable pprof")
	flag.StringVar(&settings.OtlpEndpoint, "otlp-endpoint", "", "OTLP/HTTP trace endpoint")
	flag.StringVar(&settings.LogLevel, "log-level", "info", "Log level")
	flag.StringVar(&settings.AccountsChannel, "accounts-channel", loader.DefaultAccountsChannel, "Redis channel with account add/remove events")
	flag.StringVar(&settings.RecordsChannel, "records-channel", store.DefaultChannel, "Redis channel for stored balance notifications")
	flag.DurationVar(&settings.RecordTTL, "record-ttl", 0, "TTL of stored balance records, 0 keeps them forever")
	flag.DurationVar(&settings.SinkRefresh, "sink-refresh", time.Minute, "How often the background subscription re-reads the watched addresses")
	flag.IntVar(&settings.MaxAddresses, "max-addresses", 1000, "Maximum addresses in one websocket subscription")
	flag.Parse()

	logger := logrus.New()
	logger.SetOutput(os.Stdout)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	if level, err := logrus.ParseLevel(settings.LogLevel); err == nil {
		logger.SetLevel(level)
	}
	log := logrus.NewEntry(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info("Received shutdown signal, canceling context...")
		cancel()
	}()

	shutdown, err := telemetry.InstallTraceProvider(ctx, settings.OtlpEndpoint, "wallet-balances")
	if err != nil {
		log.WithError(err).Fatal("Failed to install trace provider")
	}
	defer func() {
		_ = shutdown(context.Background())
	}()

	registry, err := config.Load(settings.ConfigPath)
	if err != nil {
		log.WithError(err).Fatal("Failed to load registry")
	}

	redisOptions, err := redis.ParseURL(settings.RedisDsn)
	if err != nil {
		log.WithError(err).Fatal("Failed to parse Redis DSN")
	}
	rdb := redis.NewClient(redisOptions)

	directory := balances.NewAccountDirectory()
	var db *loader.DbClient
	if settings.PgDsn != "" {
		db, err = loader.NewDbClient(ctx, settings.PgDsn, settings.MinConns, settings.MaxConns)
		if err != nil {
			log.WithError(err).Fatal("Failed to connect to PostgreSQL")
		}
		defer db.Close()
		if err := loader.LoadAccounts(ctx, db.Pool, directory, log); err != nil {
			log.WithError(err).Fatal("Failed to load accounts")
		}
	} else {
		log.Warn("PostgreSQL connection string is not provided, account directory starts empty")
	}

	go func() {
		if err := loader.WatchEvents(ctx, rdb, settings.AccountsChannel, directory, log); err != nil && ctx.Err() == nil {
			log.WithError(err).Error("Account event watcher stopped")
		}
	}()
	if settings.PgReplDsn != "" {
		replicator, err := loader.NewReplicator(loader.ReplicationConfig{ConnectionString: settings.PgReplDsn}, directory, log)
		if err != nil {
			log.WithError(err).Fatal("Failed to create replicator")
		}
		go func() {
			if err := replicator.Run(ctx); err != nil && ctx.Err() == nil {
				log.WithError(err).Error("Account replication stopped")
			}
		}()
	}

	clients := buildClients(ctx, registry, rdb, log)
	defer clients.Close()

	opts := registry.EngineOptions()
	opts.Logger = log
	svc := &Service{
		registry:     registry,
		chains:       registry.ChainIndex(),
		tokens:       registry.TokenIndex(),
		engine:       balances.NewEngine(directory, opts),
		clients:      clients.Clients,
		relays:       clients.relays,
		store:        store.NewBalanceStore(rdb, settings.RecordsChannel, settings.RecordTTL),
		rdb:          rdb,
		db:           db,
		maxAddresses: settings.MaxAddresses,
		logger:       log.WithField("component", "api"),
	}
	go svc.runSink(ctx, settings.SinkRefresh)

	app := fiber.New(fiber.Config{
		AppName:      "Wallet Balances API",
		Prefork:      settings.Prefork,
		ReadTimeout:  5 * time.Second,
		ProxyHeader:  fiber.HeaderXForwardedFor,
		ErrorHandler: errorHandler(log),
	})
	if settings.Debug {
		app.Use(pprof.New())
	}

	app.Get("/healthz", svc.Healthz)
	app.Get("/api/v1/balances", svc.GetBalances)
	app.Use("/api/v1/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/api/v1/ws", websocket.New(svc.WebSocketHandler))
	app.Get("/swagger/*", swagger.New(swagger.Config{
		Title:           "Wallet Balances - Swagger UI",
		Layout:          "BaseLayout",
		DeepLinking:     true,
		TryItOutEnabled: true,
	}))

	go func() {
		<-ctx.Done()
		_ = app.Shutdown()
	}()

	log.WithField("bind", settings.Bind).Info("Starting server")
	if err := app.Listen(settings.Bind); err != nil {
		log.WithError(err).Fatal("Server stopped")
	}
}
