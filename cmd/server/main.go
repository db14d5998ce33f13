// Package main runs the execution engine as a long-lived service:
// - Submission coordinator: builds, protects, and lands orders
// - Position monitor (continuous): revalues holdings, fires exit triggers
// - HTTP API for trading and inspection, Prometheus metrics
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"onchain-executor/internal/builder"
	"onchain-executor/internal/bundle"
	"onchain-executor/internal/coordinator"
	"onchain-executor/internal/domain"
	"onchain-executor/internal/engine"
	"onchain-executor/internal/eventbus"
	"onchain-executor/internal/ledger"
	"onchain-executor/internal/ledger/stub"
	"onchain-executor/internal/observability"
	"onchain-executor/internal/position"
	"onchain-executor/internal/storage"
	chstore "onchain-executor/internal/storage/clickhouse"
	"onchain-executor/internal/storage/memory"
	"onchain-executor/internal/storage/migrations"
	pgstore "onchain-executor/internal/storage/postgres"
	"onchain-executor/internal/wallet"
)

// allStores holds the storage implementations behind the engine.
type allStores struct {
	orders    storage.OrderStore
	positions storage.PositionStore
	ticks     storage.ValuationTickStore
	records   storage.ExecutionRecordStore
}

func main() {
	_ = godotenv.Load()

	rpcEndpoint := flag.String("rpc-endpoint", os.Getenv("LEDGER_RPC_ENDPOINT"), "Ledger gateway JSON-RPC endpoint")
	wsEndpoint := flag.String("ws-endpoint", os.Getenv("LEDGER_WS_ENDPOINT"), "Ledger gateway WebSocket endpoint (optional, head tracking)")
	relaySpec := flag.String("relays", os.Getenv("RELAY_ENDPOINTS"), "Comma-separated private relay endpoints, name=url")
	safetyURL := flag.String("safety-url", os.Getenv("SAFETY_CHECK_URL"), "Asset safety service base URL (optional)")
	routerAddr := flag.String("router", os.Getenv("ROUTER_ADDRESS"), "Execution venue router address")
	signerSeeds := flag.String("signer-seeds", os.Getenv("SIGNER_SEEDS"), "Comma-separated base58 signing key seeds")
	postgresDSN := flag.String("postgres-dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string")
	clickhouseDSN := flag.String("clickhouse-dsn", os.Getenv("CLICKHOUSE_DSN"), "ClickHouse connection string")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage instead of PostgreSQL/ClickHouse")
	dryRun := flag.Bool("dry-run", false, "Run against an in-process ledger stub, no network")
	tickInterval := flag.Duration("tick-interval", 2*time.Second, "Position valuation interval")
	blockSpread := flag.Int("block-spread", coordinator.DefaultBlockSpread, "Blocks to replicate each bundle across")
	confirmTimeout := flag.Duration("confirm-timeout", coordinator.DefaultConfirmTimeout, "Per-attempt inclusion wait")
	httpAddr := flag.String("http-addr", ":8080", "Trading API HTTP address")
	metricsAddr := flag.String("metrics-addr", ":9090", "Prometheus metrics HTTP address")

	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lshortfile)

	if !*dryRun && *rpcEndpoint == "" {
		logger.Fatal("--rpc-endpoint is required (or use --dry-run)")
	}
	if !*useMemory && !*dryRun && (*postgresDSN == "" || *clickhouseDSN == "") {
		logger.Fatal("--postgres-dsn and --clickhouse-dsn are required (use --use-memory for in-memory storage)")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metrics := observability.NewMetrics("")

	// Ledger gateway: real JSON-RPC or the in-process stub.
	var (
		led    ledger.Client
		quotes ledger.QuoteClient
		fees   builder.FeeEstimator
	)
	if *dryRun {
		s := stub.New()
		led, quotes = s, s
		fees = &builder.StaticFeeEstimator{Quote: ledger.FeeQuote{BaseFee: 0.0001, PriorityFee: 0.0005, MaxFee: 0.002}}
		logger.Println("Dry-run mode: using in-process ledger stub")
	} else {
		rpc := ledger.NewHTTPClient(*rpcEndpoint)
		led, quotes = rpc, rpc
		fees = &builder.LedgerFeeEstimator{Client: rpc}
	}

	// Signing keys. Dry-run generates an ephemeral one when none given.
	registry := wallet.NewRegistry(led)
	accountIDs, err := registerSigners(registry, *signerSeeds, *dryRun)
	if err != nil {
		logger.Fatalf("Failed to register signers: %v", err)
	}
	for _, id := range accountIDs {
		addr, _ := registry.Address(id)
		logger.Printf("Managing account %s (address %s)", id, addr)
	}

	// Stores
	stores, cleanup, err := createStores(ctx, *postgresDSN, *clickhouseDSN, *useMemory || *dryRun, logger)
	if err != nil {
		logger.Fatalf("Failed to create stores: %v", err)
	}
	defer cleanup()

	// Order builder
	var safety builder.SafetyChecker
	if *safetyURL != "" {
		safety = builder.NewHTTPSafetyChecker(*safetyURL)
	}
	bld := builder.New(&builder.LedgerQuoteSource{Client: quotes}, fees, safety)

	// Bundle protection layer
	relays, err := parseRelays(*relaySpec)
	if err != nil {
		logger.Fatalf("Failed to parse relays: %v", err)
	}
	if len(relays) == 0 && !*dryRun {
		logger.Println("WARNING: no private relays configured, bundle submission will fail over to public broadcast")
	}
	protection := bundle.New(bundle.Options{
		Relays:      relays,
		Broadcaster: led,
		Logger:      log.New(os.Stdout, "[bundle] ", log.LstdFlags|log.Lshortfile),
		Metrics:     metrics,
	})

	bus := eventbus.New(eventbus.Options{Logger: logger, Metrics: metrics})
	defer bus.Close()

	coord, err := coordinator.New(coordinator.Options{
		Registry:   registry,
		Ledger:     led,
		Builder:    bld,
		Protection: protection,
		Bus:        bus,
		Orders:     stores.orders,
		Records:    stores.records,
		Logger:     log.New(os.Stdout, "[coordinator] ", log.LstdFlags|log.Lshortfile),
		Metrics:    metrics,
		Config: coordinator.Config{
			ConfirmTimeout: *confirmTimeout,
			BlockSpread:    *blockSpread,
			Router:         *routerAddr,
		},
	})
	if err != nil {
		logger.Fatalf("Failed to create coordinator: %v", err)
	}

	// Monitor and engine reference each other: the monitor calls the
	// engine to execute exits, the engine opens positions on the
	// monitor. The ExiterFunc closure breaks the construction cycle.
	var eng *engine.Engine
	monitor, err := position.NewMonitor(position.Options{
		Quotes: &builder.LedgerQuoteSource{Client: quotes},
		Exiter: position.ExiterFunc(func(ctx context.Context, p *domain.Position, fraction float64, reason string) (*position.ExitResult, error) {
			return eng.Exit(ctx, p, fraction, reason)
		}),
		Store:    stores.positions,
		Ticks:    stores.ticks,
		Bus:      bus,
		Logger:   log.New(os.Stdout, "[monitor] ", log.LstdFlags|log.Lshortfile),
		Metrics:  metrics,
		Interval: *tickInterval,
	})
	if err != nil {
		logger.Fatalf("Failed to create monitor: %v", err)
	}

	eng, err = engine.New(engine.Options{
		Builder:     bld,
		Coordinator: coord,
		Monitor:     monitor,
		Bus:         bus,
		Orders:      stores.orders,
		Logger:      logger,
		Metrics:     metrics,
	})
	if err != nil {
		logger.Fatalf("Failed to create engine: %v", err)
	}

	// Restore open positions from storage.
	if n, err := monitor.Reload(ctx); err != nil {
		logger.Printf("Position reload failed: %v", err)
	} else if n > 0 {
		logger.Printf("Restored %d open positions", n)
	}

	// Graceful shutdown on SIGINT/SIGTERM.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Printf("Received signal %v, shutting down...", sig)
		cancel()
		select {
		case sig := <-sigCh:
			logger.Printf("Received second signal %v, forcing exit", sig)
			os.Exit(1)
		case <-time.After(30 * time.Second):
			logger.Println("Graceful shutdown timed out after 30s, forcing exit")
			os.Exit(1)
		}
	}()

	// Head tracking (optional): keeps a live block-height signal and
	// exercises reconnect handling.
	if *wsEndpoint != "" {
		go watchHeads(ctx, *wsEndpoint, metrics, logger)
	}

	// Metrics endpoint
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", observability.Handler())
		logger.Printf("Metrics listening on %s", *metricsAddr)
		if err := http.ListenAndServe(*metricsAddr, mux); err != nil && err != http.ErrServerClosed {
			logger.Printf("Metrics server error: %v", err)
		}
	}()

	// Trading API
	tradingAPI := newAPI(eng, monitor, bus, accountIDs, logger)
	go func() {
		logger.Printf("Trading API listening on %s", *httpAddr)
		if err := http.ListenAndServe(*httpAddr, tradingAPI.routes()); err != nil && err != http.ErrServerClosed {
			logger.Printf("API server error: %v", err)
		}
	}()

	// Position monitor loop blocks until shutdown.
	if err := monitor.Run(ctx); err != nil && err != context.Canceled {
		logger.Fatalf("Monitor error: %v", err)
	}
	logger.Println("Shutdown complete")
}

// registerSigners loads base58 seeds into the registry. Dry-run mode
// falls back to one ephemeral keypair.
func registerSigners(registry *wallet.Registry, seeds string, dryRun bool) ([]string, error) {
	var ids []string
	for _, seed := range strings.Split(seeds, ",") {
		seed = strings.TrimSpace(seed)
		if seed == "" {
			continue
		}
		kp, err := wallet.KeypairFromBase58Seed(seed)
		if err != nil {
			return nil, fmt.Errorf("decode signer seed: %w", err)
		}
		id, err := registry.Register(kp, false)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		if !dryRun {
			return nil, fmt.Errorf("no signer seeds configured, set --signer-seeds or SIGNER_SEEDS")
		}
		kp, err := wallet.NewKeypair()
		if err != nil {
			return nil, err
		}
		id, err := registry.Register(kp, false)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// parseRelays turns "name=url,name=url" into relay clients. A bare URL
// gets its host as the name.
func parseRelays(spec string) ([]bundle.Relay, error) {
	var relays []bundle.Relay
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, endpoint := part, part
		if i := strings.Index(part, "="); i > 0 {
			name, endpoint = part[:i], part[i+1:]
		}
		if !strings.HasPrefix(endpoint, "http") {
			return nil, fmt.Errorf("relay %q: endpoint must be an http(s) URL", part)
		}
		relays = append(relays, bundle.NewRelayClient(name, endpoint, 10*time.Second))
	}
	return relays, nil
}

// createStores wires the order/position stores (Postgres) and the
// append-only analytics stores (ClickHouse), applying migrations.
func createStores(ctx context.Context, postgresDSN, clickhouseDSN string, useMemory bool, logger *log.Logger) (*allStores, func(), error) {
	if useMemory {
		stores := &allStores{
			orders:    memory.NewOrderStore(),
			positions: memory.NewPositionStore(),
			ticks:     memory.NewValuationTickStore(),
			records:   memory.NewExecutionRecordStore(),
		}
		return stores, func() {}, nil
	}

	pool, err := pgstore.NewPool(ctx, postgresDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("postgres migrations: %w", err)
	}

	chConn, err := migrations.RunClickhouseMigrations(ctx, clickhouseDSN)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("clickhouse migrations: %w", err)
	}

	logger.Println("Storage ready (postgres + clickhouse)")

	stores := &allStores{
		orders:    pgstore.NewOrderStore(pool),
		positions: pgstore.NewPositionStore(pool),
		ticks:     chstore.NewValuationTickStore(chConn),
		records:   chstore.NewExecutionRecordStore(chConn),
	}

	cleanup := func() {
		chConn.Close()
		pool.Close()
	}
	return stores, cleanup, nil
}

// watchHeads consumes new-head notifications for liveness metrics.
func watchHeads(ctx context.Context, endpoint string, metrics *observability.Metrics, logger *log.Logger) {
	ws, err := ledger.NewWSClient(ctx, endpoint, nil)
	if err != nil {
		logger.Printf("Head tracking disabled: %v", err)
		return
	}
	defer ws.Close()

	heads, err := ws.SubscribeNewHeads(ctx)
	if err != nil {
		logger.Printf("Head subscription failed: %v", err)
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case head, ok := <-heads:
			if !ok {
				return
			}
			metrics.WSHeadsReceived.Inc()
			_ = head
		}
	}
}
