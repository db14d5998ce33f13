// Package main executes a single trade end to end and prints the
// resulting order as JSON. Useful for smoke-testing relay and gateway
// configuration without running the full server.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"onchain-executor/internal/builder"
	"onchain-executor/internal/bundle"
	"onchain-executor/internal/coordinator"
	"onchain-executor/internal/domain"
	"onchain-executor/internal/ledger"
	"onchain-executor/internal/observability"
	"onchain-executor/internal/storage/memory"
	"onchain-executor/internal/wallet"
)

func main() {
	_ = godotenv.Load()

	rpcEndpoint := flag.String("rpc-endpoint", os.Getenv("LEDGER_RPC_ENDPOINT"), "Ledger gateway JSON-RPC endpoint")
	relaySpec := flag.String("relays", os.Getenv("RELAY_ENDPOINTS"), "Comma-separated private relay endpoints, name=url")
	routerAddr := flag.String("router", os.Getenv("ROUTER_ADDRESS"), "Execution venue router address")
	signerSeed := flag.String("signer-seed", os.Getenv("SIGNER_SEED"), "Base58 signing key seed")
	safetyURL := flag.String("safety-url", os.Getenv("SAFETY_CHECK_URL"), "Asset safety service base URL (optional)")

	side := flag.String("side", "buy", "Trade side: buy or sell")
	sourceAsset := flag.String("from", "", "Asset spent")
	targetAsset := flag.String("to", "", "Asset acquired")
	amountIn := flag.Float64("amount", 0, "Input amount in source asset units")
	slippagePct := flag.Float64("slippage", 10, "Tolerated slippage percent")
	maxFee := flag.Float64("max-fee", 0.01, "Hard fee ceiling")
	priorityFee := flag.Float64("priority-fee", 0.001, "Priority fee ceiling")
	deadline := flag.Duration("deadline", 2*time.Minute, "Transaction validity window")
	retryBudget := flag.Int("budget", 2, "Total execution attempts allowed")
	channel := flag.String("channel", "bundle", "Preferred channel: bundle, private_tx, public")
	safetyCheck := flag.Bool("safety-check", false, "Run the asset safety precondition")

	flag.Parse()

	logger := log.New(os.Stderr, "[trade] ", log.LstdFlags)

	if *rpcEndpoint == "" {
		logger.Fatal("--rpc-endpoint is required")
	}
	if *signerSeed == "" {
		logger.Fatal("--signer-seed is required")
	}
	if *sourceAsset == "" || *targetAsset == "" || *amountIn <= 0 {
		logger.Fatal("--from, --to and a positive --amount are required")
	}

	ctx := context.Background()

	rpc := ledger.NewHTTPClient(*rpcEndpoint)

	kp, err := wallet.KeypairFromBase58Seed(*signerSeed)
	if err != nil {
		logger.Fatalf("Failed to decode signer seed: %v", err)
	}
	registry := wallet.NewRegistry(rpc)
	accountID, err := registry.Register(kp, false)
	if err != nil {
		logger.Fatalf("Failed to register signer: %v", err)
	}
	logger.Printf("Trading as %s", kp.Address())

	var safety builder.SafetyChecker
	if *safetyURL != "" {
		safety = builder.NewHTTPSafetyChecker(*safetyURL)
	}
	bld := builder.New(
		&builder.LedgerQuoteSource{Client: rpc},
		&builder.LedgerFeeEstimator{Client: rpc},
		safety,
	)

	var relays []bundle.Relay
	for _, part := range strings.Split(*relaySpec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, endpoint := part, part
		if i := strings.Index(part, "="); i > 0 {
			name, endpoint = part[:i], part[i+1:]
		}
		relays = append(relays, bundle.NewRelayClient(name, endpoint, 10*time.Second))
	}

	metrics := observability.NewMetrics("")
	protection := bundle.New(bundle.Options{
		Relays:      relays,
		Broadcaster: rpc,
		Logger:      logger,
		Metrics:     metrics,
	})

	coord, err := coordinator.New(coordinator.Options{
		Registry:   registry,
		Ledger:     rpc,
		Builder:    bld,
		Protection: protection,
		Orders:     memory.NewOrderStore(),
		Records:    memory.NewExecutionRecordStore(),
		Logger:     logger,
		Metrics:    metrics,
		Config:     coordinator.Config{Router: *routerAddr},
	})
	if err != nil {
		logger.Fatalf("Failed to create coordinator: %v", err)
	}

	order, err := bld.Build(ctx, domain.OrderRequest{
		AccountID:   accountID,
		Side:        *side,
		SourceAsset: *sourceAsset,
		TargetAsset: *targetAsset,
		AmountIn:    *amountIn,
		SlippagePct: *slippagePct,
		Deadline:    time.Now().Add(*deadline),
		MaxFee:      *maxFee,
		PriorityFee: *priorityFee,
		Channel:     domain.SubmissionChannel(*channel),
		SafetyCheck: *safetyCheck,
		RetryBudget: *retryBudget,
	})
	if err != nil {
		logger.Fatalf("Failed to build order: %v", err)
	}
	logger.Printf("Built order %s: expected out %.6f, min out %.6f", order.ID, order.ExpectedOut, order.MinOut)

	execErr := coord.Execute(ctx, order)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(order); err != nil {
		logger.Fatalf("Failed to encode result: %v", err)
	}

	if execErr != nil {
		logger.Fatalf("Execution failed: %v", execErr)
	}
	logger.Printf("Confirmed in block %d, filled %.6f", order.InclusionBlock, order.FilledOut)
}
