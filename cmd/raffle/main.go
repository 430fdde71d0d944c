// Package main provides the raffle command-line client: state inspection,
// live event watching, and slot purchase/refund/free-claim operations.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/merkle-groot/Perpetual-Raffle/internal/chain"
	"github.com/merkle-groot/Perpetual-Raffle/internal/config"
	"github.com/merkle-groot/Perpetual-Raffle/internal/metrics"
	"github.com/merkle-groot/Perpetual-Raffle/internal/raffle"
	"github.com/merkle-groot/Perpetual-Raffle/internal/session"
	"github.com/merkle-groot/Perpetual-Raffle/pkg/logger"
)

func main() {
	statusCmd := flag.NewFlagSet("status", flag.ExitOnError)
	statusConfig := statusCmd.String("config", "config.yaml", "Path to config file")

	watchCmd := flag.NewFlagSet("watch", flag.ExitOnError)
	watchConfig := watchCmd.String("config", "config.yaml", "Path to config file")
	watchMetrics := watchCmd.String("metrics-addr", "", "Serve Prometheus metrics on this address (empty to disable)")

	buyCmd := flag.NewFlagSet("buy", flag.ExitOnError)
	buyConfig := buyCmd.String("config", "config.yaml", "Path to config file")
	buyCount := buyCmd.Uint64("n", 1, "Number of slots to buy")

	refundCmd := flag.NewFlagSet("refund", flag.ExitOnError)
	refundConfig := refundCmd.String("config", "config.yaml", "Path to config file")
	refundCount := refundCmd.Uint64("n", 1, "Number of slots to refund")

	freeCmd := flag.NewFlagSet("free", flag.ExitOnError)
	freeConfig := freeCmd.String("config", "config.yaml", "Path to config file")

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "status":
		statusCmd.Parse(os.Args[2:])
		handleStatus(*statusConfig)
	case "watch":
		watchCmd.Parse(os.Args[2:])
		handleWatch(*watchConfig, *watchMetrics)
	case "buy":
		buyCmd.Parse(os.Args[2:])
		handleOperation(*buyConfig, raffle.OpPurchase, *buyCount)
	case "refund":
		refundCmd.Parse(os.Args[2:])
		handleOperation(*refundConfig, raffle.OpRefund, *refundCount)
	case "free":
		freeCmd.Parse(os.Args[2:])
		handleOperation(*freeConfig, raffle.OpFreeClaim, 0)
	case "help":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`Perpetual Raffle CLI

Usage:
  raffle <command> [options]

Commands:
  status    Show the current raffle round and your holdings
    -config <path>  Path to config file (default: config.yaml)

  watch     Follow contract events and keep the state cache fresh
    -config <path>        Path to config file
    -metrics-addr <addr>  Serve Prometheus metrics on this address

  buy       Buy paid slots
    -config <path>  Path to config file
    -n <count>      Number of slots to buy (default: 1)

  refund    Refund owned slots
    -config <path>  Path to config file
    -n <count>      Number of slots to refund (default: 1)

  free      Claim your free-slot entitlement for this round
    -config <path>  Path to config file

  help      Show this help message

Examples:
  # Show the round state
  raffle status

  # Buy three slots
  raffle buy -n 3

  # Watch events with metrics exposed
  raffle watch -metrics-addr :9090`)
}

// app bundles the wired components every command needs.
type app struct {
	cfg      *config.Config
	log      *logger.Logger
	client   *chain.Client
	contract *chain.RaffleContract
	session  *session.Session
	cache    *raffle.StateCache
	gateway  *raffle.Gateway
}

func setup(ctx context.Context, configPath string) (*app, error) {
	cfg := config.LoadOrDefault(configPath)

	log := logger.New("raffle", logger.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	})

	client, err := chain.NewClient(chain.Config{RPCURL: cfg.RPCURL})
	if err != nil {
		return nil, fmt.Errorf("chain client: %w", err)
	}

	if cfg.ContractAddress == "" {
		return nil, fmt.Errorf("contract address not configured (set contract_address or RAFFLE_CONTRACT_ADDRESS)")
	}
	contract := chain.NewRaffleContract(client, common.HexToAddress(cfg.ContractAddress))

	sess, err := session.Initialize(ctx, client, cfg.TargetChainID, log)
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}

	cache := raffle.NewStateCache(contract, sess.Account, log)
	gateway := raffle.NewGateway(contract, client, cache, sess.Account, raffle.GatewayConfig{
		ConfirmTimeout: cfg.ConfirmTimeout.Std(),
		PollInterval:   cfg.PollInterval.Std(),
	}, log)

	return &app{
		cfg:      cfg,
		log:      log,
		client:   client,
		contract: contract,
		session:  sess,
		cache:    cache,
		gateway:  gateway,
	}, nil
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

// =============================================================================
// Status Command
// =============================================================================

func handleStatus(configPath string) {
	ctx := context.Background()

	a, err := setup(ctx, configPath)
	if err != nil {
		fatal(err)
	}

	refreshCtx, cancel := context.WithTimeout(ctx, a.cfg.RefreshTimeout.Std())
	defer cancel()
	if err := a.cache.Refresh(refreshCtx); err != nil {
		fatal(err)
	}

	snap, holding, stale := a.cache.Get()
	if stale {
		fatal(fmt.Errorf("no state available"))
	}

	fmt.Println("=== Raffle Status ===")
	fmt.Printf("  Contract:   %s\n", a.contract.Address())
	fmt.Printf("  Account:    %s\n", a.session.Account)
	fmt.Printf("  Phase:      %s\n", snap.CurrentPhase)
	fmt.Printf("  Round:      %d\n", snap.RoundCount)
	fmt.Printf("  Prize NFT:  %s\n", snap.PrizeID)
	fmt.Printf("  Slot price: %s wei\n", snap.SlotPrice)
	fmt.Printf("  Slots:      %d / %d filled (%d available)\n",
		snap.FilledSlots, snap.MaxSlots, snap.AvailableSlots())

	fmt.Println("\n=== Your Holdings ===")
	fmt.Printf("  Slots owned:  %d\n", holding.SlotsOwnedCount)
	fmt.Printf("  Slots bought: %d\n", holding.SlotsBought)
	if holding.EnteredRound == snap.RoundCount {
		fmt.Println("  Free claim:   already used this round")
	} else {
		fmt.Printf("  Free claim:   %d slot(s) available\n", holding.SlotsBought/raffle.FreeSlotDivisor+1)
	}

	if err := a.session.CheckNetwork(); err != nil {
		fmt.Printf("\nWarning: %v\n", err)
	}
}

// =============================================================================
// Watch Command
// =============================================================================

func handleWatch(configPath, metricsAddr string) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := setup(ctx, configPath)
	if err != nil {
		fatal(err)
	}

	refreshCtx, cancel := context.WithTimeout(ctx, a.cfg.RefreshTimeout.Std())
	if err := a.cache.Refresh(refreshCtx); err != nil {
		a.log.WithError(err).Warn("initial refresh failed, continuing with stale state")
	}
	cancel()

	if metricsAddr != "" {
		go serveMetrics(metricsAddr, a.log)
	}

	source := raffle.NewLogEventSource(a.cfg.WSURL, a.contract.Address())
	sub := raffle.NewSubscriber(a.cache, source, a.cfg.RefreshTimeout.Std(), a.log)
	sub.Start()
	defer sub.Close()

	a.log.WithField("contract", a.contract.Address().Hex()).Info("watching raffle events")

	lastVersion := uint64(0)
	for {
		select {
		case <-ctx.Done():
			a.log.Info("shutting down")
			return
		case <-time.After(time.Second):
			if v := a.cache.Version(); v != lastVersion {
				lastVersion = v
				snap, _, stale := a.cache.Get()
				if stale {
					continue
				}
				fmt.Printf("[v%d] phase=%s round=%d filled=%d/%d\n",
					snap.Version, snap.CurrentPhase, snap.RoundCount,
					snap.FilledSlots, snap.MaxSlots)
			}
		}
	}
}

func serveMetrics(addr string, log *logger.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	log.WithField("addr", addr).Info("serving metrics")
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.WithError(err).Error("metrics server stopped")
	}
}

// =============================================================================
// Operation Commands
// =============================================================================

func handleOperation(configPath string, kind raffle.OperationKind, count uint64) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := setup(ctx, configPath)
	if err != nil {
		fatal(err)
	}
	if err := a.session.CheckNetwork(); err != nil {
		fatal(err)
	}

	var op *raffle.PendingOperation
	switch kind {
	case raffle.OpPurchase:
		fmt.Printf("Buying %d slot(s)...\n", count)
		op, err = a.gateway.PurchaseSlots(ctx, count)
	case raffle.OpRefund:
		fmt.Printf("Refunding %d slot(s)...\n", count)
		op, err = a.gateway.RefundSlots(ctx, count)
	case raffle.OpFreeClaim:
		fmt.Println("Claiming free slots...")
		op, err = a.gateway.ClaimFreeSlots(ctx)
	}

	if err != nil {
		if op != nil && op.Status == raffle.StatusSubmitted {
			fmt.Printf("Transaction %s submitted but not yet confirmed: %v\n", op.TxHash, err)
			fmt.Println("Check the transaction manually before retrying.")
			os.Exit(1)
		}
		fatal(err)
	}

	fmt.Printf("Confirmed: %s\n", op.TxHash)

	snap, holding, stale := a.cache.Get()
	if !stale {
		fmt.Printf("Round %d: %d/%d slots filled, you own %d\n",
			snap.RoundCount, snap.FilledSlots, snap.MaxSlots, holding.SlotsOwnedCount)
	}
}
