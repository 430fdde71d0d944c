package raffle

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/merkle-groot/Perpetual-Raffle/internal/chain"
	"github.com/merkle-groot/Perpetual-Raffle/internal/metrics"
	"github.com/merkle-groot/Perpetual-Raffle/pkg/logger"
)

// FreeSlotDivisor sets the free-claim entitlement: one free slot per ten
// bought, plus one.
const FreeSlotDivisor = 10

// GatewayConfig holds gateway tuning knobs.
type GatewayConfig struct {
	ConfirmTimeout time.Duration
	PollInterval   time.Duration
}

// Gateway validates and submits the three mutating raffle operations. Every
// operation starts with a synchronous cache refresh so pre-checks run
// against state no older than the call, and pre-check failures are resolved
// locally before any transaction is sent. Submissions are serialized per
// account: a second operation is rejected while one is unconfirmed.
type Gateway struct {
	contract Contract
	balances BalanceReader
	cache    *StateCache
	account  common.Address
	log      *logger.Logger
	cfg      GatewayConfig

	busy chan struct{}
}

// NewGateway creates a gateway for the given account.
func NewGateway(contract Contract, balances BalanceReader, cache *StateCache, account common.Address, cfg GatewayConfig, log *logger.Logger) *Gateway {
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = chain.DefaultTxWaitTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = chain.DefaultPollInterval
	}
	return &Gateway{
		contract: contract,
		balances: balances,
		cache:    cache,
		account:  account,
		log:      log,
		cfg:      cfg,
		busy:     make(chan struct{}, 1),
	}
}

// PurchaseSlots buys n paid slots. Requires the purchase phase and a
// balance strictly greater than the total cost, leaving room for fees.
func (g *Gateway) PurchaseSlots(ctx context.Context, n uint64) (*PendingOperation, error) {
	op, release, err := g.begin(OpPurchase, n)
	if err != nil {
		return op, err
	}
	defer release()

	snap, _, err := g.freshSnapshot(ctx)
	if err != nil {
		return g.fail(op, err)
	}
	if snap.CurrentPhase != PhasePurchase {
		return g.fail(op, fmt.Errorf("%w: phase is %s", ErrActionNotAllowedInPhase, snap.CurrentPhase))
	}

	cost := new(big.Int).Mul(snap.SlotPrice, new(big.Int).SetUint64(n))
	balance, err := g.balances.BalanceAt(ctx, g.account)
	if err != nil {
		return g.fail(op, fmt.Errorf("read balance: %w", err))
	}
	// Strict inequality: a balance exactly equal to cost leaves nothing
	// for transaction fees.
	if balance.Cmp(cost) <= 0 {
		return g.fail(op, fmt.Errorf("%w: cost %s, balance %s", ErrInsufficientFunds, cost, balance))
	}

	return g.submit(ctx, op, func(ctx context.Context) (common.Hash, error) {
		return g.contract.PurchaseSlot(ctx, g.account, n, chain.PurchaseKindPaid, cost)
	})
}

// RefundSlots refunds n of the account's owned slots, selected in ascending
// slot-index order.
func (g *Gateway) RefundSlots(ctx context.Context, n uint64) (*PendingOperation, error) {
	op, release, err := g.begin(OpRefund, n)
	if err != nil {
		return op, err
	}
	defer release()

	snap, _, err := g.freshSnapshot(ctx)
	if err != nil {
		return g.fail(op, err)
	}
	if snap.CurrentPhase != PhasePurchase && snap.CurrentPhase != PhaseRefund {
		return g.fail(op, fmt.Errorf("%w: phase is %s", ErrActionNotAllowedInPhase, snap.CurrentPhase))
	}

	roster, err := g.contract.SlotOwners(ctx)
	if err != nil {
		return g.fail(op, fmt.Errorf("read slot owners: %w", err))
	}
	owned := ResolveOwnership(roster, g.account)
	indices, err := SelectForRefund(owned, n)
	if err != nil {
		return g.fail(op, fmt.Errorf("%w: own %d, requested %d", err, len(owned), n))
	}

	return g.submit(ctx, op, func(ctx context.Context) (common.Hash, error) {
		return g.contract.RefundSlot(ctx, g.account, indices)
	})
}

// ClaimFreeSlots claims the account's free-slot entitlement for the current
// round: slotsBought/10 + 1 slots at no cost, once per round.
func (g *Gateway) ClaimFreeSlots(ctx context.Context) (*PendingOperation, error) {
	op, release, err := g.begin(OpFreeClaim, 0)
	if err != nil {
		return op, err
	}
	defer release()

	snap, holding, err := g.freshSnapshot(ctx)
	if err != nil {
		return g.fail(op, err)
	}
	if snap.CurrentPhase != PhasePurchase {
		return g.fail(op, fmt.Errorf("%w: phase is %s", ErrActionNotAllowedInPhase, snap.CurrentPhase))
	}
	if holding.EnteredRound == snap.RoundCount {
		return g.fail(op, fmt.Errorf("%w: round %d", ErrAlreadyParticipatedThisRound, snap.RoundCount))
	}

	freeSlots := holding.SlotsBought/FreeSlotDivisor + 1
	op.SlotCount = freeSlots

	return g.submit(ctx, op, func(ctx context.Context) (common.Hash, error) {
		return g.contract.PurchaseSlot(ctx, g.account, freeSlots, chain.PurchaseKindFree, nil)
	})
}

// =============================================================================
// Operation Lifecycle
// =============================================================================

func (g *Gateway) begin(kind OperationKind, n uint64) (*PendingOperation, func(), error) {
	op := &PendingOperation{
		ID:        uuid.NewString(),
		Kind:      kind,
		SlotCount: n,
		Status:    StatusValidating,
	}
	if kind != OpFreeClaim && n == 0 {
		op.Status = StatusFailed
		return op, nil, fmt.Errorf("slot count must be positive")
	}

	select {
	case g.busy <- struct{}{}:
	default:
		op.Status = StatusFailed
		metrics.RecordOperation(string(kind), "rejected")
		return op, nil, ErrOperationInProgress
	}
	return op, func() { <-g.busy }, nil
}

// freshSnapshot refreshes the cache and returns the resulting pair,
// guarding pre-checks against stale-phase races.
func (g *Gateway) freshSnapshot(ctx context.Context) (Snapshot, Holding, error) {
	if err := g.cache.Refresh(ctx); err != nil {
		return Snapshot{}, Holding{}, err
	}
	snap, holding, stale := g.cache.Get()
	if stale {
		return Snapshot{}, Holding{}, ErrStateFetchFailed
	}
	return snap, holding, nil
}

func (g *Gateway) fail(op *PendingOperation, err error) (*PendingOperation, error) {
	op.Status = StatusFailed
	metrics.RecordOperation(string(op.Kind), "precheck_failed")
	g.log.WithField("op_id", op.ID).
		WithField("kind", string(op.Kind)).
		WithError(err).
		Warn("operation rejected")
	return op, err
}

// submit sends the transaction and waits for its receipt. A wait that times
// out is indeterminate, not failed: the operation stays Submitted and
// ErrConfirmationTimeout is returned.
func (g *Gateway) submit(ctx context.Context, op *PendingOperation, send func(context.Context) (common.Hash, error)) (*PendingOperation, error) {
	start := time.Now()
	defer func() {
		metrics.ObserveOperationDuration(string(op.Kind), time.Since(start).Seconds())
	}()

	op.Status = StatusSubmitted
	txHash, err := send(ctx)
	if err != nil {
		op.Status = StatusFailed
		metrics.RecordOperation(string(op.Kind), "failed")
		g.log.WithField("op_id", op.ID).WithError(err).Error("transaction submission failed")
		return op, fmt.Errorf("%w: %v", ErrTransactionFailed, err)
	}
	op.TxHash = txHash

	g.log.WithField("op_id", op.ID).
		WithField("kind", string(op.Kind)).
		WithField("slots", op.SlotCount).
		WithField("tx", txHash.Hex()).
		Info("transaction submitted")

	wctx, cancel := context.WithTimeout(ctx, g.cfg.ConfirmTimeout)
	defer cancel()

	receipt, err := g.contract.WaitForReceipt(wctx, txHash, g.cfg.PollInterval)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			metrics.RecordOperation(string(op.Kind), "timeout")
			return op, fmt.Errorf("%w: tx %s", ErrConfirmationTimeout, txHash.Hex())
		}
		op.Status = StatusFailed
		metrics.RecordOperation(string(op.Kind), "failed")
		return op, fmt.Errorf("%w: %v", ErrTransactionFailed, err)
	}
	if receipt.Reverted() {
		op.Status = StatusFailed
		metrics.RecordOperation(string(op.Kind), "reverted")
		g.log.WithField("op_id", op.ID).WithField("tx", txHash.Hex()).Error("transaction reverted")
		return op, fmt.Errorf("%w: tx %s reverted", ErrTransactionFailed, txHash.Hex())
	}

	op.Status = StatusConfirmed
	metrics.RecordOperation(string(op.Kind), "confirmed")
	g.log.WithField("op_id", op.ID).WithField("tx", txHash.Hex()).Info("transaction confirmed")

	if err := g.cache.Refresh(ctx); err != nil {
		g.log.WithError(err).Warn("post-confirmation refresh failed")
	}
	return op, nil
}
