// Package raffle implements the client-side raffle state synchronization
// and operation gateway engine.
package raffle

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/merkle-groot/Perpetual-Raffle/internal/chain"
)

// Phase is the contract's current operating mode.
type Phase int

const (
	// PhaseUnknown is the pre-initialization sentinel; the contract reports
	// a negative code before the round's prize is deposited.
	PhaseUnknown Phase = iota
	// PhasePurchase is the open phase (contract code 0). The deployed
	// contract gates purchases, refunds and free claims on this phase.
	PhasePurchase
	// PhaseRefund is a refund-only phase (contract code 1).
	PhaseRefund
	// PhaseSettlement is the lock period preceding winner selection
	// (contract code 2).
	PhaseSettlement
)

// PhaseFromCode maps the contract's raw phase code to a Phase.
func PhaseFromCode(code int64) Phase {
	switch code {
	case 0:
		return PhasePurchase
	case 1:
		return PhaseRefund
	case 2:
		return PhaseSettlement
	default:
		return PhaseUnknown
	}
}

func (p Phase) String() string {
	switch p {
	case PhasePurchase:
		return "purchase"
	case PhaseRefund:
		return "refund"
	case PhaseSettlement:
		return "settlement"
	default:
		return "unknown"
	}
}

// Snapshot is an immutable copy of contract-wide state, replaced atomically
// on every successful refresh.
type Snapshot struct {
	MaxSlots     uint64
	FilledSlots  uint64
	SlotPrice    *big.Int
	RoundCount   uint64
	CurrentPhase Phase
	PrizeID      *big.Int
	// Version increases on every successful refresh and never decreases.
	Version uint64
}

// AvailableSlots is derived, never stored independently.
func (s Snapshot) AvailableSlots() uint64 {
	if s.FilledSlots > s.MaxSlots {
		return 0
	}
	return s.MaxSlots - s.FilledSlots
}

// Holding is the connected account's view of its raffle participation.
type Holding struct {
	EnteredRound uint64
	SlotsBought  uint64
	// SlotsOwnedCount is recomputed from the slot-owner roster rather than
	// trusted from the contract's per-account record: refunds change
	// ownership without changing the bought counter.
	SlotsOwnedCount uint64
}

// OperationKind identifies a gateway operation.
type OperationKind string

const (
	OpPurchase  OperationKind = "purchase"
	OpRefund    OperationKind = "refund"
	OpFreeClaim OperationKind = "free_claim"
)

// OperationStatus is the lifecycle state of a pending operation.
type OperationStatus string

const (
	StatusValidating OperationStatus = "validating"
	StatusSubmitted  OperationStatus = "submitted"
	StatusConfirmed  OperationStatus = "confirmed"
	StatusFailed     OperationStatus = "failed"
)

// PendingOperation tracks one gateway invocation from validation to its
// terminal state. It is never persisted across sessions.
type PendingOperation struct {
	ID        string
	Kind      OperationKind
	SlotCount uint64
	Status    OperationStatus
	TxHash    common.Hash
}

// Contract is the raffle contract surface the engine consumes. It is
// satisfied by *chain.RaffleContract and by test doubles.
type Contract interface {
	NumSlotsAvailable(ctx context.Context) (uint64, error)
	NumSlotsFilled(ctx context.Context) (uint64, error)
	SlotPrice(ctx context.Context) (*big.Int, error)
	NoOfRounds(ctx context.Context) (uint64, error)
	CurrentPhase(ctx context.Context) (int64, error)
	NFTID(ctx context.Context) (*big.Int, error)
	AddressToSlotsOwner(ctx context.Context, account common.Address) (chain.HoldingRecord, error)
	SlotOwners(ctx context.Context) ([]common.Address, error)

	PurchaseSlot(ctx context.Context, from common.Address, count uint64, kind chain.PurchaseKind, value *big.Int) (common.Hash, error)
	RefundSlot(ctx context.Context, from common.Address, indices []uint64) (common.Hash, error)
	WaitForReceipt(ctx context.Context, txHash common.Hash, pollInterval time.Duration) (*chain.Receipt, error)
}

// BalanceReader reads account balances from the node.
type BalanceReader interface {
	BalanceAt(ctx context.Context, account common.Address) (*big.Int, error)
}

// Errors
var (
	ErrStateFetchFailed             = errors.New("state fetch failed")
	ErrActionNotAllowedInPhase      = errors.New("action not allowed in current phase")
	ErrInsufficientFunds            = errors.New("insufficient funds")
	ErrInsufficientOwnedSlots       = errors.New("insufficient owned slots")
	ErrAlreadyParticipatedThisRound = errors.New("already participated this round")
	ErrOperationInProgress          = errors.New("operation already in progress")
	ErrTransactionFailed            = errors.New("transaction failed")
	ErrConfirmationTimeout          = errors.New("transaction confirmation timed out")
)
