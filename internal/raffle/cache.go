package raffle

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/merkle-groot/Perpetual-Raffle/internal/metrics"
	"github.com/merkle-groot/Perpetual-Raffle/pkg/logger"
)

// StateCache maintains the local mirror of contract state for one account.
// The snapshot pair is replaced atomically: readers never observe a mix of
// old and new fields.
type StateCache struct {
	contract Contract
	account  common.Address
	log      *logger.Logger

	mu       sync.Mutex
	snap     *Snapshot
	holding  *Holding
	version  uint64
	inflight *refreshCall
}

// refreshCall lets concurrent refresh requests share one in-flight fetch.
type refreshCall struct {
	done chan struct{}
	err  error
}

// NewStateCache creates a cache for the given contract and account.
func NewStateCache(contract Contract, account common.Address, log *logger.Logger) *StateCache {
	return &StateCache{
		contract: contract,
		account:  account,
		log:      log,
	}
}

// Refresh re-reads the full contract state and replaces the snapshot pair.
// If a refresh is already in flight the caller is satisfied by its result
// instead of issuing a duplicate query burst. A failed refresh leaves the
// previous snapshot in place.
func (c *StateCache) Refresh(ctx context.Context) error {
	c.mu.Lock()
	if call := c.inflight; call != nil {
		c.mu.Unlock()
		select {
		case <-call.done:
			return call.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	call := &refreshCall{done: make(chan struct{})}
	c.inflight = call
	startVersion := c.version
	c.mu.Unlock()

	snap, holding, err := c.fetch(ctx)

	c.mu.Lock()
	c.inflight = nil
	if err == nil {
		// Completions are applied in completion order; a completion that
		// lost the race to a newer applied refresh is discarded.
		if c.version == startVersion {
			snap.Version = c.version + 1
			c.version = snap.Version
			c.snap = snap
			c.holding = holding
		}
	}
	c.mu.Unlock()

	if err != nil {
		metrics.RecordRefresh("error")
		call.err = fmt.Errorf("%w: %v", ErrStateFetchFailed, err)
		c.log.WithError(err).Warn("state refresh failed")
	} else {
		metrics.RecordRefresh("ok")
		c.log.WithField("version", snap.Version).
			WithField("phase", snap.CurrentPhase.String()).
			WithField("filled_slots", snap.FilledSlots).
			Debug("state refreshed")
	}
	close(call.done)
	return call.err
}

// Get returns the current snapshot pair. stale is true only before the
// first successful refresh.
func (c *StateCache) Get() (Snapshot, Holding, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.snap == nil {
		return Snapshot{CurrentPhase: PhaseUnknown}, Holding{}, true
	}

	snap := *c.snap
	snap.SlotPrice = new(big.Int).Set(c.snap.SlotPrice)
	if c.snap.PrizeID != nil {
		snap.PrizeID = new(big.Int).Set(c.snap.PrizeID)
	}
	return snap, *c.holding, false
}

// Version returns the version of the currently stored snapshot.
func (c *StateCache) Version() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.version
}

func (c *StateCache) fetch(ctx context.Context) (*Snapshot, *Holding, error) {
	maxSlots, err := c.contract.NumSlotsAvailable(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("slot capacity: %w", err)
	}
	filled, err := c.contract.NumSlotsFilled(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("filled slots: %w", err)
	}
	price, err := c.contract.SlotPrice(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("slot price: %w", err)
	}
	rounds, err := c.contract.NoOfRounds(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("round count: %w", err)
	}
	phaseCode, err := c.contract.CurrentPhase(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("current phase: %w", err)
	}
	prizeID, err := c.contract.NFTID(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("prize id: %w", err)
	}
	record, err := c.contract.AddressToSlotsOwner(ctx, c.account)
	if err != nil {
		return nil, nil, fmt.Errorf("account holding: %w", err)
	}
	roster, err := c.contract.SlotOwners(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("slot owners: %w", err)
	}

	snap := &Snapshot{
		MaxSlots:     maxSlots,
		FilledSlots:  filled,
		SlotPrice:    price,
		RoundCount:   rounds,
		CurrentPhase: PhaseFromCode(phaseCode),
		PrizeID:      prizeID,
	}
	holding := &Holding{
		EnteredRound:    record.EnteredRound,
		SlotsBought:     record.NoOfSlotsBought,
		SlotsOwnedCount: uint64(len(ResolveOwnership(roster, c.account))),
	}
	return snap, holding, nil
}
