package raffle

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/merkle-groot/Perpetual-Raffle/internal/chain"
	"github.com/merkle-groot/Perpetual-Raffle/pkg/logger"
)

var (
	testAccount = common.HexToAddress("0x1111111111111111111111111111111111111111")
	otherOwner  = common.HexToAddress("0x2222222222222222222222222222222222222222")
)

func testLogger() *logger.Logger {
	return logger.New("test", logger.Config{Level: "error"})
}

func TestStateCache_RefreshAndGet(t *testing.T) {
	ctx := context.Background()
	contract := newFakeContract()
	contract.maxSlots = 100
	contract.filled = 40
	contract.price = big.NewInt(25)
	contract.rounds = 3
	contract.roster = []common.Address{otherOwner, testAccount, testAccount}
	contract.holdings[testAccount] = chain.HoldingRecord{
		NoOfSlots:       5, // stale on-chain counter, roster says 2
		NoOfSlotsBought: 12,
		EnteredRound:    2,
	}

	cache := NewStateCache(contract, testAccount, testLogger())

	_, _, stale := cache.Get()
	if !stale {
		t.Fatal("expected stale snapshot before first refresh")
	}

	if err := cache.Refresh(ctx); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}

	snap, holding, stale := cache.Get()
	if stale {
		t.Error("expected fresh snapshot after refresh")
	}
	if snap.MaxSlots != 100 || snap.FilledSlots != 40 {
		t.Errorf("unexpected slot counts: max %d filled %d", snap.MaxSlots, snap.FilledSlots)
	}
	if snap.AvailableSlots() != 60 {
		t.Errorf("expected 60 available slots, got %d", snap.AvailableSlots())
	}
	if snap.SlotPrice.Cmp(big.NewInt(25)) != 0 {
		t.Errorf("unexpected slot price %s", snap.SlotPrice)
	}
	if snap.CurrentPhase != PhasePurchase {
		t.Errorf("expected purchase phase, got %s", snap.CurrentPhase)
	}
	if snap.Version != 1 {
		t.Errorf("expected version 1, got %d", snap.Version)
	}
	if holding.SlotsBought != 12 || holding.EnteredRound != 2 {
		t.Errorf("unexpected holding: %+v", holding)
	}
	// ownership is recomputed from the roster, not the on-chain counter
	if holding.SlotsOwnedCount != 2 {
		t.Errorf("expected 2 owned slots from roster, got %d", holding.SlotsOwnedCount)
	}

	if err := cache.Refresh(ctx); err != nil {
		t.Fatalf("second Refresh failed: %v", err)
	}
	snap, _, _ = cache.Get()
	if snap.Version != 2 {
		t.Errorf("expected version 2, got %d", snap.Version)
	}
}

func TestStateCache_UnknownPhaseBeforePrizeDeposit(t *testing.T) {
	contract := newFakeContract()
	contract.phaseCode = -1

	cache := NewStateCache(contract, testAccount, testLogger())
	if err := cache.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}

	snap, _, _ := cache.Get()
	if snap.CurrentPhase != PhaseUnknown {
		t.Errorf("expected unknown phase for code -1, got %s", snap.CurrentPhase)
	}
}

func TestStateCache_FailedRefreshKeepsPreviousSnapshot(t *testing.T) {
	ctx := context.Background()
	contract := newFakeContract()
	contract.filled = 10
	cache := NewStateCache(contract, testAccount, testLogger())

	if err := cache.Refresh(ctx); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}

	contract.mu.Lock()
	contract.readErr = errors.New("rpc down")
	contract.filled = 99
	contract.mu.Unlock()

	err := cache.Refresh(ctx)
	if !errors.Is(err, ErrStateFetchFailed) {
		t.Fatalf("expected ErrStateFetchFailed, got %v", err)
	}

	snap, _, stale := cache.Get()
	if stale {
		t.Error("failed refresh must not clear the previous snapshot")
	}
	if snap.FilledSlots != 10 {
		t.Errorf("expected previous snapshot to survive, got filled %d", snap.FilledSlots)
	}
	if snap.Version != 1 {
		t.Errorf("expected version 1 after failed refresh, got %d", snap.Version)
	}
}

func TestStateCache_CoalescesConcurrentRefreshes(t *testing.T) {
	ctx := context.Background()
	contract := newFakeContract()
	contract.fetchGate = make(chan struct{})
	cache := NewStateCache(contract, testAccount, testLogger())

	const callers = 8
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = cache.Refresh(ctx)
		}(i)
	}

	// wait for every caller to join the in-flight refresh, then let the
	// single fetch proceed
	time.Sleep(50 * time.Millisecond)
	close(contract.fetchGate)
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("caller %d: %v", i, err)
		}
	}
	if got := contract.fetches(); got != 1 {
		t.Errorf("expected 1 query burst for %d concurrent refreshes, got %d", callers, got)
	}
	if v := cache.Version(); v != 1 {
		t.Errorf("expected version 1, got %d", v)
	}
}

func TestStateCache_VersionNeverDecreases(t *testing.T) {
	ctx := context.Background()
	contract := newFakeContract()
	cache := NewStateCache(contract, testAccount, testLogger())

	var mu sync.Mutex
	last := uint64(0)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				if err := cache.Refresh(ctx); err != nil {
					t.Errorf("Refresh: %v", err)
					return
				}
				snap, _, _ := cache.Get()
				mu.Lock()
				if snap.Version < last {
					t.Errorf("version regressed: %d after %d", snap.Version, last)
				} else {
					last = snap.Version
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
}

func TestSnapshot_AvailableSlotsNonNegative(t *testing.T) {
	s := Snapshot{MaxSlots: 5, FilledSlots: 9}
	if got := s.AvailableSlots(); got != 0 {
		t.Errorf("expected 0 available slots when filled exceeds max, got %d", got)
	}
}
