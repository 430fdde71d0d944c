package raffle

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/merkle-groot/Perpetual-Raffle/internal/chain"
)

// fakeContract is an in-memory Contract for tests. Write submissions are
// counted so tests can assert that pre-check failures never reach the
// network.
type fakeContract struct {
	mu sync.Mutex

	maxSlots  uint64
	filled    uint64
	price     *big.Int
	rounds    uint64
	phaseCode int64
	nftID     *big.Int
	holdings  map[common.Address]chain.HoldingRecord
	roster    []common.Address

	readErr error
	// fetchGate, when set, blocks the first read of each refresh until the
	// gate receives a value.
	fetchGate  chan struct{}
	fetchCount int

	writeCalls   int
	sendEntered  chan struct{}
	sendGate     chan struct{}
	lastPurchase purchaseCall
	lastRefund   []uint64

	revert  bool
	waitErr error
}

type purchaseCall struct {
	count uint64
	kind  chain.PurchaseKind
	value *big.Int
}

func newFakeContract() *fakeContract {
	return &fakeContract{
		maxSlots:  1000,
		filled:    0,
		price:     big.NewInt(10),
		rounds:    1,
		phaseCode: 0,
		nftID:     big.NewInt(7),
		holdings:  make(map[common.Address]chain.HoldingRecord),
	}
}

func (f *fakeContract) fetchCounted(ctx context.Context) error {
	f.mu.Lock()
	f.fetchCount++
	gate := f.fetchGate
	err := f.readErr
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (f *fakeContract) NumSlotsAvailable(ctx context.Context) (uint64, error) {
	if err := f.fetchCounted(ctx); err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxSlots, nil
}

func (f *fakeContract) NumSlotsFilled(ctx context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.filled, nil
}

func (f *fakeContract) SlotPrice(ctx context.Context) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return new(big.Int).Set(f.price), nil
}

func (f *fakeContract) NoOfRounds(ctx context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rounds, nil
}

func (f *fakeContract) CurrentPhase(ctx context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.phaseCode, nil
}

func (f *fakeContract) NFTID(ctx context.Context) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return new(big.Int).Set(f.nftID), nil
}

func (f *fakeContract) AddressToSlotsOwner(ctx context.Context, account common.Address) (chain.HoldingRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.holdings[account], nil
}

func (f *fakeContract) SlotOwners(ctx context.Context) ([]common.Address, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	roster := make([]common.Address, len(f.roster))
	copy(roster, f.roster)
	return roster, nil
}

func (f *fakeContract) enterSend(ctx context.Context) error {
	f.mu.Lock()
	f.writeCalls++
	entered := f.sendEntered
	gate := f.sendGate
	f.mu.Unlock()

	if entered != nil {
		entered <- struct{}{}
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (f *fakeContract) PurchaseSlot(ctx context.Context, from common.Address, count uint64, kind chain.PurchaseKind, value *big.Int) (common.Hash, error) {
	if err := f.enterSend(ctx); err != nil {
		return common.Hash{}, err
	}
	f.mu.Lock()
	f.lastPurchase = purchaseCall{count: count, kind: kind, value: value}
	f.mu.Unlock()
	return common.HexToHash("0x01"), nil
}

func (f *fakeContract) RefundSlot(ctx context.Context, from common.Address, indices []uint64) (common.Hash, error) {
	if err := f.enterSend(ctx); err != nil {
		return common.Hash{}, err
	}
	f.mu.Lock()
	f.lastRefund = append([]uint64(nil), indices...)
	f.mu.Unlock()
	return common.HexToHash("0x02"), nil
}

func (f *fakeContract) WaitForReceipt(ctx context.Context, txHash common.Hash, pollInterval time.Duration) (*chain.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.waitErr != nil {
		return nil, f.waitErr
	}
	receipt := &chain.Receipt{TxHash: txHash, Status: 1}
	if f.revert {
		receipt.Status = 0
	}
	return receipt, nil
}

func (f *fakeContract) writes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writeCalls
}

func (f *fakeContract) fetches() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetchCount
}

// fakeBalance is an in-memory BalanceReader.
type fakeBalance struct {
	mu      sync.Mutex
	balance *big.Int
}

func (f *fakeBalance) BalanceAt(ctx context.Context, account common.Address) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return new(big.Int).Set(f.balance), nil
}
