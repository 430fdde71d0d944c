package chain

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"golang.org/x/crypto/sha3"
)

// =============================================================================
// Raffle Contract ABI
// =============================================================================

// Raffle event names.
const (
	EventSlotsClaimed  = "SlotsClaimed"
	EventSlotsRefunded = "SlotsRefunded"
)

// Event topics (keccak-256 of the event signatures).
var (
	TopicSlotsClaimed  = common.BytesToHash(keccak256([]byte("SlotsClaimed(address,uint256)")))
	TopicSlotsRefunded = common.BytesToHash(keccak256([]byte("SlotsRefunded(address,uint256)")))
)

// Function selectors.
var (
	selNumSlotsAvailable   = selector("numSlotsAvailable()")
	selNumSlotsFilled      = selector("numSlotsFilled()")
	selSlotPrice           = selector("slotPrice()")
	selNoOfRounds          = selector("noOfRounds()")
	selCurrentPhase        = selector("currentPhase()")
	selNFTID               = selector("nftID()")
	selGetSlotOwners       = selector("getSlotOwners()")
	selAddressToSlotsOwner = selector("addressToSlotsOwner(address)")
	selPurchaseSlot        = selector("purchaseSlot(uint256,uint256)")
	selRefundSlot          = selector("refundSlot(uint256[])")
)

func keccak256(data []byte) []byte {
	h := sha3.NewLegacyKeccak256()
	h.Write(data)
	return h.Sum(nil)
}

func selector(signature string) []byte {
	return keccak256([]byte(signature))[:4]
}

// PurchaseKind is the second argument of purchaseSlot.
type PurchaseKind uint64

const (
	PurchaseKindPaid PurchaseKind = 0
	PurchaseKindFree PurchaseKind = 1
)

// HoldingRecord mirrors the contract's addressToSlotsOwner mapping value.
type HoldingRecord struct {
	NoOfSlots       uint64
	NoOfSlotsBought uint64
	EnteredRound    uint64
}

// RaffleContract provides typed access to the deployed raffle contract.
type RaffleContract struct {
	client  *Client
	address common.Address
}

// NewRaffleContract binds the raffle contract at the given address.
func NewRaffleContract(client *Client, address common.Address) *RaffleContract {
	return &RaffleContract{client: client, address: address}
}

// Address returns the bound contract address.
func (r *RaffleContract) Address() common.Address {
	return r.address
}

// =============================================================================
// Read Methods
// =============================================================================

func (r *RaffleContract) call(ctx context.Context, data []byte) ([]byte, error) {
	return r.client.CallContract(ctx, CallArgs{To: &r.address, Data: data})
}

func (r *RaffleContract) callUint(ctx context.Context, sel []byte, method string) (*big.Int, error) {
	out, err := r.call(ctx, sel)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	if len(out) < wordSize {
		return nil, fmt.Errorf("%s: short return data (%d bytes)", method, len(out))
	}
	return decodeBig(out[:wordSize]), nil
}

// NumSlotsAvailable returns the total slot capacity of the raffle.
func (r *RaffleContract) NumSlotsAvailable(ctx context.Context) (uint64, error) {
	v, err := r.callUint(ctx, selNumSlotsAvailable, "numSlotsAvailable")
	if err != nil {
		return 0, err
	}
	return v.Uint64(), nil
}

// NumSlotsFilled returns the number of slots currently taken.
func (r *RaffleContract) NumSlotsFilled(ctx context.Context) (uint64, error) {
	v, err := r.callUint(ctx, selNumSlotsFilled, "numSlotsFilled")
	if err != nil {
		return 0, err
	}
	return v.Uint64(), nil
}

// SlotPrice returns the price of one slot in wei.
func (r *RaffleContract) SlotPrice(ctx context.Context) (*big.Int, error) {
	return r.callUint(ctx, selSlotPrice, "slotPrice")
}

// NoOfRounds returns the number of rounds played so far.
func (r *RaffleContract) NoOfRounds(ctx context.Context) (uint64, error) {
	v, err := r.callUint(ctx, selNoOfRounds, "noOfRounds")
	if err != nil {
		return 0, err
	}
	return v.Uint64(), nil
}

// CurrentPhase returns the raw phase code. The contract reports -1 before a
// prize is deposited, so the value is decoded as a signed integer.
func (r *RaffleContract) CurrentPhase(ctx context.Context) (int64, error) {
	out, err := r.call(ctx, selCurrentPhase)
	if err != nil {
		return 0, fmt.Errorf("currentPhase: %w", err)
	}
	if len(out) < wordSize {
		return 0, fmt.Errorf("currentPhase: short return data (%d bytes)", len(out))
	}
	return decodeSigned(out[:wordSize]), nil
}

// NFTID returns the prize identifier of the current round.
func (r *RaffleContract) NFTID(ctx context.Context) (*big.Int, error) {
	return r.callUint(ctx, selNFTID, "nftID")
}

// AddressToSlotsOwner returns the holding record for an account.
func (r *RaffleContract) AddressToSlotsOwner(ctx context.Context, account common.Address) (HoldingRecord, error) {
	data := append(append([]byte{}, selAddressToSlotsOwner...), encodeAddress(account)...)
	out, err := r.call(ctx, data)
	if err != nil {
		return HoldingRecord{}, fmt.Errorf("addressToSlotsOwner: %w", err)
	}
	if len(out) < 3*wordSize {
		return HoldingRecord{}, fmt.Errorf("addressToSlotsOwner: short return data (%d bytes)", len(out))
	}
	return HoldingRecord{
		NoOfSlots:       decodeBig(out[0:wordSize]).Uint64(),
		NoOfSlotsBought: decodeBig(out[wordSize : 2*wordSize]).Uint64(),
		EnteredRound:    decodeBig(out[2*wordSize : 3*wordSize]).Uint64(),
	}, nil
}

// SlotOwners returns the full slot-owner roster, ordered by slot index.
func (r *RaffleContract) SlotOwners(ctx context.Context) ([]common.Address, error) {
	out, err := r.call(ctx, selGetSlotOwners)
	if err != nil {
		return nil, fmt.Errorf("getSlotOwners: %w", err)
	}
	if len(out) < 2*wordSize {
		return nil, fmt.Errorf("getSlotOwners: short return data (%d bytes)", len(out))
	}

	offset := decodeBig(out[0:wordSize]).Uint64()
	if offset+wordSize > uint64(len(out)) {
		return nil, fmt.Errorf("getSlotOwners: bad array offset %d", offset)
	}
	length := decodeBig(out[offset : offset+wordSize]).Uint64()
	if offset+wordSize+length*wordSize > uint64(len(out)) {
		return nil, fmt.Errorf("getSlotOwners: truncated array (len %d)", length)
	}

	owners := make([]common.Address, 0, length)
	base := offset + wordSize
	for i := uint64(0); i < length; i++ {
		word := out[base+i*wordSize : base+(i+1)*wordSize]
		owners = append(owners, common.BytesToAddress(word[12:]))
	}
	return owners, nil
}

// =============================================================================
// Write Methods
// =============================================================================

// PurchaseSlot submits a purchaseSlot transaction. For paid purchases value
// must equal price*count; free claims attach zero value.
func (r *RaffleContract) PurchaseSlot(ctx context.Context, from common.Address, count uint64, kind PurchaseKind, value *big.Int) (common.Hash, error) {
	data := append([]byte{}, selPurchaseSlot...)
	data = append(data, encodeUint(new(big.Int).SetUint64(count))...)
	data = append(data, encodeUint(new(big.Int).SetUint64(uint64(kind)))...)

	args := CallArgs{From: from, To: &r.address, Data: data}
	if value != nil && value.Sign() > 0 {
		args.Value = (*hexutil.Big)(value)
	}

	hash, err := r.client.SendTransaction(ctx, args)
	if err != nil {
		return common.Hash{}, fmt.Errorf("purchaseSlot: %w", err)
	}
	return hash, nil
}

// RefundSlot submits a refundSlot transaction for the given slot indices.
func (r *RaffleContract) RefundSlot(ctx context.Context, from common.Address, indices []uint64) (common.Hash, error) {
	data := append([]byte{}, selRefundSlot...)
	// dynamic uint256[]: offset, length, elements
	data = append(data, encodeUint(big.NewInt(wordSize))...)
	data = append(data, encodeUint(new(big.Int).SetUint64(uint64(len(indices))))...)
	for _, idx := range indices {
		data = append(data, encodeUint(new(big.Int).SetUint64(idx))...)
	}

	hash, err := r.client.SendTransaction(ctx, CallArgs{From: from, To: &r.address, Data: data})
	if err != nil {
		return common.Hash{}, fmt.Errorf("refundSlot: %w", err)
	}
	return hash, nil
}

// WaitForReceipt waits for a submitted raffle transaction to be mined.
func (r *RaffleContract) WaitForReceipt(ctx context.Context, txHash common.Hash, pollInterval time.Duration) (*Receipt, error) {
	return r.client.WaitForReceipt(ctx, txHash, pollInterval)
}

// =============================================================================
// ABI Encoding Helpers
// =============================================================================

func encodeUint(v *big.Int) []byte {
	var word [wordSize]byte
	v.FillBytes(word[:])
	return word[:]
}

func encodeAddress(addr common.Address) []byte {
	var word [wordSize]byte
	copy(word[12:], addr.Bytes())
	return word[:]
}

// decodeSigned interprets a 32-byte word as a two's complement int256 and
// returns its low 64 bits as a signed value.
func decodeSigned(word []byte) int64 {
	v := new(big.Int).SetBytes(word)
	if word[0]&0x80 != 0 {
		max := new(big.Int).Lsh(big.NewInt(1), 256)
		v.Sub(v, max)
	}
	return v.Int64()
}
