package chain

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"math/big"
	"net/http"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var contractAddr = common.HexToAddress("0xcccccccccccccccccccccccccccccccccccccccc")

// contractHandler answers eth_call by selector and records eth_sendTransaction
// payloads for calldata inspection.
type contractHandler struct {
	t       *testing.T
	calls   map[string]string // hex selector -> hex return data (no 0x)
	lastTx  CallArgs
	txCount int
}

func (h *contractHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req RPCRequest
	require.NoError(h.t, json.NewDecoder(r.Body).Decode(&req))

	var result string
	switch req.Method {
	case "eth_call":
		raw, _ := json.Marshal(req.Params[0])
		var args CallArgs
		require.NoError(h.t, json.Unmarshal(raw, &args))

		sel := hex.EncodeToString(args.Data[:4])
		ret, ok := h.calls[sel]
		if !ok {
			h.t.Errorf("unexpected selector %s", sel)
		}
		result = `"0x` + ret + `"`
	case "eth_sendTransaction":
		raw, _ := json.Marshal(req.Params[0])
		require.NoError(h.t, json.Unmarshal(raw, &h.lastTx))
		h.txCount++
		result = `"0x` + hex.EncodeToString(make([]byte, 32)) + `"`
	default:
		h.t.Errorf("unexpected method %q", req.Method)
		result = "null"
	}

	resp := `{"jsonrpc":"2.0","id":1,"result":` + result + `}`
	_, _ = w.Write([]byte(resp))
}

func newTestContract(t *testing.T, handler *contractHandler) *RaffleContract {
	t.Helper()
	handler.t = t
	return NewRaffleContract(newTestClient(t, handler), contractAddr)
}

// word returns a hex-encoded 32-byte ABI word holding v.
func word(v int64) string {
	var w [wordSize]byte
	big.NewInt(v).FillBytes(w[:])
	return hex.EncodeToString(w[:])
}

func addressWord(addr common.Address) string {
	var w [wordSize]byte
	copy(w[12:], addr.Bytes())
	return hex.EncodeToString(w[:])
}

func TestRaffleContract_ReadUints(t *testing.T) {
	handler := &contractHandler{calls: map[string]string{
		hex.EncodeToString(selNumSlotsAvailable): word(100),
		hex.EncodeToString(selNumSlotsFilled):    word(37),
		hex.EncodeToString(selNoOfRounds):        word(4),
		hex.EncodeToString(selSlotPrice):         word(25000),
		hex.EncodeToString(selNFTID):             word(7),
	}}
	contract := newTestContract(t, handler)
	ctx := context.Background()

	available, err := contract.NumSlotsAvailable(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), available)

	filled, err := contract.NumSlotsFilled(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(37), filled)

	rounds, err := contract.NoOfRounds(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), rounds)

	price, err := contract.SlotPrice(ctx)
	require.NoError(t, err)
	assert.Equal(t, "25000", price.String())

	nftID, err := contract.NFTID(ctx)
	require.NoError(t, err)
	assert.Equal(t, "7", nftID.String())
}

func TestRaffleContract_CurrentPhase(t *testing.T) {
	t.Run("Open", func(t *testing.T) {
		handler := &contractHandler{calls: map[string]string{
			hex.EncodeToString(selCurrentPhase): word(0),
		}}
		contract := newTestContract(t, handler)

		phase, err := contract.CurrentPhase(context.Background())
		require.NoError(t, err)
		assert.Equal(t, int64(0), phase)
	})

	t.Run("NegativeBeforePrizeDeposit", func(t *testing.T) {
		// int256(-1) is all 0xff in two's complement
		ff := make([]byte, wordSize)
		for i := range ff {
			ff[i] = 0xff
		}
		handler := &contractHandler{calls: map[string]string{
			hex.EncodeToString(selCurrentPhase): hex.EncodeToString(ff),
		}}
		contract := newTestContract(t, handler)

		phase, err := contract.CurrentPhase(context.Background())
		require.NoError(t, err)
		assert.Equal(t, int64(-1), phase)
	})
}

func TestRaffleContract_SlotOwners(t *testing.T) {
	ownerA := common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	ownerB := common.HexToAddress("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")

	t.Run("DecodesRoster", func(t *testing.T) {
		ret := word(32) + word(3) + addressWord(ownerA) + addressWord(ownerB) + addressWord(ownerA)
		handler := &contractHandler{calls: map[string]string{
			hex.EncodeToString(selGetSlotOwners): ret,
		}}
		contract := newTestContract(t, handler)

		owners, err := contract.SlotOwners(context.Background())
		require.NoError(t, err)
		assert.Equal(t, []common.Address{ownerA, ownerB, ownerA}, owners)
	})

	t.Run("EmptyRoster", func(t *testing.T) {
		handler := &contractHandler{calls: map[string]string{
			hex.EncodeToString(selGetSlotOwners): word(32) + word(0),
		}}
		contract := newTestContract(t, handler)

		owners, err := contract.SlotOwners(context.Background())
		require.NoError(t, err)
		assert.Empty(t, owners)
	})

	t.Run("TruncatedArray", func(t *testing.T) {
		// length claims 2 elements but only 1 follows
		handler := &contractHandler{calls: map[string]string{
			hex.EncodeToString(selGetSlotOwners): word(32) + word(2) + addressWord(ownerA),
		}}
		contract := newTestContract(t, handler)

		_, err := contract.SlotOwners(context.Background())
		assert.Error(t, err)
	})
}

func TestRaffleContract_AddressToSlotsOwner(t *testing.T) {
	account := common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	handler := &contractHandler{calls: map[string]string{
		hex.EncodeToString(selAddressToSlotsOwner): word(5) + word(3) + word(2),
	}}
	contract := newTestContract(t, handler)

	record, err := contract.AddressToSlotsOwner(context.Background(), account)
	require.NoError(t, err)
	assert.Equal(t, HoldingRecord{NoOfSlots: 5, NoOfSlotsBought: 3, EnteredRound: 2}, record)
}

func TestRaffleContract_PurchaseSlot(t *testing.T) {
	from := common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")

	t.Run("Paid", func(t *testing.T) {
		handler := &contractHandler{}
		contract := newTestContract(t, handler)

		value := big.NewInt(50000)
		_, err := contract.PurchaseSlot(context.Background(), from, 2, PurchaseKindPaid, value)
		require.NoError(t, err)
		require.Equal(t, 1, handler.txCount)

		tx := handler.lastTx
		assert.Equal(t, from, tx.From)
		assert.Equal(t, contractAddr, *tx.To)
		require.NotNil(t, tx.Value)
		assert.Equal(t, "50000", (*big.Int)(tx.Value).String())

		want := hex.EncodeToString(selPurchaseSlot) + word(2) + word(0)
		assert.Equal(t, want, hex.EncodeToString(tx.Data))
	})

	t.Run("FreeAttachesNoValue", func(t *testing.T) {
		handler := &contractHandler{}
		contract := newTestContract(t, handler)

		_, err := contract.PurchaseSlot(context.Background(), from, 3, PurchaseKindFree, nil)
		require.NoError(t, err)

		tx := handler.lastTx
		assert.Nil(t, tx.Value)

		want := hex.EncodeToString(selPurchaseSlot) + word(3) + word(1)
		assert.Equal(t, want, hex.EncodeToString(tx.Data))
	})
}

func TestRaffleContract_RefundSlot(t *testing.T) {
	from := common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	handler := &contractHandler{}
	contract := newTestContract(t, handler)

	_, err := contract.RefundSlot(context.Background(), from, []uint64{1, 4, 9})
	require.NoError(t, err)

	// dynamic uint256[]: offset, length, then each element
	want := hex.EncodeToString(selRefundSlot) + word(32) + word(3) + word(1) + word(4) + word(9)
	assert.Equal(t, want, hex.EncodeToString(handler.lastTx.Data))
}

func TestLog_EventName(t *testing.T) {
	claimed := &Log{Topics: []common.Hash{TopicSlotsClaimed}}
	assert.Equal(t, EventSlotsClaimed, claimed.EventName())

	refunded := &Log{Topics: []common.Hash{TopicSlotsRefunded}}
	assert.Equal(t, EventSlotsRefunded, refunded.EventName())

	unknown := &Log{Topics: []common.Hash{common.HexToHash("0x01")}}
	assert.Equal(t, "", unknown.EventName())

	anonymous := &Log{Data: hexutil.Bytes{0x01}}
	assert.Equal(t, "", anonymous.EventName())
}
