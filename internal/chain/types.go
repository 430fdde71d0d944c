package chain

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// RPCRequest is a JSON-RPC 2.0 request.
type RPCRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
	ID      int    `json:"id"`
}

// RPCResponse is a JSON-RPC 2.0 response.
type RPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result"`
	Error   *RPCError       `json:"error,omitempty"`
	ID      int             `json:"id"`
}

// RPCError is a JSON-RPC 2.0 error object.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Error code wallets use when the user rejects a request (EIP-1193).
const CodeUserRejected = 4001

// CallArgs describes an eth_call or eth_sendTransaction payload.
type CallArgs struct {
	From  common.Address  `json:"from"`
	To    *common.Address `json:"to"`
	Value *hexutil.Big    `json:"value,omitempty"`
	Data  hexutil.Bytes   `json:"data,omitempty"`
}

// Receipt is the subset of a transaction receipt the client inspects.
type Receipt struct {
	TxHash      common.Hash  `json:"transactionHash"`
	BlockNumber *hexutil.Big `json:"blockNumber"`
	Status      hexutil.Uint `json:"status"`
	GasUsed     hexutil.Uint `json:"gasUsed"`
}

// Reverted reports whether the transaction was mined but failed.
func (r *Receipt) Reverted() bool {
	return r.Status == 0
}

// Log is a contract event log entry.
type Log struct {
	Address common.Address `json:"address"`
	Topics  []common.Hash  `json:"topics"`
	Data    hexutil.Bytes  `json:"data"`
	Removed bool           `json:"removed"`
}

// EventName returns the raffle event name for the log's first topic, or an
// empty string for unrecognized events.
func (l *Log) EventName() string {
	if len(l.Topics) == 0 {
		return ""
	}
	switch l.Topics[0] {
	case TopicSlotsClaimed:
		return EventSlotsClaimed
	case TopicSlotsRefunded:
		return EventSlotsRefunded
	}
	return ""
}

// word is a 32-byte ABI slot.
const wordSize = 32

func decodeBig(word []byte) *big.Int {
	return new(big.Int).SetBytes(word)
}
