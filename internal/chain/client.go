// Package chain provides Ethereum JSON-RPC interaction for the raffle client.
package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"golang.org/x/time/rate"
)

// Client provides Ethereum JSON-RPC client functionality.
type Client struct {
	rpcURL     string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// Config holds client configuration.
type Config struct {
	RPCURL  string
	Timeout time.Duration
	// MaxRequestsPerSecond caps the RPC call rate. 0 means unlimited.
	MaxRequestsPerSecond float64
}

// NewClient creates a new Ethereum JSON-RPC client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.RPCURL == "" {
		return nil, fmt.Errorf("RPC URL required")
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.MaxRequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.MaxRequestsPerSecond), 1)
	}

	return &Client{
		rpcURL: cfg.RPCURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		limiter: limiter,
	}, nil
}

// =============================================================================
// Core RPC Methods
// =============================================================================

// Call makes a JSON-RPC call to the node.
func (c *Client) Call(ctx context.Context, method string, params []any) (json.RawMessage, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req := RPCRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      1,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.rpcURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var rpcResp RPCResponse
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}

	if rpcResp.Error != nil {
		return nil, rpcResp.Error
	}

	return rpcResp.Result, nil
}

// ChainID returns the chain identifier of the connected network.
func (c *Client) ChainID(ctx context.Context) (uint64, error) {
	result, err := c.Call(ctx, "eth_chainId", nil)
	if err != nil {
		return 0, err
	}

	var id hexutil.Uint64
	if err := json.Unmarshal(result, &id); err != nil {
		return 0, err
	}
	return uint64(id), nil
}

// Accounts returns the accounts managed by the connected node or wallet.
func (c *Client) Accounts(ctx context.Context) ([]common.Address, error) {
	result, err := c.Call(ctx, "eth_accounts", nil)
	if err != nil {
		return nil, err
	}

	var accounts []common.Address
	if err := json.Unmarshal(result, &accounts); err != nil {
		return nil, err
	}
	return accounts, nil
}

// BalanceAt returns the balance of the account at the latest block, in wei.
func (c *Client) BalanceAt(ctx context.Context, account common.Address) (*big.Int, error) {
	result, err := c.Call(ctx, "eth_getBalance", []any{account, "latest"})
	if err != nil {
		return nil, err
	}

	var balance hexutil.Big
	if err := json.Unmarshal(result, &balance); err != nil {
		return nil, err
	}
	return (*big.Int)(&balance), nil
}

// CallContract executes a read-only contract call at the latest block.
func (c *Client) CallContract(ctx context.Context, args CallArgs) ([]byte, error) {
	result, err := c.Call(ctx, "eth_call", []any{args, "latest"})
	if err != nil {
		return nil, err
	}

	var data hexutil.Bytes
	if err := json.Unmarshal(result, &data); err != nil {
		return nil, err
	}
	return data, nil
}

// SendTransaction submits a transaction signed by the node-managed account.
func (c *Client) SendTransaction(ctx context.Context, args CallArgs) (common.Hash, error) {
	result, err := c.Call(ctx, "eth_sendTransaction", []any{args})
	if err != nil {
		return common.Hash{}, err
	}

	var hash common.Hash
	if err := json.Unmarshal(result, &hash); err != nil {
		return common.Hash{}, err
	}
	return hash, nil
}

// ErrReceiptNotFound indicates the transaction has not been mined yet.
var ErrReceiptNotFound = errors.New("receipt not found")

// TransactionReceipt returns the receipt for a mined transaction, or
// ErrReceiptNotFound if the transaction is not yet included in a block.
func (c *Client) TransactionReceipt(ctx context.Context, txHash common.Hash) (*Receipt, error) {
	result, err := c.Call(ctx, "eth_getTransactionReceipt", []any{txHash})
	if err != nil {
		return nil, err
	}

	if len(result) == 0 || bytes.Equal(result, []byte("null")) {
		return nil, ErrReceiptNotFound
	}

	var receipt Receipt
	if err := json.Unmarshal(result, &receipt); err != nil {
		return nil, err
	}
	return &receipt, nil
}

// DefaultTxWaitTimeout is the default timeout for waiting for a transaction.
const DefaultTxWaitTimeout = 2 * time.Minute

// DefaultPollInterval is the default interval for polling transaction status.
const DefaultPollInterval = 2 * time.Second

// WaitForReceipt polls for a transaction receipt until it is available or the
// context is done. A missing receipt is transient and retried until the
// context deadline expires.
func (c *Client) WaitForReceipt(ctx context.Context, txHash common.Hash, pollInterval time.Duration) (*Receipt, error) {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			receipt, err := c.TransactionReceipt(ctx, txHash)
			if err != nil {
				if errors.Is(err, ErrReceiptNotFound) {
					continue
				}
				return nil, err
			}
			return receipt, nil
		}
	}
}
