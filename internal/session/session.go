// Package session resolves the active account and network identity.
package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/merkle-groot/Perpetual-Raffle/internal/chain"
	"github.com/merkle-groot/Perpetual-Raffle/pkg/logger"
)

// Errors
var (
	ErrNoWalletAvailable      = errors.New("no wallet account available")
	ErrUserRejectedConnection = errors.New("user rejected connection")
	ErrNetworkMismatch        = errors.New("connected network does not match target")
)

// NodeClient is the node surface the session needs.
type NodeClient interface {
	Accounts(ctx context.Context) ([]common.Address, error)
	ChainID(ctx context.Context) (uint64, error)
}

// Session holds the resolved account and network identity. Downstream
// components keep functioning on a mismatched network; operations should be
// treated as advisory until the caller reacts to the mismatch.
type Session struct {
	Account       common.Address
	ChainID       uint64
	TargetChainID uint64
}

// Initialize resolves the active account and the connected network. A
// network mismatch is non-fatal: the session is returned and the mismatch is
// reported via CheckNetwork.
func Initialize(ctx context.Context, node NodeClient, targetChainID uint64, log *logger.Logger) (*Session, error) {
	accounts, err := node.Accounts(ctx)
	if err != nil {
		var rpcErr *chain.RPCError
		if errors.As(err, &rpcErr) && rpcErr.Code == chain.CodeUserRejected {
			return nil, fmt.Errorf("%w: %s", ErrUserRejectedConnection, rpcErr.Message)
		}
		return nil, fmt.Errorf("%w: %v", ErrNoWalletAvailable, err)
	}
	if len(accounts) == 0 {
		return nil, ErrNoWalletAvailable
	}

	chainID, err := node.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve chain id: %w", err)
	}

	s := &Session{
		Account:       accounts[0],
		ChainID:       chainID,
		TargetChainID: targetChainID,
	}

	if err := s.CheckNetwork(); err != nil {
		log.WithField("chain_id", chainID).
			WithField("target_chain_id", targetChainID).
			Warn("connected to unexpected network")
	} else {
		log.WithField("account", s.Account.Hex()).
			WithField("chain_id", chainID).
			Info("session initialized")
	}

	return s, nil
}

// CheckNetwork reports ErrNetworkMismatch when the connected network differs
// from the configured target.
func (s *Session) CheckNetwork() error {
	if s.ChainID != s.TargetChainID {
		return fmt.Errorf("%w: connected %d, want %d", ErrNetworkMismatch, s.ChainID, s.TargetChainID)
	}
	return nil
}
