package evm

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"

	apperrors "github.com/rail-service/payroll_relay/internal/domain/errors"
	"github.com/rail-service/payroll_relay/pkg/security"
)

// Backend is the chain access the bindings need. *ethclient.Client satisfies it.
type Backend interface {
	bind.ContractBackend
	bind.DeployBackend
	ChainID(ctx context.Context) (*big.Int, error)
}

// Chain is a connected EVM network
type Chain struct {
	Name     string
	ChainID  *big.Int
	Explorer string
	backend  Backend
	closer   func()
}

// Dial connects to rpcURL and verifies the remote chain id when expected is non-zero
func Dial(ctx context.Context, name, rpcURL string, expected uint64, explorer string, logger *zap.Logger) (*Chain, error) {
	if rpcURL == "" {
		return nil, apperrors.ValidationError("rpc", fmt.Sprintf("no RPC URL configured for chain %s", name))
	}
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial %s (%s): %w", name, security.MaskURL(rpcURL), err)
	}
	chainID, err := client.ChainID(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("get chain id for %s: %w", name, err)
	}
	if expected != 0 && chainID.Uint64() != expected {
		client.Close()
		return nil, apperrors.ValidationError("chain_id",
			fmt.Sprintf("chain %s reports id %s, configured %d", name, chainID, expected))
	}

	logger.Info("Connected to chain",
		zap.String("chain", name),
		zap.String("rpc", security.MaskURL(rpcURL)),
		zap.String("chain_id", chainID.String()))

	return &Chain{
		Name:     name,
		ChainID:  chainID,
		Explorer: explorer,
		backend:  client,
		closer:   client.Close,
	}, nil
}

// NewChain wraps an existing backend
func NewChain(name string, chainID *big.Int, backend Backend, explorer string) *Chain {
	return &Chain{Name: name, ChainID: chainID, Explorer: explorer, backend: backend}
}

// Backend returns the underlying client
func (c *Chain) Backend() Backend {
	return c.backend
}

// TxURL returns an explorer link for hash, or "" without an explorer
func (c *Chain) TxURL(hash string) string {
	if c.Explorer == "" {
		return ""
	}
	return strings.TrimRight(c.Explorer, "/") + "/tx/" + hash
}

// Close releases the RPC connection
func (c *Chain) Close() {
	if c.closer != nil {
		c.closer()
	}
}

// Signer holds the relayer key supplied by the caller
type Signer struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

// NewSigner parses a hex private key, with or without 0x prefix
func NewSigner(hexKey string) (*Signer, error) {
	hexKey = strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	if hexKey == "" {
		return nil, apperrors.ValidationError("private_key", "relayer private key is not set")
	}
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, apperrors.ValidationError("private_key", "relayer private key is not a valid secp256k1 key")
	}
	return &Signer{key: key, address: crypto.PubkeyToAddress(key.PublicKey)}, nil
}

// Address returns the sending account
func (s *Signer) Address() common.Address {
	return s.address
}

// TransactOpts builds per-call transaction options bound to ctx
func (s *Signer) TransactOpts(ctx context.Context, chainID *big.Int) (*bind.TransactOpts, error) {
	opts, err := bind.NewKeyedTransactorWithChainID(s.key, chainID)
	if err != nil {
		return nil, fmt.Errorf("create transactor: %w", err)
	}
	opts.Context = ctx
	return opts, nil
}
