package evm

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/rail-service/payroll_relay/internal/domain/entities"
)

// Token binds an ERC-20 deployment
type Token struct {
	*contract
}

// NewToken binds the token at address. signer may be nil for read-only use.
func NewToken(address common.Address, chain *Chain, signer *Signer, lock SenderLock, logger *zap.Logger) *Token {
	return &Token{contract: newContract(address, ERC20ABI, chain, signer, lock, logger)}
}

// Address returns the token address
func (t *Token) Address() common.Address {
	return t.address
}

// BalanceOf returns holder's balance in base units
func (t *Token) BalanceOf(ctx context.Context, holder common.Address) (*big.Int, error) {
	out, err := t.call(ctx, "balanceOf", holder)
	if err != nil {
		return nil, err
	}
	if len(out) != 1 {
		return nil, fmt.Errorf("balanceOf: unexpected %d return values", len(out))
	}
	return *abi.ConvertType(out[0], new(*big.Int)).(**big.Int), nil
}

// Decimals returns the token's decimals
func (t *Token) Decimals(ctx context.Context) (uint8, error) {
	out, err := t.call(ctx, "decimals")
	if err != nil {
		return 0, err
	}
	if len(out) != 1 {
		return 0, fmt.Errorf("decimals: unexpected %d return values", len(out))
	}
	return *abi.ConvertType(out[0], new(uint8)).(*uint8), nil
}

// Transfer sends amount to recipient and waits for the receipt
func (t *Token) Transfer(ctx context.Context, to common.Address, amount *big.Int) (*entities.TxReceipt, error) {
	return t.transact(ctx, "transfer", to, amount)
}

// BalanceReader reads balances of any token on one chain
type BalanceReader struct {
	chain  *Chain
	logger *zap.Logger
}

// NewBalanceReader creates a read-only balance reader
func NewBalanceReader(chain *Chain, logger *zap.Logger) *BalanceReader {
	return &BalanceReader{chain: chain, logger: logger}
}

// BalanceOf returns holder's balance of token
func (r *BalanceReader) BalanceOf(ctx context.Context, token, holder common.Address) (*big.Int, error) {
	return NewToken(token, r.chain, nil, nil, r.logger).BalanceOf(ctx, holder)
}
