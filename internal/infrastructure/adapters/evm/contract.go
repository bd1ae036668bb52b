package evm

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/rail-service/payroll_relay/internal/domain/entities"
	apperrors "github.com/rail-service/payroll_relay/internal/domain/errors"
)

// contract is a bound deployment plus the signer and lock used to write to it
type contract struct {
	address common.Address
	bound   *bind.BoundContract
	chain   *Chain
	signer  *Signer
	lock    SenderLock
	logger  *zap.Logger
}

func newContract(address common.Address, parsed abi.ABI, chain *Chain, signer *Signer, lock SenderLock, logger *zap.Logger) *contract {
	if lock == nil {
		lock = NewLocalSenderLock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	backend := chain.Backend()
	return &contract{
		address: address,
		bound:   bind.NewBoundContract(address, parsed, backend, backend, backend),
		chain:   chain,
		signer:  signer,
		lock:    lock,
		logger:  logger,
	}
}

func (c *contract) call(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	var out []interface{}
	if err := c.bound.Call(&bind.CallOpts{Context: ctx}, &out, method, args...); err != nil {
		if IsRevert(err) {
			return nil, apperrors.TransactionRevertedError(method, RevertReason(err))
		}
		return nil, fmt.Errorf("call %s on %s: %w", method, c.address.Hex(), err)
	}
	return out, nil
}

// transact sends method and waits for its receipt while holding the sender
// lock. A mined-but-failed receipt is returned alongside the revert error.
func (c *contract) transact(ctx context.Context, method string, args ...interface{}) (*entities.TxReceipt, error) {
	if c.signer == nil {
		return nil, fmt.Errorf("%s on %s: no signer configured", method, c.address.Hex())
	}

	release, err := c.lock.Acquire(ctx, SenderKey(c.chain.ChainID, c.signer.Address()))
	if err != nil {
		return nil, fmt.Errorf("acquire sender lock: %w", err)
	}
	defer release()

	opts, err := c.signer.TransactOpts(ctx, c.chain.ChainID)
	if err != nil {
		return nil, err
	}

	tx, err := c.bound.Transact(opts, method, args...)
	if err != nil {
		if IsRevert(err) {
			return nil, apperrors.TransactionRevertedError(method, RevertReason(err))
		}
		return nil, fmt.Errorf("send %s: %w", method, err)
	}

	c.logger.Info("Transaction sent",
		zap.String("chain", c.chain.Name),
		zap.String("method", method),
		zap.String("tx_hash", tx.Hash().Hex()))

	receipt, err := bind.WaitMined(ctx, c.chain.Backend(), tx)
	if err != nil {
		return nil, fmt.Errorf("wait for %s %s: %w", method, tx.Hash().Hex(), err)
	}

	result := &entities.TxReceipt{
		TxHash:  receipt.TxHash,
		GasUsed: receipt.GasUsed,
		Success: receipt.Status == types.ReceiptStatusSuccessful,
	}
	if receipt.BlockNumber != nil {
		result.BlockNumber = receipt.BlockNumber.Uint64()
	}

	if !result.Success {
		reason := c.replay(ctx, tx, receipt.BlockNumber)
		c.logger.Warn("Transaction reverted",
			zap.String("chain", c.chain.Name),
			zap.String("method", method),
			zap.String("tx_hash", tx.Hash().Hex()),
			zap.String("reason", reason))
		revertErr := apperrors.TransactionRevertedError(method, reason)
		revertErr.Details["tx_hash"] = tx.Hash().Hex()
		return result, revertErr
	}

	c.logger.Info("Transaction confirmed",
		zap.String("chain", c.chain.Name),
		zap.String("method", method),
		zap.String("tx_hash", tx.Hash().Hex()),
		zap.Uint64("gas_used", receipt.GasUsed))
	return result, nil
}

// replay re-executes a failed transaction as a call at its block to recover
// the revert reason
func (c *contract) replay(ctx context.Context, tx *types.Transaction, block *big.Int) string {
	msg := ethereum.CallMsg{
		From:  c.signer.Address(),
		To:    tx.To(),
		Gas:   tx.Gas(),
		Value: tx.Value(),
		Data:  tx.Data(),
	}
	_, err := c.chain.Backend().CallContract(ctx, msg, block)
	if err == nil {
		return "execution reverted"
	}
	return RevertReason(err)
}
