package evm

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"go.uber.org/zap"

	"github.com/rail-service/payroll_relay/internal/domain/entities"
	apperrors "github.com/rail-service/payroll_relay/internal/domain/errors"
)

// Relayer submits attested messages on the destination chain
type Relayer struct {
	*contract
	method string
}

// NewRelayer binds the destination entry point for mode: the hook wrapper's
// relay(message, attestation) or the message transmitter's receiveMessage.
func NewRelayer(mode entities.SettlementMode, address common.Address, chain *Chain, signer *Signer, lock SenderLock, logger *zap.Logger) (*Relayer, error) {
	switch mode {
	case entities.SettlementHook:
		return &Relayer{
			contract: newContract(address, HookWrapperABI, chain, signer, lock, logger),
			method:   "relay",
		}, nil
	case entities.SettlementDirect:
		return &Relayer{
			contract: newContract(address, MessageTransmitterABI, chain, signer, lock, logger),
			method:   "receiveMessage",
		}, nil
	}
	return nil, apperrors.ValidationError("mode", "settlement mode must be hook or direct")
}

// Address returns the destination contract address
func (r *Relayer) Address() common.Address {
	return r.address
}

// Relay submits one envelope and waits for the receipt
func (r *Relayer) Relay(ctx context.Context, env *entities.RelayEnvelope) (*entities.TxReceipt, error) {
	if err := env.Validate(); err != nil {
		return nil, err
	}
	message, err := hexutil.Decode(env.Message)
	if err != nil {
		return nil, apperrors.ValidationError("message", err.Error())
	}
	attestation, err := hexutil.Decode(env.Attestation)
	if err != nil {
		return nil, apperrors.ValidationError("attestation", err.Error())
	}
	return r.transact(ctx, r.method, message, attestation)
}
