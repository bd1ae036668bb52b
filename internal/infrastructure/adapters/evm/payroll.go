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

// payrollPayment mirrors the (address employee, uint256 amount) tuple
type payrollPayment struct {
	Employee common.Address
	Amount   *big.Int
}

// PayrollContract binds the source-chain payroll deployment
type PayrollContract struct {
	*contract
}

// NewPayrollContract binds the payroll contract at address
func NewPayrollContract(address common.Address, chain *Chain, signer *Signer, lock SenderLock, logger *zap.Logger) *PayrollContract {
	return &PayrollContract{contract: newContract(address, PayrollABI, chain, signer, lock, logger)}
}

// Address returns the deployment address
func (p *PayrollContract) Address() common.Address {
	return p.address
}

// SetRouteInfo commits a route and waits for confirmation
func (p *PayrollContract) SetRouteInfo(ctx context.Context, route entities.RouteInfo) (*entities.TxReceipt, error) {
	return p.transact(ctx, "setRouteInfo",
		route.Recipient, route.DestinationDomain, route.DestinationToken, route.LendingEnabled)
}

// GetRouteInfo reads the stored route. An unset route has a zero token.
func (p *PayrollContract) GetRouteInfo(ctx context.Context, recipient common.Address) (*entities.RouteInfo, error) {
	out, err := p.call(ctx, "getRouteInfo", recipient)
	if err != nil {
		return nil, err
	}
	if len(out) != 3 {
		return nil, fmt.Errorf("getRouteInfo: unexpected %d return values", len(out))
	}
	return &entities.RouteInfo{
		Recipient:         recipient,
		DestinationDomain: *abi.ConvertType(out[0], new(uint32)).(*uint32),
		DestinationToken:  *abi.ConvertType(out[1], new(common.Address)).(*common.Address),
		LendingEnabled:    *abi.ConvertType(out[2], new(bool)).(*bool),
	}, nil
}

// BatchPayEmployees burns the batch through CCTP and waits for the receipt
func (p *PayrollContract) BatchPayEmployees(ctx context.Context, batch entities.PaymentBatch) (*entities.TxReceipt, error) {
	payments := make([]payrollPayment, 0, len(batch))
	for _, req := range batch {
		payments = append(payments, payrollPayment{Employee: req.Recipient, Amount: req.Amount})
	}
	return p.transact(ctx, "batchPayEmployees", payments)
}
