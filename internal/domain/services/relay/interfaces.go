package relay

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/rail-service/payroll_relay/internal/domain/entities"
)

// AttestationFetcher obtains attested envelopes for a burn transaction
type AttestationFetcher interface {
	FetchAll(ctx context.Context, sourceTxHash string, sourceDomain uint32) ([]*entities.RelayEnvelope, error)
}

// RouteRegistry manages recipient routes on the source payroll contract
type RouteRegistry interface {
	SetRoute(ctx context.Context, route entities.RouteInfo) (*entities.TxReceipt, error)
	GetRoute(ctx context.Context, recipient common.Address) (*entities.RouteInfo, error)
	EnsureRouted(ctx context.Context, recipients []common.Address) error
}

// PayrollContract submits payment batches on the source chain
type PayrollContract interface {
	Address() common.Address
	BatchPayEmployees(ctx context.Context, batch entities.PaymentBatch) (*entities.TxReceipt, error)
}

// FundingToken is the source-chain token the payroll contract spends
type FundingToken interface {
	BalanceOf(ctx context.Context, holder common.Address) (*big.Int, error)
	Transfer(ctx context.Context, to common.Address, amount *big.Int) (*entities.TxReceipt, error)
	Decimals(ctx context.Context) (uint8, error)
}

// DestinationRelayer submits an attested message on the destination chain
type DestinationRelayer interface {
	Relay(ctx context.Context, env *entities.RelayEnvelope) (*entities.TxReceipt, error)
}

// BalanceReader reads destination-chain token balances
type BalanceReader interface {
	BalanceOf(ctx context.Context, token, holder common.Address) (*big.Int, error)
}

// Observer receives every state transition of a run
type Observer interface {
	OnTransition(ctx context.Context, run *entities.RelayRun, event entities.RelayEvent)
}
