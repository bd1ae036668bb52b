package routing

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/rail-service/payroll_relay/internal/domain/entities"
	apperrors "github.com/rail-service/payroll_relay/internal/domain/errors"
)

// RouteStore is the on-chain route table of the payroll contract
type RouteStore interface {
	SetRouteInfo(ctx context.Context, route entities.RouteInfo) (*entities.TxReceipt, error)
	GetRouteInfo(ctx context.Context, recipient common.Address) (*entities.RouteInfo, error)
}

// Service manages per-recipient routing. Routes are append/overwrite only.
type Service struct {
	store  RouteStore
	logger *zap.Logger
}

// NewService creates a new routing service
func NewService(store RouteStore, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, logger: logger}
}

// SetRoute commits route and returns once the chain confirms it. Setting
// the same route twice leaves the table unchanged.
func (s *Service) SetRoute(ctx context.Context, route entities.RouteInfo) (*entities.TxReceipt, error) {
	if err := route.Validate(); err != nil {
		return nil, err
	}

	s.logger.Info("Setting route",
		zap.String("recipient", route.Recipient.Hex()),
		zap.Uint32("destination_domain", route.DestinationDomain),
		zap.String("destination_token", route.DestinationToken.Hex()),
		zap.Bool("lending_enabled", route.LendingEnabled))

	receipt, err := s.store.SetRouteInfo(ctx, route)
	if err != nil {
		return receipt, err
	}

	s.logger.Info("Route set",
		zap.String("recipient", route.Recipient.Hex()),
		zap.String("tx_hash", receipt.TxHash.Hex()),
		zap.Uint64("gas_used", receipt.GasUsed))
	return receipt, nil
}

// GetRoute returns the committed route for recipient
func (s *Service) GetRoute(ctx context.Context, recipient common.Address) (*entities.RouteInfo, error) {
	if recipient == (common.Address{}) {
		return nil, apperrors.ValidationError("recipient", "recipient must not be the zero address")
	}
	route, err := s.store.GetRouteInfo(ctx, recipient)
	if err != nil {
		return nil, err
	}
	if route == nil || !route.IsSet() {
		return nil, apperrors.RouteNotFoundError(recipient.Hex())
	}
	return route, nil
}

// EnsureRouted fails with UnroutedRecipientError naming the first recipient
// without a committed route
func (s *Service) EnsureRouted(ctx context.Context, recipients []common.Address) error {
	for _, recipient := range recipients {
		if _, err := s.GetRoute(ctx, recipient); err != nil {
			if apperrors.IsRouteNotFound(err) {
				s.logger.Warn("Recipient has no route",
					zap.String("recipient", recipient.Hex()))
				return apperrors.UnroutedRecipientError(recipient.Hex())
			}
			return err
		}
	}
	return nil
}
