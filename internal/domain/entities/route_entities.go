package entities

import (
	"github.com/ethereum/go-ethereum/common"

	apperrors "github.com/rail-service/payroll_relay/internal/domain/errors"
)

// RouteInfo is the per-recipient destination configuration held by a payroll
// contract. A recipient must have one committed on-chain before any hook
// relay names them.
type RouteInfo struct {
	Recipient         common.Address `json:"recipient" toml:"recipient"`
	DestinationDomain uint32         `json:"destinationDomain" toml:"destination_domain"`
	DestinationToken  common.Address `json:"destinationToken" toml:"destination_token"`
	LendingEnabled    bool           `json:"lendingEnabled" toml:"lending_enabled"`
}

// Validate checks the route can be written to the payroll contract
func (r RouteInfo) Validate() error {
	if r.Recipient == (common.Address{}) {
		return apperrors.ValidationError("recipient", "route recipient must not be the zero address")
	}
	if r.DestinationToken == (common.Address{}) {
		return apperrors.ValidationError("destinationToken", "route destination token must not be the zero address")
	}
	return nil
}

// IsSet reports whether the route was ever written; the contract returns a
// zero token for recipients it has never seen.
func (r RouteInfo) IsSet() bool {
	return r.DestinationToken != (common.Address{})
}
