package entities

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	apperrors "github.com/rail-service/payroll_relay/internal/domain/errors"
)

// PaymentRequest is one employee payment in token base units
type PaymentRequest struct {
	Recipient common.Address `json:"recipient"`
	Amount    *big.Int       `json:"amount"`
}

// PaymentBatch is an ordered list of payments submitted in one transaction.
// Order is kept for gas accounting only.
type PaymentBatch []PaymentRequest

// Validate rejects empty batches, zero recipients and non-positive amounts
func (b PaymentBatch) Validate() error {
	if len(b) == 0 {
		return apperrors.ValidationError("payments", "payment batch is empty")
	}
	for i, p := range b {
		if p.Recipient == (common.Address{}) {
			return apperrors.ValidationError("payments", fmt.Sprintf("payment %d has a zero recipient", i))
		}
		if p.Amount == nil || p.Amount.Sign() <= 0 {
			return apperrors.ValidationError("payments", fmt.Sprintf("payment %d to %s must have a positive amount", i, p.Recipient.Hex()))
		}
	}
	return nil
}

// Sum is the spendable balance the payroll contract must hold
func (b PaymentBatch) Sum() *big.Int {
	total := new(big.Int)
	for _, p := range b {
		if p.Amount != nil {
			total.Add(total, p.Amount)
		}
	}
	return total
}

// Recipients returns the distinct recipients in batch order
func (b PaymentBatch) Recipients() []common.Address {
	seen := make(map[common.Address]struct{}, len(b))
	out := make([]common.Address, 0, len(b))
	for _, p := range b {
		if _, ok := seen[p.Recipient]; ok {
			continue
		}
		seen[p.Recipient] = struct{}{}
		out = append(out, p.Recipient)
	}
	return out
}
