package relay

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/rail-service/payroll_relay/internal/domain/entities"
)

// deliveryCheck holds destination balances read before relaying
type deliveryCheck struct {
	routes map[common.Address]*entities.RouteInfo
	before map[common.Address]*big.Int
}

// snapshotBalances reads the destination token balance of every recipient
// whose funds land in their own wallet. Lending routes forward funds to the
// lending venue and are skipped. Read failures disable the check for that
// recipient.
func (o *Orchestrator) snapshotBalances(ctx context.Context, plan *entities.PayrollPlan) *deliveryCheck {
	if plan.Mode != entities.SettlementHook || o.deps.Balances == nil || o.deps.Routes == nil {
		return nil
	}
	check := &deliveryCheck{
		routes: make(map[common.Address]*entities.RouteInfo),
		before: make(map[common.Address]*big.Int),
	}
	for _, recipient := range plan.Payments.Recipients() {
		route, err := o.deps.Routes.GetRoute(ctx, recipient)
		if err != nil {
			o.logger.Warn("Skipping delivery check for recipient",
				zap.String("recipient", recipient.Hex()),
				zap.Error(err))
			continue
		}
		if route.LendingEnabled {
			o.logger.Debug("Lending route, delivery check skipped",
				zap.String("recipient", recipient.Hex()))
			continue
		}
		balance, err := o.deps.Balances.BalanceOf(ctx, route.DestinationToken, recipient)
		if err != nil {
			o.logger.Warn("Skipping delivery check for recipient",
				zap.String("recipient", recipient.Hex()),
				zap.Error(err))
			continue
		}
		check.routes[recipient] = route
		check.before[recipient] = balance
	}
	return check
}

// verifyBalances logs recipients whose balance did not increase. The relay
// has already been confirmed, so a mismatch never fails the run.
func (o *Orchestrator) verifyBalances(ctx context.Context, st *runState, check *deliveryCheck) {
	for recipient, before := range check.before {
		route := check.routes[recipient]
		after, err := o.deps.Balances.BalanceOf(ctx, route.DestinationToken, recipient)
		if err != nil {
			o.logger.Warn("Delivery check failed to read balance",
				zap.String("run_id", st.run.ID.String()),
				zap.String("recipient", recipient.Hex()),
				zap.Error(err))
			continue
		}
		if after.Cmp(before) <= 0 {
			o.logger.Warn("Recipient balance did not increase after relay",
				zap.String("run_id", st.run.ID.String()),
				zap.String("recipient", recipient.Hex()),
				zap.String("token", route.DestinationToken.Hex()),
				zap.String("before", before.String()),
				zap.String("after", after.String()))
			continue
		}
		o.logger.Info("Delivery confirmed",
			zap.String("run_id", st.run.ID.String()),
			zap.String("recipient", recipient.Hex()),
			zap.String("received", new(big.Int).Sub(after, before).String()))
	}
}
