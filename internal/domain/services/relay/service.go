package relay

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/rail-service/payroll_relay/internal/domain/entities"
	apperrors "github.com/rail-service/payroll_relay/internal/domain/errors"
	"github.com/rail-service/payroll_relay/internal/domain/repositories"
)

// Config describes the chains one orchestrator serves
type Config struct {
	Mode          entities.SettlementMode
	SourceChainID uint64
	DestChainID   uint64
	SourceDomain  uint32
	// Funder is the signer account that tops up the payroll contract
	Funder common.Address
	// TxURL renders an explorer link for a destination transaction
	TxURL func(hash string) string
}

// Dependencies are the collaborators of an Orchestrator. Balances,
// Envelopes and Tracer are optional.
type Dependencies struct {
	Attestation AttestationFetcher
	Routes      RouteRegistry
	Payroll     PayrollContract
	Token       FundingToken
	Relayer     DestinationRelayer
	Balances    BalanceReader
	Envelopes   repositories.EnvelopeStore
	Observers   []Observer
	Tracer      trace.Tracer
	Logger      *zap.Logger
}

// ResumeRequest restarts a run after its source transaction was submitted.
// With Envelopes set the run starts Attested and never polls.
type ResumeRequest struct {
	SourceTxHash string
	Envelopes    []*entities.RelayEnvelope
	PlanName     string
}

// Orchestrator drives a payroll batch from source submission to
// destination delivery:
//
//	Configuring → Funding → Submitted → Attesting → Attested → Relaying → Delivered
//
// Any stage may end in Failed. Funding, submission and relaying are never
// retried; confirmed transactions are never rolled back.
type Orchestrator struct {
	config Config
	deps   Dependencies
	tracer trace.Tracer
	logger *zap.Logger
}

// NewOrchestrator creates a new relay orchestrator
func NewOrchestrator(config Config, deps Dependencies) (*Orchestrator, error) {
	if !config.Mode.Valid() {
		return nil, apperrors.ValidationError("mode", "settlement mode must be hook or direct")
	}
	if deps.Relayer == nil {
		return nil, apperrors.ValidationError("relayer", "destination relayer is required")
	}
	tracer := deps.Tracer
	if tracer == nil {
		tracer = otel.Tracer("payroll_relay/relay")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{config: config, deps: deps, tracer: tracer, logger: logger}, nil
}

// runState tracks one pipeline invocation. stageTxs and stageGas collect
// the transactions of the current stage until the next transition.
type runState struct {
	run        *entities.RelayRun
	envelopes  []*entities.RelayEnvelope
	artifact   string
	stageStart time.Time
	stageTxs   []string
	stageGas   uint64
}

// record books a mined receipt, successful or reverted, against the run
// and the current stage
func (st *runState) record(receipt *entities.TxReceipt) {
	if receipt == nil {
		return
	}
	st.run.GasUsed += int64(receipt.GasUsed)
	st.stageGas += receipt.GasUsed
	st.stageTxs = append(st.stageTxs, receipt.TxHash.Hex())
}

// Run executes the full pipeline for plan
func (o *Orchestrator) Run(ctx context.Context, plan *entities.PayrollPlan) (*entities.Outcome, error) {
	if err := plan.Validate(); err != nil {
		return nil, err
	}
	if plan.Mode != o.config.Mode {
		return nil, apperrors.ValidationError("mode",
			fmt.Sprintf("plan uses %s settlement but the orchestrator is configured for %s", plan.Mode, o.config.Mode))
	}
	if o.deps.Payroll == nil || o.deps.Token == nil || o.deps.Attestation == nil {
		return nil, apperrors.ValidationError("dependencies", "payroll, token and attestation are required to run a plan")
	}
	if plan.Mode == entities.SettlementHook && o.deps.Routes == nil {
		return nil, apperrors.ValidationError("routes", "hook settlement requires a route registry")
	}

	ctx, span := o.tracer.Start(ctx, "relay.run", trace.WithAttributes(
		attribute.String("plan", plan.Name),
		attribute.String("mode", string(plan.Mode)),
		attribute.Int("payments", len(plan.Payments)),
	))
	defer span.End()

	st := o.newRun(plan.Name, plan.Payments.Sum())
	o.transition(ctx, st, entities.RelayStateConfiguring, transitionInfo{})

	if err := o.configure(ctx, st, plan); err != nil {
		return o.fail(ctx, span, st, err)
	}

	o.transition(ctx, st, entities.RelayStateFunding, transitionInfo{})
	receipt, err := o.fund(ctx, st, plan)
	if err != nil {
		return o.fail(ctx, span, st, err)
	}

	st.run.SourceTxHash = receipt.TxHash.Hex()
	span.SetAttributes(attribute.String("source_tx_hash", st.run.SourceTxHash))
	o.transition(ctx, st, entities.RelayStateSubmitted, transitionInfo{txHash: st.run.SourceTxHash})

	if err := o.attest(ctx, st, plan.SourceDomain); err != nil {
		return o.fail(ctx, span, st, err)
	}

	if err := o.deliver(ctx, st, plan); err != nil {
		return o.fail(ctx, span, st, err)
	}
	return o.outcome(st), nil
}

// Resume continues from a submitted source transaction. It never submits
// source-chain transactions.
func (o *Orchestrator) Resume(ctx context.Context, req ResumeRequest) (*entities.Outcome, error) {
	if err := entities.ValidateTxHash(req.SourceTxHash); err != nil {
		return nil, err
	}

	envelopes := req.Envelopes
	if len(envelopes) == 0 && o.deps.Envelopes != nil {
		stored, err := o.deps.Envelopes.Load(ctx, req.SourceTxHash)
		switch {
		case err == nil:
			envelopes = stored
			o.logger.Info("Resuming from persisted attestation",
				zap.String("tx_hash", req.SourceTxHash),
				zap.Int("messages", len(stored)))
		case apperrors.IsNotFound(err):
		default:
			return nil, err
		}
	}
	for _, env := range envelopes {
		if err := env.Validate(); err != nil {
			return nil, err
		}
		if !strings.EqualFold(env.SourceTransactionHash, req.SourceTxHash) {
			return nil, apperrors.ValidationError("sourceTransactionHash", "envelope belongs to a different source transaction")
		}
	}
	if len(envelopes) == 0 && o.deps.Attestation == nil {
		return nil, apperrors.ValidationError("attestation", "no persisted attestation and no attestation client configured")
	}

	ctx, span := o.tracer.Start(ctx, "relay.resume", trace.WithAttributes(
		attribute.String("source_tx_hash", req.SourceTxHash),
		attribute.Bool("persisted", len(envelopes) > 0),
	))
	defer span.End()

	st := o.newRun(req.PlanName, nil)
	st.run.SourceTxHash = req.SourceTxHash

	if len(envelopes) > 0 {
		st.envelopes = envelopes
		o.transition(ctx, st, entities.RelayStateAttested, transitionInfo{txHash: req.SourceTxHash})
	} else if err := o.attest(ctx, st, o.config.SourceDomain); err != nil {
		return o.fail(ctx, span, st, err)
	}

	if err := o.deliver(ctx, st, nil); err != nil {
		return o.fail(ctx, span, st, err)
	}
	return o.outcome(st), nil
}

// Deliver relays already-attested envelopes: Attested → Delivered
func (o *Orchestrator) Deliver(ctx context.Context, envelopes []*entities.RelayEnvelope) (*entities.Outcome, error) {
	if len(envelopes) == 0 {
		return nil, apperrors.ValidationError("envelopes", "nothing to deliver")
	}
	if err := envelopes[0].Validate(); err != nil {
		return nil, err
	}
	return o.Resume(ctx, ResumeRequest{
		SourceTxHash: envelopes[0].SourceTransactionHash,
		Envelopes:    envelopes,
	})
}

func (o *Orchestrator) newRun(planName string, total *big.Int) *runState {
	now := time.Now().UTC()
	run := &entities.RelayRun{
		ID:            uuid.New(),
		PlanName:      planName,
		Mode:          o.config.Mode,
		SourceChainID: int64(o.config.SourceChainID),
		DestChainID:   int64(o.config.DestChainID),
		SourceDomain:  int64(o.config.SourceDomain),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if total != nil {
		run.TotalAmount = decimal.NewFromBigInt(total, 0)
	}
	return &runState{run: run, stageStart: now}
}

// configure checks the token's decimals, commits the plan's routes and,
// for hook settlement, confirms every recipient is routed before any funds
// move
func (o *Orchestrator) configure(ctx context.Context, st *runState, plan *entities.PayrollPlan) error {
	if plan.Decimals > 0 {
		onChain, err := o.deps.Token.Decimals(ctx)
		if err != nil {
			return fmt.Errorf("read token decimals: %w", err)
		}
		if int32(onChain) != plan.Decimals {
			return apperrors.ValidationError("decimals",
				fmt.Sprintf("plan amounts use %d decimals but the token has %d", plan.Decimals, onChain))
		}
	}
	for _, route := range plan.Routes {
		if o.deps.Routes == nil {
			return apperrors.ValidationError("routes", "plan sets routes but no route registry is configured")
		}
		receipt, err := o.deps.Routes.SetRoute(ctx, route)
		st.record(receipt)
		if err != nil {
			return err
		}
	}
	if plan.Mode == entities.SettlementHook {
		return o.deps.Routes.EnsureRouted(ctx, plan.Payments.Recipients())
	}
	return nil
}

// fund tops up the payroll contract when asked, checks the spendable
// balance, then submits the batch
func (o *Orchestrator) fund(ctx context.Context, st *runState, plan *entities.PayrollPlan) (*entities.TxReceipt, error) {
	payroll := o.deps.Payroll.Address()

	if plan.TopUp != nil && plan.TopUp.Sign() > 0 {
		available, err := o.deps.Token.BalanceOf(ctx, o.config.Funder)
		if err != nil {
			return nil, fmt.Errorf("read funder balance: %w", err)
		}
		if available.Cmp(plan.TopUp) < 0 {
			return nil, apperrors.InsufficientBalanceError(o.config.Funder.Hex(), plan.TopUp.String(), available.String())
		}
		receipt, err := o.deps.Token.Transfer(ctx, payroll, plan.TopUp)
		st.record(receipt)
		if err != nil {
			return nil, err
		}
		o.logger.Info("Payroll contract funded",
			zap.String("run_id", st.run.ID.String()),
			zap.String("amount", plan.TopUp.String()),
			zap.String("tx_hash", receipt.TxHash.Hex()))
	}

	required := plan.Payments.Sum()
	available, err := o.deps.Token.BalanceOf(ctx, payroll)
	if err != nil {
		return nil, fmt.Errorf("read payroll balance: %w", err)
	}
	if available.Cmp(required) < 0 {
		return nil, apperrors.InsufficientBalanceError(payroll.Hex(), required.String(), available.String())
	}

	receipt, err := o.deps.Payroll.BatchPayEmployees(ctx, plan.Payments)
	st.record(receipt)
	if err != nil {
		if receipt != nil {
			st.run.SourceTxHash = receipt.TxHash.Hex()
		}
		return nil, err
	}
	return receipt, nil
}

// attest polls for the attestation and persists it: → Attesting → Attested
func (o *Orchestrator) attest(ctx context.Context, st *runState, sourceDomain uint32) error {
	o.transition(ctx, st, entities.RelayStateAttesting, transitionInfo{txHash: st.run.SourceTxHash})

	envelopes, err := o.deps.Attestation.FetchAll(ctx, st.run.SourceTxHash, sourceDomain)
	if err != nil {
		return err
	}
	st.envelopes = envelopes

	if o.deps.Envelopes != nil {
		path, err := o.deps.Envelopes.Save(ctx, envelopes)
		if err != nil {
			o.logger.Error("Failed to persist attestation",
				zap.String("run_id", st.run.ID.String()),
				zap.String("tx_hash", st.run.SourceTxHash),
				zap.Error(err))
		} else {
			st.artifact = path
		}
	}

	o.transition(ctx, st, entities.RelayStateAttested, transitionInfo{txHash: st.run.SourceTxHash})
	return nil
}

// deliver relays every envelope: Attested → Relaying → Delivered
func (o *Orchestrator) deliver(ctx context.Context, st *runState, plan *entities.PayrollPlan) error {
	for _, env := range st.envelopes {
		if err := env.Validate(); err != nil {
			return err
		}
	}

	var watch *deliveryCheck
	if plan != nil && plan.VerifyDelivery {
		watch = o.snapshotBalances(ctx, plan)
	}

	o.transition(ctx, st, entities.RelayStateRelaying, transitionInfo{})

	for i, env := range st.envelopes {
		receipt, err := o.deps.Relayer.Relay(ctx, env)
		st.record(receipt)
		if receipt != nil {
			st.run.AddDestTxHash(receipt.TxHash.Hex())
		}
		if err != nil {
			if reason, ok := apperrors.RevertReason(err); ok {
				reverted := apperrors.RelayRevertedError(reason)
				if receipt != nil {
					reverted.Details["tx_hash"] = receipt.TxHash.Hex()
				}
				return reverted
			}
			return err
		}
		hash := receipt.TxHash.Hex()

		fields := []zap.Field{
			zap.String("run_id", st.run.ID.String()),
			zap.Int("message_index", i),
			zap.String("dest_tx_hash", hash),
			zap.Uint64("gas_used", receipt.GasUsed),
		}
		if o.config.TxURL != nil {
			if url := o.config.TxURL(hash); url != "" {
				fields = append(fields, zap.String("explorer", url))
			}
		}
		o.logger.Info("Message relayed", fields...)
	}

	if watch != nil {
		o.verifyBalances(ctx, st, watch)
	}

	o.transition(ctx, st, entities.RelayStateDelivered, transitionInfo{})
	return nil
}

func (o *Orchestrator) fail(ctx context.Context, span trace.Span, st *runState, err error) (*entities.Outcome, error) {
	stage := st.run.State
	if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
		err = fmt.Errorf("%w: %w", ctxErr, err)
	}

	st.run.FailureCode = apperrors.GetErrorCode(err)
	st.run.FailureReason = err.Error()
	o.transition(ctx, st, entities.RelayStateFailed, transitionInfo{reason: err.Error()})

	span.RecordError(err)
	span.SetStatus(codes.Error, string(stage))

	return o.outcome(st), &apperrors.StageError{
		Stage:        string(stage),
		SourceTxHash: st.run.SourceTxHash,
		Err:          err,
	}
}

func (o *Orchestrator) outcome(st *runState) *entities.Outcome {
	return &entities.Outcome{
		Run:          st.run,
		State:        st.run.State,
		SourceTxHash: st.run.SourceTxHash,
		DestTxHashes: st.run.DestTxHashList(),
		Envelopes:    st.envelopes,
		ArtifactPath: st.artifact,
		FailureCode:  st.run.FailureCode,
		Reason:       st.run.FailureReason,
	}
}

type transitionInfo struct {
	txHash string
	reason string
}

// transition moves the run to next and notifies observers with the
// transactions and gas of the stage it leaves. Observers see the run even
// when ctx has been cancelled.
func (o *Orchestrator) transition(ctx context.Context, st *runState, next entities.RelayState, info transitionInfo) {
	now := time.Now().UTC()
	event := entities.RelayEvent{
		RunID:        st.run.ID,
		PlanName:     st.run.PlanName,
		From:         st.run.State,
		To:           next,
		SourceTxHash: st.run.SourceTxHash,
		TxHash:       info.txHash,
		TxHashes:     st.stageTxs,
		GasUsed:      st.stageGas,
		Reason:       info.reason,
		Elapsed:      now.Sub(st.stageStart),
		At:           now,
	}
	st.run.State = next
	st.run.UpdatedAt = now
	st.stageStart = now
	st.stageTxs = nil
	st.stageGas = 0

	notifyCtx := context.WithoutCancel(ctx)
	for _, observer := range o.deps.Observers {
		observer.OnTransition(notifyCtx, st.run, event)
	}
}
