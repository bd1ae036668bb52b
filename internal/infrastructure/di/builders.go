package di

import (
	"context"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/rail-service/payroll_relay/internal/domain/entities"
	apperrors "github.com/rail-service/payroll_relay/internal/domain/errors"
	"github.com/rail-service/payroll_relay/internal/domain/services/relay"
	"github.com/rail-service/payroll_relay/internal/domain/services/routing"
	"github.com/rail-service/payroll_relay/internal/infrastructure/adapters/evm"
	"github.com/rail-service/payroll_relay/internal/infrastructure/config"
	"github.com/rail-service/payroll_relay/pkg/tracing"
)

// Pipeline selects the settlement mode and chain pair of one orchestrator
type Pipeline struct {
	Mode             entities.SettlementMode
	SourceChain      string
	DestinationChain string
}

// DefaultPipeline is the pipeline named in the relay config section
func (c *Container) DefaultPipeline() Pipeline {
	return Pipeline{
		Mode:             entities.SettlementMode(c.Config.Relay.Mode),
		SourceChain:      c.Config.Relay.SourceChain,
		DestinationChain: c.Config.Relay.DestinationChain,
	}
}

// PipelineFor is the pipeline a plan asks for
func PipelineFor(p *entities.PayrollPlan) Pipeline {
	return Pipeline{Mode: p.Mode, SourceChain: p.SourceChain, DestinationChain: p.DestinationChain}
}

// RelayBuilder wires a relay orchestrator for one pipeline
type RelayBuilder struct {
	c            *Container
	pipeline     Pipeline
	deliveryOnly bool
	observers    []relay.Observer
}

// NewRelayBuilder creates a builder for pipeline
func (c *Container) NewRelayBuilder(pipeline Pipeline) *RelayBuilder {
	return &RelayBuilder{c: c, pipeline: pipeline}
}

// DeliveryOnly skips the source-chain collaborators. The orchestrator can
// then only Resume or Deliver.
func (b *RelayBuilder) DeliveryOnly() *RelayBuilder {
	b.deliveryOnly = true
	return b
}

// WithObserver adds an observer after the default ones
func (b *RelayBuilder) WithObserver(o relay.Observer) *RelayBuilder {
	b.observers = append(b.observers, o)
	return b
}

// Build resolves every contract address, then connects to the chains
func (b *RelayBuilder) Build(ctx context.Context) (*relay.Orchestrator, error) {
	c := b.c
	cfg := c.Config
	zapLog := c.ZapLog

	if !b.pipeline.Mode.Valid() {
		return nil, apperrors.ValidationError("mode", "settlement mode must be hook or direct")
	}
	srcCfg, err := cfg.Chain(b.pipeline.SourceChain)
	if err != nil {
		return nil, apperrors.ValidationError("source_chain", err.Error())
	}
	dstCfg, err := cfg.Chain(b.pipeline.DestinationChain)
	if err != nil {
		return nil, apperrors.ValidationError("destination_chain", err.Error())
	}

	// Address resolution happens before any chain call
	relayerAddr, err := b.destinationAddress(ctx, dstCfg)
	if err != nil {
		return nil, err
	}
	var payrollAddr, usdc common.Address
	if !b.deliveryOnly {
		payrollAddr, err = c.Resolver.Resolve(ctx, srcCfg.ChainID, b.payrollDeploymentID())
		if err != nil {
			return nil, err
		}
		if !common.IsHexAddress(srcCfg.USDC) {
			return nil, apperrors.AddressResolutionError(srcCfg.ChainID, "usdc", "malformed address "+srcCfg.USDC)
		}
		usdc = common.HexToAddress(srcCfg.USDC)
	}

	signer, err := c.Signer()
	if err != nil {
		return nil, err
	}
	dstChain, err := c.Chain(ctx, dstCfg.Name)
	if err != nil {
		return nil, err
	}

	relayer, err := evm.NewRelayer(b.pipeline.Mode, relayerAddr, dstChain, signer, c.SenderLock, zapLog)
	if err != nil {
		return nil, err
	}

	deps := relay.Dependencies{
		Attestation: c.AttestationService,
		Relayer:     relayer,
		Balances:    evm.NewBalanceReader(dstChain, zapLog),
		Envelopes:   c.Envelopes,
		Observers: append([]relay.Observer{
			relay.NewLogObserver(zapLog),
			relay.MetricsObserver{},
			relay.TracingObserver{},
			relay.NewJournalObserver(c.RunRepo, zapLog),
		}, b.observers...),
		Tracer: tracing.GetTracer(tracing.TracerName),
		Logger: zapLog,
	}

	if !b.deliveryOnly {
		srcChain, err := c.Chain(ctx, srcCfg.Name)
		if err != nil {
			return nil, err
		}
		payroll := evm.NewPayrollContract(payrollAddr, srcChain, signer, c.SenderLock, zapLog)
		deps.Payroll = payroll
		deps.Token = evm.NewToken(usdc, srcChain, signer, c.SenderLock, zapLog)
		if b.pipeline.Mode == entities.SettlementHook {
			deps.Routes = routing.NewService(payroll, zapLog)
		}
	}

	return relay.NewOrchestrator(relay.Config{
		Mode:          b.pipeline.Mode,
		SourceChainID: srcCfg.ChainID,
		DestChainID:   dstCfg.ChainID,
		SourceDomain:  srcCfg.Domain,
		Funder:        signer.Address(),
		TxURL:         dstChain.TxURL,
	}, deps)
}

func (b *RelayBuilder) payrollDeploymentID() string {
	if b.pipeline.Mode == entities.SettlementDirect {
		return b.c.Config.Deployments.PayrollDirectID
	}
	return b.c.Config.Deployments.PayrollHookID
}

// destinationAddress is the hook wrapper for hook settlement and the
// message transmitter for direct settlement
func (b *RelayBuilder) destinationAddress(ctx context.Context, dst config.ChainConfig) (common.Address, error) {
	if b.pipeline.Mode == entities.SettlementHook {
		return b.c.Resolver.Resolve(ctx, dst.ChainID, b.c.Config.Deployments.HookWrapperID)
	}
	if !common.IsHexAddress(dst.MessageTransmitter) {
		return common.Address{}, apperrors.AddressResolutionError(dst.ChainID, "message_transmitter",
			"malformed address "+dst.MessageTransmitter)
	}
	return common.HexToAddress(dst.MessageTransmitter), nil
}

// RouteRegistry binds the route table of the payroll contract on chainName
func (c *Container) RouteRegistry(ctx context.Context, chainName string, mode entities.SettlementMode) (*routing.Service, error) {
	chainCfg, err := c.Config.Chain(chainName)
	if err != nil {
		return nil, apperrors.ValidationError("chain", err.Error())
	}
	id := c.Config.Deployments.PayrollHookID
	if mode == entities.SettlementDirect {
		id = c.Config.Deployments.PayrollDirectID
	}
	addr, err := c.Resolver.Resolve(ctx, chainCfg.ChainID, id)
	if err != nil {
		return nil, err
	}

	signer, err := c.Signer()
	if err != nil {
		return nil, err
	}
	chain, err := c.Chain(ctx, chainCfg.Name)
	if err != nil {
		return nil, err
	}
	payroll := evm.NewPayrollContract(addr, chain, signer, c.SenderLock, c.ZapLog)
	return routing.NewService(payroll, c.ZapLog), nil
}

func parseHexAddress(s string) common.Address {
	s = strings.TrimSpace(s)
	if !common.IsHexAddress(s) {
		return common.Address{}
	}
	return common.HexToAddress(s)
}
