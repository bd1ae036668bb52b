package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/pflag"

	"github.com/rail-service/payroll_relay/internal/api/routes"
	"github.com/rail-service/payroll_relay/internal/domain/entities"
	apperrors "github.com/rail-service/payroll_relay/internal/domain/errors"
	"github.com/rail-service/payroll_relay/internal/domain/services/relay"
	"github.com/rail-service/payroll_relay/internal/infrastructure/di"
	"github.com/rail-service/payroll_relay/internal/workers/payroll_scheduler"
	"github.com/rail-service/payroll_relay/pkg/graceful"
)

var errUsage = errors.New("usage")

func newFlagSet(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SortFlags = false
	return fs
}

func parse(fs *pflag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	return nil
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// writeOutcome prints the outcome record, including failed runs, so the
// caller always learns the stage reached and the hash to resume from
func writeOutcome(w io.Writer, outcome *entities.Outcome, err error) error {
	if outcome != nil {
		if werr := writeJSON(w, outcome); werr != nil {
			return werr
		}
	}
	return err
}

func requireHash(fs *pflag.FlagSet, hash string) error {
	if hash == "" {
		fmt.Fprintf(os.Stderr, "--tx is required\n")
		fs.PrintDefaults()
		return errUsage
	}
	return entities.ValidateTxHash(hash)
}

func runPay(ctx context.Context, c *di.Container, args []string, stdout io.Writer) error {
	fs := newFlagSet("pay")
	planPath := fs.String("plan", "", "plan file (.toml or .json)")
	if err := parse(fs, args); err != nil {
		return err
	}
	if *planPath == "" && fs.NArg() > 0 {
		*planPath = fs.Arg(0)
	}
	if *planPath == "" {
		fmt.Fprintln(os.Stderr, "pay needs a plan file")
		return errUsage
	}

	outcome, err := c.RunPlanFile(ctx, *planPath)
	return writeOutcome(stdout, outcome, err)
}

func runAttest(ctx context.Context, c *di.Container, args []string, stdout io.Writer) error {
	fs := newFlagSet("attest")
	txHash := fs.String("tx", "", "source transaction hash")
	domain := fs.Uint32("source-domain", 0, "source CCTP domain (defaults to the source chain's)")
	if err := parse(fs, args); err != nil {
		return err
	}
	if err := requireHash(fs, *txHash); err != nil {
		return err
	}

	sourceDomain := *domain
	if !fs.Changed("source-domain") {
		src, err := c.Config.Chain(c.Config.Relay.SourceChain)
		if err != nil {
			return err
		}
		sourceDomain = src.Domain
	}

	envelopes, err := c.AttestationService.FetchAll(ctx, *txHash, sourceDomain)
	if err != nil {
		return err
	}
	path, err := c.Envelopes.Save(ctx, envelopes)
	if err != nil {
		return err
	}
	c.Logger.Info("Attestation saved", "tx_hash", *txHash, "path", path, "messages", len(envelopes))

	return writeJSON(stdout, struct {
		ArtifactPath string                    `json:"artifact_path"`
		Envelopes    []*entities.RelayEnvelope `json:"envelopes"`
	}{path, envelopes})
}

func runDeliver(ctx context.Context, c *di.Container, args []string, stdout io.Writer) error {
	fs := newFlagSet("deliver")
	artifact := fs.String("artifact", "", "attestation artifact file")
	txHash := fs.String("tx", "", "source transaction hash of a saved artifact")
	if err := parse(fs, args); err != nil {
		return err
	}

	var (
		envelopes []*entities.RelayEnvelope
		err       error
	)
	switch {
	case *artifact != "":
		envelopes, err = c.Envelopes.LoadFile(ctx, *artifact)
	case *txHash != "":
		if err := entities.ValidateTxHash(*txHash); err != nil {
			return err
		}
		envelopes, err = c.Envelopes.Load(ctx, *txHash)
	default:
		fmt.Fprintln(os.Stderr, "deliver needs --artifact or --tx")
		return errUsage
	}
	if err != nil {
		return err
	}

	orch, err := c.NewRelayBuilder(c.DefaultPipeline()).DeliveryOnly().Build(ctx)
	if err != nil {
		return err
	}
	outcome, err := orch.Deliver(ctx, envelopes)
	return writeOutcome(stdout, outcome, err)
}

func runResume(ctx context.Context, c *di.Container, args []string, stdout io.Writer) error {
	fs := newFlagSet("resume")
	txHash := fs.String("tx", "", "source transaction hash")
	planName := fs.String("plan-name", "", "plan name recorded in the run journal")
	if err := parse(fs, args); err != nil {
		return err
	}
	if err := requireHash(fs, *txHash); err != nil {
		return err
	}

	orch, err := c.NewRelayBuilder(c.DefaultPipeline()).DeliveryOnly().Build(ctx)
	if err != nil {
		return err
	}
	outcome, err := orch.Resume(ctx, relay.ResumeRequest{SourceTxHash: *txHash, PlanName: *planName})
	return writeOutcome(stdout, outcome, err)
}

func parseRecipient(fs *pflag.FlagSet, raw string) (common.Address, error) {
	if raw == "" {
		fmt.Fprintln(os.Stderr, "--recipient is required")
		return common.Address{}, errUsage
	}
	if !common.IsHexAddress(raw) {
		return common.Address{}, apperrors.ValidationError("recipient", "recipient must be a hex address")
	}
	return common.HexToAddress(raw), nil
}

func runSetRoute(ctx context.Context, c *di.Container, args []string, stdout io.Writer) error {
	fs := newFlagSet("set-route")
	recipient := fs.String("recipient", "", "employee address")
	domain := fs.Uint32("destination-domain", 0, "destination CCTP domain (defaults to the destination chain's)")
	token := fs.String("destination-token", "", "destination token (defaults to the destination chain's USDC)")
	lending := fs.Bool("lending", false, "forward funds to the lending venue")
	chain := fs.String("chain", "", "chain holding the payroll contract (defaults to the source chain)")
	if err := parse(fs, args); err != nil {
		return err
	}
	addr, err := parseRecipient(fs, *recipient)
	if err != nil {
		return err
	}

	dst, err := c.Config.Chain(c.Config.Relay.DestinationChain)
	if err != nil {
		return err
	}
	route := entities.RouteInfo{
		Recipient:         addr,
		DestinationDomain: dst.Domain,
		LendingEnabled:    *lending,
	}
	if fs.Changed("destination-domain") {
		route.DestinationDomain = *domain
	}
	tokenAddr := dst.USDC
	if *token != "" {
		tokenAddr = *token
	}
	if !common.IsHexAddress(tokenAddr) {
		return apperrors.ValidationError("destinationToken", "destination token must be a hex address")
	}
	route.DestinationToken = common.HexToAddress(tokenAddr)
	if err := route.Validate(); err != nil {
		return err
	}

	registry, err := c.RouteRegistry(ctx, chainOrSource(c, *chain), entities.SettlementHook)
	if err != nil {
		return err
	}
	receipt, err := registry.SetRoute(ctx, route)
	if err != nil {
		return err
	}
	return writeJSON(stdout, struct {
		Route   entities.RouteInfo  `json:"route"`
		Receipt *entities.TxReceipt `json:"receipt"`
	}{route, receipt})
}

func runGetRoute(ctx context.Context, c *di.Container, args []string, stdout io.Writer) error {
	fs := newFlagSet("get-route")
	recipient := fs.String("recipient", "", "employee address")
	chain := fs.String("chain", "", "chain holding the payroll contract (defaults to the source chain)")
	if err := parse(fs, args); err != nil {
		return err
	}
	addr, err := parseRecipient(fs, *recipient)
	if err != nil {
		return err
	}

	registry, err := c.RouteRegistry(ctx, chainOrSource(c, *chain), entities.SettlementHook)
	if err != nil {
		return err
	}
	route, err := registry.GetRoute(ctx, addr)
	if err != nil {
		return err
	}
	return writeJSON(stdout, route)
}

func chainOrSource(c *di.Container, chain string) string {
	if chain != "" {
		return chain
	}
	return c.Config.Relay.SourceChain
}

func runServe(ctx context.Context, c *di.Container, args []string, stdout io.Writer) error {
	fs := newFlagSet("serve")
	if err := parse(fs, args); err != nil {
		return err
	}
	sm := graceful.NewShutdownManager(c.Logger)
	return serve(ctx, c, sm)
}

func runSchedule(ctx context.Context, c *di.Container, args []string, stdout io.Writer) error {
	fs := newFlagSet("schedule")
	if err := parse(fs, args); err != nil {
		return err
	}

	jobs := make([]payroll_scheduler.Job, 0, len(c.Config.Scheduler.Jobs))
	for _, j := range c.Config.Scheduler.Jobs {
		jobs = append(jobs, payroll_scheduler.Job{Plan: j.Plan, Schedule: j.Schedule})
	}
	if len(jobs) == 0 {
		return apperrors.ValidationError("scheduler.jobs", "no scheduled plans configured")
	}

	worker := payroll_scheduler.NewWorker(c, jobs, c.ZapLog)
	if err := worker.Start(); err != nil {
		return err
	}

	sm := graceful.NewShutdownManager(c.Logger)
	sm.Register("payroll-scheduler", worker.Stop)
	return serve(ctx, c, sm)
}

// serve runs the ops API until ctx is cancelled
func serve(ctx context.Context, c *di.Container, sm *graceful.ShutdownManager) error {
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", c.Config.Server.Host, c.Config.Server.Port),
		Handler:      routes.SetupRoutes(c),
		ReadTimeout:  time.Duration(c.Config.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(c.Config.Server.WriteTimeout) * time.Second,
	}
	sm.Register("http-server", server.Shutdown)

	serverErr := make(chan error, 1)
	go func() {
		c.Logger.Info("Ops API listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		sm.Shutdown()
		return fmt.Errorf("ops API: %w", err)
	case <-ctx.Done():
		sm.WaitForShutdown(ctx)
		return nil
	}
}
