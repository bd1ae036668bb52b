package di

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/rail-service/payroll_relay/internal/domain/entities"
	"github.com/rail-service/payroll_relay/internal/domain/repositories"
	"github.com/rail-service/payroll_relay/internal/domain/services/attestation"
	"github.com/rail-service/payroll_relay/internal/infrastructure/adapters/cctp"
	"github.com/rail-service/payroll_relay/internal/infrastructure/adapters/evm"
	"github.com/rail-service/payroll_relay/internal/infrastructure/artifacts"
	"github.com/rail-service/payroll_relay/internal/infrastructure/cache"
	"github.com/rail-service/payroll_relay/internal/infrastructure/config"
	"github.com/rail-service/payroll_relay/internal/infrastructure/database"
	"github.com/rail-service/payroll_relay/internal/infrastructure/deployments"
	"github.com/rail-service/payroll_relay/internal/infrastructure/plan"
	infrarepos "github.com/rail-service/payroll_relay/internal/infrastructure/repositories"
	"github.com/rail-service/payroll_relay/pkg/logger"
	"github.com/rail-service/payroll_relay/pkg/metrics"
)

// Container holds the process-wide collaborators. Chains and the signer
// are created on first use so commands that never touch a chain never dial.
type Container struct {
	Config *config.Config
	DB     *sqlx.DB
	Redis  *redis.Client
	Logger *logger.Logger
	ZapLog *zap.Logger

	// Repositories
	RunRepo   repositories.RelayRunRepository
	Envelopes *artifacts.FileStore

	// Services
	AttestationClient  cctp.CCTPClient
	AttestationService *attestation.Service
	Resolver           deployments.Resolver
	SenderLock         evm.SenderLock
	PlanLoader         *plan.Loader

	mu     sync.Mutex
	chains map[string]*evm.Chain
	signer *evm.Signer
}

// NewContainer builds everything that needs no chain connection
func NewContainer(cfg *config.Config, log *logger.Logger) (*Container, error) {
	zapLog := log.Zap()
	c := &Container{
		Config: cfg,
		Logger: log,
		ZapLog: zapLog,
		chains: make(map[string]*evm.Chain),
	}

	if cfg.Database.Enabled {
		db, err := database.NewConnection(cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		if cfg.Database.AutoMigrate {
			if err := database.RunMigrations(db, cfg.Database.MigrationsPath); err != nil {
				db.Close()
				return nil, err
			}
		}
		c.DB = db
		c.RunRepo = infrarepos.NewRelayRunRepository(db)
	} else {
		log.Info("Database disabled, run journal kept in memory")
		c.RunRepo = infrarepos.NewMemoryRelayRunRepository()
	}

	if cfg.Redis.Enabled {
		rdb, err := cache.NewRedisClient(cfg.Redis, zapLog)
		if err != nil {
			c.Close()
			return nil, err
		}
		c.Redis = rdb
		c.SenderLock = cache.NewRedisSenderLock(rdb, cfg.Redis.LockTTL, zapLog)
	} else {
		c.SenderLock = evm.NewLocalSenderLock()
	}

	c.AttestationClient = cctp.NewClient(cctp.Config{
		BaseURL:     cfg.Attestation.BaseURL,
		Environment: cfg.Attestation.Environment,
		Timeout:     cfg.Attestation.RequestTimeout,
	}, zapLog)
	c.AttestationService = attestation.NewService(c.AttestationClient, attestation.Config{
		PollInterval:   cfg.Attestation.PollInterval,
		MaxAttempts:    cfg.Attestation.MaxAttempts,
		RequestTimeout: cfg.Attestation.RequestTimeout,
	}, metrics.AttestationRecorder{}, zapLog)

	c.Envelopes = artifacts.NewFileStore(cfg.Artifacts.Dir, zapLog)

	overrides, err := cfg.DeploymentOverrides()
	if err != nil {
		c.Close()
		return nil, err
	}
	c.Resolver = deployments.ChainResolver{
		deployments.NewStaticResolver(overrides),
		deployments.NewFileResolver(cfg.Deployments.Root),
	}

	chains := make(map[string]plan.ChainInfo, len(cfg.Chains))
	for name, chain := range cfg.Chains {
		info := plan.ChainInfo{Domain: chain.Domain}
		if chain.USDC != "" {
			info.USDC = parseHexAddress(chain.USDC)
		}
		chains[name] = info
	}
	c.PlanLoader = plan.NewLoader(plan.Defaults{
		Mode:             entities.SettlementMode(cfg.Relay.Mode),
		SourceChain:      cfg.Relay.SourceChain,
		DestinationChain: cfg.Relay.DestinationChain,
	}, chains)

	return c, nil
}

// Chain returns the connected chain for a configured name
func (c *Container) Chain(ctx context.Context, name string) (*evm.Chain, error) {
	name = strings.ToLower(name)

	c.mu.Lock()
	defer c.mu.Unlock()

	if chain, ok := c.chains[name]; ok {
		return chain, nil
	}
	chainCfg, err := c.Config.Chain(name)
	if err != nil {
		return nil, err
	}
	chain, err := evm.Dial(ctx, name, chainCfg.RPC, chainCfg.ChainID, chainCfg.Explorer, c.ZapLog)
	if err != nil {
		return nil, err
	}
	c.chains[name] = chain
	return chain, nil
}

// Signer returns the relayer account
func (c *Container) Signer() (*evm.Signer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.signer == nil {
		signer, err := evm.NewSigner(c.Config.Relay.PrivateKey)
		if err != nil {
			return nil, err
		}
		c.signer = signer
	}
	return c.signer, nil
}

// HealthChecks returns the probes reported by the ops API
func (c *Container) HealthChecks() map[string]func(context.Context) error {
	checks := map[string]func(context.Context) error{}
	if c.DB != nil {
		checks["database"] = func(ctx context.Context) error {
			return database.HealthCheck(ctx, c.DB)
		}
	}
	if c.Redis != nil {
		checks["redis"] = func(ctx context.Context) error {
			return c.Redis.Ping(ctx).Err()
		}
	}
	return checks
}

// Close releases connections
func (c *Container) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for name, chain := range c.chains {
		chain.Close()
		delete(c.chains, name)
	}
	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			c.ZapLog.Warn("Redis close error", zap.Error(err))
		}
	}
	if c.DB != nil {
		if err := c.DB.Close(); err != nil {
			c.ZapLog.Warn("Database close error", zap.Error(err))
		}
	}
}
