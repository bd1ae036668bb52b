package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the relay
type Config struct {
	Environment string                 `mapstructure:"environment"`
	LogLevel    string                 `mapstructure:"log_level"`
	Server      ServerConfig           `mapstructure:"server"`
	Attestation AttestationConfig      `mapstructure:"attestation"`
	Chains      map[string]ChainConfig `mapstructure:"chains"`
	Relay       RelayConfig            `mapstructure:"relay"`
	Deployments DeploymentsConfig      `mapstructure:"deployments"`
	Database    DatabaseConfig         `mapstructure:"database"`
	Redis       RedisConfig            `mapstructure:"redis"`
	Tracing     TracingConfig          `mapstructure:"tracing"`
	Scheduler   SchedulerConfig        `mapstructure:"scheduler"`
	Artifacts   ArtifactsConfig        `mapstructure:"artifacts"`
}

type ServerConfig struct {
	Port         int    `mapstructure:"port"`
	Host         string `mapstructure:"host"`
	ReadTimeout  int    `mapstructure:"read_timeout"`
	WriteTimeout int    `mapstructure:"write_timeout"`
}

// AttestationConfig controls the Iris client and the polling schedule
type AttestationConfig struct {
	Environment    string        `mapstructure:"environment"` // sandbox or mainnet
	BaseURL        string        `mapstructure:"base_url"`
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// ChainConfig describes one EVM network
type ChainConfig struct {
	Name               string `mapstructure:"name"`
	ChainID            uint64 `mapstructure:"chain_id"`
	RPC                string `mapstructure:"rpc"`
	Domain             uint32 `mapstructure:"domain"`
	USDC               string `mapstructure:"usdc"`
	MessageTransmitter string `mapstructure:"message_transmitter"`
	Explorer           string `mapstructure:"explorer"`
}

// RelayConfig selects the route of the pipeline and the signing key
type RelayConfig struct {
	Mode             string `mapstructure:"mode"`
	SourceChain      string `mapstructure:"source_chain"`
	DestinationChain string `mapstructure:"destination_chain"`
	PrivateKey       string `mapstructure:"private_key"`
}

// DeploymentsConfig locates contract addresses
type DeploymentsConfig struct {
	Root string `mapstructure:"root"`
	// Overrides maps chain id to deployment id to address and wins over Root
	Overrides        map[string]map[string]string `mapstructure:"overrides"`
	PayrollHookID    string                       `mapstructure:"payroll_hook_id"`
	PayrollDirectID  string                       `mapstructure:"payroll_direct_id"`
	HookWrapperID    string                       `mapstructure:"hook_wrapper_id"`
}

type DatabaseConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	URL             string `mapstructure:"url"`
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	Name            string `mapstructure:"name"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	SSLMode         string `mapstructure:"ssl_mode"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string `mapstructure:"migrations_path"`
	AutoMigrate     bool   `mapstructure:"auto_migrate"`
}

type RedisConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	Host       string        `mapstructure:"host"`
	Port       int           `mapstructure:"port"`
	Password   string        `mapstructure:"password"`
	DB         int           `mapstructure:"db"`
	MaxRetries int           `mapstructure:"max_retries"`
	PoolSize   int           `mapstructure:"pool_size"`
	LockTTL    time.Duration `mapstructure:"lock_ttl"`
}

type TracingConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	CollectorURL string  `mapstructure:"collector_url"`
	SampleRate   float64 `mapstructure:"sample_rate"`
	Insecure     bool    `mapstructure:"insecure"`
}

// SchedulerConfig lists plans run on a cron schedule
type SchedulerConfig struct {
	Enabled bool            `mapstructure:"enabled"`
	Jobs    []ScheduledPlan `mapstructure:"jobs"`
}

type ScheduledPlan struct {
	Plan     string `mapstructure:"plan"`
	Schedule string `mapstructure:"schedule"`
}

type ArtifactsConfig struct {
	Dir string `mapstructure:"dir"`
}

// Chain returns the named chain configuration
func (c *Config) Chain(name string) (ChainConfig, error) {
	chain, ok := c.Chains[strings.ToLower(name)]
	if !ok {
		return ChainConfig{}, fmt.Errorf("chain %q is not configured", name)
	}
	if chain.Name == "" {
		chain.Name = strings.ToLower(name)
	}
	return chain, nil
}

// DeploymentOverrides converts the override table to numeric chain ids
func (c *Config) DeploymentOverrides() (map[uint64]map[string]string, error) {
	out := make(map[uint64]map[string]string, len(c.Deployments.Overrides))
	for key, ids := range c.Deployments.Overrides {
		chainID, err := strconv.ParseUint(strings.TrimPrefix(key, "chain-"), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("deployment override key %q is not a chain id", key)
		}
		out[chainID] = ids
	}
	return out, nil
}

// Load reads configuration from .env, config.yaml and the environment
func Load() (*Config, error) {
	// Load .env file if it exists (ignore errors if file doesn't exist)
	godotenv.Load()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath(".")

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	overrideFromEnv()

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if config.Database.Enabled && config.Database.URL == "" {
		config.Database.URL = fmt.Sprintf(
			"postgres://%s:%s@%s:%d/%s?sslmode=%s",
			config.Database.User,
			config.Database.Password,
			config.Database.Host,
			config.Database.Port,
			config.Database.Name,
			config.Database.SSLMode,
		)
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("environment", "development")
	viper.SetDefault("log_level", "info")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.read_timeout", 30)
	viper.SetDefault("server.write_timeout", 30)

	// Attestation defaults: 24 polls, 5s apart, about two minutes
	viper.SetDefault("attestation.environment", "sandbox")
	viper.SetDefault("attestation.base_url", "")
	viper.SetDefault("attestation.poll_interval", "5s")
	viper.SetDefault("attestation.max_attempts", 24)
	viper.SetDefault("attestation.request_timeout", "10s")

	viper.SetDefault("chains", map[string]interface{}{
		"sepolia": map[string]interface{}{
			"name":                "sepolia",
			"chain_id":            11155111,
			"domain":              0,
			"usdc":                "0x1c7D4B196Cb0C7B01d743Fbc6116a902379C7238",
			"message_transmitter": "0xE737e5cEBEEBa77EFE34D4aa090756590b1CE275",
			"explorer":            "https://sepolia.etherscan.io",
		},
		"base-sepolia": map[string]interface{}{
			"name":                "base-sepolia",
			"chain_id":            84532,
			"domain":              6,
			"usdc":                "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
			"message_transmitter": "0xE737e5cEBEEBa77EFE34D4aa090756590b1CE275",
			"explorer":            "https://sepolia.basescan.org",
		},
	})

	viper.SetDefault("relay.mode", "hook")
	viper.SetDefault("relay.source_chain", "sepolia")
	viper.SetDefault("relay.destination_chain", "base-sepolia")

	viper.SetDefault("deployments.root", "ignition/deployments")
	viper.SetDefault("deployments.payroll_hook_id", "MultichainPayrollWithHookSourceModule#MultichainPayrollWithHook")
	viper.SetDefault("deployments.payroll_direct_id", "MultichainPayrollModule#MultichainPayroll")
	viper.SetDefault("deployments.hook_wrapper_id", "CCTPHookWrapperV2Module#CCTPHookWrapperV2")

	viper.SetDefault("database.enabled", false)
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.name", "payroll_relay")
	viper.SetDefault("database.user", "postgres")
	viper.SetDefault("database.ssl_mode", "disable")
	viper.SetDefault("database.max_open_conns", 10)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", 300)
	viper.SetDefault("database.migrations_path", "migrations")
	viper.SetDefault("database.auto_migrate", true)

	viper.SetDefault("redis.enabled", false)
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.max_retries", 3)
	viper.SetDefault("redis.pool_size", 10)
	viper.SetDefault("redis.lock_ttl", "5m")

	viper.SetDefault("tracing.enabled", false)
	viper.SetDefault("tracing.collector_url", "localhost:4317")
	viper.SetDefault("tracing.sample_rate", 1.0)

	viper.SetDefault("scheduler.enabled", false)

	viper.SetDefault("artifacts.dir", "artifacts")
}

func overrideFromEnv() {
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			viper.Set("server.port", p)
		}
	}

	if irisURL := os.Getenv("IRIS_BASE_URL"); irisURL != "" {
		viper.Set("attestation.base_url", irisURL)
	}
	if irisEnv := os.Getenv("IRIS_ENVIRONMENT"); irisEnv != "" {
		viper.Set("attestation.environment", irisEnv)
	}

	// RPC endpoints follow the hardhat naming: SEPOLIA_URL, BASE_SEPOLIA_URL
	for name := range viper.GetStringMap("chains") {
		envName := strings.ToUpper(strings.ReplaceAll(name, "-", "_")) + "_URL"
		if rpc := os.Getenv(envName); rpc != "" {
			viper.Set("chains."+name+".rpc", rpc)
		}
	}
	if rpc := os.Getenv("SOURCE_RPC_URL"); rpc != "" {
		viper.Set("chains."+strings.ToLower(viper.GetString("relay.source_chain"))+".rpc", rpc)
	}
	if rpc := os.Getenv("DESTINATION_RPC_URL"); rpc != "" {
		viper.Set("chains."+strings.ToLower(viper.GetString("relay.destination_chain"))+".rpc", rpc)
	}

	for _, key := range []string{"RELAYER_PRIVATE_KEY", "PRIVATE_KEY"} {
		if pk := os.Getenv(key); pk != "" {
			viper.Set("relay.private_key", pk)
			break
		}
	}

	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		viper.Set("database.url", dbURL)
		viper.Set("database.enabled", true)
	}

	if redisHost := os.Getenv("REDIS_HOST"); redisHost != "" {
		viper.Set("redis.host", redisHost)
		viper.Set("redis.enabled", true)
	}
	if redisPassword := os.Getenv("REDIS_PASSWORD"); redisPassword != "" {
		viper.Set("redis.password", redisPassword)
	}

	if otelEndpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); otelEndpoint != "" {
		viper.Set("tracing.collector_url", otelEndpoint)
		viper.Set("tracing.enabled", true)
	}
}

func validate(config *Config) error {
	switch config.Relay.Mode {
	case "hook", "direct":
	default:
		return fmt.Errorf("relay mode must be hook or direct, got %q", config.Relay.Mode)
	}

	if config.Attestation.MaxAttempts < 1 {
		return fmt.Errorf("attestation max_attempts must be at least 1")
	}
	if config.Attestation.PollInterval < 0 || config.Attestation.RequestTimeout <= 0 {
		return fmt.Errorf("attestation poll_interval and request_timeout must be positive")
	}

	if _, err := config.Chain(config.Relay.SourceChain); err != nil {
		return fmt.Errorf("source chain: %w", err)
	}
	if _, err := config.Chain(config.Relay.DestinationChain); err != nil {
		return fmt.Errorf("destination chain: %w", err)
	}

	if config.Database.Enabled && config.Database.URL == "" {
		return fmt.Errorf("database configuration is incomplete")
	}

	if _, err := config.DeploymentOverrides(); err != nil {
		return err
	}

	return nil
}
