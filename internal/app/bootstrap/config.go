package bootstrap

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/viralforge/chainraise/internal/domain"
)

const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"

	LockLocal = "local"
	LockRedis = "redis"

	AssetsSandbox  = "sandbox"
	AssetsInternal = "internal"
)

// Config is the resolved runtime configuration for the escrow service.
type Config struct {
	ServiceID string

	HTTPPort int
	GRPCPort int

	StorageDriver string
	DatabaseURL   string
	MaxDBConns    int32

	LockDriver string
	RedisURL   string
	LockTTL    time.Duration

	KafkaBrokers []string
	KafkaTopics  map[string]string

	NullAssetPolicy domain.NullAssetPolicy
	AssetsMode      string
	EscrowAccount   string

	AuthJWTSecret        string
	AuthJWTIssuer        string
	AuthAllowPassthrough bool

	OTLPEndpoint string

	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	OutboxMaxRetries   int

	// OutboxInProcess runs the relay inside the API process. Memory storage needs it.
	OutboxInProcess bool
	IdempotencyTTL  time.Duration
}

// configFile mirrors configs/default.yaml.
type configFile struct {
	Service struct {
		ID       string `yaml:"id"`
		HTTPPort int    `yaml:"http_port"`
		GRPCPort int    `yaml:"grpc_port"`
	} `yaml:"service"`
	Storage struct {
		Driver      string `yaml:"driver"`
		PostgresURL string `yaml:"postgres_url"`
		MaxConns    int32  `yaml:"max_conns"`
	} `yaml:"storage"`
	Locks struct {
		Driver     string `yaml:"driver"`
		RedisURL   string `yaml:"redis_url"`
		TTLSeconds int    `yaml:"ttl_seconds"`
	} `yaml:"locks"`
	Kafka struct {
		Brokers []string          `yaml:"brokers"`
		Topics  map[string]string `yaml:"topics"`
	} `yaml:"kafka"`
	Settlement struct {
		NullAssetPolicy string `yaml:"null_asset_policy"`
		AssetsMode      string `yaml:"assets_mode"`
		EscrowAccount   string `yaml:"escrow_account"`
	} `yaml:"settlement"`
	Auth struct {
		JWTIssuer        string `yaml:"jwt_issuer"`
		AllowPassthrough *bool  `yaml:"allow_passthrough"`
	} `yaml:"auth"`
	Outbox struct {
		PollSeconds int   `yaml:"poll_seconds"`
		BatchSize   int   `yaml:"batch_size"`
		MaxRetries  int   `yaml:"max_retries"`
		InProcess   *bool `yaml:"in_process"`
	} `yaml:"outbox"`
}

// LoadConfig resolves configuration in priority order: defaults -> file -> env.
// A missing file is not an error; a malformed one is.
func LoadConfig(path string) (Config, error) {
	cfg := Config{
		ServiceID:       "chainraise-escrow-service",
		HTTPPort:        8080,
		GRPCPort:        9090,
		StorageDriver:   StorageMemory,
		MaxDBConns:      20,
		LockDriver:      LockLocal,
		LockTTL:         30 * time.Second,
		NullAssetPolicy: domain.NullAssetReject,
		AssetsMode:      AssetsSandbox,
		EscrowAccount:   "0x000000000000000000000000000000000000e5c0",
		KafkaTopics: map[string]string{
			domain.EventCampaignCreated: "chainraise.campaign.created.v1",
			domain.EventFundTransfer:    "chainraise.campaign.fund_transfer.v1",
		},
		AuthJWTIssuer:        "chainraise",
		AuthAllowPassthrough: false,
		OutboxPollInterval:   2 * time.Second,
		OutboxBatchSize:      100,
		OutboxMaxRetries:     5,
		OutboxInProcess:      true,
		IdempotencyTTL:       24 * time.Hour,
	}

	raw, err := os.ReadFile(path)
	if err == nil {
		var f configFile
		if unmarshalErr := yaml.Unmarshal(raw, &f); unmarshalErr != nil {
			return Config{}, fmt.Errorf("parse config file: %w", unmarshalErr)
		}
		applyFile(&cfg, f)
	} else if !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	cfg.ServiceID = envOrDefault("SERVICE_ID", cfg.ServiceID)
	cfg.HTTPPort = envInt("HTTP_PORT", cfg.HTTPPort)
	cfg.GRPCPort = envInt("GRPC_PORT", cfg.GRPCPort)
	cfg.StorageDriver = strings.ToLower(strings.TrimSpace(envOrDefault("STORAGE_DRIVER", cfg.StorageDriver)))
	cfg.DatabaseURL = envOrDefault("DB_URL", envOrDefault("POSTGRES_URL", cfg.DatabaseURL))
	cfg.MaxDBConns = int32(envInt("DB_MAX_CONNS", int(cfg.MaxDBConns)))
	cfg.LockDriver = strings.ToLower(strings.TrimSpace(envOrDefault("LOCK_DRIVER", cfg.LockDriver)))
	cfg.RedisURL = envOrDefault("REDIS_URL", cfg.RedisURL)
	cfg.LockTTL = time.Duration(envInt("LOCK_TTL_SECONDS", int(cfg.LockTTL.Seconds()))) * time.Second
	cfg.KafkaBrokers = envCSV("KAFKA_BROKERS", cfg.KafkaBrokers)
	cfg.KafkaTopics[domain.EventCampaignCreated] = envOrDefault("KAFKA_TOPIC_CAMPAIGN_CREATED", cfg.KafkaTopics[domain.EventCampaignCreated])
	cfg.KafkaTopics[domain.EventFundTransfer] = envOrDefault("KAFKA_TOPIC_FUND_TRANSFER", cfg.KafkaTopics[domain.EventFundTransfer])
	cfg.NullAssetPolicy = domain.NullAssetPolicy(strings.ToLower(strings.TrimSpace(envOrDefault("NULL_ASSET_POLICY", string(cfg.NullAssetPolicy)))))
	cfg.AssetsMode = strings.ToLower(strings.TrimSpace(envOrDefault("ASSETS_MODE", cfg.AssetsMode)))
	cfg.EscrowAccount = domain.NormalizePrincipal(envOrDefault("ESCROW_ACCOUNT", cfg.EscrowAccount))
	cfg.AuthJWTSecret = envOrDefault("AUTH_JWT_SECRET", cfg.AuthJWTSecret)
	cfg.AuthJWTIssuer = envOrDefault("AUTH_JWT_ISSUER", cfg.AuthJWTIssuer)
	cfg.AuthAllowPassthrough = envBool("AUTH_ALLOW_PASSTHROUGH", cfg.AuthAllowPassthrough)
	cfg.OTLPEndpoint = envOrDefault("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.OTLPEndpoint)
	cfg.OutboxPollInterval = time.Duration(envInt("OUTBOX_POLL_SECONDS", int(cfg.OutboxPollInterval.Seconds()))) * time.Second
	cfg.OutboxBatchSize = envInt("OUTBOX_BATCH_SIZE", cfg.OutboxBatchSize)
	cfg.OutboxMaxRetries = envInt("OUTBOX_MAX_RETRIES", cfg.OutboxMaxRetries)
	cfg.OutboxInProcess = envBool("OUTBOX_IN_PROCESS", cfg.OutboxInProcess)
	cfg.IdempotencyTTL = time.Duration(envInt("IDEMPOTENCY_TTL_HOURS", int(cfg.IdempotencyTTL.Hours()))) * time.Hour

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyFile(cfg *Config, f configFile) {
	if f.Service.ID != "" {
		cfg.ServiceID = f.Service.ID
	}
	if f.Service.HTTPPort > 0 {
		cfg.HTTPPort = f.Service.HTTPPort
	}
	if f.Service.GRPCPort > 0 {
		cfg.GRPCPort = f.Service.GRPCPort
	}
	cfg.StorageDriver = trimNonEmpty(f.Storage.Driver, cfg.StorageDriver)
	cfg.DatabaseURL = trimNonEmpty(f.Storage.PostgresURL, cfg.DatabaseURL)
	if f.Storage.MaxConns > 0 {
		cfg.MaxDBConns = f.Storage.MaxConns
	}
	cfg.LockDriver = trimNonEmpty(f.Locks.Driver, cfg.LockDriver)
	cfg.RedisURL = trimNonEmpty(f.Locks.RedisURL, cfg.RedisURL)
	if f.Locks.TTLSeconds > 0 {
		cfg.LockTTL = time.Duration(f.Locks.TTLSeconds) * time.Second
	}
	if len(f.Kafka.Brokers) > 0 {
		cfg.KafkaBrokers = f.Kafka.Brokers
	}
	for eventType, topic := range f.Kafka.Topics {
		if strings.TrimSpace(topic) != "" {
			cfg.KafkaTopics[eventType] = strings.TrimSpace(topic)
		}
	}
	if p := trimNonEmpty(f.Settlement.NullAssetPolicy, ""); p != "" {
		cfg.NullAssetPolicy = domain.NullAssetPolicy(p)
	}
	cfg.AssetsMode = trimNonEmpty(f.Settlement.AssetsMode, cfg.AssetsMode)
	cfg.EscrowAccount = trimNonEmpty(f.Settlement.EscrowAccount, cfg.EscrowAccount)
	cfg.AuthJWTIssuer = trimNonEmpty(f.Auth.JWTIssuer, cfg.AuthJWTIssuer)
	if f.Auth.AllowPassthrough != nil {
		cfg.AuthAllowPassthrough = *f.Auth.AllowPassthrough
	}
	if f.Outbox.PollSeconds > 0 {
		cfg.OutboxPollInterval = time.Duration(f.Outbox.PollSeconds) * time.Second
	}
	if f.Outbox.BatchSize > 0 {
		cfg.OutboxBatchSize = f.Outbox.BatchSize
	}
	if f.Outbox.MaxRetries > 0 {
		cfg.OutboxMaxRetries = f.Outbox.MaxRetries
	}
	if f.Outbox.InProcess != nil {
		cfg.OutboxInProcess = *f.Outbox.InProcess
	}
}

func (c Config) validate() error {
	switch c.StorageDriver {
	case StorageMemory:
	case StoragePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("storage driver postgres requires DB_URL/POSTGRES_URL")
		}
	default:
		return fmt.Errorf("unknown storage driver %q", c.StorageDriver)
	}
	if c.StorageDriver == StorageMemory && !c.OutboxInProcess {
		return fmt.Errorf("storage driver memory requires the in-process outbox relay")
	}
	switch c.LockDriver {
	case LockLocal:
	case LockRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("lock driver redis requires REDIS_URL")
		}
		if c.StorageDriver == StorageMemory {
			return fmt.Errorf("lock driver redis requires storage driver postgres")
		}
	default:
		return fmt.Errorf("unknown lock driver %q", c.LockDriver)
	}
	if !c.NullAssetPolicy.Valid() {
		return fmt.Errorf("unknown null asset policy %q", c.NullAssetPolicy)
	}
	if c.AssetsMode != AssetsSandbox && c.AssetsMode != AssetsInternal {
		return fmt.Errorf("unknown assets mode %q", c.AssetsMode)
	}
	if c.EscrowAccount == "" || domain.IsNullAsset(c.EscrowAccount) {
		return fmt.Errorf("escrow account must be a non-null principal")
	}
	if c.AuthJWTSecret == "" && !c.AuthAllowPassthrough {
		return fmt.Errorf("missing AUTH_JWT_SECRET")
	}
	if c.AuthAllowPassthrough && c.AssetsMode != AssetsSandbox {
		return fmt.Errorf("passthrough identity is only allowed with assets mode sandbox")
	}
	if c.HTTPPort <= 0 || c.GRPCPort <= 0 {
		return fmt.Errorf("http and grpc ports must be positive")
	}
	if c.LockTTL <= 0 {
		return fmt.Errorf("lock ttl must be positive")
	}
	return nil
}

func envOrDefault(name, fallback string) string {
	if value := os.Getenv(name); value != "" {
		return value
	}
	return fallback
}

// envInt falls back on empty or invalid values.
func envInt(name string, fallback int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

func envBool(name string, fallback bool) bool {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	switch raw {
	case "1", "true", "TRUE", "yes", "YES":
		return true
	case "0", "false", "FALSE", "no", "NO":
		return false
	default:
		return fallback
	}
}

// envCSV parses comma-separated env vars and removes empty segments.
func envCSV(name string, fallback []string) []string {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	parts := make([]string, 0)
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	if len(parts) == 0 {
		return fallback
	}
	return parts
}

func trimNonEmpty(value, fallback string) string {
	if v := strings.TrimSpace(value); v != "" {
		return v
	}
	return fallback
}
