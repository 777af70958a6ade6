// Package config loads service configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Outcome selects what a successful authorize request produces.
const (
	OutcomeCode    = "code"
	OutcomeJourney = "journey"
)

// Store backends for nonces, sessions and authorization codes.
const (
	StoreMemory   = "memory"
	StoreRedis    = "redis"
	StorePostgres = "postgres"
	StoreDynamoDB = "dynamodb"
)

// EnvironmentLocal switches the registry to a file source and KMS to an in-process key ring.
const EnvironmentLocal = "local"

// Config is read once at startup and never mutated.
type Config struct {
	Server    Server
	Authorize Authorize
	Keys      Keys
	Store     Store
	Redis     RedisConfig
	Postgres  PostgresConfig
	DynamoDB  DynamoDBConfig
	Registry  RegistryConfig
	Audit     AuditConfig

	Environment string `envconfig:"ENVIRONMENT" default:"local"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	// AWSEndpointURL points every AWS client at an emulator (localstack) when set.
	AWSEndpointURL string `envconfig:"AWS_ENDPOINT_URL" default:""`
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr            string        `envconfig:"ADDR" default:":8080"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`
}

// Authorize holds the values requests are bound against.
type Authorize struct {
	// AuthorizeURL is this service's own authorize endpoint; request objects must carry it as aud.
	AuthorizeURL string `envconfig:"AUTHORIZE_URL" required:"true"`
	// TokenURL is the aud expected in private_key_jwt client assertions.
	TokenURL string `envconfig:"TOKEN_URL" required:"true"`
	// Issuer is the iss of access tokens minted by the token endpoint.
	Issuer string `envconfig:"ISSUER" required:"true"`
	// ErrorPageURL receives every error raised before the client's redirect_uri is trusted.
	ErrorPageURL string `envconfig:"ERROR_PAGE_URL" default:"/error"`
	// Outcome is "code" (redirect straight back to the client) or "journey" (start an internal journey).
	Outcome           string        `envconfig:"OUTCOME" default:"journey"`
	JourneyBaseURL    string        `envconfig:"JOURNEY_BASE_URL" default:""`
	SessionCookieName string        `envconfig:"SESSION_COOKIE_NAME" default:"am_session"`
	NonceTTL          time.Duration `envconfig:"NONCE_TTL" default:"1h"`
	SessionDefaultTTL time.Duration `envconfig:"SESSION_DEFAULT_TTL" default:"1h"`
	SessionMaxTTL     time.Duration `envconfig:"SESSION_MAX_TTL" default:"2h"`
	CodeTTL           time.Duration `envconfig:"CODE_TTL" default:"5m"`
	AccessTokenTTL    time.Duration `envconfig:"ACCESS_TOKEN_TTL" default:"15m"`
}

// Keys names the KMS keys by alias.
type Keys struct {
	JARKeyAlias     string `envconfig:"JAR_KEY_ALIAS" default:"alias/jar-encryption"`
	SigningKeyAlias string `envconfig:"SIGNING_KEY_ALIAS" default:"alias/token-signing"`
}

// Store picks the persistence backend.
type Store struct {
	Backend string `envconfig:"STORE_BACKEND" default:"memory"`
}

// RedisConfig configures the go-redis client.
type RedisConfig struct {
	URL          string        `envconfig:"REDIS_URL" default:""`
	PoolSize     int           `envconfig:"REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"REDIS_READ_TIMEOUT" default:"3s"`
	WriteTimeout time.Duration `envconfig:"REDIS_WRITE_TIMEOUT" default:"3s"`
}

// PostgresConfig configures the database/sql pool.
type PostgresConfig struct {
	URL          string        `envconfig:"DATABASE_URL" default:""`
	MaxOpenConns int           `envconfig:"DATABASE_MAX_OPEN_CONNS" default:"10"`
	MaxIdleConns int           `envconfig:"DATABASE_MAX_IDLE_CONNS" default:"5"`
	ConnMaxLife  time.Duration `envconfig:"DATABASE_CONN_MAX_LIFETIME" default:"30m"`
}

// DynamoDBConfig names the tables used by the DynamoDB store.
type DynamoDBConfig struct {
	NonceTable   string `envconfig:"DYNAMODB_NONCE_TABLE" default:"replay-nonces"`
	SessionTable string `envconfig:"DYNAMODB_SESSION_TABLE" default:"journey-sessions"`
	CodeTable    string `envconfig:"DYNAMODB_CODE_TABLE" default:"authorization-codes"`
}

// RegistryConfig locates the client registry.
type RegistryConfig struct {
	File                 string `envconfig:"CLIENT_REGISTRY_FILE" default:"config/clients.local.yaml"`
	AppConfigApplication string `envconfig:"APPCONFIG_APPLICATION" default:""`
	AppConfigEnvironment string `envconfig:"APPCONFIG_ENVIRONMENT" default:""`
	AppConfigProfile     string `envconfig:"APPCONFIG_PROFILE" default:"client-registry"`
}

// AuditConfig configures where audit events go. Empty brokers means events are logged.
type AuditConfig struct {
	KafkaBrokers  string `envconfig:"KAFKA_BROKERS" default:""`
	KafkaTopic    string `envconfig:"KAFKA_AUDIT_TOPIC" default:"audit.authorize"`
	KafkaClientID string `envconfig:"KAFKA_CLIENT_ID" default:"authorize-service"`
}

// Brokers splits the comma-separated broker list.
func (a AuditConfig) Brokers() []string {
	var out []string
	for _, b := range strings.Split(a.KafkaBrokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

// IsLocal reports whether the service runs against local stand-ins.
func (c *Config) IsLocal() bool {
	return c.Environment == EnvironmentLocal
}

// Load reads configuration from the environment and validates cross-field rules.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// MustLoad is Load for main: it exits the process on error.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

// Validate checks rules envconfig tags cannot express.
func (c *Config) Validate() error {
	var errs []error
	switch c.Authorize.Outcome {
	case OutcomeCode, OutcomeJourney:
	default:
		errs = append(errs, fmt.Errorf("OUTCOME must be %q or %q, got %q", OutcomeCode, OutcomeJourney, c.Authorize.Outcome))
	}
	switch c.Store.Backend {
	case StoreMemory:
	case StoreRedis:
		if c.Redis.URL == "" {
			errs = append(errs, errors.New("REDIS_URL is required for the redis store"))
		}
	case StorePostgres:
		if c.Postgres.URL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the postgres store"))
		}
	case StoreDynamoDB:
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_BACKEND %q", c.Store.Backend))
	}
	if c.Authorize.SessionMaxTTL < c.Authorize.SessionDefaultTTL {
		errs = append(errs, errors.New("SESSION_MAX_TTL must not be shorter than SESSION_DEFAULT_TTL"))
	}
	if !c.IsLocal() && c.Registry.AppConfigApplication == "" {
		errs = append(errs, errors.New("APPCONFIG_APPLICATION is required outside the local environment"))
	}
	return errors.Join(errs...)
}
