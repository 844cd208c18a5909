// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// HTTPAddr is the address the public HTTP/JSON API listens on (e.g. :8000).
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// GRPCAddr is the address of the ops gRPC server (health checks).
	GRPCAddr string `mapstructure:"GRPC_ADDR"`
	// DatabaseURL is the Postgres DSN. Empty selects the in-memory account store.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// AutoMigrate applies embedded migrations at server startup when a database is configured.
	AutoMigrate bool `mapstructure:"AUTO_MIGRATE"`

	// JWTPrivateKey is the PEM-encoded private key (RSA or ECDSA) or path to file.
	// When both keys are empty and Env is not production, an ephemeral ES256 key is generated.
	JWTPrivateKey string `mapstructure:"JWT_PRIVATE_KEY"`
	// JWTPublicKey is the PEM-encoded public key or path to file; used with JWT_PRIVATE_KEY.
	JWTPublicKey string `mapstructure:"JWT_PUBLIC_KEY"`
	// JWTIssuer is the iss claim (e.g. "referral-auth").
	JWTIssuer string `mapstructure:"JWT_ISSUER"`
	// JWTAudience is the aud claim (e.g. "referral-api").
	JWTAudience string `mapstructure:"JWT_AUDIENCE"`
	// JWTAccessTTL is the access token lifetime (e.g. "24h").
	JWTAccessTTL string `mapstructure:"JWT_ACCESS_TTL"`

	// VerificationCodeTTL is how long an issued verification code stays valid (e.g. "10m").
	VerificationCodeTTL string `mapstructure:"VERIFICATION_CODE_TTL"`
	// DelayMin and DelayMax bound the simulated code dispatch delay (e.g. "1s", "2s").
	DelayMin string `mapstructure:"DISPATCH_DELAY_MIN"`
	DelayMax string `mapstructure:"DISPATCH_DELAY_MAX"`
	// InviteCodeMaxAttempts bounds invite code regeneration on collision.
	InviteCodeMaxAttempts int `mapstructure:"INVITE_CODE_MAX_ATTEMPTS"`
	// OTPReturnToClient when true returns the verification code in the API response and
	// exposes the dev outbox endpoint. Defaults to true outside production; must not be true when Env is production.
	OTPReturnToClient bool `mapstructure:"OTP_RETURN_TO_CLIENT"`
	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`

	// LogLevel is a zap level name (debug, info, warn, error).
	LogLevel string `mapstructure:"LOG_LEVEL"`
	// LogFormat is "json" or "console".
	LogFormat string `mapstructure:"LOG_FORMAT"`
	// LogFile is an optional path for a rotated log file in addition to stdout.
	LogFile string `mapstructure:"LOG_FILE"`

	// RedisAddr enables the Redis token revocation store (e.g. "localhost:6379").
	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"REDIS_DB"`

	// OTLPEndpoint is the OTLP gRPC collector endpoint; empty disables export.
	OTLPEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	// OTLPInsecure forces plaintext gRPC to the collector even for https endpoints.
	OTLPInsecure bool `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`
	// ServiceName is the OTel service.name resource attribute.
	ServiceName string `mapstructure:"OTEL_SERVICE_NAME"`

	// Events (optional). When Kafka brokers are set, account events are published to Kafka.
	// KafkaBrokers is a comma-separated list of Kafka broker addresses (e.g. "localhost:9092").
	KafkaBrokers string `mapstructure:"KAFKA_BROKERS"`
	// EventsKafkaTopic is the Kafka topic for account events.
	EventsKafkaTopic string `mapstructure:"EVENTS_KAFKA_TOPIC"`

	// Worker-only: Loki URL the events worker pushes to (e.g. http://localhost:3100).
	LokiURL string `mapstructure:"LOKI_URL"`
	// KafkaGroupID is the consumer group ID for the events worker.
	KafkaGroupID string `mapstructure:"KAFKA_GROUP_ID"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env. Returns an error if required fields are invalid.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", ":8000")
	v.SetDefault("GRPC_ADDR", ":9090")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("AUTO_MIGRATE", false)
	v.SetDefault("JWT_PRIVATE_KEY", "")
	v.SetDefault("JWT_PUBLIC_KEY", "")
	v.SetDefault("JWT_ISSUER", "referral-auth")
	v.SetDefault("JWT_AUDIENCE", "referral-api")
	v.SetDefault("JWT_ACCESS_TTL", "24h")
	v.SetDefault("VERIFICATION_CODE_TTL", "10m")
	v.SetDefault("DISPATCH_DELAY_MIN", "1s")
	v.SetDefault("DISPATCH_DELAY_MAX", "2s")
	v.SetDefault("INVITE_CODE_MAX_ATTEMPTS", 10)
	v.SetDefault("APP_ENV", "")
	v.SetDefault("OTP_RETURN_TO_CLIENT", !isProduction(v.GetString("APP_ENV")))
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("LOG_FILE", "")
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", false)
	v.SetDefault("OTEL_SERVICE_NAME", "referral-system")
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("EVENTS_KAFKA_TOPIC", "referral-events")
	v.SetDefault("LOKI_URL", "")
	v.SetDefault("KAFKA_GROUP_ID", "referral-events-worker")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.HTTPAddr == "" {
		return nil, errors.New("config: HTTP_ADDR must be set")
	}
	if cfg.OTPReturnToClient && cfg.IsProduction() {
		return nil, errors.New("config: OTP_RETURN_TO_CLIENT must not be true when APP_ENV=production")
	}
	if cfg.IsProduction() && (cfg.JWTPrivateKey == "" || cfg.JWTPublicKey == "") {
		return nil, errors.New("config: JWT_PRIVATE_KEY and JWT_PUBLIC_KEY are required when APP_ENV=production")
	}
	if cfg.InviteCodeMaxAttempts == 0 {
		cfg.InviteCodeMaxAttempts = 10
	}
	if cfg.InviteCodeMaxAttempts < 1 || cfg.InviteCodeMaxAttempts > 100 {
		return nil, errors.New("config: INVITE_CODE_MAX_ATTEMPTS must be between 1 and 100")
	}
	if cfg.DispatchDelayMax() < cfg.DispatchDelayMin() {
		return nil, errors.New("config: DISPATCH_DELAY_MAX must not be less than DISPATCH_DELAY_MIN")
	}
	switch cfg.LogFormat {
	case "json", "console":
	default:
		return nil, errors.New("config: LOG_FORMAT must be json or console")
	}

	return &cfg, nil
}

// IsProduction reports whether APP_ENV is production.
func (c *Config) IsProduction() bool {
	return isProduction(c.Env)
}

func isProduction(env string) bool {
	return strings.EqualFold(strings.TrimSpace(env), "production")
}

// AccessTTL parses JWTAccessTTL as a time.Duration. Returns 24h if unset or invalid.
func (c *Config) AccessTTL() time.Duration {
	return parseDuration(c.JWTAccessTTL, 24*time.Hour)
}

// CodeTTL parses VerificationCodeTTL. Returns 10m if unset or invalid.
func (c *Config) CodeTTL() time.Duration {
	return parseDuration(c.VerificationCodeTTL, 10*time.Minute)
}

// DispatchDelayMin parses DelayMin. Zero is allowed and disables the delay.
func (c *Config) DispatchDelayMin() time.Duration {
	return parseNonNegative(c.DelayMin, time.Second)
}

// DispatchDelayMax parses DelayMax. Zero is allowed and disables the delay.
func (c *Config) DispatchDelayMax() time.Duration {
	return parseNonNegative(c.DelayMax, 2*time.Second)
}

// KafkaBrokersList returns Kafka broker addresses from the comma-separated config.
// Used to decide if event publishing is enabled (non-empty list) and to create the producer.
func (c *Config) KafkaBrokersList() []string {
	if c == nil || c.KafkaBrokers == "" {
		return nil
	}
	parts := strings.Split(c.KafkaBrokers, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func parseNonNegative(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return def
	}
	return d
}

func parseDuration(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
