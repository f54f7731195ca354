// Package config loads service configuration from a YAML file with
// environment-variable overrides. Secrets always come from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the service.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Broker    BrokerConfig    `yaml:"broker"`
	Redis     RedisConfig     `yaml:"redis"`
	SES       SESConfig       `yaml:"ses"`
	Models    ModelsConfig    `yaml:"models"`
	Whitelist WhitelistConfig `yaml:"whitelist"`
	Worker    WorkerConfig    `yaml:"worker"`
	Delivery  DeliveryConfig  `yaml:"delivery"`
	Auth      AuthConfig      `yaml:"auth"`
	Plans     PlansConfig     `yaml:"plans"`
	Log       LogConfig       `yaml:"log"`
	IsProd    bool            `yaml:"is_prod"`
}

// LogConfig tunes the structured logger.
type LogConfig struct {
	Level string `yaml:"level"`
	// RedactPII masks email addresses in log fields. Only disable locally.
	RedactPII bool `yaml:"redact_pii"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// APIKey guards the inbound /process-email webhook.
	APIKey string `yaml:"api_key"`
}

// DatabaseConfig holds the Postgres connection settings.
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
}

// DSN renders the lib/pq connection string.
func (d DatabaseConfig) DSN() string {
	sslMode := d.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		d.Host, d.Port, d.Name, d.User, d.Password, sslMode)
}

// BrokerConfig optionally points the durable work queue at a database other
// than the main one. The vhost names the database; heartbeat is accepted for
// compatibility and unused by the SQL-backed queue.
type BrokerConfig struct {
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	User      string `yaml:"user"`
	Password  string `yaml:"password"`
	VHost     string `yaml:"vhost"`
	Heartbeat int    `yaml:"heartbeat"`
}

// Enabled reports whether a separate queue database is configured.
func (b BrokerConfig) Enabled() bool { return b.Host != "" }

// QueueDSN returns the DSN for the queue tables: the broker database when
// configured, the main database otherwise.
func (c *Config) QueueDSN() string {
	if !c.Broker.Enabled() {
		return c.Database.DSN()
	}
	port := c.Broker.Port
	if port == 0 {
		port = 5432
	}
	name := c.Broker.VHost
	if name == "" {
		name = c.Database.Name
	}
	return DatabaseConfig{
		Host:     c.Broker.Host,
		Port:     port,
		Name:     name,
		User:     c.Broker.User,
		Password: c.Broker.Password,
		SSLMode:  c.Database.SSLMode,
	}.DSN()
}

// RedisConfig holds the Redis connection settings used for idempotency
// markers, rate limits and distributed locks.
type RedisConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// Addr renders host:port.
func (r RedisConfig) Addr() string { return fmt.Sprintf("%s:%d", r.Host, r.Port) }

// SESConfig holds the outbound delivery credentials.
type SESConfig struct {
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Region    string `yaml:"region"`
}

// ModelsConfig holds the model-router settings.
type ModelsConfig struct {
	// ConfigPath is the TOML router config. The service refuses to start
	// without it.
	ConfigPath       string `yaml:"config_path"`
	DefaultGroup     string `yaml:"default_group"`
	SuggestionsGroup string `yaml:"suggestions_group"`
}

// WhitelistConfig gates the sender whitelist stage.
type WhitelistConfig struct {
	Enabled bool `yaml:"enabled"`
	// VerifyBaseURL is the frontend base for verification links.
	VerifyBaseURL string `yaml:"verify_base_url"`
}

// WorkerConfig sizes the processing pool.
type WorkerConfig struct {
	Concurrency    int    `yaml:"concurrency"`
	AttachmentsDir string `yaml:"attachments_dir"`
}

// DeliveryConfig controls outbound replies.
type DeliveryConfig struct {
	// Skip suppresses all outbound email (development).
	Skip bool `yaml:"skip"`
	// SkipAddresses suppresses sends to specific recipients.
	SkipAddresses []string `yaml:"skip_addresses"`
	FromName      string   `yaml:"from_name"`
	ServiceDomain string   `yaml:"service_domain"`
}

// AuthConfig holds token verification settings for the account routes.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// PlansConfig maps senders to paid tiers until the payment-provider lookup
// is wired in.
type PlansConfig struct {
	PaymentsAPIKey   string   `yaml:"payments_api_key"`
	ProPlanProductID string   `yaml:"pro_plan_product_id"`
	ProSenders       []string `yaml:"pro_senders"`
}

// Load reads the YAML file at path (optional) and applies environment
// overrides. A missing file is fine; a malformed one is not.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("reading config file: %w", err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	applyEnv(cfg)
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromEnv loads .env (if present) then the config file.
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()
	return Load(path)
}

func defaults() *Config {
	return &Config{
		Server:   ServerConfig{Host: "0.0.0.0", Port: 8080},
		Database: DatabaseConfig{Host: "localhost", Port: 5432, SSLMode: "disable"},
		Redis:    RedisConfig{Host: "localhost", Port: 6379},
		SES:      SESConfig{Region: "us-east-1"},
		Models: ModelsConfig{
			ConfigPath:       "model_config.toml",
			DefaultGroup:     "default",
			SuggestionsGroup: "suggestions",
		},
		Worker: WorkerConfig{Concurrency: 4, AttachmentsDir: "/tmp/mailagent-attachments"},
		Delivery: DeliveryConfig{
			FromName:      "Email Assistant",
			ServiceDomain: "example.com",
		},
		Log: LogConfig{Level: "info", RedactPII: true},
	}
}

func applyEnv(cfg *Config) {
	setString(&cfg.Server.Host, "SERVER_HOST")
	setInt(&cfg.Server.Port, "SERVER_PORT")
	setString(&cfg.Server.APIKey, "X_API_KEY")

	setString(&cfg.Database.Host, "DB_HOST")
	setInt(&cfg.Database.Port, "DB_PORT")
	setString(&cfg.Database.Name, "DB_NAME")
	setString(&cfg.Database.User, "DB_USER")
	setString(&cfg.Database.Password, "DB_PASSWORD")
	setString(&cfg.Database.SSLMode, "DB_SSL_MODE")

	setString(&cfg.Broker.Host, "BROKER_HOST")
	setInt(&cfg.Broker.Port, "BROKER_PORT")
	setString(&cfg.Broker.User, "BROKER_USER")
	setString(&cfg.Broker.Password, "BROKER_PASSWORD")
	setString(&cfg.Broker.VHost, "BROKER_VHOST")
	setInt(&cfg.Broker.Heartbeat, "BROKER_HEARTBEAT")

	setString(&cfg.Redis.Host, "KV_HOST")
	setInt(&cfg.Redis.Port, "KV_PORT")
	setString(&cfg.Redis.Password, "KV_PASSWORD")
	setInt(&cfg.Redis.DB, "KV_DB")

	setString(&cfg.SES.AccessKey, "AWS_SES_ACCESS_KEY")
	setString(&cfg.SES.SecretKey, "AWS_SES_SECRET_KEY")
	setString(&cfg.SES.Region, "AWS_SES_REGION")

	setString(&cfg.Models.ConfigPath, "MODEL_CONFIG_PATH")
	setString(&cfg.Models.DefaultGroup, "DEFAULT_MODEL_GROUP")
	setString(&cfg.Models.SuggestionsGroup, "SUGGESTIONS_MODEL_GROUP")

	setBool(&cfg.Whitelist.Enabled, "WHITELIST_ENABLED")
	// FRONTEND_URL is the generic base; the signup-specific keys override it.
	setString(&cfg.Whitelist.VerifyBaseURL, "FRONTEND_URL")
	setString(&cfg.Whitelist.VerifyBaseURL, "WHITELIST_SIGNUP_URL")
	setString(&cfg.Whitelist.VerifyBaseURL, "WHITELIST_VERIFY_BASE_URL")

	setInt(&cfg.Worker.Concurrency, "WORKER_CONCURRENCY")
	setString(&cfg.Worker.AttachmentsDir, "ATTACHMENTS_DIR")

	// SKIP_EMAIL_DELIVERY is either a boolean (skip everything) or a
	// comma-separated recipient list (skip only those addresses).
	if v := os.Getenv("SKIP_EMAIL_DELIVERY"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Delivery.Skip = b
		} else {
			for _, addr := range strings.Split(v, ",") {
				if addr = strings.TrimSpace(addr); addr != "" {
					cfg.Delivery.SkipAddresses = append(cfg.Delivery.SkipAddresses, addr)
				}
			}
		}
	}
	setString(&cfg.Delivery.FromName, "DELIVERY_FROM_NAME")
	setString(&cfg.Delivery.ServiceDomain, "SERVICE_DOMAIN")

	setString(&cfg.Auth.JWTSecret, "JWT_SECRET")
	setString(&cfg.Plans.PaymentsAPIKey, "PAYMENTS_API_KEY")
	setString(&cfg.Plans.ProPlanProductID, "PRO_PLAN_PRODUCT_ID")

	setString(&cfg.Log.Level, "LOG_LEVEL")
	setBool(&cfg.Log.RedactPII, "LOG_REDACT_PII")

	setBool(&cfg.IsProd, "IS_PROD")
}

func (c *Config) validate() error {
	if c.Models.ConfigPath == "" {
		return fmt.Errorf("model config path is required")
	}
	if c.IsProd && c.Server.APIKey == "" {
		return fmt.Errorf("X_API_KEY is required in production")
	}
	if c.IsProd && c.Auth.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required in production")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}
