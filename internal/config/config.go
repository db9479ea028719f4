// Package config loads and validates the shopdesk configuration using Viper.
//
// Configuration is layered: built-in defaults < YAML config file < environment
// variables. Environment variables use the SHOPDESK_ prefix (e.g.,
// SHOPDESK_DATABASE_HOST overrides database.host in the YAML). The same binary
// runs with a config.yaml in local development and with pure environment
// variables in containerized deployments.
//
// The JWT signing secret is not part of this tree: it is read directly from
// SHOPDESK_JWT_SECRET by the auth package so it never appears in a rendered
// config dump.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/shopdesk/shopdesk/internal/audit"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Tenancy   TenancyConfig   `mapstructure:"tenancy"`
	Security  SecurityConfig  `mapstructure:"security"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Audit     AuditConfig     `mapstructure:"audit"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	Host               string        `mapstructure:"host"`
	Port               int           `mapstructure:"port"`
	Name               string        `mapstructure:"name"`
	User               string        `mapstructure:"user"`
	Password           string        `mapstructure:"password"`
	SSLMode            string        `mapstructure:"ssl_mode"`
	MaxConnections     int           `mapstructure:"max_connections"`
	MinIdleConnections int           `mapstructure:"min_idle_connections"`
	ConnMaxLifetime    time.Duration `mapstructure:"conn_max_lifetime"`
	// TxTimeout bounds every grant workflow transaction
	TxTimeout time.Duration `mapstructure:"tx_timeout"`
	// AutoMigrate applies pending migrations when the server starts
	AutoMigrate bool `mapstructure:"auto_migrate"`
}

// RedisConfig holds the optional Redis connection used for distributed rate limiting
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	OIDC OIDCConfig `mapstructure:"oidc"`
}

// OIDCConfig holds external identity provider configuration. When enabled,
// bearer tokens that are not shopdesk session tokens are verified as ID tokens.
type OIDCConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	IssuerURL string `mapstructure:"issuer_url"`
	ClientID  string `mapstructure:"client_id"`
	// RoleClaim names the claim holding owner / cross_tenant_admin / super_operator
	RoleClaim string `mapstructure:"role_claim"`
	// TenantClaim names the claim holding the caller's home tenant id
	TenantClaim string `mapstructure:"tenant_claim"`
}

// TenancyConfig holds tenant isolation settings
type TenancyConfig struct {
	// TenantField is the request body field the isolation guard rewrites
	TenantField string `mapstructure:"tenant_field"`
	// TenantFieldAliases are stripped from bodies along with TenantField
	TenantFieldAliases []string `mapstructure:"tenant_field_aliases"`
	// ActingTenantHeader carries the tenant a cross-tenant admin is acting in
	ActingTenantHeader string `mapstructure:"acting_tenant_header"`
	// GuardAllowlist lists "METHOD /route" (or "/route") entries that skip the guard.
	// Reloaded without restart.
	GuardAllowlist []string `mapstructure:"guard_allowlist"`
	// DirectGrantsEnabled allows owners to grant access without a request
	DirectGrantsEnabled bool `mapstructure:"direct_grants_enabled"`
}

// SecurityConfig holds security-related configuration
type SecurityConfig struct {
	CORS         CORSConfig         `mapstructure:"cors"`
	RateLimiting RateLimitingConfig `mapstructure:"rate_limiting"`
	TLS          TLSConfig          `mapstructure:"tls"`
}

// CORSConfig holds CORS configuration
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods"`
}

// RateLimitingConfig holds rate limiting configuration
type RateLimitingConfig struct {
	Enabled           bool `mapstructure:"enabled"`
	RequestsPerMinute int  `mapstructure:"requests_per_minute"`
	Burst             int  `mapstructure:"burst"`
	// GrantRequestsPerHour caps access requests and direct grants per principal.
	// Enforced through Redis when redis.enabled is set.
	GrantRequestsPerHour int `mapstructure:"grant_requests_per_hour"`
}

// TLSConfig holds TLS/HTTPS configuration
type TLSConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	CertFile string `mapstructure:"cert_file"`
	KeyFile  string `mapstructure:"key_file"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// TelemetryConfig holds observability configuration
type TelemetryConfig struct {
	Metrics MetricsConfig `mapstructure:"metrics"`
	// PendingGrantInterval is how often the pending grant gauges are sampled
	PendingGrantInterval time.Duration `mapstructure:"pending_grant_interval"`
}

// MetricsConfig holds Prometheus metrics configuration
type MetricsConfig struct {
	Enabled        bool `mapstructure:"enabled"`
	PrometheusPort int  `mapstructure:"prometheus_port"`
}

// AuditConfig holds audit trail configuration
type AuditConfig struct {
	// DigestKey keys the per-event BLAKE2b digest (optional, at most 64 bytes)
	DigestKey string `mapstructure:"digest_key"`
	// Shippers configures best-effort forwarding of committed events
	Shippers []audit.ShipperConfig `mapstructure:"shippers"`
	// Archive configures the daily export job
	Archive ArchiveConfig `mapstructure:"archive"`
}

// ArchiveConfig holds the daily audit archive job configuration
type ArchiveConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Interval     time.Duration `mapstructure:"interval"`
	LookbackDays int           `mapstructure:"lookback_days"`
	// Backend is one of local, s3, gcs, azure
	Backend string             `mapstructure:"backend"`
	Local   LocalStorageConfig `mapstructure:"local"`
	S3      S3StorageConfig    `mapstructure:"s3"`
	GCS     GCSStorageConfig   `mapstructure:"gcs"`
	Azure   AzureStorageConfig `mapstructure:"azure"`
	// SigningKey is an ASCII-armored OpenPGP private key. When set, every
	// archive gets a detached .asc signature.
	SigningKey        string `mapstructure:"signing_key"`
	SigningKeyFile    string `mapstructure:"signing_key_file"`
	SigningPassphrase string `mapstructure:"signing_passphrase"`
}

// LocalStorageConfig holds local filesystem storage configuration
type LocalStorageConfig struct {
	BasePath string `mapstructure:"base_path"`
}

// S3StorageConfig holds S3-compatible storage configuration
type S3StorageConfig struct {
	// Endpoint is the S3-compatible endpoint URL (optional, for MinIO etc.)
	Endpoint string `mapstructure:"endpoint"`
	Region   string `mapstructure:"region"`
	Bucket   string `mapstructure:"bucket"`

	// Authentication method: "default", "static", "oidc", "assume_role"
	AuthMethod string `mapstructure:"auth_method"`

	// Static credentials
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`

	// AssumeRole / web identity
	RoleARN              string `mapstructure:"role_arn"`
	RoleSessionName      string `mapstructure:"role_session_name"`
	ExternalID           string `mapstructure:"external_id"`
	WebIdentityTokenFile string `mapstructure:"web_identity_token_file"`
}

// GCSStorageConfig holds Google Cloud Storage configuration
type GCSStorageConfig struct {
	Bucket    string `mapstructure:"bucket"`
	ProjectID string `mapstructure:"project_id"`

	// Authentication method: "default", "service_account"
	AuthMethod      string `mapstructure:"auth_method"`
	CredentialsFile string `mapstructure:"credentials_file"`
	CredentialsJSON string `mapstructure:"credentials_json"`

	// Endpoint is an optional custom endpoint (for GCS emulators)
	Endpoint string `mapstructure:"endpoint"`
}

// AzureStorageConfig holds Azure Blob Storage configuration
type AzureStorageConfig struct {
	AccountName   string `mapstructure:"account_name"`
	AccountKey    string `mapstructure:"account_key"`
	ContainerName string `mapstructure:"container_name"`
	// ServiceURL overrides the account URL (for Azurite)
	ServiceURL string `mapstructure:"service_url"`
}

// bindEnvVars explicitly binds environment variables to config keys.
// This is necessary because AutomaticEnv() doesn't work well with nested structs during Unmarshal.
func bindEnvVars(v *viper.Viper) error {
	keys := []string{
		// Server
		"server.host",
		"server.port",
		"server.read_timeout",
		"server.write_timeout",
		"server.shutdown_timeout",

		// Database
		"database.host",
		"database.port",
		"database.name",
		"database.user",
		"database.password",
		"database.ssl_mode",
		"database.max_connections",
		"database.min_idle_connections",
		"database.conn_max_lifetime",
		"database.tx_timeout",
		"database.auto_migrate",

		// Redis
		"redis.enabled",
		"redis.addr",
		"redis.password",
		"redis.db",

		// Auth
		"auth.oidc.enabled",
		"auth.oidc.issuer_url",
		"auth.oidc.client_id",
		"auth.oidc.role_claim",
		"auth.oidc.tenant_claim",

		// Tenancy
		"tenancy.tenant_field",
		"tenancy.tenant_field_aliases",
		"tenancy.acting_tenant_header",
		"tenancy.guard_allowlist",
		"tenancy.direct_grants_enabled",

		// Security
		"security.cors.allowed_origins",
		"security.cors.allowed_methods",
		"security.rate_limiting.enabled",
		"security.rate_limiting.requests_per_minute",
		"security.rate_limiting.burst",
		"security.rate_limiting.grant_requests_per_hour",
		"security.tls.enabled",
		"security.tls.cert_file",
		"security.tls.key_file",

		// Logging
		"logging.level",
		"logging.format",

		// Telemetry
		"telemetry.metrics.enabled",
		"telemetry.metrics.prometheus_port",
		"telemetry.pending_grant_interval",

		// Audit
		"audit.digest_key",
		"audit.archive.enabled",
		"audit.archive.interval",
		"audit.archive.lookback_days",
		"audit.archive.backend",
		"audit.archive.local.base_path",
		"audit.archive.s3.endpoint",
		"audit.archive.s3.region",
		"audit.archive.s3.bucket",
		"audit.archive.s3.auth_method",
		"audit.archive.s3.access_key_id",
		"audit.archive.s3.secret_access_key",
		"audit.archive.s3.role_arn",
		"audit.archive.s3.role_session_name",
		"audit.archive.s3.external_id",
		"audit.archive.s3.web_identity_token_file",
		"audit.archive.gcs.bucket",
		"audit.archive.gcs.project_id",
		"audit.archive.gcs.auth_method",
		"audit.archive.gcs.credentials_file",
		"audit.archive.gcs.credentials_json",
		"audit.archive.gcs.endpoint",
		"audit.archive.azure.account_name",
		"audit.archive.azure.account_key",
		"audit.archive.azure.container_name",
		"audit.archive.azure.service_url",
		"audit.archive.signing_key",
		"audit.archive.signing_key_file",
		"audit.archive.signing_passphrase",
	}
	for _, key := range keys {
		if err := v.BindEnv(key); err != nil {
			return fmt.Errorf("failed to bind env var %q: %w", key, err)
		}
	}
	return nil
}

// newViper builds a viper instance with defaults, file lookup and env binding.
func newViper(configPath string) (*viper.Viper, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/shopdesk")
	}

	v.SetEnvPrefix("SHOPDESK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := bindEnvVars(v); err != nil {
		return nil, err
	}
	return v, nil
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v, err := newViper(configPath)
	if err != nil {
		return nil, err
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; use defaults and environment variables
	}

	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Expand environment variables in sensitive fields
	cfg.Database.Password = expandEnv(cfg.Database.Password)
	cfg.Redis.Password = expandEnv(cfg.Redis.Password)
	cfg.Audit.DigestKey = expandEnv(cfg.Audit.DigestKey)
	cfg.Audit.Archive.S3.AccessKeyID = expandEnv(cfg.Audit.Archive.S3.AccessKeyID)
	cfg.Audit.Archive.S3.SecretAccessKey = expandEnv(cfg.Audit.Archive.S3.SecretAccessKey)
	cfg.Audit.Archive.Azure.AccountKey = expandEnv(cfg.Audit.Archive.Azure.AccountKey)
	cfg.Audit.Archive.SigningPassphrase = expandEnv(cfg.Audit.Archive.SigningPassphrase)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "15s")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "shopdesk")
	v.SetDefault("database.user", "shopdesk")
	v.SetDefault("database.ssl_mode", "require")
	v.SetDefault("database.max_connections", 25)
	v.SetDefault("database.min_idle_connections", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.tx_timeout", "5s")
	v.SetDefault("database.auto_migrate", true)

	// Redis defaults
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)

	// Auth defaults
	v.SetDefault("auth.oidc.enabled", false)
	v.SetDefault("auth.oidc.role_claim", "shopdesk_role")
	v.SetDefault("auth.oidc.tenant_claim", "home_tenant_id")

	// Tenancy defaults
	v.SetDefault("tenancy.tenant_field", "tenantId")
	v.SetDefault("tenancy.tenant_field_aliases", []string{"tenant_id"})
	v.SetDefault("tenancy.acting_tenant_header", "X-Acting-Tenant-ID")
	v.SetDefault("tenancy.guard_allowlist", []string{})
	v.SetDefault("tenancy.direct_grants_enabled", false)

	// Security defaults
	v.SetDefault("security.cors.allowed_origins", []string{"*"})
	v.SetDefault("security.cors.allowed_methods", []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"})
	v.SetDefault("security.rate_limiting.enabled", true)
	v.SetDefault("security.rate_limiting.requests_per_minute", 120)
	v.SetDefault("security.rate_limiting.burst", 20)
	v.SetDefault("security.rate_limiting.grant_requests_per_hour", 30)
	v.SetDefault("security.tls.enabled", false)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Telemetry defaults
	v.SetDefault("telemetry.metrics.enabled", true)
	v.SetDefault("telemetry.metrics.prometheus_port", 9090)
	v.SetDefault("telemetry.pending_grant_interval", "1m")

	// Audit defaults
	v.SetDefault("audit.archive.enabled", false)
	v.SetDefault("audit.archive.interval", "24h")
	v.SetDefault("audit.archive.lookback_days", 7)
	v.SetDefault("audit.archive.backend", "local")
	v.SetDefault("audit.archive.local.base_path", "./archive")
}

// expandEnv expands environment variables in the format ${VAR_NAME}
func expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	// Validate server
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	// Validate database
	if c.Database.Host == "" {
		return fmt.Errorf("database.host is required")
	}
	if c.Database.Name == "" {
		return fmt.Errorf("database.name is required")
	}
	if c.Database.User == "" {
		return fmt.Errorf("database.user is required")
	}
	if c.Database.TxTimeout <= 0 {
		return fmt.Errorf("database.tx_timeout must be positive")
	}

	// Validate Redis if enabled
	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required when Redis is enabled")
	}

	// Validate OIDC if enabled
	if c.Auth.OIDC.Enabled {
		if c.Auth.OIDC.IssuerURL == "" {
			return fmt.Errorf("auth.oidc.issuer_url is required when OIDC is enabled")
		}
		if c.Auth.OIDC.ClientID == "" {
			return fmt.Errorf("auth.oidc.client_id is required when OIDC is enabled")
		}
	}

	// Validate tenancy
	if strings.TrimSpace(c.Tenancy.TenantField) == "" {
		return fmt.Errorf("tenancy.tenant_field is required")
	}
	if c.Tenancy.ActingTenantHeader == "" {
		return fmt.Errorf("tenancy.acting_tenant_header is required")
	}
	for _, entry := range c.Tenancy.GuardAllowlist {
		if err := validateAllowlistEntry(entry); err != nil {
			return err
		}
	}

	// Validate TLS if enabled
	if c.Security.TLS.Enabled {
		if c.Security.TLS.CertFile == "" {
			return fmt.Errorf("security.tls.cert_file is required when TLS is enabled")
		}
		if c.Security.TLS.KeyFile == "" {
			return fmt.Errorf("security.tls.key_file is required when TLS is enabled")
		}
	}

	// Validate logging
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid logging level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}
	if c.Logging.Format != "json" && c.Logging.Format != "text" {
		return fmt.Errorf("invalid logging format: %s (must be json or text)", c.Logging.Format)
	}

	// Validate audit
	if len(c.Audit.DigestKey) > 64 {
		return fmt.Errorf("audit.digest_key must be at most 64 bytes")
	}
	if c.Audit.Archive.Enabled {
		if err := c.Audit.Archive.validate(); err != nil {
			return err
		}
	}

	return nil
}

func (a *ArchiveConfig) validate() error {
	if a.Interval <= 0 {
		return fmt.Errorf("audit.archive.interval must be positive")
	}
	if a.LookbackDays < 1 {
		return fmt.Errorf("audit.archive.lookback_days must be at least 1")
	}

	switch a.Backend {
	case "local":
		if a.Local.BasePath == "" {
			return fmt.Errorf("audit.archive.local.base_path is required when using local backend")
		}
	case "s3":
		if a.S3.Bucket == "" {
			return fmt.Errorf("audit.archive.s3.bucket is required when using S3 backend")
		}
		if a.S3.Region == "" {
			return fmt.Errorf("audit.archive.s3.region is required when using S3 backend")
		}
	case "gcs":
		if a.GCS.Bucket == "" {
			return fmt.Errorf("audit.archive.gcs.bucket is required when using GCS backend")
		}
	case "azure":
		if a.Azure.AccountName == "" {
			return fmt.Errorf("audit.archive.azure.account_name is required when using Azure backend")
		}
		if a.Azure.AccountKey == "" {
			return fmt.Errorf("audit.archive.azure.account_key is required when using Azure backend")
		}
		if a.Azure.ContainerName == "" {
			return fmt.Errorf("audit.archive.azure.container_name is required when using Azure backend")
		}
	default:
		return fmt.Errorf("invalid archive backend: %s (must be local, s3, gcs, or azure)", a.Backend)
	}

	if a.SigningKey != "" && a.SigningKeyFile != "" {
		return fmt.Errorf("set only one of audit.archive.signing_key and audit.archive.signing_key_file")
	}
	return nil
}

// ArmoredSigningKey returns the configured signing key, reading
// SigningKeyFile if needed. Empty means archives are not signed.
func (a *ArchiveConfig) ArmoredSigningKey() (string, error) {
	if a.SigningKeyFile == "" {
		return a.SigningKey, nil
	}
	data, err := os.ReadFile(a.SigningKeyFile)
	if err != nil {
		return "", fmt.Errorf("failed to read archive signing key: %w", err)
	}
	return string(data), nil
}

// validateAllowlistEntry accepts "/route" or "METHOD /route".
func validateAllowlistEntry(entry string) error {
	fields := strings.Fields(entry)
	switch len(fields) {
	case 1:
		if strings.HasPrefix(fields[0], "/") {
			return nil
		}
	case 2:
		if strings.HasPrefix(fields[1], "/") {
			return nil
		}
	}
	return fmt.Errorf("invalid tenancy.guard_allowlist entry %q (want \"/route\" or \"METHOD /route\")", entry)
}

// GetDSN returns the PostgreSQL connection string
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// GetAddress returns the server address in host:port format
func (c *ServerConfig) GetAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
