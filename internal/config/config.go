// Package config handles loading and validation of client configuration.
// Supports both development (env vars, optional .env) and production (Secret Manager) modes.
package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/joho/godotenv"
	"golang.org/x/mod/semver"

	"storefront/internal/api"
	"storefront/internal/checkout"
	"storefront/internal/model"
	"storefront/internal/payment"
	"storefront/internal/session"
)

// Token store kinds.
const (
	StoreFile   = "file"
	StoreMemory = "memory"
	StoreRedis  = "redis"
)

// DefaultClientVersion is reported in the Storefront-Client header when none is configured.
const DefaultClientVersion = "v1.0.0"

// Config holds all client configuration.
// Environment determines whether secrets load from env vars (development) or Secret Manager (production).
type Config struct {
	Environment string // "development" or "production"
	LogLevel    string // "debug", "info", "warn", "error"

	// GCP settings (required in production)
	GCPProject string
	SecretID   string

	Backend  BackendConfig
	Session  SessionConfig
	Checkout CheckoutConfig
	Server   ServerConfig
}

// BackendConfig points the client at the shop backend.
type BackendConfig struct {
	URL           string        `json:"url"`
	Timeout       time.Duration `json:"-"`
	ChromeTLS     bool          `json:"chrome_tls"`
	ClientVersion string        `json:"client_version"`
}

// SessionConfig selects where the auth token lives.
type SessionConfig struct {
	Store          string `json:"store"` // file, memory or redis
	TokenPath      string `json:"token_path"`
	RedisAddr      string `json:"redis_addr"`
	RedisPassword  string `json:"redis_password"`
	RedisNamespace string `json:"redis_namespace"`
}

// CheckoutConfig holds pricing and payment page settings.
type CheckoutConfig struct {
	FlatDiscount       float64 `json:"flat_discount"`
	ClampNegativeTotal bool    `json:"clamp_negative_total"`
	Currency           string  `json:"currency"`
	MerchantName       string  `json:"merchant_name"`
}

// ServerConfig holds listen addresses for the MCP server and the payment hand-off pages.
type ServerConfig struct {
	Port        string `json:"port"`
	HandoffAddr string `json:"handoff_addr"`
	PublicURL   string `json:"public_url"`
}

// secrets is the JSON document stored in Secret Manager.
type secrets struct {
	BackendURL    string `json:"backend_url,omitempty"`
	RedisPassword string `json:"redis_password,omitempty"`
	MerchantName  string `json:"merchant_name,omitempty"`
}

// Load reads configuration from file, environment, or Secret Manager.
// Priority: CONFIG_FILE (if set) → .env + ENV vars → Secret Manager overrides in production.
// Validates all fields and returns an error if any are missing or malformed.
func Load(ctx context.Context) (*Config, error) {
	if configPath := os.Getenv("CONFIG_FILE"); configPath != "" {
		return loadFromFile(configPath)
	}

	// .env is optional; real environment variables win over it.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	cfg := &Config{
		Environment: envOrDefault("ENVIRONMENT", "development"),
		LogLevel:    envOrDefault("LOG_LEVEL", "info"),
		GCPProject:  os.Getenv("GCP_PROJECT"),
		SecretID:    envOrDefault("SECRET_ID", "storefront"),
	}
	if err := cfg.loadFromEnv(); err != nil {
		return nil, err
	}

	if cfg.Environment == "production" {
		if cfg.GCPProject == "" {
			return nil, fmt.Errorf("GCP_PROJECT required in production environment")
		}
		if err := cfg.loadFromSecretManager(ctx); err != nil {
			return nil, fmt.Errorf("loading secrets: %w", err)
		}
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadFromFile reads all configuration from a JSON file.
func loadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var fileConfig struct {
		Environment string         `json:"environment"`
		LogLevel    string         `json:"log_level"`
		Timeout     string         `json:"timeout"`
		Backend     BackendConfig  `json:"backend"`
		Session     SessionConfig  `json:"session"`
		Checkout    CheckoutConfig `json:"checkout"`
		Server      ServerConfig   `json:"server"`
	}
	// Unset checkout fields keep the storefront defaults.
	fileConfig.Checkout.FlatDiscount = model.DefaultFlatDiscount

	if err := json.Unmarshal(data, &fileConfig); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg := &Config{
		Environment: withDefault(fileConfig.Environment, "development"),
		LogLevel:    withDefault(fileConfig.LogLevel, "info"),
		Backend:     fileConfig.Backend,
		Session:     fileConfig.Session,
		Checkout:    fileConfig.Checkout,
		Server:      fileConfig.Server,
	}
	if fileConfig.Timeout != "" {
		d, err := time.ParseDuration(fileConfig.Timeout)
		if err != nil {
			return nil, fmt.Errorf("invalid timeout %q: %w", fileConfig.Timeout, err)
		}
		cfg.Backend.Timeout = d
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadFromEnv reads settings from individual environment variables.
func (c *Config) loadFromEnv() error {
	c.Backend = BackendConfig{
		URL:           os.Getenv("BACKEND_URL"),
		ClientVersion: os.Getenv("CLIENT_VERSION"),
	}
	c.Session = SessionConfig{
		Store:          os.Getenv("TOKEN_STORE"),
		TokenPath:      os.Getenv("TOKEN_PATH"),
		RedisAddr:      os.Getenv("REDIS_ADDR"),
		RedisPassword:  os.Getenv("REDIS_PASSWORD"),
		RedisNamespace: os.Getenv("REDIS_NAMESPACE"),
	}
	c.Checkout = CheckoutConfig{
		FlatDiscount: model.DefaultFlatDiscount,
		Currency:     os.Getenv("CURRENCY"),
		MerchantName: os.Getenv("MERCHANT_NAME"),
	}
	c.Server = ServerConfig{
		Port:        os.Getenv("PORT"),
		HandoffAddr: os.Getenv("HANDOFF_ADDR"),
		PublicURL:   os.Getenv("PUBLIC_URL"),
	}

	var err error
	if v := os.Getenv("REQUEST_TIMEOUT"); v != "" {
		if c.Backend.Timeout, err = time.ParseDuration(v); err != nil {
			return fmt.Errorf("parsing REQUEST_TIMEOUT: %w", err)
		}
	}
	if v := os.Getenv("CHROME_TLS"); v != "" {
		if c.Backend.ChromeTLS, err = strconv.ParseBool(v); err != nil {
			return fmt.Errorf("parsing CHROME_TLS: %w", err)
		}
	}
	if v := os.Getenv("FLAT_DISCOUNT"); v != "" {
		if c.Checkout.FlatDiscount, err = strconv.ParseFloat(v, 64); err != nil {
			return fmt.Errorf("parsing FLAT_DISCOUNT: %w", err)
		}
	}
	if v := os.Getenv("CLAMP_NEGATIVE_TOTAL"); v != "" {
		if c.Checkout.ClampNegativeTotal, err = strconv.ParseBool(v); err != nil {
			return fmt.Errorf("parsing CLAMP_NEGATIVE_TOTAL: %w", err)
		}
	}
	return nil
}

// loadFromSecretManager overlays secret values onto the env configuration.
// Secret name format: projects/{project}/secrets/{secret_id}/versions/latest
func (c *Config) loadFromSecretManager(ctx context.Context) error {
	client, err := secretmanager.NewClient(ctx)
	if err != nil {
		return fmt.Errorf("creating secret manager client: %w", err)
	}
	defer client.Close()

	secretName := fmt.Sprintf("projects/%s/secrets/%s/versions/latest",
		c.GCPProject, c.SecretID)

	result, err := client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{
		Name: secretName,
	})
	if err != nil {
		return fmt.Errorf("accessing secret %s: %w", secretName, err)
	}

	return c.applySecrets(result.Payload.Data)
}

func (c *Config) applySecrets(data []byte) error {
	var s secrets
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("parsing secret JSON: %w", err)
	}
	if s.BackendURL != "" {
		c.Backend.URL = s.BackendURL
	}
	if s.RedisPassword != "" {
		c.Session.RedisPassword = s.RedisPassword
	}
	if s.MerchantName != "" {
		c.Checkout.MerchantName = s.MerchantName
	}
	return nil
}

func (c *Config) applyDefaults() {
	c.Backend.URL = strings.TrimSuffix(withDefault(c.Backend.URL, api.DefaultBaseURL), "/")
	if c.Backend.Timeout == 0 {
		c.Backend.Timeout = 30 * time.Second
	}
	c.Backend.ClientVersion = withDefault(c.Backend.ClientVersion, DefaultClientVersion)
	if !strings.HasPrefix(c.Backend.ClientVersion, "v") {
		c.Backend.ClientVersion = "v" + c.Backend.ClientVersion
	}

	c.Session.Store = withDefault(c.Session.Store, StoreFile)
	c.Session.TokenPath = withDefault(c.Session.TokenPath, session.DefaultTokenPath())
	c.Session.RedisNamespace = withDefault(c.Session.RedisNamespace, "default")

	c.Checkout.Currency = withDefault(c.Checkout.Currency, payment.DefaultCurrency)
	c.Checkout.MerchantName = withDefault(c.Checkout.MerchantName, payment.DefaultMerchantName)

	c.Server.Port = withDefault(c.Server.Port, "8080")
	c.Server.HandoffAddr = withDefault(c.Server.HandoffAddr, "127.0.0.1:8765")
	c.Server.PublicURL = strings.TrimSuffix(c.Server.PublicURL, "/")
}

// PaymentOrigin returns the origin used in payment page links. Without
// PUBLIC_URL the pages are linked at the listener that serves them.
func (c *Config) PaymentOrigin(listenAddr string) string {
	if c.Server.PublicURL != "" {
		return c.Server.PublicURL
	}
	host, port, err := net.SplitHostPort(listenAddr)
	if err != nil {
		return "http://" + listenAddr
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return "http://" + net.JoinHostPort(host, port)
}

// validate checks that all configuration fields are usable.
func (c *Config) validate() error {
	if c.Environment != "development" && c.Environment != "production" {
		return fmt.Errorf("environment must be development or production, got %q", c.Environment)
	}

	u, err := url.Parse(c.Backend.URL)
	if err != nil {
		return fmt.Errorf("invalid backend url: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("backend url must be an absolute http(s) URL, got %q", c.Backend.URL)
	}
	if c.Backend.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative")
	}

	if !semver.IsValid(c.Backend.ClientVersion) {
		return fmt.Errorf("client_version %q is not a semantic version", c.Backend.ClientVersion)
	}
	c.Backend.ClientVersion = semver.Canonical(c.Backend.ClientVersion)

	switch c.Session.Store {
	case StoreFile, StoreMemory:
	case StoreRedis:
		if c.Session.RedisAddr == "" {
			return fmt.Errorf("redis_addr is required for the redis token store")
		}
	default:
		return fmt.Errorf("token store must be file, memory or redis, got %q", c.Session.Store)
	}

	if c.Checkout.FlatDiscount < 0 {
		return fmt.Errorf("flat_discount must not be negative")
	}
	if len(c.Checkout.Currency) != 3 {
		return fmt.Errorf("currency must be a three-letter code, got %q", c.Checkout.Currency)
	}

	if _, err := strconv.Atoi(c.Server.Port); err != nil {
		return fmt.Errorf("invalid port %q", c.Server.Port)
	}
	if _, err := url.Parse(c.Server.PublicURL); err != nil {
		return fmt.Errorf("invalid public_url: %w", err)
	}
	return nil
}

// TokenStore builds the session store selected by Session.Store.
func (c *Config) TokenStore() session.Store {
	switch c.Session.Store {
	case StoreMemory:
		return session.NewMemoryStore("")
	case StoreRedis:
		client := session.NewRedisClient(c.Session.RedisAddr, c.Session.RedisPassword)
		return session.NewRedisStore(client, c.Session.RedisNamespace)
	default:
		return session.NewFileStore(c.Session.TokenPath)
	}
}

// APIConfig converts the backend settings for api.New.
func (c *Config) APIConfig(store session.Store) api.Config {
	return api.Config{
		BaseURL:       c.Backend.URL,
		Timeout:       c.Backend.Timeout,
		ChromeTLS:     c.Backend.ChromeTLS,
		ClientVersion: c.Backend.ClientVersion,
		Store:         store,
	}
}

// OrchestratorConfig converts pricing settings for checkout.New.
func (c *Config) OrchestratorConfig(productID string) checkout.Config {
	return checkout.Config{
		ProductID:          productID,
		FlatDiscount:       c.Checkout.FlatDiscount,
		ClampNegativeTotal: c.Checkout.ClampNegativeTotal,
	}
}

// withDefault returns val if non-empty, otherwise defaultVal.
func withDefault(val, defaultVal string) string {
	if val != "" {
		return val
	}
	return defaultVal
}

// envOrDefault returns the environment variable value or the default if not set.
func envOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
