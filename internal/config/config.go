package config

import (
	"encoding/base64"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

const (
	DefaultRedisChannel = "messenger:events"
	DefaultTokenTTL     = 7 * 24 * time.Hour
	DefaultExpirySpec   = "@every 1m"
	DefaultSMSApiURL    = "https://notify.eskiz.uz/api"
	DefaultSMSFrom      = "4546"
)

type Config struct {
	DatabaseDSN    string
	ServerAddr     string
	SigningKey     []byte
	AllowedOrigins []string
	TokenTTL       time.Duration

	// RedisAddr enables cross-instance fanout when set.
	RedisAddr    string
	RedisChannel string

	// SMS gateway credentials. The mock gateway is used when they are empty.
	SMSApiURL   string
	SMSEmail    string
	SMSPassword string
	SMSFrom     string

	ExpirySpec    string
	RunMigrations bool
}

type Option func(*Config)

func WithRedis(addr, channel string) Option {
	return func(c *Config) {
		c.RedisAddr = addr
		if channel != "" {
			c.RedisChannel = channel
		}
	}
}

func WithSMS(apiURL, email, password, from string) Option {
	return func(c *Config) {
		if apiURL != "" {
			c.SMSApiURL = apiURL
		}
		c.SMSEmail = email
		c.SMSPassword = password
		if from != "" {
			c.SMSFrom = from
		}
	}
}

func WithTokenTTL(ttl time.Duration) Option {
	return func(c *Config) {
		c.TokenTTL = ttl
	}
}

func WithExpirySpec(spec string) Option {
	return func(c *Config) {
		c.ExpirySpec = spec
	}
}

func WithMigrations(run bool) Option {
	return func(c *Config) {
		c.RunMigrations = run
	}
}

// SMSEnabled reports whether real gateway credentials are configured.
func (c *Config) SMSEnabled() bool {
	return c.SMSEmail != "" && c.SMSPassword != ""
}

func decodeSigningSecret(base64Secret string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(base64Secret)
	if err != nil {
		return nil, err
	}
	if len(key) == 0 {
		return nil, fmt.Errorf("empty signing key")
	}
	return key, nil
}

func NewConfig(serverAddr, databaseDSN, base64Secret string, allowedOrigins []string, opts ...Option) (*Config, error) {
	if serverAddr == "" {
		return nil, fmt.Errorf("server address cannot be empty")
	}
	if databaseDSN == "" {
		return nil, fmt.Errorf("database DSN cannot be empty")
	}
	if base64Secret == "" {
		return nil, fmt.Errorf("signing secret cannot be empty")
	}

	signingKey, err := decodeSigningSecret(base64Secret)
	if err != nil {
		return nil, fmt.Errorf("decode signing secret: %w", err)
	}

	cfg := &Config{
		DatabaseDSN:    databaseDSN,
		ServerAddr:     serverAddr,
		SigningKey:     signingKey,
		AllowedOrigins: allowedOrigins,
		TokenTTL:       DefaultTokenTTL,
		RedisChannel:   DefaultRedisChannel,
		SMSApiURL:      DefaultSMSApiURL,
		SMSFrom:        DefaultSMSFrom,
		ExpirySpec:     DefaultExpirySpec,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.TokenTTL <= 0 {
		return nil, fmt.Errorf("token TTL must be positive")
	}
	if (cfg.SMSEmail == "") != (cfg.SMSPassword == "") {
		return nil, fmt.Errorf("SMS email and password must be set together")
	}
	if _, err := cron.ParseStandard(cfg.ExpirySpec); err != nil {
		return nil, fmt.Errorf("invalid expiry schedule %q: %w", cfg.ExpirySpec, err)
	}

	return cfg, nil
}
