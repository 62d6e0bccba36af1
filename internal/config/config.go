package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"strings"
	"time"

	"call-ledger/internal/expiry"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration required by the API process.
// All values come from env; a local .env file is loaded first when present.
// No business logic should depend on raw environment variables.
type Config struct {
	App     AppConfig
	DB      DBConfig
	Redis   RedisConfig
	Auth    AuthConfig
	AMQP    AMQPConfig
	Billing BillingConfig
	Expiry  ExpiryConfig
}

type AppConfig struct {
	Env  string
	Port int
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// SSLMode is kept explicit for AWS-ready posture.
	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string
}

type RedisConfig struct {
	Host string
	Port int
}

type AuthConfig struct {
	JWTSecret       string
	JWTIssuer       string
	JWTAudience     string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
}

// AMQPConfig is optional. An empty URL disables publishing and the funding consumer.
type AMQPConfig struct {
	URL          string
	Exchange     string
	FundingQueue string
}

type BillingConfig struct {
	MaxAttempts    int
	BackoffInitial time.Duration
	BackoffMax     time.Duration
	// LockWait bounds how long a unit waits for its records; LockTTL is how long
	// a held distributed lock survives a crashed holder.
	LockWait time.Duration
	LockTTL  time.Duration
}

type ExpiryConfig struct {
	Schedule string
}

// DotenvFile is read before the environment when it exists. Real env vars win.
const DotenvFile = ".env"

func Load() (Config, error) {
	if err := godotenv.Load(DotenvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("read %s: %w", DotenvFile, err)
	}
	return FromViper(newViper())
}

func newViper() *viper.Viper {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("AMQP_EXCHANGE", "ledger_events")
	v.SetDefault("AMQP_FUNDING_QUEUE", "ledger.funding")
	v.SetDefault("BILLING_MAX_ATTEMPTS", "4")
	v.SetDefault("BILLING_BACKOFF_INITIAL", "25ms")
	v.SetDefault("BILLING_BACKOFF_MAX", "250ms")
	v.SetDefault("BILLING_LOCK_WAIT", "2s")
	v.SetDefault("BILLING_LOCK_TTL", "15s")
	v.SetDefault("EXPIRY_SWEEP_SCHEDULE", "@every 1m")
	return v
}

// FromViper builds and validates a Config from v. Keys are env var names.
func FromViper(v *viper.Viper) (Config, error) {
	c := Config{}
	p := parser{v: v}

	c.App.Env = p.str("APP_ENV")
	c.App.Port = p.requiredInt("APP_PORT")

	c.DB.Host = p.str("DB_HOST")
	c.DB.Port = p.requiredInt("DB_PORT")
	c.DB.User = p.str("DB_USER")
	c.DB.Password = v.GetString("DB_PASSWORD")
	c.DB.Name = p.str("DB_NAME")
	c.DB.SSLMode = p.str("DB_SSLMODE")

	c.Redis.Host = p.str("REDIS_HOST")
	c.Redis.Port = p.requiredInt("REDIS_PORT")

	c.Auth.JWTSecret = v.GetString("JWT_SECRET")
	c.Auth.JWTIssuer = p.str("JWT_ISSUER")
	c.Auth.JWTAudience = p.str("JWT_AUDIENCE")
	// Optional; defaults applied in Validate().
	c.Auth.AccessTokenTTL = p.duration("JWT_ACCESS_TTL")
	c.Auth.RefreshTokenTTL = p.duration("JWT_REFRESH_TTL")

	c.AMQP.URL = p.str("AMQP_URL")
	c.AMQP.Exchange = p.str("AMQP_EXCHANGE")
	c.AMQP.FundingQueue = p.str("AMQP_FUNDING_QUEUE")

	c.Billing.MaxAttempts = p.requiredInt("BILLING_MAX_ATTEMPTS")
	c.Billing.BackoffInitial = p.duration("BILLING_BACKOFF_INITIAL")
	c.Billing.BackoffMax = p.duration("BILLING_BACKOFF_MAX")
	c.Billing.LockWait = p.duration("BILLING_LOCK_WAIT")
	c.Billing.LockTTL = p.duration("BILLING_LOCK_TTL")

	c.Expiry.Schedule = p.str("EXPIRY_SWEEP_SCHEDULE")

	if err := joinErrors(p.errs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate fills defaults in place and reports every problem at once.
func (c *Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}

	if c.DB.Host == "" {
		errs = append(errs, errors.New("DB_HOST is required"))
	}
	if c.DB.Port <= 0 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
	}
	if c.DB.User == "" {
		errs = append(errs, errors.New("DB_USER is required"))
	}
	if c.DB.Name == "" {
		errs = append(errs, errors.New("DB_NAME is required"))
	}
	if strings.TrimSpace(c.DB.SSLMode) == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("DB_SSLMODE is required in production"))
		} else {
			// Local-friendly default; production must be explicit.
			c.DB.SSLMode = "disable"
		}
	}
	if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
		errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
	}

	if c.Redis.Host == "" {
		errs = append(errs, errors.New("REDIS_HOST is required"))
	}
	if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
		errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.IsProduction() {
		if c.Auth.JWTIssuer == "" {
			errs = append(errs, errors.New("JWT_ISSUER is required in production"))
		}
		if c.Auth.JWTAudience == "" {
			errs = append(errs, errors.New("JWT_AUDIENCE is required in production"))
		}
	}
	if c.Auth.AccessTokenTTL <= 0 {
		c.Auth.AccessTokenTTL = 15 * time.Minute
	}
	if c.Auth.RefreshTokenTTL <= 0 {
		c.Auth.RefreshTokenTTL = 30 * 24 * time.Hour
	}
	if c.Auth.RefreshTokenTTL <= c.Auth.AccessTokenTTL {
		errs = append(errs, errors.New("JWT_REFRESH_TTL must be greater than JWT_ACCESS_TTL"))
	}

	if c.AMQP.URL != "" && c.AMQP.FundingQueue == "" {
		errs = append(errs, errors.New("AMQP_FUNDING_QUEUE is required when AMQP_URL is set"))
	}
	if c.AMQP.Exchange == "" {
		c.AMQP.Exchange = "ledger_events"
	}

	if c.Billing.MaxAttempts < 1 || c.Billing.MaxAttempts > 10 {
		errs = append(errs, fmt.Errorf("BILLING_MAX_ATTEMPTS must be within [1,10], got %d", c.Billing.MaxAttempts))
	}
	if c.Billing.BackoffInitial <= 0 {
		errs = append(errs, errors.New("BILLING_BACKOFF_INITIAL must be positive"))
	}
	if c.Billing.BackoffMax < c.Billing.BackoffInitial {
		errs = append(errs, errors.New("BILLING_BACKOFF_MAX must not be below BILLING_BACKOFF_INITIAL"))
	}
	if c.Billing.LockWait <= 0 {
		errs = append(errs, errors.New("BILLING_LOCK_WAIT must be positive"))
	}
	if c.Billing.LockTTL <= c.Billing.LockWait {
		errs = append(errs, errors.New("BILLING_LOCK_TTL must be greater than BILLING_LOCK_WAIT"))
	}

	if err := expiry.ValidateSchedule(c.Expiry.Schedule); err != nil {
		errs = append(errs, fmt.Errorf("EXPIRY_SWEEP_SCHEDULE %q: %w", c.Expiry.Schedule, err))
	}

	return joinErrors(errs)
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

// parser collects every malformed value instead of stopping at the first.
type parser struct {
	v    *viper.Viper
	errs []error
}

func (p *parser) str(key string) string {
	return strings.TrimSpace(p.v.GetString(key))
}

func (p *parser) requiredInt(key string) int {
	raw := p.str(key)
	if raw == "" {
		p.errs = append(p.errs, fmt.Errorf("%s is required", key))
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s must be an integer, got %q", key, raw))
		return 0
	}
	return n
}

func (p *parser) duration(key string) time.Duration {
	raw := p.str(key)
	if raw == "" {
		return 0
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s must be a duration, got %q", key, raw))
		return 0
	}
	return d
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
