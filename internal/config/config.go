package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration required by the API process.
// All values must come from env (or env-file loaded by the process runner).
// No business logic should depend on raw environment variables.
type Config struct {
	App       AppConfig
	Auth      AuthConfig
	Push      PushConfig
	Lifecycle LifecycleConfig
}

type AppConfig struct {
	Env  string
	Port int
}

type AuthConfig struct {
	JWTSecret       string
	JWTIssuer       string
	JWTAudience     string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
}

// PushConfig names the two delivery backends. Endpoints are full URLs the
// adapters POST notification payloads to; keys are bearer credentials.
type PushConfig struct {
	PrimaryEndpoint   string
	PrimaryKey        string
	SecondaryEndpoint string
	SecondaryKey      string
}

type LifecycleConfig struct {
	// ResponseWindow bounds the wait for a recipient response after
	// dispatch. Default 60s.
	ResponseWindow time.Duration
	// Retention is how long resolved or cancelled calls are kept before the
	// daily cleanup purges them. Default 24h.
	Retention time.Duration
}

func Load() (Config, error) {
	c := Config{}
	var parseErrs []error

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	{
		n, err := mustInt("APP_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.App.Port = n
	}

	c.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	c.Auth.JWTIssuer = strings.TrimSpace(os.Getenv("JWT_ISSUER"))
	c.Auth.JWTAudience = strings.TrimSpace(os.Getenv("JWT_AUDIENCE"))
	// Duration env vars are optional; defaults applied in Validate() based on env.
	c.Auth.AccessTokenTTL = optionalDuration("JWT_ACCESS_TTL")
	c.Auth.RefreshTokenTTL = optionalDuration("JWT_REFRESH_TTL")

	c.Push.PrimaryEndpoint = strings.TrimSpace(os.Getenv("PUSH_PRIMARY_ENDPOINT"))
	c.Push.PrimaryKey = os.Getenv("PUSH_PRIMARY_KEY")
	c.Push.SecondaryEndpoint = strings.TrimSpace(os.Getenv("PUSH_SECONDARY_ENDPOINT"))
	c.Push.SecondaryKey = os.Getenv("PUSH_SECONDARY_KEY")

	c.Lifecycle.ResponseWindow = optionalDuration("RESPONSE_WINDOW")
	c.Lifecycle.Retention = optionalDuration("CALL_RETENTION")

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

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
		// Default: short-lived access tokens.
		c.Auth.AccessTokenTTL = 15 * time.Minute
	}
	if c.Auth.RefreshTokenTTL <= 0 {
		// Default: longer-lived refresh tokens.
		c.Auth.RefreshTokenTTL = 30 * 24 * time.Hour
	}
	if c.Auth.RefreshTokenTTL <= c.Auth.AccessTokenTTL {
		errs = append(errs, errors.New("JWT_REFRESH_TTL must be greater than JWT_ACCESS_TTL"))
	}

	if c.Push.PrimaryEndpoint == "" {
		errs = append(errs, errors.New("PUSH_PRIMARY_ENDPOINT is required"))
	}
	if c.Push.SecondaryEndpoint == "" {
		errs = append(errs, errors.New("PUSH_SECONDARY_ENDPOINT is required"))
	}
	if c.IsProduction() {
		if c.Push.PrimaryKey == "" {
			errs = append(errs, errors.New("PUSH_PRIMARY_KEY is required in production"))
		}
		if c.Push.SecondaryKey == "" {
			errs = append(errs, errors.New("PUSH_SECONDARY_KEY is required in production"))
		}
	}

	if c.Lifecycle.ResponseWindow < 0 {
		errs = append(errs, errors.New("RESPONSE_WINDOW must not be negative"))
	}
	if c.Lifecycle.ResponseWindow == 0 {
		c.Lifecycle.ResponseWindow = 60 * time.Second
	}
	if c.Lifecycle.Retention == 0 {
		c.Lifecycle.Retention = 24 * time.Hour
	}

	return joinErrors(errs)
}

func (c *Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c *Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func mustInt(key string) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, fmt.Errorf("%s is required", key)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func optionalDuration(key string) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0
	}
	return d
}

func appendParseErr(errs []error, n int, err error) (int, []error) {
	if err != nil {
		errs = append(errs, err)
	}
	return n, errs
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
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
