// Package config loads process settings from the environment and an optional .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const envPrefix = "OFFICEFLOW_"

// Config holds runtime settings for officeflow-api.
type Config struct {
	HTTPAddr string
	GRPCAddr string
	PGDSN    string

	AuthSecret    string
	TokenTTL      time.Duration
	ResetTokenTTL time.Duration
	ResetURLBase  string
	TOTPIssuer    string

	LockoutThreshold int

	RedisAddr           string
	ThrottleMaxAttempts int
	ThrottleWindow      time.Duration

	RateBurst      int
	RatePerSec     float64
	MaxBodyBytes   int64
	TrustedProxies []string

	AutoMigrate       bool
	SeedAdminEmail    string
	SeedAdminPassword string
	LogLevel          string
}

// Defaults returns the configuration used when no variable is set.
func Defaults() Config {
	return Config{
		HTTPAddr:            ":5000",
		GRPCAddr:            ":5001",
		TokenTTL:            30 * 24 * time.Hour,
		ResetTokenTTL:       time.Hour,
		ResetURLBase:        "http://localhost:3000/reset-password",
		TOTPIssuer:          "Office Management System",
		LockoutThreshold:    5,
		ThrottleMaxAttempts: 20,
		ThrottleWindow:      15 * time.Minute,
		RateBurst:           20,
		RatePerSec:          10,
		MaxBodyBytes:        1 << 20,
		AutoMigrate:         true,
		LogLevel:            "info",
	}
}

// Load reads files (".env" when none are given) if present, then the environment.
func Load(files ...string) (Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", f, err)
		}
	}
	return FromLookup(os.LookupEnv)
}

// FromLookup builds a Config from lookup, which resolves unprefixed names.
func FromLookup(lookup func(string) (string, bool)) (Config, error) {
	cfg := Defaults()
	p := parser{lookup: lookup}

	p.str("HTTP_ADDR", &cfg.HTTPAddr)
	p.str("GRPC_ADDR", &cfg.GRPCAddr)
	p.str("PG_DSN", &cfg.PGDSN)
	p.str("AUTH_SECRET", &cfg.AuthSecret)
	p.duration("TOKEN_TTL", &cfg.TokenTTL)
	p.duration("RESET_TOKEN_TTL", &cfg.ResetTokenTTL)
	p.str("RESET_URL_BASE", &cfg.ResetURLBase)
	p.str("TOTP_ISSUER", &cfg.TOTPIssuer)
	p.integer("LOCKOUT_THRESHOLD", &cfg.LockoutThreshold)
	p.str("REDIS_ADDR", &cfg.RedisAddr)
	p.integer("THROTTLE_MAX_ATTEMPTS", &cfg.ThrottleMaxAttempts)
	p.duration("THROTTLE_WINDOW", &cfg.ThrottleWindow)
	p.integer("RATE_BURST", &cfg.RateBurst)
	p.float("RATE_PER_SEC", &cfg.RatePerSec)
	p.int64("MAX_BODY_BYTES", &cfg.MaxBodyBytes)
	p.list("TRUSTED_PROXIES", &cfg.TrustedProxies)
	p.boolean("AUTO_MIGRATE", &cfg.AutoMigrate)
	p.str("SEED_ADMIN_EMAIL", &cfg.SeedAdminEmail)
	p.str("SEED_ADMIN_PASSWORD", &cfg.SeedAdminPassword)
	p.str("LOG_LEVEL", &cfg.LogLevel)

	if err := errors.Join(p.errs...); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c Config) Validate() error {
	var errs []error
	if len(c.AuthSecret) < 16 {
		errs = append(errs, fmt.Errorf("%sAUTH_SECRET must be at least 16 characters", envPrefix))
	}
	if c.HTTPAddr == "" {
		errs = append(errs, fmt.Errorf("%sHTTP_ADDR is required", envPrefix))
	}
	if c.TokenTTL <= 0 || c.ResetTokenTTL <= 0 || c.ThrottleWindow <= 0 {
		errs = append(errs, errors.New("durations must be positive"))
	}
	if c.LockoutThreshold <= 0 || c.ThrottleMaxAttempts <= 0 || c.RateBurst <= 0 || c.RatePerSec <= 0 || c.MaxBodyBytes <= 0 {
		errs = append(errs, errors.New("limits must be positive"))
	}
	if (c.SeedAdminEmail == "") != (c.SeedAdminPassword == "") {
		errs = append(errs, fmt.Errorf("%sSEED_ADMIN_EMAIL and %sSEED_ADMIN_PASSWORD must be set together", envPrefix, envPrefix))
	}
	return errors.Join(errs...)
}

type parser struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (p *parser) get(name string) (string, bool) {
	v, ok := p.lookup(envPrefix + name)
	if !ok {
		return "", false
	}
	return strings.TrimSpace(v), true
}

func (p *parser) fail(name, raw string, err error) {
	p.errs = append(p.errs, fmt.Errorf("%s%s=%q: %w", envPrefix, name, raw, err))
}

func (p *parser) str(name string, dst *string) {
	if v, ok := p.get(name); ok {
		*dst = v
	}
}

func (p *parser) list(name string, dst *[]string) {
	v, ok := p.get(name)
	if !ok || v == "" {
		return
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	*dst = out
}

func (p *parser) duration(name string, dst *time.Duration) {
	v, ok := p.get(name)
	if !ok || v == "" {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.fail(name, v, err)
		return
	}
	*dst = d
}

func (p *parser) integer(name string, dst *int) {
	v, ok := p.get(name)
	if !ok || v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.fail(name, v, err)
		return
	}
	*dst = n
}

func (p *parser) int64(name string, dst *int64) {
	v, ok := p.get(name)
	if !ok || v == "" {
		return
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		p.fail(name, v, err)
		return
	}
	*dst = n
}

func (p *parser) float(name string, dst *float64) {
	v, ok := p.get(name)
	if !ok || v == "" {
		return
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		p.fail(name, v, err)
		return
	}
	*dst = f
}

func (p *parser) boolean(name string, dst *bool) {
	v, ok := p.get(name)
	if !ok || v == "" {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.fail(name, v, err)
		return
	}
	*dst = b
}
