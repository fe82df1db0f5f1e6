package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the immutable process configuration.
type Config struct {
	Auth     Auth     `yaml:"auth"`
	HTTP     HTTP     `yaml:"http"`
	GRPC     GRPC     `yaml:"grpc"`
	Database Database `yaml:"database"`
	Upload   Upload   `yaml:"upload"`
	Log      Log      `yaml:"log"`
}

type Auth struct {
	Secret            string        `yaml:"secret"`
	Algorithm         string        `yaml:"algorithm"`
	Issuer            string        `yaml:"issuer"`
	AccessTokenTTL    time.Duration `yaml:"access_token_ttl"`
	MaxLoginAttempts  int           `yaml:"max_login_attempts"`
	LockoutDuration   time.Duration `yaml:"lockout_duration"`
	RateLimitAttempts int           `yaml:"rate_limit_attempts"`
	RateLimitWindow   time.Duration `yaml:"rate_limit_window"`
	FailureDelay      time.Duration `yaml:"failure_delay"`
	BootstrapFile     string        `yaml:"bootstrap_file"`
}

type HTTP struct {
	Addr            string        `yaml:"addr"`
	RatePerSec      float64       `yaml:"rate_per_sec"`
	RateBurst       int           `yaml:"rate_burst"`
	CORSOrigins     []string      `yaml:"cors_origins"`
	TrustProxy      bool          `yaml:"trust_proxy"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type GRPC struct {
	Addr string `yaml:"addr"`
}

type Database struct {
	DSN          string        `yaml:"dsn"`
	MaxOpenConns int           `yaml:"max_open_conns"`
	MaxIdleConns int           `yaml:"max_idle_conns"`
	ConnLifetime time.Duration `yaml:"conn_lifetime"`
}

type Upload struct {
	Dir   string `yaml:"dir"`
	MaxMB int64  `yaml:"max_mb"`
}

type Log struct {
	Level string `yaml:"level"`
}

// Default returns the built-in defaults.
func Default() Config {
	return Config{
		Auth: Auth{
			Algorithm:         "HS256",
			Issuer:            "gatehouse",
			AccessTokenTTL:    60 * time.Minute,
			MaxLoginAttempts:  5,
			LockoutDuration:   30 * time.Minute,
			RateLimitAttempts: 5,
			RateLimitWindow:   15 * time.Minute,
			FailureDelay:      500 * time.Millisecond,
		},
		HTTP: HTTP{
			Addr:            ":8080",
			RatePerSec:      20,
			RateBurst:       40,
			MaxBodyBytes:    12 << 20,
			ShutdownTimeout: 10 * time.Second,
		},
		GRPC: GRPC{Addr: ":9090"},
		Database: Database{
			MaxOpenConns: 10,
			MaxIdleConns: 10,
			ConnLifetime: 30 * time.Minute,
		},
		Upload: Upload{Dir: "uploads", MaxMB: 10},
		Log:    Log{Level: "info"},
	}
}

// Load reads path (optional, may be empty) over the defaults, then applies
// GATEHOUSE_* environment overrides and validates the result.
func Load(path string) (Config, error) {
	return load(path, os.LookupEnv)
}

func load(path string, lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}
	if err := applyEnv(&cfg, lookup); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	e := envReader{lookup: lookup}
	e.str("GATEHOUSE_SECRET_KEY", &cfg.Auth.Secret)
	e.str("GATEHOUSE_ALGORITHM", &cfg.Auth.Algorithm)
	e.str("GATEHOUSE_TOKEN_ISSUER", &cfg.Auth.Issuer)
	e.minutes("GATEHOUSE_ACCESS_TOKEN_EXPIRE_MINUTES", &cfg.Auth.AccessTokenTTL)
	e.integer("GATEHOUSE_MAX_LOGIN_ATTEMPTS", &cfg.Auth.MaxLoginAttempts)
	e.minutes("GATEHOUSE_LOCKOUT_DURATION_MINUTES", &cfg.Auth.LockoutDuration)
	e.integer("GATEHOUSE_RATE_LIMIT_ATTEMPTS", &cfg.Auth.RateLimitAttempts)
	e.minutes("GATEHOUSE_RATE_LIMIT_WINDOW_MINUTES", &cfg.Auth.RateLimitWindow)
	e.duration("GATEHOUSE_FAILURE_DELAY", &cfg.Auth.FailureDelay)
	e.str("GATEHOUSE_BOOTSTRAP_FILE", &cfg.Auth.BootstrapFile)
	e.str("GATEHOUSE_HTTP_ADDR", &cfg.HTTP.Addr)
	e.float("GATEHOUSE_HTTP_RATE_PER_SEC", &cfg.HTTP.RatePerSec)
	e.integer("GATEHOUSE_HTTP_RATE_BURST", &cfg.HTTP.RateBurst)
	e.list("GATEHOUSE_CORS_ORIGINS", &cfg.HTTP.CORSOrigins)
	e.boolean("GATEHOUSE_TRUST_PROXY", &cfg.HTTP.TrustProxy)
	e.str("GATEHOUSE_GRPC_ADDR", &cfg.GRPC.Addr)
	e.str("GATEHOUSE_DATABASE_URL", &cfg.Database.DSN)
	e.str("GATEHOUSE_UPLOAD_DIR", &cfg.Upload.Dir)
	e.int64("GATEHOUSE_MAX_UPLOAD_SIZE_MB", &cfg.Upload.MaxMB)
	e.str("GATEHOUSE_LOG_LEVEL", &cfg.Log.Level)
	return errors.Join(e.errs...)
}

type envReader struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (e *envReader) get(key string) (string, bool) {
	v, ok := e.lookup(key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

func (e *envReader) fail(key, v string, err error) {
	e.errs = append(e.errs, fmt.Errorf("%s=%q: %w", key, v, err))
}

func (e *envReader) str(key string, dst *string) {
	if v, ok := e.get(key); ok {
		*dst = v
	}
}

func (e *envReader) integer(key string, dst *int) {
	if v, ok := e.get(key); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		*dst = n
	}
}

func (e *envReader) int64(key string, dst *int64) {
	if v, ok := e.get(key); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		*dst = n
	}
}

func (e *envReader) float(key string, dst *float64) {
	if v, ok := e.get(key); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		*dst = f
	}
}

func (e *envReader) boolean(key string, dst *bool) {
	if v, ok := e.get(key); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		*dst = b
	}
}

// minutes accepts a bare integer number of minutes.
func (e *envReader) minutes(key string, dst *time.Duration) {
	if v, ok := e.get(key); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		*dst = time.Duration(n) * time.Minute
	}
}

func (e *envReader) duration(key string, dst *time.Duration) {
	if v, ok := e.get(key); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		*dst = d
	}
}

func (e *envReader) list(key string, dst *[]string) {
	if v, ok := e.get(key); ok {
		var out []string
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		*dst = out
	}
}

// Validate reports every invalid field at once.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Auth.Secret) == "" {
		errs = append(errs, errors.New("auth.secret is required"))
	}
	if c.Auth.Algorithm != "HS256" {
		errs = append(errs, fmt.Errorf("auth.algorithm %q is not supported", c.Auth.Algorithm))
	}
	if c.Auth.AccessTokenTTL <= 0 {
		errs = append(errs, errors.New("auth.access_token_ttl must be positive"))
	}
	if c.Auth.MaxLoginAttempts <= 0 {
		errs = append(errs, errors.New("auth.max_login_attempts must be positive"))
	}
	if c.Auth.LockoutDuration <= 0 {
		errs = append(errs, errors.New("auth.lockout_duration must be positive"))
	}
	if c.Auth.RateLimitAttempts <= 0 {
		errs = append(errs, errors.New("auth.rate_limit_attempts must be positive"))
	}
	if c.Auth.RateLimitWindow <= 0 {
		errs = append(errs, errors.New("auth.rate_limit_window must be positive"))
	}
	if c.Auth.FailureDelay < 0 {
		errs = append(errs, errors.New("auth.failure_delay must not be negative"))
	}
	if c.HTTP.Addr == "" {
		errs = append(errs, errors.New("http.addr is required"))
	}
	if c.HTTP.RatePerSec < 0 || c.HTTP.RateBurst < 0 {
		errs = append(errs, errors.New("http rate limits must not be negative"))
	}
	if c.Upload.MaxMB <= 0 {
		errs = append(errs, errors.New("upload.max_mb must be positive"))
	}
	if c.Upload.Dir == "" {
		errs = append(errs, errors.New("upload.dir is required"))
	}
	return errors.Join(errs...)
}

// MaxUploadBytes converts Upload.MaxMB to bytes.
func (c Config) MaxUploadBytes() int64 {
	return c.Upload.MaxMB << 20
}
