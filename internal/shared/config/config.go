package config

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	KurrentDB KurrentDBConfig
	Auth      AuthConfig
	Reporter  ReporterConfig
	Storage   StorageConfig
	Bootstrap BootstrapConfig
}

type ServerConfig struct {
	Port           int
	Env            string
	AllowedOrigins []string
	// TrustedProxies are the peers whose X-Forwarded-For and X-Real-IP
	// headers are believed. Addresses or CIDR ranges; empty trusts none.
	TrustedProxies []string
}

// TrustedProxyPrefixes parses TrustedProxies. A bare address becomes a
// single-host prefix.
func (s ServerConfig) TrustedProxyPrefixes() ([]netip.Prefix, error) {
	prefixes := make([]netip.Prefix, 0, len(s.TrustedProxies))
	for _, entry := range s.TrustedProxies {
		if strings.Contains(entry, "/") {
			p, err := netip.ParsePrefix(entry)
			if err != nil {
				return nil, fmt.Errorf("trusted proxy %q: %w", entry, err)
			}
			prefixes = append(prefixes, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(entry)
		if err != nil {
			return nil, fmt.Errorf("trusted proxy %q: %w", entry, err)
		}
		addr = addr.Unmap()
		prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return prefixes, nil
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int32
	MinConns int32
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Database, d.SSLMode,
	)
}

// RedisConfig is only read when SESSION_STORE=redis.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// KurrentDBConfig holds configuration for KurrentDB (EventStoreDB).
// An empty Host disables event publishing to KurrentDB; events are then
// written to the log only.
type KurrentDBConfig struct {
	Host     string
	Port     int
	Insecure bool
	Username string
	Password string
	// StreamPrefix namespaces the audit streams, e.g. "whistleline-room".
	StreamPrefix string
}

type AuthConfig struct {
	// JWTSecret signs access tokens. Required; there is no fallback.
	JWTSecret  string
	Issuer     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	BcryptCost int
}

// ReporterConfig controls the anonymous PIN login.
type ReporterConfig struct {
	MaxPINAttempts  int
	LockoutDuration time.Duration
	// Per-IP limiter in front of the login endpoints.
	LoginRatePerSecond int
	LoginBurst         int
}

const (
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
	StorageRedis    = "redis"
)

type StorageConfig struct {
	// Backend is "postgres" or "memory".
	Backend string
	// SessionStore is "postgres", "redis" or "memory".
	SessionStore string
}

// BootstrapConfig seeds the first super admin on an empty installation. Both
// fields empty disables it.
type BootstrapConfig struct {
	AdminEmail    string
	AdminPassword string
}

// Load reads configuration from the environment. A .env file in the working
// directory is loaded first when present; real environment variables win.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:           getEnvInt("SERVER_PORT", 8080),
			Env:            getEnv("ENV", "development"),
			AllowedOrigins: getEnvSlice("CORS_ALLOWED_ORIGINS", []string{"*"}),
			TrustedProxies: getEnvSlice("TRUSTED_PROXIES", nil),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "whistleline"),
			Password: getEnv("DB_PASSWORD", "whistleline"),
			Database: getEnv("DB_NAME", "whistleline"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
			MaxConns: int32(getEnvInt("DB_MAX_CONNS", 20)),
			MinConns: int32(getEnvInt("DB_MIN_CONNS", 2)),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		KurrentDB: KurrentDBConfig{
			Host:         getEnv("KURRENTDB_HOST", ""),
			Port:         getEnvInt("KURRENTDB_PORT", 2113),
			Insecure:     getEnvBool("KURRENTDB_INSECURE", true),
			Username:     getEnv("KURRENTDB_USERNAME", ""),
			Password:     getEnv("KURRENTDB_PASSWORD", ""),
			StreamPrefix: getEnv("KURRENTDB_STREAM_PREFIX", "whistleline"),
		},
		Auth: AuthConfig{
			JWTSecret:  getEnv("JWT_SECRET", ""),
			Issuer:     getEnv("JWT_ISSUER", "whistleline"),
			AccessTTL:  getEnvDuration("JWT_ACCESS_TTL", 8*time.Hour),
			RefreshTTL: getEnvDuration("JWT_REFRESH_TTL", 7*24*time.Hour),
			BcryptCost: getEnvInt("BCRYPT_COST", 12),
		},
		Reporter: ReporterConfig{
			MaxPINAttempts:     getEnvInt("REPORTER_MAX_PIN_ATTEMPTS", 5),
			LockoutDuration:    time.Duration(getEnvInt("REPORTER_LOCKOUT_MINUTES", 30)) * time.Minute,
			LoginRatePerSecond: getEnvInt("LOGIN_RATE_PER_SECOND", 1),
			LoginBurst:         getEnvInt("LOGIN_BURST", 5),
		},
		Storage: StorageConfig{
			Backend:      getEnv("STORAGE", StoragePostgres),
			SessionStore: getEnv("SESSION_STORE", ""),
		},
		Bootstrap: BootstrapConfig{
			AdminEmail:    getEnv("BOOTSTRAP_ADMIN_EMAIL", ""),
			AdminPassword: getEnv("BOOTSTRAP_ADMIN_PASSWORD", ""),
		},
	}

	if cfg.Storage.SessionStore == "" {
		cfg.Storage.SessionStore = cfg.Storage.Backend
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every configuration problem at once.
func (c *Config) Validate() error {
	var problems []string

	if c.Auth.JWTSecret == "" {
		problems = append(problems, "JWT_SECRET is required")
	}
	if c.Auth.AccessTTL <= 0 || c.Auth.RefreshTTL <= 0 {
		problems = append(problems, "token lifetimes must be positive")
	}
	if c.Auth.BcryptCost < 4 || c.Auth.BcryptCost > 31 {
		problems = append(problems, "BCRYPT_COST must be between 4 and 31")
	}
	if _, err := c.Server.TrustedProxyPrefixes(); err != nil {
		problems = append(problems, "TRUSTED_PROXIES: "+err.Error())
	}
	if c.Reporter.MaxPINAttempts < 1 {
		problems = append(problems, "REPORTER_MAX_PIN_ATTEMPTS must be at least 1")
	}
	if c.Reporter.LockoutDuration <= 0 {
		problems = append(problems, "REPORTER_LOCKOUT_MINUTES must be positive")
	}

	switch c.Storage.Backend {
	case StoragePostgres, StorageMemory:
	default:
		problems = append(problems, fmt.Sprintf("unknown STORAGE %q", c.Storage.Backend))
	}
	switch c.Storage.SessionStore {
	case StoragePostgres, StorageRedis, StorageMemory:
	default:
		problems = append(problems, fmt.Sprintf("unknown SESSION_STORE %q", c.Storage.SessionStore))
	}
	if c.Storage.SessionStore == StoragePostgres && c.Storage.Backend != StoragePostgres {
		problems = append(problems, "SESSION_STORE=postgres requires STORAGE=postgres")
	}

	if (c.Bootstrap.AdminEmail == "") != (c.Bootstrap.AdminPassword == "") {
		problems = append(problems, "BOOTSTRAP_ADMIN_EMAIL and BOOTSTRAP_ADMIN_PASSWORD must be set together")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// IsDevelopment reports whether the server runs in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Server.Env == "development"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var result []string
	for _, v := range strings.Split(value, ",") {
		if v = strings.TrimSpace(v); v != "" {
			result = append(result, v)
		}
	}
	if len(result) == 0 {
		return defaultValue
	}
	return result
}
