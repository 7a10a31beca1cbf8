package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// ErrMissingAdminPassword is returned when neither a plain nor a hashed admin
// password is configured.
var ErrMissingAdminPassword = errors.New("WATER_SYSTEM_ADMIN_PASSWORD or WATER_SYSTEM_ADMIN_PASSWORD_HASH must be set")

// Config holds all application configuration
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Auth     AuthConfig
	Proxy    ProxyConfig
	Query    QueryConfig
	Devices  DevicesConfig

	// GeneratedSecretKey is true when no cookie signing key was configured and
	// a random one was created for this process.
	GeneratedSecretKey bool
}

// ServerConfig holds HTTP listener configuration
type ServerConfig struct {
	Host               string `validate:"required"`
	HTTPPort           int    `validate:"min=1,max=65535"`
	AdminPort          int    `validate:"min=1,max=65535,nefield=HTTPPort"`
	CORSAllowedOrigins []string
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	Host     string `validate:"required"`
	Port     string `validate:"required,numeric"`
	User     string `validate:"required"`
	Password string
	DBName   string `validate:"required"`
	SSLMode  string `validate:"oneof=disable allow prefer require verify-ca verify-full"`
}

// AuthConfig holds admin and device authentication settings
type AuthConfig struct {
	AdminPassword     string
	AdminPasswordHash string
	APIToken          string        `validate:"required"`
	SecretKey         string        `validate:"required,min=32"`
	SessionTimeout    time.Duration `validate:"min=1m"`
	MaxFailedAttempts int           `validate:"min=1"`
	LockoutDuration   time.Duration `validate:"min=1h"`
	CookieName        string        `validate:"required"`
	CookieSecure      bool
}

// ProxyConfig holds reverse-proxy trust settings
type ProxyConfig struct {
	Enabled        bool
	TrustedProxies []string `validate:"dive,required"`
}

// QueryConfig holds limits for admin ad-hoc queries
type QueryConfig struct {
	Table   string        `validate:"required,sqlident"`
	Timeout time.Duration `validate:"min=1s"`
	MaxRows int           `validate:"min=1"`
}

// DevicesConfig lists the device identifiers accepted by the ingestion API
type DevicesConfig struct {
	IDs []string `validate:"min=1,dive,required"`
}

// Load reads configuration from environment variables, optionally seeded from
// a .env file in the working directory.
func Load() (*Config, error) {
	// A missing .env file is the normal production case.
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Host:               getEnv("SERVER_HOST", "0.0.0.0"),
			HTTPPort:           getIntEnv("WATER_SYSTEM_HTTP_PORT", 5000),
			AdminPort:          getIntEnv("WATER_SYSTEM_ADMIN_PORT", 5001),
			CORSAllowedOrigins: getListEnv("CORS_ALLOWED_ORIGINS", nil),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "home_iot"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Auth: AuthConfig{
			AdminPassword:     getEnv("WATER_SYSTEM_ADMIN_PASSWORD", ""),
			AdminPasswordHash: getEnv("WATER_SYSTEM_ADMIN_PASSWORD_HASH", ""),
			APIToken:          getEnv("WATER_SYSTEM_API_TOKEN", ""),
			SecretKey:         getEnv("WATER_SYSTEM_SECRET_KEY", ""),
			SessionTimeout:    getMinutesEnv("WATER_SYSTEM_SESSION_TIMEOUT", 30*time.Minute),
			MaxFailedAttempts: getIntEnv("WATER_SYSTEM_MAX_FAILED_ATTEMPTS", 8),
			LockoutDuration:   getHoursEnv("WATER_SYSTEM_LOCKOUT_DURATION", time.Hour),
			CookieName:        getEnv("WATER_SYSTEM_COOKIE_NAME", "water_session"),
			CookieSecure:      getBoolEnv("COOKIE_SECURE", true),
		},
		Proxy: ProxyConfig{
			Enabled:        getBoolEnv("WATER_SYSTEM_NGINX_MODE", true),
			TrustedProxies: getListEnv("WATER_SYSTEM_TRUSTED_PROXIES", []string{"127.0.0.1", "::1"}),
		},
		Query: QueryConfig{
			Table:   getEnv("WATER_SYSTEM_QUERY_TABLE", "water_events"),
			Timeout: getSecondsEnv("WATER_SYSTEM_QUERY_TIMEOUT", 10*time.Second),
			MaxRows: getIntEnv("WATER_SYSTEM_QUERY_MAX_ROWS", 1000),
		},
		Devices: DevicesConfig{
			IDs: getListEnv("WATER_SYSTEM_DEVICE_IDS", []string{"DOLEWKA"}),
		},
	}

	if cfg.Auth.SecretKey == "" {
		key, err := randomKey()
		if err != nil {
			return nil, fmt.Errorf("failed to generate secret key: %w", err)
		}
		cfg.Auth.SecretKey = key
		cfg.GeneratedSecretKey = true
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required settings are present and within range.
func (c *Config) Validate() error {
	if c.Auth.AdminPassword == "" && c.Auth.AdminPasswordHash == "" {
		return ErrMissingAdminPassword
	}

	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}

	return nil
}

// DSN returns the PostgreSQL connection string
func (d *DatabaseConfig) DSN() string {
	return "host=" + d.Host +
		" port=" + d.Port +
		" user=" + d.User +
		" password=" + d.Password +
		" dbname=" + d.DBName +
		" sslmode=" + d.SSLMode
}

// URL returns the PostgreSQL connection URL used by golang-migrate
func (d *DatabaseConfig) URL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(d.User, d.Password),
		Host:     net.JoinHostPort(d.Host, d.Port),
		Path:     "/" + d.DBName,
		RawQuery: "sslmode=" + d.SSLMode,
	}
	return u.String()
}

// HTTPAddr returns the device API listen address
func (s *ServerConfig) HTTPAddr() string {
	return s.Host + ":" + strconv.Itoa(s.HTTPPort)
}

// AdminAddr returns the admin panel listen address
func (s *ServerConfig) AdminAddr() string {
	return s.Host + ":" + strconv.Itoa(s.AdminPort)
}

// sqlIdentRegex matches a bare, unquoted SQL identifier
var sqlIdentRegex = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

var validate *validator.Validate

func init() {
	validate = validator.New()
	_ = validate.RegisterValidation("sqlident", func(fl validator.FieldLevel) bool {
		return sqlIdentRegex.MatchString(fl.Field().String())
	})
}

func randomKey() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		switch strings.ToLower(value) {
		case "true", "1", "yes":
			return true
		case "false", "0", "no":
			return false
		}
	}
	return defaultValue
}

// getMinutesEnv returns duration from an environment variable holding minutes
func getMinutesEnv(key string, defaultValue time.Duration) time.Duration {
	return time.Duration(getIntEnv(key, int(defaultValue/time.Minute))) * time.Minute
}

func getHoursEnv(key string, defaultValue time.Duration) time.Duration {
	return time.Duration(getIntEnv(key, int(defaultValue/time.Hour))) * time.Hour
}

func getSecondsEnv(key string, defaultValue time.Duration) time.Duration {
	return time.Duration(getIntEnv(key, int(defaultValue/time.Second))) * time.Second
}

// getListEnv splits a comma separated environment variable
func getListEnv(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
