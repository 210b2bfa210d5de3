// Package config はアプリケーション設定の読み込みを提供する。
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigFileEnv は設定ファイルのパスを指定する環境変数名。
const ConfigFileEnv = "CONFIG_FILE"

// Config はアプリケーション全体の設定を保持する。
// 起動時に1回読み込み、イミュータブルとして扱う。
// 設定ファイル（YAML）の値を環境変数が上書きする。
type Config struct {
	// Database
	DatabaseURL          string `yaml:"database_url"`
	MaxConnections       int    `yaml:"max_connections"`
	AutoMigrate          bool   `yaml:"auto_migrate"`
	StorageRetryAttempts int    `yaml:"storage_retry_attempts"`

	// Session
	SessionSecret          string        `yaml:"session_secret"`
	SessionMaxAge          int           `yaml:"session_max_age"`
	SessionCleanupInterval time.Duration `yaml:"session_cleanup_interval"`

	// Accounts
	AdminUser          string `yaml:"admin_user"`
	AdminPass          string `yaml:"admin_pass"`
	BcryptCost         int    `yaml:"bcrypt_cost"`
	RecordAuthActivity bool   `yaml:"record_auth_activity"`

	// Rate Limit（1分あたりのリクエスト数）
	RateLimitGeneral int `yaml:"rate_limit_general"`
	RateLimitAuth    int `yaml:"rate_limit_auth"`

	// Server
	ServerHost string `yaml:"server_host"`
	ServerPort string `yaml:"server_port"`
	BaseURL    string `yaml:"base_url"`
	StaticDir  string `yaml:"static_dir"`

	// Cookie
	CookieSecure bool   `yaml:"-"`
	CookieDomain string `yaml:"cookie_domain"`

	// CORS
	CORSAllowedOrigin string `yaml:"cors_allowed_origin"`

	// Logging
	Log LogConfig `yaml:"log"`
}

// LogConfig はログ出力の設定。
type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// Default はデフォルト値を設定したConfigを返す。
func Default() *Config {
	return &Config{
		AutoMigrate:            true,
		StorageRetryAttempts:   3,
		SessionMaxAge:          86400,
		SessionCleanupInterval: time.Hour,
		AdminUser:              "admin",
		BcryptCost:             12,
		RateLimitGeneral:       120,
		RateLimitAuth:          10,
		ServerPort:             "3000",
		StaticDir:              "public",
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 30,
		},
	}
}

// Load は設定ファイルと環境変数からConfigを読み込む。
// CONFIG_FILE が指定された場合はそのYAMLを読み込み、環境変数で上書きする。
// 必須項目が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv(ConfigFileEnv); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	envString(&c.DatabaseURL, "DATABASE_URL")
	envInt(&c.MaxConnections, "MAX_CONNECTIONS")
	envBool(&c.AutoMigrate, "AUTO_MIGRATE")
	envInt(&c.StorageRetryAttempts, "STORAGE_RETRY_ATTEMPTS")

	envString(&c.SessionSecret, "SESSION_SECRET")
	envInt(&c.SessionMaxAge, "SESSION_MAX_AGE")
	envDuration(&c.SessionCleanupInterval, "SESSION_CLEANUP_INTERVAL")

	envString(&c.AdminUser, "ADMIN_USER")
	envString(&c.AdminPass, "ADMIN_PASS")
	envInt(&c.BcryptCost, "BCRYPT_COST")
	envBool(&c.RecordAuthActivity, "RECORD_AUTH_ACTIVITY")

	envInt(&c.RateLimitGeneral, "RATE_LIMIT_GENERAL")
	envInt(&c.RateLimitAuth, "RATE_LIMIT_AUTH")

	envString(&c.ServerHost, "SERVER_HOST")
	envString(&c.ServerPort, "SERVER_PORT")
	envString(&c.BaseURL, "BASE_URL")
	envString(&c.StaticDir, "STATIC_DIR")

	envString(&c.CookieDomain, "COOKIE_DOMAIN")
	envString(&c.CORSAllowedOrigin, "CORS_ALLOWED_ORIGIN")

	envString(&c.Log.Level, "LOG_LEVEL")
	envString(&c.Log.File, "LOG_FILE")
	envInt(&c.Log.MaxSizeMB, "LOG_MAX_SIZE_MB")
	envInt(&c.Log.MaxBackups, "LOG_MAX_BACKUPS")
	envInt(&c.Log.MaxAgeDays, "LOG_MAX_AGE_DAYS")
}

func (c *Config) validate() error {
	var missing []string
	if c.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if c.SessionSecret == "" {
		missing = append(missing, "SESSION_SECRET")
	}
	if len(missing) > 0 {
		return fmt.Errorf("required environment variables are not set: %v", missing)
	}

	if c.SessionMaxAge <= 0 {
		return fmt.Errorf("SESSION_MAX_AGE must be positive, got %d", c.SessionMaxAge)
	}
	if c.RateLimitGeneral <= 0 || c.RateLimitAuth <= 0 {
		return fmt.Errorf("rate limits must be positive, got general=%d auth=%d", c.RateLimitGeneral, c.RateLimitAuth)
	}
	if c.StorageRetryAttempts < 1 {
		return fmt.Errorf("STORAGE_RETRY_ATTEMPTS must be at least 1, got %d", c.StorageRetryAttempts)
	}
	if c.MaxConnections < 0 {
		return fmt.Errorf("MAX_CONNECTIONS must not be negative, got %d", c.MaxConnections)
	}
	if _, err := strconv.Atoi(c.ServerPort); err != nil {
		return fmt.Errorf("invalid SERVER_PORT %q", c.ServerPort)
	}
	return nil
}

// Addr はHTTPサーバーのリッスンアドレスを返す。
func (c *Config) Addr() string {
	return net.JoinHostPort(c.ServerHost, c.ServerPort)
}

func envString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(dst *int, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	if i, err := strconv.Atoi(v); err == nil {
		*dst = i
	}
}

func envBool(dst *bool, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	if b, err := strconv.ParseBool(v); err == nil {
		*dst = b
	}
}

func envDuration(dst *time.Duration, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	if d, err := time.ParseDuration(v); err == nil {
		*dst = d
	}
}
