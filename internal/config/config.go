// Package config はアプリケーション設定の読み込みを提供する。
//
// 値の優先順位は 環境変数 > .envファイル > YAML設定ファイル > 既定値 とする。
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config はアプリケーション全体の設定を保持する。
// 起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL     string
	TenantDBSSLMode string

	// Tenant
	ServerDomain string

	// OAuth
	TokenSigningKey string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	AuthCodeTTL     time.Duration
	RedisURL        string

	// Session
	SessionMaxAge int

	// Hashing
	HashPoolSize int

	// Cleanup
	CleanupInterval         time.Duration
	CleanupTenantsPerSecond float64

	// Logging
	LogLevel string

	// Server
	ServerPort string
	BaseURL    string

	// Cookie
	CookieSecure bool
	CookieDomain string

	// CORS（カンマ区切りで複数指定可）
	CORSAllowedOrigin string
}

// source は設定値の参照元を優先順位順に保持する。
type source struct {
	dotenv map[string]string
	file   map[string]string
}

func (s source) lookup(key string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	if v := s.dotenv[key]; v != "" {
		return v
	}
	return s.file[key]
}

// Load は環境変数、.envファイル（ENV_FILE、既定 .env）、
// YAML設定ファイル（CONFIG_FILE）からConfigを読み込む。
// 必須項目が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	src, err := loadSources()
	if err != nil {
		return nil, err
	}

	cfg := &Config{}

	// Required fields
	var missing []string
	required := func(key string) string {
		v := src.lookup(key)
		if v == "" {
			missing = append(missing, key)
		}
		return v
	}

	cfg.DatabaseURL = required("DATABASE_URL")
	cfg.ServerDomain = required("SERVER_DOMAIN")
	cfg.BaseURL = required("BASE_URL")
	cfg.TokenSigningKey = required("TOKEN_SIGNING_KEY")

	if len(missing) > 0 {
		return nil, fmt.Errorf("required configuration is not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.ServerPort = src.getString("SERVER_PORT", "8080")
	cfg.SessionMaxAge = src.getInt("SESSION_MAX_AGE", 604800)
	cfg.HashPoolSize = src.getInt("HASH_POOL_SIZE", runtime.NumCPU())
	cfg.TenantDBSSLMode = src.getString("TENANT_DB_SSLMODE", "disable")
	cfg.RedisURL = src.getString("REDIS_URL", "")
	cfg.AccessTokenTTL = src.getDuration("ACCESS_TOKEN_TTL", 2*time.Hour)
	cfg.RefreshTokenTTL = src.getDuration("REFRESH_TOKEN_TTL", 720*time.Hour)
	cfg.AuthCodeTTL = src.getDuration("AUTH_CODE_TTL", 10*time.Minute)
	cfg.LogLevel = src.getString("LOG_LEVEL", "info")
	cfg.CleanupInterval = src.getDuration("CLEANUP_INTERVAL", 24*time.Hour)
	cfg.CleanupTenantsPerSecond = src.getFloat("CLEANUP_TENANTS_PER_SECOND", 5)
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
	cfg.CookieDomain = src.getString("COOKIE_DOMAIN", "")
	cfg.CORSAllowedOrigin = src.getString("CORS_ALLOWED_ORIGIN", "")

	if cfg.HashPoolSize <= 0 {
		cfg.HashPoolSize = 1
	}

	return cfg, nil
}

// loadSources は.envファイルとYAML設定ファイルを読み込む。
// .envファイルが存在しない場合は無視する。CONFIG_FILEを指定した場合は必須とする。
func loadSources() (source, error) {
	var src source

	envFile := os.Getenv("ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	dotenv, err := godotenv.Read(envFile)
	switch {
	case err == nil:
		src.dotenv = dotenv
	case errors.Is(err, fs.ErrNotExist):
	default:
		return src, fmt.Errorf("failed to read env file %s: %w", envFile, err)
	}

	configFile := os.Getenv("CONFIG_FILE")
	if configFile == "" {
		configFile = src.dotenv["CONFIG_FILE"]
	}
	if configFile != "" {
		data, err := os.ReadFile(configFile)
		if err != nil {
			return src, fmt.Errorf("failed to read config file: %w", err)
		}
		raw := map[string]any{}
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return src, fmt.Errorf("failed to parse config file %s: %w", configFile, err)
		}
		src.file = make(map[string]string, len(raw))
		for k, v := range raw {
			src.file[strings.ToUpper(k)] = fmt.Sprint(v)
		}
	}

	return src, nil
}

func (s source) getString(key, defaultVal string) string {
	if v := s.lookup(key); v != "" {
		return v
	}
	return defaultVal
}

func (s source) getInt(key string, defaultVal int) int {
	v := s.lookup(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func (s source) getFloat(key string, defaultVal float64) float64 {
	v := s.lookup(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f <= 0 {
		return defaultVal
	}
	return f
}

func (s source) getDuration(key string, defaultVal time.Duration) time.Duration {
	v := s.lookup(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
