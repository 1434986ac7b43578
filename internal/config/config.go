// Package config provides configuration management for the client.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	API      APIConfig      `mapstructure:"api"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Session  SessionConfig  `mapstructure:"session"`
	Link     LinkConfig     `mapstructure:"link"`
	Dispatch DispatchConfig `mapstructure:"dispatch"`
}

type APIConfig struct {
	BaseURL        string               `mapstructure:"base_url"`
	Timeout        int                  `mapstructure:"timeout"`
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker"`
}

type CircuitBreakerConfig struct {
	MaxRequests      uint32  `mapstructure:"max_requests"`
	Interval         int     `mapstructure:"interval"`
	Timeout          int     `mapstructure:"timeout"`
	FailureRatio     float64 `mapstructure:"failure_ratio"`
	ConsecutiveFails uint32  `mapstructure:"consecutive_fails"`
}

type StorageConfig struct {
	// Backend selects the state store: "bolt", "redis" or "memory".
	Backend string      `mapstructure:"backend"`
	Path    string      `mapstructure:"path"`
	Redis   RedisConfig `mapstructure:"redis"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	HashKey  string `mapstructure:"hash_key"`
}

type SessionConfig struct {
	// CheckIntervalMs is the session-liveness poll cadence.
	CheckIntervalMs int `mapstructure:"check_interval_ms"`
}

type LinkConfig struct {
	// StatusIntervalSeconds is the device-link status poll cadence.
	StatusIntervalSeconds int `mapstructure:"status_interval_seconds"`
	// QRRetryDelaySeconds is the wait before the single retry of a
	// failed QR fetch.
	QRRetryDelaySeconds int `mapstructure:"qr_retry_delay_seconds"`
	// SubscriptionIntervalSeconds is the usage-stats refresh cadence.
	SubscriptionIntervalSeconds int `mapstructure:"subscription_interval_seconds"`
}

type DispatchConfig struct {
	// DefaultCountryCode is prefixed to bare 10-digit numbers.
	DefaultCountryCode string `mapstructure:"default_country_code"`
	// RateLimit caps outbound messages per second; RateBurst is the
	// limiter burst size.
	RateLimit float64 `mapstructure:"rate_limit"`
	RateBurst int     `mapstructure:"rate_burst"`
	// MaxMediaSizeMB bounds upload-media files, checked before any
	// network call.
	MaxMediaSizeMB int `mapstructure:"max_media_size_mb"`
}

func LoadConfig(configPath string) (*Config, error) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	viper.SetDefault("api.base_url", "https://login.msgblast.example:9443")
	viper.SetDefault("api.timeout", 30)
	viper.SetDefault("api.circuit_breaker.max_requests", 3)
	viper.SetDefault("api.circuit_breaker.interval", 60)
	viper.SetDefault("api.circuit_breaker.timeout", 60)
	viper.SetDefault("api.circuit_breaker.failure_ratio", 0.6)
	viper.SetDefault("api.circuit_breaker.consecutive_fails", 5)
	viper.SetDefault("storage.backend", "bolt")
	viper.SetDefault("storage.path", "msgblast.db")
	viper.SetDefault("storage.redis.db", 0)
	viper.SetDefault("storage.redis.hash_key", "msgblast:state")
	viper.SetDefault("session.check_interval_ms", 500)
	viper.SetDefault("link.status_interval_seconds", 5)
	viper.SetDefault("link.qr_retry_delay_seconds", 3)
	viper.SetDefault("link.subscription_interval_seconds", 2)
	viper.SetDefault("dispatch.default_country_code", "91")
	viper.SetDefault("dispatch.rate_limit", 10)
	viper.SetDefault("dispatch.rate_burst", 20)
	viper.SetDefault("dispatch.max_media_size_mb", 16)

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	viper.AutomaticEnv()

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

// CheckInterval returns the session poll cadence as a duration.
func (s *SessionConfig) CheckInterval() time.Duration {
	return time.Duration(s.CheckIntervalMs) * time.Millisecond
}

// StatusInterval returns the device-link poll cadence as a duration.
func (l *LinkConfig) StatusInterval() time.Duration {
	return time.Duration(l.StatusIntervalSeconds) * time.Second
}

// QRRetryDelay returns the QR fetch retry delay as a duration.
func (l *LinkConfig) QRRetryDelay() time.Duration {
	return time.Duration(l.QRRetryDelaySeconds) * time.Second
}

// SubscriptionInterval returns the usage refresh cadence as a duration.
func (l *LinkConfig) SubscriptionInterval() time.Duration {
	return time.Duration(l.SubscriptionIntervalSeconds) * time.Second
}

// RedisAddr returns the host:port address of the Redis backend.
func (r *RedisConfig) RedisAddr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}
