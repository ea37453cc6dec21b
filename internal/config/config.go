package config

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"
)

// ServerConfig holds all configuration for the eligibility server.
// Values are loaded from environment variables.
type ServerConfig struct {
	HTTPAddr string `json:"http_addr"`

	ShopDomain      string `json:"shop_domain"`
	AdminAPIVersion string `json:"admin_api_version"`
	AdminAPIToken   string `json:"-"`

	UpstreamTimeout    time.Duration `json:"-"`
	UpstreamTimeoutStr string        `json:"upstream_timeout"`

	RateLimit     int           `json:"rate_limit"`
	RateWindow    time.Duration `json:"-"`
	RateWindowStr string        `json:"rate_window"`

	CacheTTL    time.Duration `json:"-"`
	CacheTTLStr string        `json:"cache_ttl"`

	// SweepSchedule is a cron expression driving the periodic cache and
	// rate-window sweeps, e.g. "@every 1m".
	SweepSchedule string `json:"sweep_schedule"`

	// BreakerThreshold: 0 disables the circuit breaker.
	BreakerThreshold   int           `json:"breaker_threshold"`
	BreakerCooldown    time.Duration `json:"-"`
	BreakerCooldownStr string        `json:"breaker_cooldown"`

	RedisAddr             string        `json:"redis_addr,omitempty"`
	AnalyticsRetention    time.Duration `json:"-"`
	AnalyticsRetentionStr string        `json:"analytics_retention"`

	MetricsEnabled bool   `json:"metrics_enabled"`
	MetricsAddr    string `json:"metrics_addr"`
	MetricsPath    string `json:"metrics_path"`

	HTTPShutdownTimeout    time.Duration `json:"-"`
	HTTPShutdownTimeoutStr string        `json:"http_shutdown_timeout"`
}

// LoadServer reads server configuration from environment variables with
// defaults.
func LoadServer() ServerConfig {
	cfg := ServerConfig{
		HTTPAddr:               os.Getenv("HTTP_ADDR"),
		ShopDomain:             os.Getenv("SHOP_DOMAIN"),
		AdminAPIVersion:        os.Getenv("ADMIN_API_VERSION"),
		AdminAPIToken:          os.Getenv("ADMIN_API_TOKEN"),
		UpstreamTimeoutStr:     os.Getenv("UPSTREAM_TIMEOUT"),
		RateWindowStr:          os.Getenv("RATE_WINDOW"),
		CacheTTLStr:            os.Getenv("CACHE_TTL"),
		SweepSchedule:          os.Getenv("SWEEP_SCHEDULE"),
		BreakerCooldownStr:     os.Getenv("BREAKER_COOLDOWN"),
		RedisAddr:              os.Getenv("REDIS_ADDR"),
		AnalyticsRetentionStr:  os.Getenv("ANALYTICS_RETENTION"),
		MetricsEnabled:         os.Getenv("METRICS_ENABLED") == "true",
		MetricsAddr:            os.Getenv("METRICS_ADDR"),
		MetricsPath:            os.Getenv("METRICS_PATH"),
		HTTPShutdownTimeoutStr: os.Getenv("HTTP_SHUTDOWN_TIMEOUT"),
	}

	if limitStr := os.Getenv("RATE_LIMIT"); limitStr != "" {
		if n, err := parseInt(limitStr); err == nil && n > 0 {
			cfg.RateLimit = n
		} else {
			log.Printf("config: invalid RATE_LIMIT %q (must be a positive integer), using default 30", limitStr)
		}
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = 30
	}

	if threshStr := os.Getenv("BREAKER_THRESHOLD"); threshStr != "" {
		if n, err := parseInt(threshStr); err == nil {
			cfg.BreakerThreshold = n
		} else {
			log.Printf("config: invalid BREAKER_THRESHOLD %q, using default 5", threshStr)
		}
	}
	if cfg.BreakerThreshold == 0 && os.Getenv("BREAKER_THRESHOLD") == "" {
		cfg.BreakerThreshold = 5
	}

	// Support platform-provided PORT as fallback for HTTP_ADDR.
	if cfg.HTTPAddr == "" {
		if port := os.Getenv("PORT"); port != "" {
			cfg.HTTPAddr = ":" + port
		} else {
			cfg.HTTPAddr = ":8080"
		}
	}
	if cfg.AdminAPIVersion == "" {
		cfg.AdminAPIVersion = "2024-10"
	}
	if cfg.UpstreamTimeoutStr == "" {
		cfg.UpstreamTimeoutStr = "10s"
	}
	if cfg.RateWindowStr == "" {
		cfg.RateWindowStr = "60s"
	}
	if cfg.CacheTTLStr == "" {
		cfg.CacheTTLStr = "5m"
	}
	if cfg.SweepSchedule == "" {
		cfg.SweepSchedule = "@every 1m"
	}
	if cfg.BreakerCooldownStr == "" {
		cfg.BreakerCooldownStr = "2m"
	}
	if cfg.AnalyticsRetentionStr == "" {
		cfg.AnalyticsRetentionStr = "24h"
	}
	if cfg.MetricsAddr == "" {
		cfg.MetricsAddr = ":9090"
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}
	if cfg.HTTPShutdownTimeoutStr == "" {
		cfg.HTTPShutdownTimeoutStr = "10s"
	}

	// Parse durations; validation is handled separately by ValidateServer().
	if d, err := time.ParseDuration(cfg.UpstreamTimeoutStr); err == nil {
		cfg.UpstreamTimeout = d
	}
	if d, err := time.ParseDuration(cfg.RateWindowStr); err == nil {
		cfg.RateWindow = d
	}
	if d, err := time.ParseDuration(cfg.CacheTTLStr); err == nil {
		cfg.CacheTTL = d
	}
	if d, err := time.ParseDuration(cfg.BreakerCooldownStr); err == nil {
		cfg.BreakerCooldown = d
	}
	if d, err := time.ParseDuration(cfg.AnalyticsRetentionStr); err == nil {
		cfg.AnalyticsRetention = d
	}
	if d, err := time.ParseDuration(cfg.HTTPShutdownTimeoutStr); err == nil {
		cfg.HTTPShutdownTimeout = d
	}

	return cfg
}

// AdminEndpoint builds the admin GraphQL endpoint for the configured shop.
func (c ServerConfig) AdminEndpoint() string {
	return fmt.Sprintf("https://%s/admin/api/%s/graphql.json", c.ShopDomain, c.AdminAPIVersion)
}

// AgentConfig holds all configuration for the cart monitor agent.
type AgentConfig struct {
	StorefrontURL string `json:"storefront_url"`
	EngineURL     string `json:"engine_url"`
	WebsocketURL  string `json:"websocket_url,omitempty"`

	// PollInterval of 0 disables the poll observer.
	PollInterval    time.Duration `json:"-"`
	PollIntervalStr string        `json:"poll_interval"`

	CustomerID string `json:"customer_id,omitempty"`

	Debounce    time.Duration `json:"-"`
	DebounceStr string        `json:"debounce"`

	SessionTimeout    time.Duration `json:"-"`
	SessionTimeoutStr string        `json:"session_timeout"`

	ResultCacheTTL    time.Duration `json:"-"`
	ResultCacheTTLStr string        `json:"result_cache_ttl"`

	SweepInterval    time.Duration `json:"-"`
	SweepIntervalStr string        `json:"sweep_interval"`

	MaxAttempts     int           `json:"max_attempts"`
	RetryBackoff    time.Duration `json:"-"`
	RetryBackoffStr string        `json:"retry_backoff"`

	RequestTimeout    time.Duration `json:"-"`
	RequestTimeoutStr string        `json:"request_timeout"`

	EventBufferSize int `json:"event_buffer_size"`

	MetricsEnabled bool   `json:"metrics_enabled"`
	MetricsAddr    string `json:"metrics_addr"`
	MetricsPath    string `json:"metrics_path"`
}

// LoadAgent reads agent configuration from environment variables with
// defaults.
func LoadAgent() AgentConfig {
	cfg := AgentConfig{
		StorefrontURL:     os.Getenv("STOREFRONT_URL"),
		EngineURL:         os.Getenv("ENGINE_URL"),
		WebsocketURL:      os.Getenv("WEBSOCKET_URL"),
		PollIntervalStr:   os.Getenv("POLL_INTERVAL"),
		CustomerID:        os.Getenv("CUSTOMER_ID"),
		DebounceStr:       os.Getenv("DEBOUNCE"),
		SessionTimeoutStr: os.Getenv("SESSION_TIMEOUT"),
		ResultCacheTTLStr: os.Getenv("RESULT_CACHE_TTL"),
		SweepIntervalStr:  os.Getenv("SWEEP_INTERVAL"),
		RetryBackoffStr:   os.Getenv("RETRY_BACKOFF"),
		RequestTimeoutStr: os.Getenv("REQUEST_TIMEOUT"),
		MetricsEnabled:    os.Getenv("METRICS_ENABLED") == "true",
		MetricsAddr:       os.Getenv("METRICS_ADDR"),
		MetricsPath:       os.Getenv("METRICS_PATH"),
	}

	if attemptsStr := os.Getenv("MAX_ATTEMPTS"); attemptsStr != "" {
		if n, err := parseInt(attemptsStr); err == nil && n > 0 {
			cfg.MaxAttempts = n
		} else {
			log.Printf("config: invalid MAX_ATTEMPTS %q (must be a positive integer), using default 3", attemptsStr)
		}
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 3
	}

	if bufStr := os.Getenv("EVENT_BUFFER_SIZE"); bufStr != "" {
		if n, err := parseInt(bufStr); err == nil && n > 0 {
			cfg.EventBufferSize = n
		} else {
			log.Printf("config: invalid EVENT_BUFFER_SIZE %q (must be a positive integer), using default 100", bufStr)
		}
	}
	if cfg.EventBufferSize == 0 {
		cfg.EventBufferSize = 100
	}

	if cfg.PollIntervalStr == "" {
		cfg.PollIntervalStr = "0"
	}
	if cfg.DebounceStr == "" {
		cfg.DebounceStr = "500ms"
	}
	if cfg.SessionTimeoutStr == "" {
		cfg.SessionTimeoutStr = "30m"
	}
	if cfg.ResultCacheTTLStr == "" {
		cfg.ResultCacheTTLStr = "5m"
	}
	if cfg.SweepIntervalStr == "" {
		cfg.SweepIntervalStr = "60s"
	}
	if cfg.RetryBackoffStr == "" {
		cfg.RetryBackoffStr = "1s"
	}
	if cfg.RequestTimeoutStr == "" {
		cfg.RequestTimeoutStr = "10s"
	}
	if cfg.MetricsAddr == "" {
		cfg.MetricsAddr = ":9091"
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}

	// Parse durations; validation is handled separately by ValidateAgent().
	if d, err := time.ParseDuration(cfg.PollIntervalStr); err == nil {
		cfg.PollInterval = d
	}
	if d, err := time.ParseDuration(cfg.DebounceStr); err == nil {
		cfg.Debounce = d
	}
	if d, err := time.ParseDuration(cfg.SessionTimeoutStr); err == nil {
		cfg.SessionTimeout = d
	}
	if d, err := time.ParseDuration(cfg.ResultCacheTTLStr); err == nil {
		cfg.ResultCacheTTL = d
	}
	if d, err := time.ParseDuration(cfg.SweepIntervalStr); err == nil {
		cfg.SweepInterval = d
	}
	if d, err := time.ParseDuration(cfg.RetryBackoffStr); err == nil {
		cfg.RetryBackoff = d
	}
	if d, err := time.ParseDuration(cfg.RequestTimeoutStr); err == nil {
		cfg.RequestTimeout = d
	}

	return cfg
}

// parseInt parses a string as a non-negative integer.
func parseInt(s string) (int, error) {
	if s == "" {
		return 0, os.ErrInvalid
	}
	var n int
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, os.ErrInvalid
		}
		n = n*10 + int(c-'0')
	}
	return n, nil
}

// MaskedJSON returns the server configuration as JSON with secrets masked.
func (c ServerConfig) MaskedJSON() ([]byte, error) {
	masked := struct {
		HTTPAddr            string `json:"http_addr"`
		ShopDomain          string `json:"shop_domain"`
		AdminAPIVersion     string `json:"admin_api_version"`
		AdminAPIToken       string `json:"admin_api_token"`
		UpstreamTimeout     string `json:"upstream_timeout"`
		RateLimit           int    `json:"rate_limit"`
		RateWindow          string `json:"rate_window"`
		CacheTTL            string `json:"cache_ttl"`
		SweepSchedule       string `json:"sweep_schedule"`
		BreakerThreshold    int    `json:"breaker_threshold"`
		BreakerCooldown     string `json:"breaker_cooldown"`
		RedisAddr           string `json:"redis_addr,omitempty"`
		AnalyticsRetention  string `json:"analytics_retention"`
		MetricsEnabled      bool   `json:"metrics_enabled"`
		MetricsAddr         string `json:"metrics_addr"`
		MetricsPath         string `json:"metrics_path"`
		HTTPShutdownTimeout string `json:"http_shutdown_timeout"`
	}{
		HTTPAddr:            c.HTTPAddr,
		ShopDomain:          c.ShopDomain,
		AdminAPIVersion:     c.AdminAPIVersion,
		AdminAPIToken:       maskSecret(c.AdminAPIToken),
		UpstreamTimeout:     c.UpstreamTimeoutStr,
		RateLimit:           c.RateLimit,
		RateWindow:          c.RateWindowStr,
		CacheTTL:            c.CacheTTLStr,
		SweepSchedule:       c.SweepSchedule,
		BreakerThreshold:    c.BreakerThreshold,
		BreakerCooldown:     c.BreakerCooldownStr,
		RedisAddr:           c.RedisAddr,
		AnalyticsRetention:  c.AnalyticsRetentionStr,
		MetricsEnabled:      c.MetricsEnabled,
		MetricsAddr:         c.MetricsAddr,
		MetricsPath:         c.MetricsPath,
		HTTPShutdownTimeout: c.HTTPShutdownTimeoutStr,
	}
	return json.MarshalIndent(masked, "", "  ")
}

// MaskedJSON returns the agent configuration as JSON.
func (c AgentConfig) MaskedJSON() ([]byte, error) {
	masked := struct {
		StorefrontURL   string `json:"storefront_url"`
		EngineURL       string `json:"engine_url"`
		WebsocketURL    string `json:"websocket_url,omitempty"`
		PollInterval    string `json:"poll_interval"`
		CustomerID      string `json:"customer_id,omitempty"`
		Debounce        string `json:"debounce"`
		SessionTimeout  string `json:"session_timeout"`
		ResultCacheTTL  string `json:"result_cache_ttl"`
		SweepInterval   string `json:"sweep_interval"`
		MaxAttempts     int    `json:"max_attempts"`
		RetryBackoff    string `json:"retry_backoff"`
		RequestTimeout  string `json:"request_timeout"`
		EventBufferSize int    `json:"event_buffer_size"`
		MetricsEnabled  bool   `json:"metrics_enabled"`
		MetricsAddr     string `json:"metrics_addr"`
		MetricsPath     string `json:"metrics_path"`
	}{
		StorefrontURL:   c.StorefrontURL,
		EngineURL:       c.EngineURL,
		WebsocketURL:    c.WebsocketURL,
		PollInterval:    c.PollIntervalStr,
		CustomerID:      c.CustomerID,
		Debounce:        c.DebounceStr,
		SessionTimeout:  c.SessionTimeoutStr,
		ResultCacheTTL:  c.ResultCacheTTLStr,
		SweepInterval:   c.SweepIntervalStr,
		MaxAttempts:     c.MaxAttempts,
		RetryBackoff:    c.RetryBackoffStr,
		RequestTimeout:  c.RequestTimeoutStr,
		EventBufferSize: c.EventBufferSize,
		MetricsEnabled:  c.MetricsEnabled,
		MetricsAddr:     c.MetricsAddr,
		MetricsPath:     c.MetricsPath,
	}
	return json.MarshalIndent(masked, "", "  ")
}

func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	return "***"
}
