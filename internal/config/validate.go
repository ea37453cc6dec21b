package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/robfig/cron/v3"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	msg := fmt.Sprintf("%d validation errors:", len(e))
	for _, err := range e {
		msg += "\n  - " + err.Error()
	}
	return msg
}

func checkDuration(errs ValidationErrors, field, value string, requirePositive bool) ValidationErrors {
	if value == "" {
		return errs
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return append(errs, ValidationError{
			Field:   field,
			Message: fmt.Sprintf("invalid duration: %v", err),
		})
	}
	if requirePositive && d <= 0 {
		return append(errs, ValidationError{
			Field:   field,
			Message: "must be positive",
		})
	}
	return errs
}

// ValidateServer checks the server configuration for errors.
// Returns nil if valid, or ValidationErrors if invalid.
func ValidateServer(cfg ServerConfig) error {
	var errs ValidationErrors

	if cfg.ShopDomain == "" {
		errs = append(errs, ValidationError{Field: "SHOP_DOMAIN", Message: "required"})
	}
	if cfg.AdminAPIToken == "" {
		errs = append(errs, ValidationError{Field: "ADMIN_API_TOKEN", Message: "required"})
	}
	if cfg.RateLimit <= 0 {
		errs = append(errs, ValidationError{Field: "RATE_LIMIT", Message: "must be positive"})
	}

	errs = checkDuration(errs, "UPSTREAM_TIMEOUT", cfg.UpstreamTimeoutStr, true)
	errs = checkDuration(errs, "RATE_WINDOW", cfg.RateWindowStr, true)
	errs = checkDuration(errs, "CACHE_TTL", cfg.CacheTTLStr, true)
	errs = checkDuration(errs, "BREAKER_COOLDOWN", cfg.BreakerCooldownStr, true)
	errs = checkDuration(errs, "ANALYTICS_RETENTION", cfg.AnalyticsRetentionStr, true)
	errs = checkDuration(errs, "HTTP_SHUTDOWN_TIMEOUT", cfg.HTTPShutdownTimeoutStr, true)

	if cfg.SweepSchedule != "" {
		if _, err := cron.ParseStandard(cfg.SweepSchedule); err != nil {
			errs = append(errs, ValidationError{
				Field:   "SWEEP_SCHEDULE",
				Message: fmt.Sprintf("invalid cron expression: %v", err),
			})
		}
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// ValidateAgent checks the agent configuration for errors.
// Returns nil if valid, or ValidationErrors if invalid.
func ValidateAgent(cfg AgentConfig) error {
	var errs ValidationErrors

	errs = checkURL(errs, "STOREFRONT_URL", cfg.StorefrontURL, true, "http", "https")
	errs = checkURL(errs, "ENGINE_URL", cfg.EngineURL, true, "http", "https")
	errs = checkURL(errs, "WEBSOCKET_URL", cfg.WebsocketURL, false, "ws", "wss")

	errs = checkDuration(errs, "POLL_INTERVAL", cfg.PollIntervalStr, false)
	errs = checkDuration(errs, "DEBOUNCE", cfg.DebounceStr, true)
	errs = checkDuration(errs, "SESSION_TIMEOUT", cfg.SessionTimeoutStr, true)
	errs = checkDuration(errs, "RESULT_CACHE_TTL", cfg.ResultCacheTTLStr, true)
	errs = checkDuration(errs, "SWEEP_INTERVAL", cfg.SweepIntervalStr, true)
	errs = checkDuration(errs, "RETRY_BACKOFF", cfg.RetryBackoffStr, true)
	errs = checkDuration(errs, "REQUEST_TIMEOUT", cfg.RequestTimeoutStr, true)

	// The monitor needs at least one trigger source.
	if cfg.WebsocketURL == "" && cfg.PollInterval <= 0 {
		errs = append(errs, ValidationError{
			Field:   "WEBSOCKET_URL",
			Message: "set WEBSOCKET_URL or a positive POLL_INTERVAL",
		})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func checkURL(errs ValidationErrors, field, value string, required bool, schemes ...string) ValidationErrors {
	if value == "" {
		if required {
			errs = append(errs, ValidationError{Field: field, Message: "required"})
		}
		return errs
	}
	u, err := url.Parse(value)
	if err != nil {
		return append(errs, ValidationError{
			Field:   field,
			Message: fmt.Sprintf("invalid url: %v", err),
		})
	}
	for _, scheme := range schemes {
		if u.Scheme == scheme {
			return errs
		}
	}
	return append(errs, ValidationError{
		Field:   field,
		Message: fmt.Sprintf("scheme must be one of %v, got %q", schemes, u.Scheme),
	})
}
