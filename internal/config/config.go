package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"chatflow/internal/constants"
	"chatflow/internal/models"
	"chatflow/internal/security"
	"chatflow/internal/timeparse"
	"chatflow/internal/validation"
)

var (
	ErrMissingBotToken = models.ConfigError{Message: "missing Telegram bot token"}
	ErrMissingDBPath   = models.ConfigError{Message: "missing database path"}
	ErrUnknownTimezone = models.ConfigError{Message: "unknown timezone"}
)

// MinWebhookSecretLength is enforced in production.
const MinWebhookSecretLength = 32

func LoadConfig(path string) (*models.Config, error) {
	if err := security.ValidateFilePath(path); err != nil {
		return nil, fmt.Errorf("invalid config path: %w", err)
	}

	file, err := os.ReadFile(path) // #nosec G304 - Path validated by security.ValidateFilePath above
	if err != nil {
		return nil, err
	}

	var config models.Config
	if err := json.Unmarshal(file, &config); err != nil {
		return nil, err
	}

	applyEnvironmentOverrides(&config)

	if err := validate(&config); err != nil {
		return nil, err
	}

	if err := validateSecurity(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func validate(c *models.Config) error {
	if c.Telegram.BotToken == "" {
		return ErrMissingBotToken
	}
	if c.Database.Path == "" {
		return ErrMissingDBPath
	}
	if err := security.ValidateFilePath(c.Database.Path); err != nil {
		return models.ConfigError{Message: fmt.Sprintf("invalid database path: %v", err)}
	}

	if c.Timezone == "" {
		c.Timezone = constants.DefaultTimezone
	}
	if !timeparse.IsSupportedZone(c.Timezone) {
		return models.ConfigError{Message: fmt.Sprintf("%s: %s", ErrUnknownTimezone.Message, c.Timezone)}
	}
	if c.DefaultTenantID == "" {
		c.DefaultTenantID = constants.DefaultTenantID
	}
	if c.RetentionDays <= 0 {
		c.RetentionDays = constants.DefaultRetentionDays
	}

	applyServerDefaults(&c.Server)
	if c.Telegram.APIBaseURL == "" {
		c.Telegram.APIBaseURL = "https://api.telegram.org"
	}
	if c.Telegram.TimeoutSec <= 0 {
		c.Telegram.TimeoutSec = constants.DefaultHTTPTimeoutSec
	}

	if err := applyAIDefaults(&c.AI); err != nil {
		return err
	}
	if c.Search.Count <= 0 {
		c.Search.Count = constants.DefaultSearchResultCount
	}

	e := &c.Engine
	if e.DedupTTLSec <= 0 {
		e.DedupTTLSec = constants.DefaultDedupTTLSec
	}
	if e.PendingTTLMin <= 0 {
		e.PendingTTLMin = constants.DefaultPendingTTLMin
	}
	if e.MaxToolRounds <= 0 {
		e.MaxToolRounds = constants.DefaultMaxToolRounds
	}
	if e.HandlerTimeoutSec <= 0 {
		e.HandlerTimeoutSec = constants.DefaultHandlerTimeoutSec
	}
	e.BotUsername = strings.TrimPrefix(e.BotUsername, "@")

	s := &c.Scheduler
	if s.ReminderIntervalSec <= 0 {
		s.ReminderIntervalSec = constants.DefaultReminderIntervalSec
	}
	if s.RecurringIntervalSec <= 0 {
		s.RecurringIntervalSec = constants.DefaultRecurringIntervalSec
	}
	if s.NudgeIntervalSec <= 0 {
		s.NudgeIntervalSec = constants.DefaultNudgeIntervalSec
	}
	if s.CleanupIntervalHours <= 0 {
		s.CleanupIntervalHours = constants.DefaultCleanupIntervalHours
	}

	if c.Retry.InitialBackoffMs <= 0 {
		c.Retry.InitialBackoffMs = constants.DefaultRetryBackoffMs
	}
	if c.Retry.MaxBackoffMs <= 0 {
		c.Retry.MaxBackoffMs = constants.DefaultMaxBackoffMs
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry.MaxAttempts = constants.DefaultMaxAttempts
	}
	if c.Retry.InitialBackoffMs > c.Retry.MaxBackoffMs {
		return models.ConfigError{Message: "retry.initialBackoffMs must not exceed retry.maxBackoffMs"}
	}

	if c.RateLimit.RequestsPerMinute <= 0 {
		c.RateLimit.RequestsPerMinute = constants.DefaultRateLimitPerMinute
	}
	if c.RateLimit.Burst <= 0 {
		c.RateLimit.Burst = constants.DefaultRateLimitBurst
	}

	if c.Redis.URL != "" && c.Redis.KeyPrefix == "" {
		c.Redis.KeyPrefix = "chatflow:dedup:"
	}
	if err := validateTenants(c); err != nil {
		return err
	}
	return validateRanges(c)
}

// validateTenants fills unset tenant fields from the global defaults.
func validateTenants(c *models.Config) error {
	seen := make(map[string]bool, len(c.Tenants))
	for i := range c.Tenants {
		t := &c.Tenants[i]
		if err := validation.ValidateTenantID(t.TenantID); err != nil {
			return models.ConfigError{Message: fmt.Sprintf("tenants[%d]: %v", i, err)}
		}
		if seen[t.TenantID] {
			return models.ConfigError{Message: fmt.Sprintf("tenants[%d]: duplicate tenant %s", i, t.TenantID)}
		}
		seen[t.TenantID] = true

		if t.Timezone == "" {
			t.Timezone = c.Timezone
		}
		if !timeparse.IsSupportedZone(t.Timezone) {
			return models.ConfigError{Message: fmt.Sprintf("tenants[%d]: %s: %s", i, ErrUnknownTimezone.Message, t.Timezone)}
		}
		if t.ReminderLeadMinutes <= 0 {
			t.ReminderLeadMinutes = constants.DefaultReminderLeadMin
		}
		if t.MeetingDurationMinutes <= 0 {
			t.MeetingDurationMinutes = constants.DefaultMeetingMinutes
		}
	}
	return nil
}

func validateRanges(c *models.Config) error {
	checks := []error{
		validation.ValidateTenantID(c.DefaultTenantID),
		validation.ValidateRetentionDays(c.RetentionDays),
		validation.ValidateTimeout(c.Telegram.TimeoutSec, "telegram.timeoutSec"),
		validation.ValidateTimeout(c.AI.TimeoutSec, "ai.timeoutSec"),
		validation.ValidateTimeout(c.Engine.HandlerTimeoutSec, "engine.handlerTimeoutSec"),
		validation.ValidateNumericRange(c.Engine.MaxToolRounds, "engine.maxToolRounds", 1, 10),
		validation.ValidateNumericRange(c.Server.Port, "server.port", 1, 65535),
	}
	for _, err := range checks {
		if err != nil {
			return models.ConfigError{Message: err.Error()}
		}
	}
	return nil
}

func applyServerDefaults(s *models.ServerConfig) {
	if s.Port <= 0 {
		s.Port = constants.DefaultServerPort
	}
	if s.ReadTimeoutSec <= 0 {
		s.ReadTimeoutSec = constants.DefaultServerReadTimeoutSec
	}
	if s.WriteTimeoutSec <= 0 {
		s.WriteTimeoutSec = constants.DefaultServerWriteTimeoutSec
	}
	if s.IdleTimeoutSec <= 0 {
		s.IdleTimeoutSec = constants.DefaultServerIdleTimeoutSec
	}
	if s.MaxRequestBodyByte <= 0 {
		s.MaxRequestBodyByte = constants.DefaultMaxRequestBodyBytes
	}
}

func applyAIDefaults(a *models.AIConfig) error {
	if a.Provider == "" {
		a.Provider = "openai"
	}
	a.Provider = strings.ToLower(a.Provider)
	if a.Temperature < 0 || a.Temperature > 2 {
		return models.ConfigError{Message: fmt.Sprintf("ai.temperature must be between 0 and 2, got %v", a.Temperature)}
	}
	if a.TimeoutSec <= 0 {
		a.TimeoutSec = constants.DefaultAITimeoutSec
	}
	if a.BreakerFailures <= 0 {
		a.BreakerFailures = constants.DefaultBreakerFailures
	}
	if a.BreakerTimeoutSec <= 0 {
		a.BreakerTimeoutSec = constants.DefaultBreakerTimeoutSec
	}
	return nil
}

func applyEnvironmentOverrides(c *models.Config) {
	// SECURITY: tokens and secrets should be set via environment variables
	if token := os.Getenv("TELEGRAM_BOT_TOKEN"); token != "" {
		c.Telegram.BotToken = token
	}
	if secret := os.Getenv("CHATFLOW_WEBHOOK_SECRET"); secret != "" {
		c.Telegram.WebhookSecret = secret
	}
	if url := os.Getenv("CHATFLOW_WEBHOOK_URL"); url != "" {
		c.Telegram.WebhookURL = url
	}
	if key := os.Getenv("AI_API_KEY"); key != "" {
		c.AI.APIKey = key
	}
	if key := os.Getenv("SEARCH_API_KEY"); key != "" {
		c.Search.APIKey = key
	}
	if token := os.Getenv("CALENDAR_ACCESS_TOKEN"); token != "" {
		c.Calendar.AccessToken = token
	}
	if url := os.Getenv("REDIS_URL"); url != "" {
		c.Redis.URL = url
	}
	if path := os.Getenv("DB_PATH"); path != "" {
		c.Database.Path = path
	}
}

// validateSecurity performs security-specific validation
func validateSecurity(c *models.Config) error {
	isProduction := os.Getenv("CHATFLOW_ENV") == "production"

	if isProduction {
		if c.Telegram.WebhookSecret == "" {
			return models.ConfigError{Message: "webhook secret is required in production (set CHATFLOW_WEBHOOK_SECRET environment variable)"}
		}
		if len(c.Telegram.WebhookSecret) < MinWebhookSecretLength {
			return models.ConfigError{Message: fmt.Sprintf("webhook secret must be at least %d characters long", MinWebhookSecretLength)}
		}
		if c.LogLevel == "debug" {
			return models.ConfigError{Message: "debug logging should not be used in production (security risk)"}
		}
	} else if c.Telegram.WebhookSecret == "" {
		fmt.Fprintf(os.Stderr, "WARNING: webhook secret not set. Set CHATFLOW_WEBHOOK_SECRET environment variable for security.\n")
	}

	return nil
}
