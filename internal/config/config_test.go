package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"chatflow/internal/constants"
	"chatflow/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalConfig = `{
	"telegram": {"bot_token": "123:abc"},
	"database": {"path": "data/chatflow.db"}
}`

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

// clearEnv unsets every override so the host environment cannot leak in.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"TELEGRAM_BOT_TOKEN", "CHATFLOW_WEBHOOK_SECRET", "CHATFLOW_WEBHOOK_URL", "AI_API_KEY", "SEARCH_API_KEY",
		"CALENDAR_ACCESS_TOKEN", "REDIS_URL", "DB_PATH", "CHATFLOW_ENV",
	} {
		t.Setenv(k, "")
	}
}

func TestLoadConfig(t *testing.T) {
	tmpDir := t.TempDir()

	fullConfig := `{
		"server": {"port": 9000},
		"telegram": {
			"api_base_url": "https://telegram.example.com",
			"bot_token": "123:abc",
			"webhook_secret": "secret123"
		},
		"database": {"path": "/var/lib/chatflow/chatflow.db"},
		"redis": {"url": "redis://localhost:6379/0"},
		"ai": {"provider": "Gemini", "model": "gemini-2.5-flash", "temperature": 0.4},
		"engine": {"botUsername": "@flowbot", "pendingTtlMin": 10},
		"scheduler": {"nudgeIntervalSec": 300},
		"retentionDays": 14,
		"timezone": "Asia/Tokyo",
		"defaultTenantId": "acme"
	}`

	tests := []struct {
		name      string
		content   string
		setEnv    map[string]string
		wantError string
		validate  func(*testing.T, *models.Config)
	}{
		{
			name:    "full config",
			content: fullConfig,
			validate: func(t *testing.T, c *models.Config) {
				assert.Equal(t, 9000, c.Server.Port)
				assert.Equal(t, "https://telegram.example.com", c.Telegram.APIBaseURL)
				assert.Equal(t, "secret123", c.Telegram.WebhookSecret)
				assert.Equal(t, "gemini", c.AI.Provider)
				assert.Equal(t, 0.4, c.AI.Temperature)
				assert.Equal(t, "flowbot", c.Engine.BotUsername)
				assert.Equal(t, 10, c.Engine.PendingTTLMin)
				assert.Equal(t, 300, c.Scheduler.NudgeIntervalSec)
				assert.Equal(t, 14, c.RetentionDays)
				assert.Equal(t, "acme", c.DefaultTenantID)
				assert.Equal(t, "chatflow:dedup:", c.Redis.KeyPrefix)
			},
		},
		{
			name:    "defaults applied",
			content: minimalConfig,
			validate: func(t *testing.T, c *models.Config) {
				assert.Equal(t, constants.DefaultServerPort, c.Server.Port)
				assert.Equal(t, "https://api.telegram.org", c.Telegram.APIBaseURL)
				assert.Equal(t, constants.DefaultTimezone, c.Timezone)
				assert.Equal(t, constants.DefaultTenantID, c.DefaultTenantID)
				assert.Equal(t, constants.DefaultRetentionDays, c.RetentionDays)
				assert.Equal(t, "openai", c.AI.Provider)
				assert.Equal(t, constants.DefaultBreakerFailures, c.AI.BreakerFailures)
				assert.Equal(t, constants.DefaultDedupTTLSec, c.Engine.DedupTTLSec)
				assert.Equal(t, constants.DefaultMaxToolRounds, c.Engine.MaxToolRounds)
				assert.Equal(t, constants.DefaultReminderIntervalSec, c.Scheduler.ReminderIntervalSec)
				assert.Equal(t, constants.DefaultCleanupIntervalHours, c.Scheduler.CleanupIntervalHours)
				assert.Equal(t, constants.DefaultMaxAttempts, c.Retry.MaxAttempts)
				assert.Equal(t, constants.DefaultRateLimitPerMinute, c.RateLimit.RequestsPerMinute)
				assert.Empty(t, c.Redis.KeyPrefix)
			},
		},
		{
			name:    "environment overrides",
			content: minimalConfig,
			setEnv: map[string]string{
				"TELEGRAM_BOT_TOKEN":      "999:env",
				"CHATFLOW_WEBHOOK_SECRET": "env-secret",
				"AI_API_KEY":              "sk-env",
				"REDIS_URL":               "redis://cache:6379/1",
				"DB_PATH":                 "/tmp/env.db",
			},
			validate: func(t *testing.T, c *models.Config) {
				assert.Equal(t, "999:env", c.Telegram.BotToken)
				assert.Equal(t, "env-secret", c.Telegram.WebhookSecret)
				assert.Equal(t, "sk-env", c.AI.APIKey)
				assert.Equal(t, "redis://cache:6379/1", c.Redis.URL)
				assert.Equal(t, "/tmp/env.db", c.Database.Path)
			},
		},
		{
			name:    "token only from environment",
			content: `{"database": {"path": "chatflow.db"}}`,
			setEnv:  map[string]string{"TELEGRAM_BOT_TOKEN": "1:env"},
			validate: func(t *testing.T, c *models.Config) {
				assert.Equal(t, "1:env", c.Telegram.BotToken)
			},
		},
		{
			name:      "missing bot token",
			content:   `{"database": {"path": "chatflow.db"}}`,
			wantError: ErrMissingBotToken.Message,
		},
		{
			name:      "missing database path",
			content:   `{"telegram": {"bot_token": "1:a"}}`,
			wantError: ErrMissingDBPath.Message,
		},
		{
			name:      "database path traversal",
			content:   `{"telegram": {"bot_token": "1:a"}, "database": {"path": "../../etc/db"}}`,
			wantError: "invalid database path",
		},
		{
			name:      "unknown timezone",
			content:   `{"telegram": {"bot_token": "1:a"}, "database": {"path": "a.db"}, "timezone": "Mars/Olympus"}`,
			wantError: "unknown timezone",
		},
		{
			name:      "temperature out of range",
			content:   `{"telegram": {"bot_token": "1:a"}, "database": {"path": "a.db"}, "ai": {"temperature": 3}}`,
			wantError: "ai.temperature",
		},
		{
			name:      "inverted backoff",
			content:   `{"telegram": {"bot_token": "1:a"}, "database": {"path": "a.db"}, "retry": {"initialBackoffMs": 5000, "maxBackoffMs": 100}}`,
			wantError: "retry.initialBackoffMs",
		},
		{
			name:      "invalid tenant id",
			content:   `{"telegram": {"bot_token": "1:a"}, "database": {"path": "a.db"}, "defaultTenantId": "acme corp"}`,
			wantError: "tenant ID must contain only",
		},
		{
			name:      "retention too long",
			content:   `{"telegram": {"bot_token": "1:a"}, "database": {"path": "a.db"}, "retentionDays": 5000}`,
			wantError: "retention days too large",
		},
		{
			name:      "too many tool rounds",
			content:   `{"telegram": {"bot_token": "1:a"}, "database": {"path": "a.db"}, "engine": {"maxToolRounds": 50}}`,
			wantError: "engine.maxToolRounds too large",
		},
		{
			name:      "malformed json",
			content:   `{"telegram": `,
			wantError: "unexpected end of JSON input",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.setEnv {
				t.Setenv(k, v)
			}
			path := writeConfig(t, tmpDir, tt.content)

			config, err := LoadConfig(path)
			if tt.wantError != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantError)
				return
			}
			require.NoError(t, err)
			tt.validate(t, config)
		})
	}
}

func TestLoadConfig_Tenants(t *testing.T) {
	clearEnv(t)
	tenants := func(list string) string {
		return `{
			"telegram": {"bot_token": "123:abc"},
			"database": {"path": "data/chatflow.db"},
			"timezone": "Asia/Tokyo",
			"tenants": ` + list + `
		}`
	}

	cfg, err := LoadConfig(writeConfig(t, t.TempDir(), tenants(`[
		{"tenantId": "acme", "webSearchEnabled": true},
		{"tenantId": "nyc", "timezone": "America/New_York", "meetingDurationMinutes": 30}
	]`)))
	require.NoError(t, err)
	require.Len(t, cfg.Tenants, 2)
	assert.Equal(t, "Asia/Tokyo", cfg.Tenants[0].Timezone)
	assert.Equal(t, constants.DefaultReminderLeadMin, cfg.Tenants[0].ReminderLeadMinutes)
	assert.Equal(t, constants.DefaultMeetingMinutes, cfg.Tenants[0].MeetingDurationMinutes)
	assert.Equal(t, 30, cfg.Tenants[1].MeetingDurationMinutes)

	_, err = LoadConfig(writeConfig(t, t.TempDir(), tenants(`[{"tenantId": "bad id"}]`)))
	assert.ErrorContains(t, err, "tenants[0]")

	_, err = LoadConfig(writeConfig(t, t.TempDir(), tenants(`[{"tenantId": "a"}, {"tenantId": "a"}]`)))
	assert.ErrorContains(t, err, "duplicate tenant")

	_, err = LoadConfig(writeConfig(t, t.TempDir(), tenants(`[{"tenantId": "a", "timezone": "Mars/Olympus"}]`)))
	assert.ErrorContains(t, err, "unknown timezone")
}

func TestLoadConfig_InvalidPath(t *testing.T) {
	_, err := LoadConfig("../../etc/passwd")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid config path")

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestValidateSecurity(t *testing.T) {
	strong := strings.Repeat("s", MinWebhookSecretLength)

	tests := []struct {
		name      string
		env       string
		secret    string
		logLevel  string
		wantError string
	}{
		{name: "development without secret", env: "development"},
		{name: "production with strong secret", env: "production", secret: strong},
		{name: "production without secret", env: "production", wantError: "required in production"},
		{name: "production with short secret", env: "production", secret: "short", wantError: "at least 32"},
		{name: "production with debug logging", env: "production", secret: strong, logLevel: "debug", wantError: "debug logging"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("CHATFLOW_ENV", tt.env)
			c := &models.Config{LogLevel: tt.logLevel}
			c.Telegram.WebhookSecret = tt.secret

			err := validateSecurity(c)
			if tt.wantError != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantError)
				return
			}
			assert.NoError(t, err)
		})
	}
}
