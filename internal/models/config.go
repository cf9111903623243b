package models

// Config holds the application configuration
type Config struct {
	Server          ServerConfig     `json:"server"`
	Telegram        TelegramConfig   `json:"telegram"`
	Database        DatabaseConfig   `json:"database"`
	Redis           RedisConfig      `json:"redis"`
	AI              AIConfig         `json:"ai"`
	Search          SearchConfig     `json:"search"`
	Calendar        CalendarConfig   `json:"calendar"`
	Engine          EngineConfig     `json:"engine"`
	Scheduler       SchedulerConfig  `json:"scheduler"`
	Tracing         TracingConfig    `json:"tracing"`
	Retry           RetryConfig      `json:"retry"`
	RateLimit       RateLimitConfig  `json:"rateLimit"`
	Features        FeaturesConfig   `json:"features"`
	LogLevel        string           `json:"log_level"`
	RetentionDays   int              `json:"retentionDays"`
	Timezone        string           `json:"timezone"`
	DefaultTenantID string           `json:"defaultTenantId"`
	Tenants         []TenantSettings `json:"tenants"`
}

// ServerConfig holds HTTP ingress settings
type ServerConfig struct {
	Port               int   `json:"port"`
	ReadTimeoutSec     int   `json:"readTimeoutSec"`
	WriteTimeoutSec    int   `json:"writeTimeoutSec"`
	IdleTimeoutSec     int   `json:"idleTimeoutSec"`
	MaxRequestBodyByte int64 `json:"maxRequestBodyBytes"`

	// TrustProxy reads the client address from X-Forwarded-For.
	TrustProxy bool `json:"trustProxy"`
}

// TelegramConfig holds Bot API settings
type TelegramConfig struct {
	APIBaseURL    string `json:"api_base_url"`
	BotToken      string `json:"bot_token"`
	WebhookSecret string `json:"webhook_secret"`

	// WebhookURL, when set, is registered with setWebhook on startup.
	WebhookURL string `json:"webhook_url"`
	TimeoutSec int    `json:"timeoutSec"`
	RetryCount int    `json:"retry_count"`
}

// DatabaseConfig holds database related configurations
type DatabaseConfig struct {
	Path string `json:"path"`
}

// RedisConfig enables the shared de-duplication store when URL is set
type RedisConfig struct {
	URL       string `json:"url"`
	KeyPrefix string `json:"keyPrefix"`
}

// AIConfig selects the text-generation backend
type AIConfig struct {
	Provider          string  `json:"provider"`
	Model             string  `json:"model"`
	ImageModel        string  `json:"imageModel"`
	BaseURL           string  `json:"baseUrl"`
	APIKey            string  `json:"apiKey"`
	Temperature       float64 `json:"temperature"`
	MaxTokens         int     `json:"maxTokens"`
	TimeoutSec        int     `json:"timeoutSec"`
	BreakerFailures   int     `json:"breakerFailures"`
	BreakerTimeoutSec int     `json:"breakerTimeoutSec"`
}

// SearchConfig configures the optional web-search augmenter
type SearchConfig struct {
	BaseURL string `json:"baseUrl"`
	APIKey  string `json:"apiKey"`
	Count   int    `json:"count"`
}

// CalendarConfig configures the calendar collaborator
type CalendarConfig struct {
	BaseURL     string `json:"baseUrl"`
	AccessToken string `json:"accessToken"`
}

// EngineConfig tunes the conversation engine
type EngineConfig struct {
	DedupTTLSec       int    `json:"dedupTtlSec"`
	PendingTTLMin     int    `json:"pendingTtlMin"`
	MaxToolRounds     int    `json:"maxToolRounds"`
	BotUsername       string `json:"botUsername"`
	HandlerTimeoutSec int    `json:"handlerTimeoutSec"`
}

// SchedulerConfig holds poll intervals for the time-driven workers
type SchedulerConfig struct {
	ReminderIntervalSec  int `json:"reminderIntervalSec"`
	RecurringIntervalSec int `json:"recurringIntervalSec"`
	NudgeIntervalSec     int `json:"nudgeIntervalSec"`
	CleanupIntervalHours int `json:"cleanupIntervalHours"`
}

// TracingConfig configures span export. Unset fields get tracing.Defaults.
type TracingConfig struct {
	ServiceName    string  `json:"service_name"`
	ServiceVersion string  `json:"service_version"`
	Environment    string  `json:"environment"`
	OTLPEndpoint   string  `json:"otlp_endpoint"`
	SampleRate     float64 `json:"sample_rate"`
	Enabled        bool    `json:"enabled"`
	UseStdout      bool    `json:"use_stdout"`
}

// RetryConfig holds retry related configurations
type RetryConfig struct {
	InitialBackoffMs int `json:"initialBackoffMs"`
	MaxBackoffMs     int `json:"maxBackoffMs"`
	MaxAttempts      int `json:"maxAttempts"`
}

// RateLimitConfig bounds webhook deliveries per client
type RateLimitConfig struct {
	RequestsPerMinute int `json:"requestsPerMinute"`
	Burst             int `json:"burst"`
}

// FeaturesConfig toggles optional capabilities by flag name
type FeaturesConfig struct {
	Flags       map[string]bool `json:"flags"`
	Percentages map[string]int  `json:"percentages"`
	DisableAll  bool            `json:"disable_all"`
}

type ConfigError struct {
	Message string
}

func (e ConfigError) Error() string {
	return e.Message
}
