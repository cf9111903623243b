package constants

// Default server and retry configuration values
const (
	DefaultRetryBackoffMs = 1000
	DefaultMaxBackoffMs   = 60000
	DefaultMaxAttempts    = 5
	DefaultRetentionDays  = 30
	DefaultServerPort     = 8082
)

// Default timeout values
const (
	DefaultHTTPTimeoutSec        = 30
	DefaultAITimeoutSec          = 60
	DefaultDatabaseRetryAttempts = 3
	DefaultGracefulShutdownSec   = 30
	DefaultServerReadTimeoutSec  = 15
	DefaultServerWriteTimeoutSec = 15
	DefaultServerIdleTimeoutSec  = 60
	DefaultHandlerTimeoutSec     = 120
	DefaultMaxRequestBodyBytes   = 1 << 20
)

// Conversation engine defaults
const (
	DefaultDedupTTLSec       = 600
	DefaultPendingTTLMin     = 30
	DefaultMaxToolRounds     = 3
	DefaultTenantID          = "default"
	DefaultTimezone          = "Asia/Tokyo"
	DefaultMeetingMinutes    = 60
	DefaultReminderLeadMin   = 15
	DefaultSearchResultCount = 5
)

// Scheduler intervals
const (
	DefaultReminderIntervalSec  = 60
	DefaultRecurringIntervalSec = 60
	DefaultNudgeIntervalSec     = 900
	DefaultCleanupIntervalHours = 24
)

// Circuit breaker defaults for outbound AI calls
const (
	DefaultBreakerFailures   = 5
	DefaultBreakerTimeoutSec = 30
)

// Rate limiting for the webhook endpoint, per chat
const (
	DefaultRateLimitPerMinute = 60
	DefaultRateLimitBurst     = 20
)

// Privacy settings
const DefaultUserIDMaskLength = 4

// EncryptionSalt derives the at-rest field encryption key.
const EncryptionSalt = "chatflow-field-encryption-v1"
