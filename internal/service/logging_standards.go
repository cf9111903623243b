package service

// Logging Standards for chatflow
//
// This file defines standard field names, log levels, and patterns
// to ensure consistent logging across the application.

// Standard Field Names
// Use these exact field names for consistency across all logging calls
const (
	// Core identifiers
	LogFieldMessageID = "message_id"
	LogFieldChatID    = "chat_id"
	LogFieldUserID    = "user_id"
	LogFieldTenantID  = "tenant_id"
	LogFieldChatType  = "chat_type"

	// Domain objects
	LogFieldTaskID      = "task_id"
	LogFieldMeetingID   = "meeting_id"
	LogFieldDraftID     = "draft_id"
	LogFieldReminderID  = "reminder_id"
	LogFieldRecurringID = "recurring_task_id"

	// Service and operation fields
	LogFieldService   = "service"
	LogFieldOperation = "operation"
	LogFieldComponent = "component"
	LogFieldTrigger   = "trigger"

	// Message and event fields
	LogFieldEventKind = "event_kind"
	LogFieldCallback  = "callback"
	LogFieldPending   = "pending"
	LogFieldText      = "text"

	// HTTP ingress
	LogFieldRequestID  = "request_id"
	LogFieldTraceID    = "trace_id"
	LogFieldMethod     = "method"
	LogFieldURL        = "url"
	LogFieldRemoteIP   = "remote_ip"
	LogFieldUserAgent  = "user_agent"
	LogFieldStatusCode = "status_code"
	LogFieldSize       = "response_size"

	// Performance and metrics
	LogFieldDuration = "duration_ms"
	LogFieldCount    = "count"
	LogFieldFailed   = "failed"

	// Scheduling
	LogFieldDueAt      = "due_at"
	LogFieldNextAt     = "next_at"
	LogFieldNudgeLevel = "nudge_level"

	// Error and debugging
	LogFieldErrorCode = "error_code"
	LogFieldProvider  = "provider"
	LogFieldRound     = "round"
)

// Log Level Usage Guidelines
//
// DEBUG: Detailed information for diagnosing problems. Only use in development or verbose mode.
//   - Trigger classification decisions
//   - Pending state transitions
//   - Duplicate deliveries absorbed
//
// INFO: General information about application flow and key events.
//   - Application startup/shutdown
//   - Entities created or transitioned (task accepted, draft posted)
//   - Scheduler batches that fired something
//
// WARN: Something unexpected happened, but the application can continue.
//   - Collaborator failures reported to the chat as an apology
//   - Conditional updates lost to a concurrent writer
//   - Configuration issues (using defaults)
//
// ERROR: Error events that might still allow the application to continue.
//   - Recovered handler panics
//   - Scheduler item failures
//   - Store unavailable
//
// FATAL: Only in main, for configuration or store failures at startup.

// Standard Log Message Patterns
//
// Starting operations: "Starting [operation]"
// Completed operations: "Completed [operation]"
// Failed operations: "Failed to [operation]"
// Skipping operations: "Skipping [operation]: [reason]"
//
// Example Usage:
//
// logger.WithFields(logrus.Fields{
//     LogFieldChatID:    SanitizeChatID(ctx, ev.ChatID),
//     LogFieldMessageID: ev.MessageID,
//     LogFieldTrigger:   "task",
// }).Info("Created task")
