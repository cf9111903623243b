package validation

import (
	"fmt"
	"net/http"
	"unicode"
	"unicode/utf8"

	"chatflow/internal/errors"
)

// Telegram Bot API limits.
const (
	MaxCallbackDataBytes = 64
	MaxMessageRunes      = 4096
	MaxTenantIDLength    = 64
)

// ValidateChatID rejects the zero id, which Telegram never assigns.
func ValidateChatID(chatID int64) error {
	if chatID == 0 {
		return errors.New(errors.ErrCodeInvalidInput, "chat ID cannot be zero")
	}
	return nil
}

// ValidateCallbackData checks button payloads against the Bot API limit.
func ValidateCallbackData(data string) error {
	if data == "" {
		return errors.New(errors.ErrCodeInvalidInput, "callback data cannot be empty")
	}
	if len(data) > MaxCallbackDataBytes {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("callback data too long: %d bytes (max %d)", len(data), MaxCallbackDataBytes))
	}
	return nil
}

// ValidateTenantID validates tenant identifiers used in config and storage.
func ValidateTenantID(tenantID string) error {
	if tenantID == "" {
		return errors.New(errors.ErrCodeInvalidInput, "tenant ID cannot be empty")
	}
	if len(tenantID) > MaxTenantIDLength {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("tenant ID too long (max %d characters)", MaxTenantIDLength))
	}
	for _, char := range tenantID {
		if !unicode.IsLetter(char) && !unicode.IsDigit(char) && char != '_' && char != '-' {
			return errors.New(errors.ErrCodeInvalidInput,
				"tenant ID must contain only letters, numbers, underscores, and dashes")
		}
	}
	return nil
}

// ValidateHTTPRequestSize validates incoming HTTP request size
func ValidateHTTPRequestSize(r *http.Request, maxSizeBytes int64) error {
	if r.ContentLength < -1 {
		return errors.New(errors.ErrCodeInvalidInput, "invalid content length")
	}
	if r.ContentLength > maxSizeBytes {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("request too large: %d bytes (max %d bytes)", r.ContentLength, maxSizeBytes))
	}
	return nil
}

// ValidateStringLength checks the length in characters, not bytes.
func ValidateStringLength(value, fieldName string, minLength, maxLength int) error {
	n := utf8.RuneCountInString(value)
	if n < minLength {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("%s too short (min %d characters)", fieldName, minLength))
	}
	if n > maxLength {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("%s too long (max %d characters)", fieldName, maxLength))
	}
	return nil
}

// ValidateNumericRange validates numeric values against bounds
func ValidateNumericRange(value int, fieldName string, min, max int) error {
	if value < min {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("%s too small (min %d)", fieldName, min))
	}
	if value > max {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("%s too large (max %d)", fieldName, max))
	}
	return nil
}

// ValidateTimeout validates timeout values
func ValidateTimeout(timeoutSec int, fieldName string) error {
	return ValidateNumericRange(timeoutSec, fieldName, 1, 3600)
}

// ValidateRetentionDays validates data retention period
func ValidateRetentionDays(days int) error {
	return ValidateNumericRange(days, "retention days", 1, 3650)
}
