// Package errors provides standardized error handling for the notification engine.
package errors

import (
	"fmt"
	"time"
)

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	ErrCodeConfigurationMismatch ErrorCode = "CONFIGURATION_MISMATCH"
	ErrCodeUnknownDescriptor     ErrorCode = "UNKNOWN_DESCRIPTOR"
	ErrCodePersistenceFailed     ErrorCode = "PERSISTENCE_FAILED"
	ErrCodeQueueOperationFailed  ErrorCode = "QUEUE_OPERATION_FAILED"
	ErrCodeDeliverySendFailed    ErrorCode = "DELIVERY_SEND_FAILED"
	ErrCodeRetryExhausted        ErrorCode = "RETRY_EXHAUSTED"
	ErrCodeArchiveIndexFailed    ErrorCode = "ARCHIVE_INDEX_FAILED"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

func (e *StandardError) Error() string {
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

// ==========================
// Error Constructors
// ==========================

// NewConfigurationMismatchError reports a firing call that does not match the
// configured event: missing parameter value, unknown event slug and the like.
// Never retryable; the configuration has to change first.
func NewConfigurationMismatchError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeConfigurationMismatch,
		Message:   "Firing call does not match event configuration",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewUnknownDescriptorError reports a descriptor key with no registry entry.
func NewUnknownDescriptorError(key string) *StandardError {
	return &StandardError{
		Code:      ErrCodeUnknownDescriptor,
		Message:   "Serialization descriptor is not registered",
		Details:   fmt.Sprintf("descriptor: %s", key),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewPersistenceFailedError creates a retryable store write error.
func NewPersistenceFailedError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodePersistenceFailed,
		Message:   "Store operation failed",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewQueueOperationFailedError creates a retryable work-queue error.
func NewQueueOperationFailedError(op string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeQueueOperationFailed,
		Message:   "Delivery queue operation failed",
		Details:   fmt.Sprintf("op: %s, error: %s", op, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewDeliverySendFailedError creates a retryable mail transport error.
func NewDeliverySendFailedError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeDeliverySendFailed,
		Message:   "Notification delivery failed",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewRetryExhaustedError marks a delivery job that has used up its allowed attempts.
func NewRetryExhaustedError(notificationID string, attempts int) *StandardError {
	return &StandardError{
		Code:      ErrCodeRetryExhausted,
		Message:   "Delivery abandoned after maximum retries",
		Details:   fmt.Sprintf("notificationId: %s, attempts: %d", notificationID, attempts),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewArchiveIndexFailedError creates a retryable archive indexing error.
func NewArchiveIndexFailedError(fireID string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeArchiveIndexFailed,
		Message:   "Fire archive indexing failed",
		Details:   fmt.Sprintf("fireId: %s, error: %s", fireID, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// IsCode reports whether err is a StandardError carrying the given code.
func IsCode(err error, code ErrorCode) bool {
	se, ok := err.(*StandardError)
	return ok && se.Code == code
}
