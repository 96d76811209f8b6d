package services

import (
	"errors"
	"fmt"
)

// ErrorType represents the category of a service error
type ErrorType string

const (
	ErrorTypeNotFound      ErrorType = "not_found"
	ErrorTypeValidation    ErrorType = "validation"
	ErrorTypeConfiguration ErrorType = "configuration"
	ErrorTypeInternal      ErrorType = "internal"
	ErrorTypeExternal      ErrorType = "external"
)

// DomainError represents a structured error with additional context
type DomainError struct {
	Type    ErrorType
	Message string
	Err     error
	Details map[string]interface{}
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap implements errors.Unwrap
func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is matches any DomainError of the same type
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Type == t.Type
}

// WithDetail adds a detail to the error
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// NewDomainError creates a new domain error
func NewDomainError(errType ErrorType, message string, err error) *DomainError {
	return &DomainError{
		Type:    errType,
		Message: message,
		Err:     err,
		Details: make(map[string]interface{}),
	}
}

var (
	// Not found
	ErrMessageNotFound   = NewDomainError(ErrorTypeNotFound, "message not found", nil)
	ErrEmbeddingNotFound = NewDomainError(ErrorTypeNotFound, "embedding not found", nil)

	// Validation
	ErrInvalidInput      = NewDomainError(ErrorTypeValidation, "invalid input", nil)
	ErrEmptyContent      = NewDomainError(ErrorTypeValidation, "message content cannot be empty", nil)
	ErrInvalidScope      = NewDomainError(ErrorTypeValidation, "user_id and conversation_id are required", nil)
	ErrInvalidRole       = NewDomainError(ErrorTypeValidation, "role must be user or assistant", nil)
	ErrInvalidLimit      = NewDomainError(ErrorTypeValidation, "limit must be positive", nil)
	ErrDimensionMismatch = NewDomainError(ErrorTypeValidation, "embedding dimension mismatch", nil)

	// Configuration
	ErrMissingEmbedder = NewDomainError(ErrorTypeConfiguration, "embedding provider is required", nil)
	ErrMissingStore    = NewDomainError(ErrorTypeConfiguration, "vector store is required", nil)
	ErrMissingReranker = NewDomainError(ErrorTypeConfiguration, "reranker is required when reranking is enabled", nil)
	ErrInvalidSettings = NewDomainError(ErrorTypeConfiguration, "invalid retrieval settings", nil)

	// Internal
	ErrInternal          = NewDomainError(ErrorTypeInternal, "internal server error", nil)
	ErrStoreFailed       = NewDomainError(ErrorTypeInternal, "vector store operation failed", nil)
	ErrTransactionFailed = NewDomainError(ErrorTypeInternal, "transaction failed", nil)

	// External
	ErrEmbeddingFailed = NewDomainError(ErrorTypeExternal, "embedding provider error", nil)
	ErrRerankFailed    = NewDomainError(ErrorTypeExternal, "reranker error", nil)
)

func hasType(err error, t ErrorType) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type == t
	}
	return false
}

// IsNotFoundError checks if an error is a not found error
func IsNotFoundError(err error) bool {
	return hasType(err, ErrorTypeNotFound)
}

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool {
	return hasType(err, ErrorTypeValidation)
}

// IsConfigurationError checks if an error is a configuration error
func IsConfigurationError(err error) bool {
	return hasType(err, ErrorTypeConfiguration)
}

// IsInternalError checks if an error is an internal error
func IsInternalError(err error) bool {
	return hasType(err, ErrorTypeInternal)
}

// IsExternalError checks if an error is an external provider error
func IsExternalError(err error) bool {
	return hasType(err, ErrorTypeExternal)
}

// GetErrorType returns the ErrorType of a domain error, or empty string if not a domain error
func GetErrorType(err error) ErrorType {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type
	}
	return ""
}

// GetErrorDetails returns the details map of a domain error, or nil if not a domain error
func GetErrorDetails(err error) map[string]interface{} {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Details
	}
	return nil
}

// WrapError wraps an error with additional context
func WrapError(errType ErrorType, message string, err error) *DomainError {
	return NewDomainError(errType, message, err)
}

// WrapInternal wraps an error as an internal error
func WrapInternal(message string, err error) *DomainError {
	return NewDomainError(ErrorTypeInternal, message, err)
}

// WrapExternal wraps an error as an external provider error
func WrapExternal(message string, err error) *DomainError {
	return NewDomainError(ErrorTypeExternal, message, err)
}

// WrapValidation wraps an error as a validation error
func WrapValidation(message string, err error) *DomainError {
	return NewDomainError(ErrorTypeValidation, message, err)
}
