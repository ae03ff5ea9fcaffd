package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrValidation       = errors.New("validation error")
	ErrInvalidInput     = errors.New("invalid input")
	ErrEmptyInput       = errors.New("empty input")
	ErrUnsupportedMedia = errors.New("unsupported media")
	ErrLimitExceeded    = errors.New("limit exceeded")
	ErrConfiguration    = errors.New("configuration error")
	ErrNotFound         = errors.New("not found")
	ErrDisabled         = errors.New("feature disabled")
	ErrTransient        = errors.New("transient failure")
	ErrProcessing       = errors.New("processing failure")
)

// Wrap builds an error message that includes component context while tagging
// it with the provided marker for later classification. The marker should be
// one of the exported sentinel errors above.
func Wrap(marker error, component, operation, message string, err error) error {
	detail := buildDetail(component, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Kind returns the short classification string used in logs and API payloads.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrEmptyInput):
		return "empty_input"
	case errors.Is(err, ErrUnsupportedMedia):
		return "unsupported_media"
	case errors.Is(err, ErrLimitExceeded):
		return "limit_exceeded"
	case errors.Is(err, ErrConfiguration):
		return "configuration"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrDisabled):
		return "disabled"
	case errors.Is(err, ErrProcessing):
		return "processing"
	case errors.Is(err, ErrTransient), errors.Is(err, context.DeadlineExceeded):
		return "transient"
	default:
		return "unknown"
	}
}

// Marker returns the sentinel for a kind string produced by Kind. Unknown
// kinds map to ErrTransient so remote callers retry rather than give up.
func Marker(kind string) error {
	switch strings.TrimSpace(kind) {
	case "validation":
		return ErrValidation
	case "invalid_input":
		return ErrInvalidInput
	case "empty_input":
		return ErrEmptyInput
	case "unsupported_media":
		return ErrUnsupportedMedia
	case "limit_exceeded":
		return ErrLimitExceeded
	case "configuration":
		return ErrConfiguration
	case "not_found":
		return ErrNotFound
	case "disabled":
		return ErrDisabled
	case "processing":
		return ErrProcessing
	default:
		return ErrTransient
	}
}

// Retryable reports whether a failure belongs to the transient class. Remote
// processing failures and input problems never succeed on a second attempt.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	return errors.Is(err, ErrTransient) || errors.Is(err, context.DeadlineExceeded)
}

// ErrorDetails is the structured view of a wrapped error for log attributes.
type ErrorDetails struct {
	Kind    string
	Message string
	Hint    string
}

// Details extracts the classification and an operator hint from err.
func Details(err error) ErrorDetails {
	if err == nil {
		return ErrorDetails{}
	}
	kind := Kind(err)
	return ErrorDetails{
		Kind:    kind,
		Message: err.Error(),
		Hint:    hintFor(kind),
	}
}

func hintFor(kind string) string {
	switch kind {
	case "validation", "invalid_input":
		return "inspect the submitted data"
	case "empty_input", "unsupported_media":
		return "re-capture the photo as JPEG, PNG, or WebP"
	case "limit_exceeded":
		return "remove photos before adding more"
	case "configuration":
		return "check the configuration file"
	case "not_found":
		return "verify the identifier"
	case "disabled":
		return "enable the rollout flag or use the legacy path"
	case "processing":
		return "inspect the job error and re-upload"
	case "transient":
		return "retry later; check storage and network"
	default:
		return "check logs for details"
	}
}

func buildDetail(component, operation, message string) string {
	parts := make([]string, 0, 3)
	if component = strings.TrimSpace(component); component != "" {
		parts = append(parts, component)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
