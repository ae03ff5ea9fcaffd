package services_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"handoverphotos/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrTransient, "storage", "put", "write failed", base)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"storage", "put", "write failed", "boom"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestWrapDefaultsToTransient(t *testing.T) {
	err := services.Wrap(nil, "", "", "", nil)
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient marker, got %v", err)
	}
	if !strings.Contains(err.Error(), "service failure") {
		t.Fatalf("expected fallback detail, got %q", err.Error())
	}
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"transient", services.Wrap(services.ErrTransient, "upload", "submit", "network", nil), true},
		{"deadline", fmt.Errorf("submit: %w", context.DeadlineExceeded), true},
		{"canceled", context.Canceled, false},
		{"processing", services.Wrap(services.ErrProcessing, "jobs", "derive", "decode", nil), false},
		{"validation", services.Wrap(services.ErrValidation, "migration", "validate", "bad", nil), false},
		{"plain", errors.New("x"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := services.Retryable(tt.err); got != tt.want {
				t.Fatalf("Retryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestDetails(t *testing.T) {
	err := services.Wrap(services.ErrUnsupportedMedia, "derivatives", "decode", "not an image", nil)
	details := services.Details(err)
	if details.Kind != "unsupported_media" {
		t.Fatalf("unexpected kind %q", details.Kind)
	}
	if details.Hint == "" || details.Message == "" {
		t.Fatalf("expected hint and message, got %+v", details)
	}
	if got := services.Details(nil); got != (services.ErrorDetails{}) {
		t.Fatalf("expected zero details for nil, got %+v", got)
	}
	if services.Kind(errors.New("plain")) != "unknown" {
		t.Fatal("expected unknown kind for unmarked error")
	}
}

func TestMarkerRoundTripsKind(t *testing.T) {
	for _, marker := range []error{
		services.ErrValidation, services.ErrInvalidInput, services.ErrEmptyInput,
		services.ErrUnsupportedMedia, services.ErrLimitExceeded, services.ErrConfiguration,
		services.ErrNotFound, services.ErrDisabled, services.ErrProcessing, services.ErrTransient,
	} {
		if got := services.Marker(services.Kind(marker)); got != marker {
			t.Fatalf("Marker(Kind(%v)) = %v", marker, got)
		}
	}
	if services.Marker("bogus") != services.ErrTransient {
		t.Fatal("expected unknown kinds to map to transient")
	}
}
