package stage

import (
	"context"
	"errors"
	"testing"

	"handoverphotos/internal/queue"
	"handoverphotos/internal/services"
)

type samplePayload struct {
	PhotoID string `json:"photoId"`
}

func TestDecodePayload_Valid(t *testing.T) {
	job := &queue.Job{Type: "generate-derivatives", Payload: []byte(`{"photoId":"p-1"}`)}
	payload, err := DecodePayload[samplePayload](job)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if payload.PhotoID != "p-1" {
		t.Fatalf("unexpected photo id: %q", payload.PhotoID)
	}
}

func TestDecodePayload_Empty(t *testing.T) {
	_, err := DecodePayload[samplePayload](&queue.Job{})
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestDecodePayload_Invalid(t *testing.T) {
	_, err := DecodePayload[samplePayload](&queue.Job{Payload: []byte("{invalid json")})
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestReportProgress(t *testing.T) {
	var got []int
	ctx := WithProgress(context.Background(), func(p int) { got = append(got, p) })
	ReportProgress(ctx, 30)
	ReportProgress(ctx, 90)
	ReportProgress(context.Background(), 50)
	if len(got) != 2 || got[0] != 30 || got[1] != 90 {
		t.Fatalf("unexpected progress calls: %v", got)
	}
}
