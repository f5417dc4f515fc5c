package ctxutil

import (
	"context"
	"testing"
)

func TestRequestIDRoundTrip(t *testing.T) {
	ctx := WithRequestID(context.Background(), "req-123")
	if got := RequestID(ctx); got != "req-123" {
		t.Fatalf("request id: want=%q got=%q", "req-123", got)
	}
}

func TestRequestIDMissingIsEmpty(t *testing.T) {
	if got := RequestID(context.Background()); got != "" {
		t.Fatalf("unset request id must read empty, got %q", got)
	}
}
