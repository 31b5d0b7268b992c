package broker

import (
	"context"
	"testing"
	"time"
)

func TestBackoff(t *testing.T) {
	base, max := 100*time.Millisecond, time.Second
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{4, 800 * time.Millisecond},
		{5, time.Second},
		{50, time.Second},
	}
	for _, tt := range tests {
		if got := Backoff(base, max, tt.attempt); got != tt.want {
			t.Errorf("Backoff(attempt=%d) = %s, want %s", tt.attempt, got, tt.want)
		}
	}
}

func TestSleepCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if Sleep(ctx, time.Hour) {
		t.Error("expected Sleep to report cancellation")
	}
	if !Sleep(context.Background(), time.Millisecond) {
		t.Error("expected Sleep to complete")
	}
}

func TestDeadLetterTopic(t *testing.T) {
	if got := DeadLetterTopic("order-notifications"); got != "order-notifications.dlq" {
		t.Errorf("unexpected dead letter topic %q", got)
	}
}
