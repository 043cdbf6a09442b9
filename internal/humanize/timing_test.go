package humanize

import (
	"context"
	"testing"
	"time"
)

func TestRandomDuration(t *testing.T) {
	tests := []struct {
		name   string
		minMs  int
		maxMs  int
		minExp time.Duration
		maxExp time.Duration
	}{
		{"typical range", 100, 500, 100 * time.Millisecond, 500 * time.Millisecond},
		{"tight range", 50, 51, 50 * time.Millisecond, 51 * time.Millisecond},
		{"equal bounds", 200, 200, 200 * time.Millisecond, 200 * time.Millisecond},
		{"inverted bounds", 300, 100, 300 * time.Millisecond, 300 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for i := 0; i < 50; i++ {
				d := RandomDuration(tt.minMs, tt.maxMs)
				if d < tt.minExp || d > tt.maxExp {
					t.Fatalf("RandomDuration(%d, %d) = %v, want in [%v, %v]",
						tt.minMs, tt.maxMs, d, tt.minExp, tt.maxExp)
				}
			}
		})
	}
}

func TestSleepWithContextCompletes(t *testing.T) {
	start := time.Now()
	if !SleepWithContext(context.Background(), 20*time.Millisecond) {
		t.Fatal("sleep reported interruption without cancellation")
	}
	if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
		t.Errorf("sleep returned after %v, want at least 20ms", elapsed)
	}
}

func TestSleepWithContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	if SleepWithContext(ctx, 5*time.Second) {
		t.Fatal("sleep reported completion despite cancellation")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("cancelled sleep took %v", elapsed)
	}
}

func TestSleepWithContextAlreadyCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if SleepWithContext(ctx, 5*time.Second) {
		t.Fatal("sleep reported completion on a dead context")
	}
}
