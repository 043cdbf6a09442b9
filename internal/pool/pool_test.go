package pool

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/Charles-Hello/cloudflyer/internal/config"
	"github.com/Charles-Hello/cloudflyer/internal/instance"
	"github.com/Charles-Hello/cloudflyer/internal/selectors"
	"github.com/Charles-Hello/cloudflyer/internal/types"
)

func testPool(t *testing.T, size int, run func(ctx context.Context, inst *instance.Instance, task *types.Task) *types.Result) *Pool {
	t.Helper()
	cfg := &config.Config{MaxTasks: size, TaskTimeout: 5 * time.Second}
	sel, err := selectors.NewManager("", false)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { sel.Close() })

	p := New(zerolog.Nop(), cfg, sel)
	p.run = run
	for i := 0; i < size; i++ {
		inst, err := instance.New(zerolog.Nop(), instance.Options{})
		if err != nil {
			t.Fatal(err)
		}
		p.free <- inst
	}
	return p
}

func TestRunReturnsResult(t *testing.T) {
	p := testPool(t, 1, func(_ context.Context, _ *instance.Instance, task *types.Task) *types.Result {
		return types.NewSuccessResult(&types.Response{Token: "tok"}, task)
	})

	task := &types.Task{Type: types.TaskTurnstile, URL: "example.com", SiteKey: "k"}
	res := p.Run(context.Background(), task)
	if !res.Success {
		t.Fatalf("expected success, got %+v", res)
	}
	if res.Response == nil || res.Response.Token != "tok" {
		t.Errorf("unexpected response: %+v", res.Response)
	}
}

func TestRunBlocksUntilInstanceFree(t *testing.T) {
	release := make(chan struct{})
	p := testPool(t, 1, func(_ context.Context, _ *instance.Instance, task *types.Task) *types.Result {
		<-release
		return types.NewSuccessResult(&types.Response{}, task)
	})

	task := &types.Task{Type: types.TaskCloudflareChallenge, URL: "example.com"}

	var wg sync.WaitGroup
	started := make(chan struct{})
	wg.Add(2)
	go func() {
		defer wg.Done()
		close(started)
		p.Run(context.Background(), task)
	}()
	<-started
	time.Sleep(50 * time.Millisecond)

	second := make(chan *types.Result, 1)
	go func() {
		defer wg.Done()
		second <- p.Run(context.Background(), task)
	}()

	select {
	case <-second:
		t.Fatal("second task ran while the only instance was busy")
	case <-time.After(100 * time.Millisecond):
	}

	close(release)
	select {
	case res := <-second:
		if !res.Success {
			t.Errorf("expected second task to succeed, got %+v", res)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("second task never completed")
	}
	wg.Wait()
}

func TestRunOnClosedPool(t *testing.T) {
	p := testPool(t, 1, nil)
	p.Close()

	task := &types.Task{Type: types.TaskCloudflareChallenge, URL: "example.com"}
	res := p.Run(context.Background(), task)
	if res.Success {
		t.Fatal("expected failure from closed pool")
	}
	if res.Code != 503 {
		t.Errorf("expected code 503, got %d", res.Code)
	}
}

func TestRunCancelledWhileQueued(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	p := testPool(t, 1, func(_ context.Context, _ *instance.Instance, task *types.Task) *types.Result {
		<-release
		return types.NewSuccessResult(&types.Response{}, task)
	})

	task := &types.Task{Type: types.TaskCloudflareChallenge, URL: "example.com"}
	go p.Run(context.Background(), task)
	time.Sleep(50 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := p.Run(ctx, task)
	if res.Success {
		t.Fatal("expected failure for cancelled admission")
	}
	if res.Code != 503 {
		t.Errorf("expected code 503, got %d", res.Code)
	}
}

func TestFailureReason(t *testing.T) {
	tests := []struct {
		msg  string
		want string
	}{
		{"Timeout to solve the turnstile, please retry later.", "timeout"},
		{"Cloudflare bypass failed after 5 retries. The challenge may be too complex or network conditions poor.", "max_retries"},
		{"Proxy stack connection failed", "proxy"},
		{"Unknown error, please retry later.", "error"},
	}
	for _, tt := range tests {
		if got := failureReason(tt.msg); got != tt.want {
			t.Errorf("failureReason(%q) = %q, want %q", tt.msg, got, tt.want)
		}
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	p := testPool(t, 1, nil)
	p.Close()
	p.Close()
}
