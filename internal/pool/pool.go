// Package pool manages the fixed set of solver instances and admits tasks
// onto free ones. Admission blocks while every instance is busy.
package pool

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/Charles-Hello/cloudflyer/internal/config"
	"github.com/Charles-Hello/cloudflyer/internal/instance"
	"github.com/Charles-Hello/cloudflyer/internal/metrics"
	"github.com/Charles-Hello/cloudflyer/internal/selectors"
	"github.com/Charles-Hello/cloudflyer/internal/types"
)

// Pool is a fixed-size set of instances behind a free list.
type Pool struct {
	cfg *config.Config
	sel *selectors.Manager
	log zerolog.Logger

	mu        sync.Mutex
	instances []*instance.Instance
	free      chan *instance.Instance
	closed    atomic.Bool

	// run executes a task on an instance. Replaced in tests.
	run func(ctx context.Context, inst *instance.Instance, task *types.Task) *types.Result
}

// New builds an unstarted pool of cfg.MaxTasks instances.
func New(logger zerolog.Logger, cfg *config.Config, sel *selectors.Manager) *Pool {
	p := &Pool{
		cfg:  cfg,
		sel:  sel,
		log:  logger,
		free: make(chan *instance.Instance, cfg.MaxTasks),
	}
	p.run = p.runOnInstance
	return p
}

func (p *Pool) runOnInstance(ctx context.Context, inst *instance.Instance, task *types.Task) *types.Result {
	return inst.Run(ctx, task, p.cfg.TaskTimeout, p.sel.Current())
}

// Start launches all instances concurrently. Any launch failure tears the
// whole pool down.
func (p *Pool) Start(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < p.cfg.MaxTasks; i++ {
		id := i
		g.Go(func() error {
			inst, err := instance.New(p.log.With().Int("instance", id).Logger(), instance.Options{
				Headless:             p.cfg.Headless,
				BrowserPath:          p.cfg.BrowserPath,
				UseFingerprintTunnel: p.cfg.UseFingerprintTunnel,
				DefaultProxy:         p.cfg.DefaultProxy,
				AllowLocalProxy:      p.cfg.AllowLocalProxy,
			})
			if err != nil {
				return err
			}
			if err := inst.Start(gctx); err != nil {
				return err
			}
			p.mu.Lock()
			p.instances = append(p.instances, inst)
			p.mu.Unlock()
			p.free <- inst
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		p.Close()
		return err
	}

	metrics.InstancePoolSize.Set(float64(p.cfg.MaxTasks))
	p.log.Info().Int("size", p.cfg.MaxTasks).Msg("instance pool ready")
	return nil
}

// Run blocks until an instance frees up, executes the task on it and
// returns the terminal result.
func (p *Pool) Run(ctx context.Context, task *types.Task) *types.Result {
	if p.closed.Load() {
		return types.NewErrorResult(503, types.ErrPoolClosed.Error(), task)
	}

	metrics.TasksQueued.Inc()
	var inst *instance.Instance
	select {
	case inst = <-p.free:
		metrics.TasksQueued.Dec()
	case <-ctx.Done():
		metrics.TasksQueued.Dec()
		return types.NewErrorResult(503, types.ErrPoolClosed.Error(), task)
	}

	metrics.InstancesBusy.Inc()
	start := time.Now()
	result := p.run(ctx, inst, task)
	metrics.InstancesBusy.Dec()
	p.free <- inst

	status := "success"
	if !result.Success {
		status = "error"
		metrics.RecordFailure(failureReason(result.Error))
	}
	metrics.RecordTask(string(task.Type), status, time.Since(start))
	return result
}

// failureReason buckets error messages into the failure counter labels.
func failureReason(msg string) string {
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "timeout"):
		return "timeout"
	case strings.Contains(lower, "retries"):
		return "max_retries"
	case strings.Contains(lower, "proxy"):
		return "proxy"
	default:
		return "error"
	}
}

// Close stops accepting tasks and shuts every instance down. Tasks already
// running finish against closed instances and report failure.
func (p *Pool) Close() {
	if !p.closed.CompareAndSwap(false, true) {
		return
	}
	p.mu.Lock()
	instances := p.instances
	p.instances = nil
	p.mu.Unlock()
	for _, inst := range instances {
		inst.Close()
	}
	p.log.Info().Msg("instance pool closed")
}
