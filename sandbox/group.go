package sandbox

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/alibaba/rock-go/clock"
	"github.com/alibaba/rock-go/config"
	"github.com/alibaba/rock-go/retry"
)

// Group orchestrates many sandboxes built from one shared template.
// The instance list is fixed at construction and only read afterwards.
type Group struct {
	logger           *zap.Logger
	sandboxes        []*Sandbox
	startConcurrency int
	startRetryTimes  int
	startRetryDelay  time.Duration
	clk              clock.Clock
}

// GroupOption defines a functional option for Group
type GroupOption func(*Group)

// WithGroupClock sets the clock used for retry delays.
func WithGroupClock(clk clock.Clock) GroupOption {
	return func(g *Group) {
		g.clk = clk
	}
}

// WithSandboxOptions forwards options to every sandbox the group
// builds.
func WithSandboxOptions(opts ...Option) GroupOption {
	return func(g *Group) {
		for _, sb := range g.sandboxes {
			for _, opt := range opts {
				opt(sb)
			}
		}
	}
}

// NewGroup builds cfg.Size sandboxes from the shared template.
// A start concurrency below 1 starts one instance at a time.
func NewGroup(logger *zap.Logger, api API, template *config.SandboxConfig, cfg *config.GroupConfig, opts ...GroupOption) *Group {
	concurrency := cfg.StartConcurrency
	if concurrency < 1 {
		concurrency = 1
	}

	g := &Group{
		logger:           logger,
		startConcurrency: concurrency,
		startRetryTimes:  cfg.StartRetryTimes,
		startRetryDelay:  cfg.StartRetryDelay(),
		clk:              clock.Real(),
	}

	g.sandboxes = make([]*Sandbox, cfg.Size)
	for i := range g.sandboxes {
		g.sandboxes[i] = New(logger, api, template)
	}

	for _, opt := range opts {
		opt(g)
	}

	return g
}

// Sandboxes returns the group's instances in construction order.
func (g *Group) Sandboxes() []*Sandbox {
	return g.sandboxes
}

// Size returns the number of instances in the group.
func (g *Group) Size() int {
	return len(g.sandboxes)
}

// Start starts every instance in sequential batches of at most the
// configured concurrency; a batch fully resolves before the next one
// begins. Each instance's start is retried up to the configured number
// of attempts with a fixed delay; one instance exhausting its retries
// fails the whole call.
func (g *Group) Start(ctx context.Context) error {
	total := len(g.sandboxes)
	for batchStart := 0; batchStart < total; batchStart += g.startConcurrency {
		batchEnd := batchStart + g.startConcurrency
		if batchEnd > total {
			batchEnd = total
		}
		batch := g.sandboxes[batchStart:batchEnd]

		g.logger.Info("starting sandbox batch",
			zap.Int("from", batchStart),
			zap.Int("to", batchEnd),
			zap.Int("total", total))

		eg, egCtx := errgroup.WithContext(ctx)
		for i, sb := range batch {
			index := batchStart + i
			sb := sb
			eg.Go(func() error {
				policy := retry.Policy{
					MaxAttempts:  g.startRetryTimes,
					InitialDelay: g.startRetryDelay,
					Clock:        g.clk,
				}
				if err := retry.Run(egCtx, policy, sb.Start); err != nil {
					return fmt.Errorf("sandbox %d: %w", index, err)
				}
				return nil
			})
		}
		if err := eg.Wait(); err != nil {
			return fmt.Errorf("group start: %w", err)
		}
	}
	return nil
}

// Stop stops all instances concurrently. Per-instance failures are
// already swallowed by Sandbox.Stop, so Stop never fails.
func (g *Group) Stop(ctx context.Context) {
	var wg sync.WaitGroup
	for _, sb := range g.sandboxes {
		wg.Add(1)
		go func(sb *Sandbox) {
			defer wg.Done()
			sb.Stop(ctx)
		}(sb)
	}
	wg.Wait()
}
