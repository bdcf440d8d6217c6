// Package shutdown coordinates graceful process shutdown: a signal
// (SIGINT/SIGTERM/SIGQUIT) or a programmatic trigger runs a priority-ordered
// list of hooks within a deadline, so the engine gets a chance to flush
// before the process exits.
package shutdown

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
)

// Hook performs one piece of cleanup during shutdown.
type Hook func(ctx context.Context) error

// Coordinator runs registered hooks, lowest priority first, within timeout
// when a shutdown signal arrives or TriggerShutdown is called.
type Coordinator struct {
	timeout time.Duration
	logger  zerolog.Logger

	mu    sync.Mutex
	hooks []namedHook

	shutdownOnce sync.Once
	triggerOnce  sync.Once
	shutdownCh   chan struct{}
}

type namedHook struct {
	name     string
	hook     Hook
	priority int
}

// Priorities for the tsengine shutdown sequence: stop accepting new
// scheduled work before flushing, flush before releasing the codec.
const (
	PriorityScheduler = 10
	PriorityFlush     = 20
	PriorityStore     = 30
)

// New creates a Coordinator with the given overall shutdown deadline.
func New(timeout time.Duration, logger zerolog.Logger) *Coordinator {
	return &Coordinator{
		timeout:    timeout,
		logger:     logger.With().Str("component", "shutdown").Logger(),
		shutdownCh: make(chan struct{}),
	}
}

// RegisterHook adds a cleanup step. Lower priority values run first.
func (c *Coordinator) RegisterHook(name string, hook Hook, priority int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hooks = append(c.hooks, namedHook{name: name, hook: hook, priority: priority})
}

// WaitForSignal blocks until SIGINT, SIGTERM, SIGQUIT, or a programmatic
// TriggerShutdown arrives.
func (c *Coordinator) WaitForSignal() os.Signal {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	select {
	case sig := <-quit:
		c.logger.Info().Str("signal", sig.String()).Msg("received shutdown signal")
		return sig
	case <-c.shutdownCh:
		return syscall.SIGTERM
	}
}

// TriggerShutdown unblocks WaitForSignal programmatically. Safe to call
// from multiple goroutines; only the first call has any effect.
func (c *Coordinator) TriggerShutdown() {
	c.triggerOnce.Do(func() { close(c.shutdownCh) })
}

// Shutdown runs every registered hook, lowest priority first, stopping
// early if the deadline is reached. Safe to call more than once; only the
// first call runs the hooks.
func (c *Coordinator) Shutdown() error {
	var shutdownErr error

	c.shutdownOnce.Do(func() {
		c.triggerOnce.Do(func() { close(c.shutdownCh) })

		c.mu.Lock()
		hooks := make([]namedHook, len(c.hooks))
		copy(hooks, c.hooks)
		c.mu.Unlock()
		sortHooksByPriority(hooks)

		ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
		defer cancel()

		start := time.Now()
		c.logger.Info().Dur("timeout", c.timeout).Int("hooks", len(hooks)).Msg("starting graceful shutdown")

		for _, h := range hooks {
			select {
			case <-ctx.Done():
				c.logger.Warn().Str("hook", h.name).Msg("shutdown timeout reached, skipping remaining hooks")
				shutdownErr = ctx.Err()
				return
			default:
			}

			if err := h.hook(ctx); err != nil {
				c.logger.Error().Err(err).Str("hook", h.name).Msg("shutdown hook failed")
				if shutdownErr == nil {
					shutdownErr = err
				}
			}
		}

		c.logger.Info().Dur("duration", time.Since(start)).Msg("graceful shutdown complete")
	})

	return shutdownErr
}

func sortHooksByPriority(hooks []namedHook) {
	for i := 0; i < len(hooks); i++ {
		for j := i + 1; j < len(hooks); j++ {
			if hooks[j].priority < hooks[i].priority {
				hooks[i], hooks[j] = hooks[j], hooks[i]
			}
		}
	}
}
