package graceful

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rail-service/payroll_relay/pkg/logger"
)

const defaultTimeout = 30 * time.Second

// ShutdownFunc releases one component
type ShutdownFunc func(ctx context.Context) error

type hook struct {
	name string
	fn   ShutdownFunc
}

// ShutdownManager runs registered hooks in reverse registration order once
// the process is asked to stop.
type ShutdownManager struct {
	hooks   []hook
	timeout time.Duration
	logger  *logger.Logger
}

func NewShutdownManager(logger *logger.Logger) *ShutdownManager {
	return &ShutdownManager{timeout: defaultTimeout, logger: logger}
}

// Register adds a component; later registrations stop first
func (sm *ShutdownManager) Register(name string, fn ShutdownFunc) {
	sm.hooks = append(sm.hooks, hook{name: name, fn: fn})
}

// SignalContext returns a context cancelled on SIGINT or SIGTERM
func SignalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// WaitForShutdown blocks until ctx is done, then stops every component
func (sm *ShutdownManager) WaitForShutdown(ctx context.Context) {
	<-ctx.Done()
	sm.logger.Info("Shutting down gracefully...")
	sm.Shutdown()
}

// Shutdown stops every component within the timeout
func (sm *ShutdownManager) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), sm.timeout)
	defer cancel()

	for i := len(sm.hooks) - 1; i >= 0; i-- {
		h := sm.hooks[i]
		if err := h.fn(ctx); err != nil {
			sm.logger.Warn("Component shutdown error", "component", h.name, "error", err)
		}
	}
	sm.hooks = nil

	sm.logger.Info("Shutdown complete")
}
