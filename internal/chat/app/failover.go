package app

import (
	"sync/atomic"

	"chat_delivery_service/pkg/logger"
	"chat_delivery_service/pkg/metrics"

	"go.uber.org/zap"
)

// failover tracks whether a component is serving from its local backend.
// Each call tries the shared store first, so recovery is automatic.
type failover struct {
	component string
	degraded  atomic.Bool
}

func (f *failover) fail(err error) {
	metrics.Fallbacks.WithLabelValues(f.component).Inc()
	if f.degraded.CompareAndSwap(false, true) {
		logger.Log.Warn("shared store unavailable, using local backend",
			zap.String("component", f.component), zap.Error(err))
	}
}

func (f *failover) ok() {
	if f.degraded.CompareAndSwap(true, false) {
		logger.Log.Info("shared store recovered", zap.String("component", f.component))
	}
}

// Degraded serving from the local backend
func (f *failover) Degraded() bool {
	return f.degraded.Load()
}
