package msgworker

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/wafleet/sessionfleet/config"
)

var (
	globalPool     *MessageWorkerPool
	globalPoolOnce sync.Once
	globalPoolCtx  context.Context
	globalCancel   context.CancelFunc
)

// GetGlobalPool returns a lazily started process-wide worker pool. The
// fleet's event dispatcher (C5) does not use it: fleet.New builds the
// dispatcher's own pool with NewMessageWorkerPool.
func GetGlobalPool() *MessageWorkerPool {
	globalPoolOnce.Do(func() {
		globalPoolCtx, globalCancel = context.WithCancel(context.Background())

		size := config.MessageWorkerPoolSize
		if size <= 0 {
			size = 20
		}

		queue := config.MessageWorkerQueueSize
		if queue <= 0 {
			queue = 1000
		}

		globalPool = NewMessageWorkerPool(size, queue)
		globalPool.Start(globalPoolCtx)
		logrus.Infof("[INGRESS_POOL] Global instance started with %d workers and queue size %d", size, queue)
	})
	return globalPool
}

// StopGlobalPool stops the singleton pool.
func StopGlobalPool() {
	if globalCancel != nil {
		globalCancel()
	}
	if globalPool != nil {
		globalPool.Stop()
	}
}

// GetGlobalStats returns stats from the global pool.
func GetGlobalStats() PoolStats {
	return GetGlobalPool().GetStats()
}
