package provider

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mkaratas/relaykit/logger"
	"github.com/mkaratas/relaykit/resilience"
)

// Monitor periodically health-checks every registered provider. Probes run
// concurrently but bounded by a bulkhead; a probe that cannot get a slot
// before the next tick is skipped rather than queued.
type Monitor struct {
	manager  *Manager
	interval time.Duration
	bulkhead *resilience.Bulkhead
	log      *logger.Logger

	started atomic.Bool
	once    sync.Once
	stop    chan struct{}
	done    chan struct{}
}

// NewMonitor creates a health monitor over a manager. maxConcurrent bounds
// simultaneous probes.
func NewMonitor(m *Manager, interval time.Duration, maxConcurrent int) *Monitor {
	if interval <= 0 {
		interval = time.Minute
	}
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}
	return &Monitor{
		manager:  m,
		interval: interval,
		bulkhead: resilience.NewBulkhead(resilience.BulkheadConfig{
			Name:          "health-monitor",
			MaxConcurrent: maxConcurrent,
			MaxWait:       interval,
		}),
		log:  logger.Get("health-monitor"),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
}

// Start launches the monitoring loop. It returns immediately; the loop runs
// until Stop is called or the context is cancelled.
func (mon *Monitor) Start(ctx context.Context) {
	if !mon.started.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer close(mon.done)
		ticker := time.NewTicker(mon.interval)
		defer ticker.Stop()

		mon.checkAll(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-mon.stop:
				return
			case <-ticker.C:
				mon.checkAll(ctx)
			}
		}
	}()
}

// Stop terminates the monitoring loop and waits for it to finish.
// Stopping a monitor that never started is a no-op.
func (mon *Monitor) Stop() {
	mon.once.Do(func() { close(mon.stop) })
	if mon.started.Load() {
		<-mon.done
	}
}

func (mon *Monitor) checkAll(ctx context.Context) {
	codes := mon.manager.Registry().Codes()
	var wg sync.WaitGroup
	for _, code := range codes {
		wg.Add(1)
		go func(code string) {
			defer wg.Done()
			err := mon.bulkhead.Execute(ctx, func() error {
				_, err := mon.manager.PerformHealthCheck(ctx, code)
				return err
			})
			if err != nil {
				mon.log.Debug("health check failed", logger.Fields("code", code, "error", err.Error()))
			}
		}(code)
	}
	wg.Wait()
}
