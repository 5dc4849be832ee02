package health

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/goinginblind/scribe/internal/pkg/logger"
	"github.com/goinginblind/scribe/internal/pkg/metrics"
)

// Pinger wraps the PingContext method.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// DBHealthChecker keeps track of whether the order store is reachable.
// The consumer consults it before pulling more work, the HTTP server
// reports it on /healthz.
type DBHealthChecker struct {
	pinger        Pinger
	logger        logger.Logger
	isHealthy     atomic.Bool
	checkInterval time.Duration
	checkTimeout  time.Duration
}

// NewDBHealthChecker creates a new DBHealthChecker. It does not start the monitoring.
func NewDBHealthChecker(pinger Pinger, logger logger.Logger, checkInterval, checkTimeout time.Duration) *DBHealthChecker {
	return &DBHealthChecker{
		pinger:        pinger,
		logger:        logger,
		checkInterval: checkInterval,
		checkTimeout:  checkTimeout,
	}
}

// Start performs one check synchronously, then keeps checking every
// checkInterval in the background until ctx is done.
func (hc *DBHealthChecker) Start(ctx context.Context) {
	hc.logger.Infow("Starting DB health checker", "interval", hc.checkInterval)
	hc.checkHealth(ctx)

	go func() {
		ticker := time.NewTicker(hc.checkInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				hc.checkHealth(ctx)
			case <-ctx.Done():
				hc.logger.Infow("Stopping DB health checker")
				return
			}
		}
	}()
}

// IsHealthy returns the last known state of the database.
func (hc *DBHealthChecker) IsHealthy() bool {
	return hc.isHealthy.Load()
}

// MarkUnhealthy lets a worker flag the connection as lost without
// waiting for the next scheduled check.
func (hc *DBHealthChecker) MarkUnhealthy() {
	if hc.isHealthy.CompareAndSwap(true, false) {
		metrics.DBUptime.Set(0)
		hc.logger.Warnw("DB connection proactively marked as unhealthy")
	}
}

func (hc *DBHealthChecker) checkHealth(ctx context.Context) {
	pingCtx, cancel := context.WithTimeout(ctx, hc.checkTimeout)
	defer cancel()

	err := hc.pinger.PingContext(pingCtx)
	if err != nil {
		metrics.DBUptime.Set(0)
		if hc.isHealthy.CompareAndSwap(true, false) {
			hc.logger.Errorw("Database connection lost", "error", err)
		}
		return
	}

	metrics.DBUptime.Set(1)
	if hc.isHealthy.CompareAndSwap(false, true) {
		hc.logger.Infow("Database connection is up")
	}
}
