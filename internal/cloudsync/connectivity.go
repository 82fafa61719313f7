package cloudsync

import (
	"context"
	"errors"
	"time"

	"github.com/zawalid/watchfolio/internal/remote"
)

// DefaultConnectivityInterval is the probe period used by WatchConnectivity
// when interval is not positive.
const DefaultConnectivityInterval = 30 * time.Second

// WatchConnectivity probes the cloud every interval and flips the online
// flag. It blocks until ctx is cancelled or the engine is closed.
func (e *Engine) WatchConnectivity(ctx context.Context, interval time.Duration) {
	if e.adapter == nil {
		return
	}
	if interval <= 0 {
		interval = DefaultConnectivityInterval
	}

	e.probe(ctx, interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			e.probe(ctx, interval)
		}
	}
}

// CheckConnectivity probes the cloud once and reports whether it is
// reachable. Without an adapter it reports false.
func (e *Engine) CheckConnectivity(ctx context.Context, timeout time.Duration) bool {
	if e.adapter == nil {
		return false
	}
	if timeout <= 0 {
		timeout = DefaultConnectivityInterval
	}
	e.probe(ctx, timeout)
	return e.Status().IsOnline
}

// probe pings the backend once. Only network failures count as offline: an
// auth or quota rejection still proves the cloud is reachable.
func (e *Engine) probe(ctx context.Context, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := e.adapter.Ping(ctx)
	var ne *remote.NetworkError
	online := err == nil || !errors.As(err, &ne)

	if online != e.Status().IsOnline {
		if online {
			e.logger.Printf("Cloud reachable again")
		} else {
			e.logger.Printf("Cloud unreachable: %v", err)
		}
	}
	e.SetOnline(online)
}
