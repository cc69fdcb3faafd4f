package main

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type sessionPurger interface {
	PurgeExpired() error
}

// startSessionPurgeWorker sweeps expired sign-in sessions out of the session
// store every interval. Only the in-memory store accumulates garbage; the
// Redis store expires its keys on its own, so the sweep is a cheap no-op
// there. The returned stop function blocks until the worker has exited and
// may be called more than once.
func startSessionPurgeWorker(ctx context.Context, logger *slog.Logger, sessions sessionPurger, interval time.Duration) func() {
	if sessions == nil || interval <= 0 {
		return func() {}
	}
	ticker := time.NewTicker(interval)
	stop := runSessionPurgeLoop(ctx, logger, sessions, ticker.C)
	return func() {
		ticker.Stop()
		stop()
	}
}

func runSessionPurgeLoop(ctx context.Context, logger *slog.Logger, sessions sessionPurger, tick <-chan time.Time) func() {
	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-loopCtx.Done():
				return
			case <-tick:
				if err := sessions.PurgeExpired(); err != nil && logger != nil {
					logger.Error("session purge sweep failed", "error", err)
				}
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}
}
