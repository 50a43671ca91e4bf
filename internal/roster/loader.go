// Package roster loads the authoritative list of ongoing trips and
// reconciles the store against it.
package roster

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"trip-monitor/internal/store"
	"trip-monitor/internal/trip"
)

// Source returns the trips currently in progress.
type Source interface {
	FetchOngoing(ctx context.Context) ([]trip.OngoingTrip, error)
}

type Seeder interface {
	SeedRoster(trips []trip.OngoingTrip) store.SeedResult
}

type Metrics interface {
	SeedInc(result string)
	SeedObserve(d time.Duration)
}

// Loader fetches the roster on demand, after reconnects and optionally on a
// fixed interval. A failed fetch leaves the store untouched.
type Loader struct {
	src      Source
	store    Seeder
	timeout  time.Duration
	interval time.Duration
	log      *logrus.Entry
	metrics  Metrics

	mu sync.Mutex // one refresh at a time

	refreshCancel context.CancelFunc
	refreshWG     sync.WaitGroup
}

func NewLoader(src Source, st Seeder, timeout, interval time.Duration, log *logrus.Entry, m Metrics) *Loader {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Loader{src: src, store: st, timeout: timeout, interval: interval, log: log, metrics: m}
}

// Refresh fetches the roster and seeds the store with it.
func (l *Loader) Refresh(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	start := time.Now()
	trips, err := l.src.FetchOngoing(ctx)
	if l.metrics != nil {
		l.metrics.SeedObserve(time.Since(start))
	}
	if err != nil {
		if l.metrics != nil {
			l.metrics.SeedInc("error")
		}
		l.log.WithError(err).Warn("fetch ongoing trips failed; keeping last known roster")
		return fmt.Errorf("fetch ongoing trips: %w", err)
	}
	res := l.store.SeedRoster(trips)
	if l.metrics != nil {
		l.metrics.SeedInc("ok")
	}
	l.log.WithFields(logrus.Fields{"trips": len(trips), "added": res.Added, "removed": res.Removed, "updated": res.Updated}).Debug("roster refreshed")
	return nil
}

// StartRefresher launches a background loop that refreshes the roster every
// interval. A non-positive interval disables it.
func (l *Loader) StartRefresher(parent context.Context) {
	if l.interval <= 0 {
		return
	}
	ctx, cancel := context.WithCancel(parent)
	l.refreshCancel = cancel
	l.refreshWG.Add(1)
	go func() {
		defer l.refreshWG.Done()
		ticker := time.NewTicker(l.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				_ = l.Refresh(ctx)
			}
		}
	}()
}

func (l *Loader) Stop() {
	if l.refreshCancel != nil {
		l.refreshCancel()
	}
	l.refreshWG.Wait()
}
