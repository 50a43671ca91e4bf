package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"trip-monitor/internal/api"
	"trip-monitor/internal/auth"
	"trip-monitor/internal/config"
	"trip-monitor/internal/hub"
	"trip-monitor/internal/logging"
	"trip-monitor/internal/metrics"
	"trip-monitor/internal/monitor"
	"trip-monitor/internal/roster"
	"trip-monitor/internal/store"
	"trip-monitor/internal/supervisor"
)

const shutdownTimeout = 5 * time.Second

type app struct {
	cfg     *config.Config
	log     *logrus.Entry
	db      *sql.DB
	mcol    *metrics.Collector
	sup     *supervisor.Provider
	monitor *monitor.Monitor
}

// newApp wires the components. withMetrics is false for watch, which never
// exposes anything over HTTP.
func newApp(ctx context.Context, cfg *config.Config, withMetrics bool) (*app, error) {
	a := &app{cfg: cfg, log: logging.NewLogger("main")}

	if withMetrics && cfg.MetricsAddr != "" {
		a.mcol = metrics.NewCollector(cfg.BackoffInitial, cfg.BackoffMax, cfg.TripsRefreshInterval)
	}

	tokens, err := auth.Source(cfg.AuthToken, cfg.AuthJWTSecret, cfg.AuthJWTSubj, cfg.AuthJWTTTL)
	if err != nil {
		return nil, fmt.Errorf("auth: %w", err)
	}

	src, err := a.rosterSource(ctx, tokens)
	if err != nil {
		return nil, err
	}

	st := store.New(logging.NewLogger("store"))
	loader := roster.NewLoader(src, st, cfg.SeedTimeout, cfg.TripsRefreshInterval,
		logging.NewLogger("roster"), rosterMetrics(a.mcol))

	conn, err := hub.New(hub.Options{
		Transport:      cfg.HubTransport,
		URL:            cfg.HubURL,
		Subject:        cfg.HubSubject,
		Name:           "trip-monitor",
		ConnectTimeout: cfg.ConnectTimeout,
		Tokens:         tokens,
	}, logging.NewLogger("hub"))
	if err != nil {
		a.closeDB()
		return nil, err
	}

	a.sup = supervisor.NewProvider(func() *supervisor.Supervisor {
		return supervisor.New(conn, loader, supervisor.Options{
			ConnectTimeout: cfg.ConnectTimeout,
			SeedTimeout:    cfg.SeedTimeout,
			Backoff:        supervisor.NewBackoff(cfg.BackoffInitial, cfg.BackoffMax, cfg.BackoffJitter),
		}, logging.NewLogger("supervisor"), supervisorMetrics(a.mcol))
	})
	a.monitor = monitor.New(a.sup.Instance(), st, loader, logging.NewLogger("monitor"), monitorMetrics(a.mcol))
	return a, nil
}

func (a *app) rosterSource(ctx context.Context, tokens auth.TokenSource) (roster.Source, error) {
	if a.cfg.RosterSource == "http" {
		a.log.WithField("url", a.cfg.RosterURL).Info("roster source: http")
		return roster.NewHTTPSource(a.cfg.RosterURL, tokens, a.cfg.SeedTimeout), nil
	}
	db, err := roster.Open(a.cfg.RosterDBDriver, a.cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}
	if err := roster.Ping(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("db ping error: %w", err)
	}
	a.db = db
	a.log.WithField("driver", a.cfg.RosterDBDriver).Info("roster source: sql")
	return roster.NewSQLSource(db), nil
}

func (a *app) serve(ctx context.Context) error {
	defer a.closeDB()

	var metricsSrv interface{ Shutdown(context.Context) error }
	if a.mcol != nil {
		metricsSrv = a.mcol.Serve(a.cfg.MetricsAddr)
	}

	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	runDone := make(chan struct{})
	go func() {
		_ = a.monitor.Run(runCtx)
		close(runDone)
	}()

	apiErr := make(chan error, 1)
	var srv *api.Server
	if a.cfg.HTTPAddr != "" {
		srv = api.NewServer(a.cfg.HTTPAddr, a.monitor, a.cfg.CORSOrigins, logging.NewLogger("api"))
		go func() { apiErr <- srv.ListenAndServe() }()
	}

	var err error
	select {
	case <-ctx.Done():
	case err = <-apiErr:
	}

	// Run owns the refresher; it must be gone before the supervisor closes.
	stop()
	<-runDone

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if srv != nil {
		_ = srv.Shutdown(shutdownCtx)
	}
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
	if cerr := a.sup.Instance().Close(shutdownCtx); cerr != nil && !errors.Is(cerr, supervisor.ErrClosed) {
		a.log.WithError(cerr).Warn("supervisor close")
	}
	a.log.Info("shutdown complete")
	return err
}

// watch logs connection state and stats after every change until interrupted.
func (a *app) watch(ctx context.Context) error {
	defer a.closeDB()

	changes, unsubscribe := a.monitor.Subscribe()
	defer unsubscribe()

	runCtx, stop := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		_ = a.monitor.Run(runCtx)
		close(done)
	}()
	go func() {
		if err := a.sup.Instance().WaitConnected(runCtx); err == nil {
			a.log.WithField("url", a.cfg.HubURL).Info("first hub connection established")
		}
	}()

	for {
		select {
		case <-ctx.Done():
			stop()
			<-done
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			_ = a.sup.Instance().Close(shutdownCtx)
			cancel()
			return nil
		case <-changes:
			v := a.monitor.View()
			a.log.WithFields(logrus.Fields{
				"state":     v.ConnectionState,
				"revision":  v.Revision,
				"trips":     v.Stats.Trips,
				"reporting": v.Stats.TripsReporting,
				"boarded":   v.Stats.StudentsBoarded,
				"dropped":   v.Stats.StudentsDropped,
				"absent":    v.Stats.StudentsAbsent,
				"pending":   v.Stats.StudentsPending,
			}).Info("trip state")
		}
	}
}

func (a *app) closeDB() {
	if a.db != nil {
		_ = a.db.Close()
		a.db = nil
	}
}

// The adapters return nil interfaces when metrics are disabled so the
// components' nil checks hold.

func supervisorMetrics(c *metrics.Collector) supervisor.Metrics {
	if c == nil {
		return nil
	}
	return c.Supervisor()
}

func rosterMetrics(c *metrics.Collector) roster.Metrics {
	if c == nil {
		return nil
	}
	return c.Roster()
}

func monitorMetrics(c *metrics.Collector) monitor.Metrics {
	if c == nil {
		return nil
	}
	return c.Monitor()
}
