// Package app wires the headless back-office client: config, logging,
// metrics, session storage and one tab.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/shavkatbegmatov/jalyuzi-epr-sub002/internal/config"
	"github.com/shavkatbegmatov/jalyuzi-epr-sub002/internal/metrics"
	"github.com/shavkatbegmatov/jalyuzi-epr-sub002/internal/storage"
	"github.com/shavkatbegmatov/jalyuzi-epr-sub002/internal/tab"
	"github.com/shavkatbegmatov/jalyuzi-epr-sub002/internal/ui"
)

// Credentials log the tab in when no stored session is restored.
type Credentials struct {
	Username string
	Password string
}

type App struct {
	cfg *config.Config
	log *slog.Logger

	reg     *prometheus.Registry
	backend storage.Backend
	pool    *pgxpool.Pool
	tab     *tab.Tab
}

// New opens storage and builds the tab. Close releases both.
func New(ctx context.Context, cfg *config.Config, log *slog.Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat, nil)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	a := &App{cfg: cfg, log: log, reg: reg}
	if err := a.openStorage(ctx); err != nil {
		return nil, err
	}

	t, err := tab.New(tab.Config{
		Backend:        a.backend,
		APIURL:         cfg.APIURL,
		PushURL:        cfg.PushURL,
		PushOrigin:     cfg.PushOrigin,
		PollInterval:   cfg.PollInterval,
		MinInterval:    cfg.MinInterval,
		InitialDelay:   cfg.InitialDelay,
		LogoutDelay:    cfg.LogoutDelay,
		ReconnectDelay: cfg.ReconnectDelay,
		IntentTTL:      cfg.IntentTTL,
		HTTPTimeout:    cfg.HTTPTimeout,
		TrustSessionID: cfg.TrustSessionID,
		Log:            log,
		Metrics:        metrics.New(reg),
	})
	if err != nil {
		a.closeStorage()
		return nil, err
	}
	a.tab = t
	return a, nil
}

func (a *App) openStorage(ctx context.Context) error {
	if a.cfg.StorageDSN == "" {
		a.log.Info("storage.memory")
		a.backend = storage.NewMemory()
		return nil
	}

	pool, err := NewDBPool(ctx, a.cfg.StorageDSN)
	if err != nil {
		return fmt.Errorf("storage pool: %w", err)
	}
	pg, err := storage.NewPostgres(ctx, pool, a.cfg.StorageScope, a.log)
	if err != nil {
		pool.Close()
		return fmt.Errorf("storage: %w", err)
	}
	a.log.Info("storage.postgres", "scope", a.cfg.StorageScope)
	a.pool = pool
	a.backend = pg
	return nil
}

func (a *App) closeStorage() {
	if a.backend != nil {
		if err := a.backend.Close(); err != nil {
			a.log.Warn("storage.close.fail", "err", err)
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
}

func (a *App) Tab() *tab.Tab { return a.tab }

// Run starts the tab, logs in when needed, serves metrics and blocks until
// ctx is done.
func (a *App) Run(ctx context.Context, creds Credentials) error {
	defer a.Close()

	if err := a.tab.Start(ctx); err != nil {
		return err
	}
	if !a.tab.State().IsAuthenticated() {
		if creds.Username == "" {
			a.log.Warn("app.no_session", "hint", "pass --username/--password or reuse a stored session")
		} else if _, err := a.tab.Login(ctx, creds.Username, creds.Password); err != nil {
			return fmt.Errorf("login: %w", err)
		}
	}

	offN := a.tab.Bus().On(ui.EventNotificationsChanged, func(any) {
		a.log.Info("app.notifications", "unread", a.tab.Notifications().Unread())
	})
	defer offN()
	offS := a.tab.Bus().On(ui.EventSessionsChanged, func(p any) {
		a.log.Info("app.sessions.changed", "detail", p)
	})
	defer offS()

	srvErr := make(chan error, 1)
	var srv *http.Server
	if a.cfg.MetricsAddr != "" {
		srv = a.metricsServer()
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				srvErr <- err
			}
		}()
		a.log.Info("metrics.start", "addr", a.cfg.MetricsAddr)
	}

	select {
	case <-ctx.Done():
		a.log.Info("app.stop", "reason", "context_done")
	case err := <-srvErr:
		a.log.Error("metrics.fail", "err", err)
		return err
	}

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.log.Warn("metrics.shutdown.fail", "err", err)
		}
	}
	return nil
}

func (a *App) metricsServer() *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(a.reg))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	return &http.Server{
		Addr:              a.cfg.MetricsAddr,
		Handler:           WithRequestLogging(mux, a.log),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// Close stops the tab and releases storage. It is safe to call twice.
func (a *App) Close() {
	if a.tab != nil {
		a.tab.Close()
	}
	if a.backend != nil || a.pool != nil {
		a.closeStorage()
		a.backend, a.pool = nil, nil
	}
}
