package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"

	"github.com/coursemart/authclient/client"
	"github.com/coursemart/authclient/config"
	"github.com/coursemart/authclient/credential"
	"github.com/coursemart/authclient/events"
	"github.com/coursemart/authclient/metrics"
	"github.com/coursemart/authclient/persist"
	"github.com/coursemart/authclient/refresh"
	"github.com/coursemart/authclient/session"
	bboltstorage "github.com/coursemart/authclient/storage/bbolt"
	"github.com/coursemart/authclient/storage/memory"
)

// app is one process worth of session machinery.
type app struct {
	logger  *slog.Logger
	db      *bboltstorage.Store
	api     *client.Client
	store   *session.Store
	adapter *persist.Adapter
	coord   *refresh.Coordinator
	metrics *prometheus.Registry
}

// openApp wires the client stack for cfg and rehydrates the session.
func openApp(ctx context.Context, cfg config.Config, logOut io.Writer) (*app, error) {
	logger, err := config.NewLogger(logOut, cfg.LogLevel, cfg.Debug)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	var sealKey []byte
	if cfg.SealRecords {
		secret, err := persist.LoadOrCreateDeviceSecret(cfg.DeviceKeyPath())
		if err != nil {
			return nil, err
		}
		if sealKey, err = persist.SealKey(secret); err != nil {
			return nil, err
		}
	}

	db, err := bboltstorage.NewRepositoryFromFile(cfg.SessionDBPath(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open session storage: %w", err)
	}

	jar, err := persist.NewCookieJar(db, sealKey, logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	hc, err := client.NewHTTPClient(jar, cfg.RequestTimeout)
	if err != nil {
		db.Close()
		return nil, err
	}
	exchange, err := client.RefreshExchange(hc, cfg.BaseURL)
	if err != nil {
		db.Close()
		return nil, err
	}

	reg := prometheus.NewRegistry()
	collector, err := metrics.NewCollector(reg, metrics.WithAlert(func(e metrics.AlertEvent) {
		logger.Warn(e.Message, "alert", e.Type, "count", e.Count, "threshold", e.Threshold)
	}))
	if err != nil {
		db.Close()
		return nil, err
	}

	bus := events.NewBus()
	cred := credential.NewState(false)
	coord := refresh.NewCoordinator(cred, exchange,
		refresh.WithBus(bus),
		refresh.WithMetrics(collector),
		refresh.WithLogger(logger),
	)
	api, err := client.New(cfg.BaseURL, cred,
		client.WithHTTPClient(hc),
		client.WithRefresher(coord),
		client.WithMetrics(collector),
		client.WithLogger(logger),
		client.WithDebug(cfg.Debug),
		client.WithUserAgent("coursectl/"+Version),
	)
	if err != nil {
		db.Close()
		return nil, err
	}

	adapter := persist.NewAdapter(db, memory.NewRepository(),
		persist.WithSealKey(sealKey),
		persist.WithLogger(logger),
	)
	store := session.New(api, cred, coord, adapter, bus,
		session.WithLogger(logger),
		session.WithDebug(cfg.Debug),
		session.WithCookieJar(jar),
	)
	store.Rehydrate(ctx)

	return &app{
		logger:  logger,
		db:      db,
		api:     api,
		store:   store,
		adapter: adapter,
		coord:   coord,
		metrics: reg,
	}, nil
}

func (a *app) Close() error {
	a.store.Close()
	return a.db.Close()
}

// writeMetrics dumps the process counters in the Prometheus text format.
func (a *app) writeMetrics(w io.Writer) error {
	families, err := a.metrics.Gather()
	if err != nil {
		return err
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return err
		}
	}
	return nil
}

// withApp opens the app for the duration of fn. With --metrics the counters
// are written to logOut once fn returns.
func withApp(ctx context.Context, logOut io.Writer, fn func(*app) error) (err error) {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := openApp(ctx, cfg, logOut)
	if err != nil {
		return err
	}
	defer func() {
		if showMetrics {
			err = errors.Join(err, a.writeMetrics(logOut))
		}
		err = errors.Join(err, a.Close())
	}()
	return fn(a)
}
