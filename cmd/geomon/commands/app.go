package commands

import (
	"database/sql"
	"fmt"
	"sync"

	"github.com/yairfalse/geomon/internal/alerts"
	"github.com/yairfalse/geomon/internal/gis"
	"github.com/yairfalse/geomon/internal/logger"
	"github.com/yairfalse/geomon/internal/retention"
	"github.com/yairfalse/geomon/internal/scheduler"
	"github.com/yairfalse/geomon/internal/snapshot"
	"github.com/yairfalse/geomon/internal/store"
	"github.com/yairfalse/geomon/internal/sweep"
	"github.com/yairfalse/geomon/pkg/config"
	"github.com/yairfalse/geomon/pkg/types"
)

// app wires the command surface to the engine. Each command builds one,
// uses it, and closes it.
type app struct {
	cfg       *config.Config
	log       logger.Logger
	db        *sql.DB
	repo      store.Repo
	snapshots *snapshot.Store
	scheduler *scheduler.Scheduler
	runner    *sweep.Runner
	cleaner   *retention.Cleaner
}

func newApp(cfg *config.Config) (*app, error) {
	log := logger.New(cfg.Logging.Level)

	db, err := store.Open(store.Config{Path: cfg.Storage.Path, DataDir: cfg.Storage.DataDir})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	repo := store.Repo{DB: db}

	var notifier alerts.Notifier
	floor := types.Severity(cfg.Alerts.SeverityFloor)
	logNotifier := alerts.NewLogNotifier(log, floor)
	if cfg.Alerts.WebhookURL != "" {
		notifier = alerts.Fanout{logNotifier, alerts.NewWebhookNotifier(cfg.Alerts.WebhookURL, floor)}
	} else {
		notifier = logNotifier
	}

	snapshots := snapshot.NewStore(snapshot.Options{
		Repo:        repo,
		ClientFor:   serviceClients(cfg, log),
		Notifier:    notifier,
		Logger:      log,
		SampleLimit: cfg.Sweep.SampleLimit,
	})
	sched := scheduler.New(repo, log)
	runner := sweep.NewRunner(sweep.Options{
		Repo:      repo,
		Snapshots: snapshots,
		Scheduler: sched,
		Notifier:  notifier,
		Logger:    log,
		Workers:   cfg.Sweep.Workers,
	})

	cleaner := retention.NewCleaner(repo, log)
	cleaner.SnapshotRetention = cfg.SnapshotRetention()
	cleaner.ExecutionRetention = cfg.ExecutionRetention()
	if cfg.Retention.BatchSize > 0 {
		cleaner.BatchSize = cfg.Retention.BatchSize
	}

	return &app{
		cfg:       cfg,
		log:       log,
		db:        db,
		repo:      repo,
		snapshots: snapshots,
		scheduler: sched,
		runner:    runner,
		cleaner:   cleaner,
	}, nil
}

func (a *app) Close() error {
	return a.db.Close()
}

// serviceClients resolves one ArcGIS client per service, keyed by base
// URL so token and metadata caches are shared across sweeps.
func serviceClients(cfg *config.Config, log logger.Logger) func(*types.GISService) gis.Client {
	creds := make(map[string]config.ServiceConfig, len(cfg.Services))
	for _, svc := range cfg.Services {
		creds[svc.BaseURL] = svc
	}

	var mu sync.Mutex
	clients := make(map[string]gis.Client)
	return func(svc *types.GISService) gis.Client {
		mu.Lock()
		defer mu.Unlock()
		if c, ok := clients[svc.BaseURL]; ok {
			return c
		}
		opts := gis.ArcGISOptions{
			BaseURL:  svc.BaseURL,
			Username: svc.Username,
			Logger:   log,
		}
		// config-file credentials win over what the database row carries
		if cc, ok := creds[svc.BaseURL]; ok {
			opts.Username = cc.Username
			opts.Password = cc.Password
		}
		c := gis.NewArcGISClient(opts)
		clients[svc.BaseURL] = c
		return c
	}
}
