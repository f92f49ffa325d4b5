package app

import (
	"context"
	"fmt"

	qcfg "quorum/internal/config"
	"quorum/internal/config/loader"
	"quorum/internal/logger"
	"quorum/internal/scheduler"
	"quorum/internal/store"
	"quorum/internal/store/decisionlog"
	adminhttp "quorum/internal/transport/http/admin"

	"golang.org/x/sync/errgroup"
)

// App owns the assembled runtime: the cycle scheduler, the admin HTTP
// server and the stores that need closing on shutdown.
type App struct {
	cfg       *qcfg.Config
	sched     *scheduler.Scheduler
	admin     *adminhttp.Server
	controls  *loader.ControlsLoader
	ledgerDB  store.Store
	decisions *decisionlog.Store
}

// NewApp builds the application from config without starting anything.
func NewApp(cfg *qcfg.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	return buildAppWithWire(context.Background(), cfg)
}

// Run blocks until ctx is cancelled or a component fails.
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	if a.sched == nil {
		return fmt.Errorf("scheduler not initialized")
	}
	group, ctx := errgroup.WithContext(ctx)

	if a.admin != nil {
		group.Go(func() error {
			logger.Infof("admin API listening on %s", a.admin.Addr())
			if err := a.admin.Start(ctx); err != nil {
				return fmt.Errorf("admin server error: %w", err)
			}
			return nil
		})
	}

	group.Go(func() error {
		defer a.Close()
		a.sched.Start(ctx)
		return nil
	})

	return group.Wait()
}

// Close releases the stores. Safe to call more than once.
func (a *App) Close() {
	if a == nil {
		return
	}
	if a.ledgerDB != nil {
		if err := a.ledgerDB.Close(); err != nil {
			logger.Warnf("ledger store close: %v", err)
		}
		a.ledgerDB = nil
	}
	if a.decisions != nil {
		if err := a.decisions.Close(); err != nil {
			logger.Warnf("decision log close: %v", err)
		}
		a.decisions = nil
	}
}
