package cmd

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/tjbishop07/autoteller/api/schemas"
	"github.com/tjbishop07/autoteller/internal/browser"
	"github.com/tjbishop07/autoteller/internal/config"
	"github.com/tjbishop07/autoteller/internal/observability"
	"github.com/tjbishop07/autoteller/internal/playback"
	"github.com/tjbishop07/autoteller/internal/scheduler"
	"github.com/tjbishop07/autoteller/internal/store"
)

const shutdownGracePeriod = 15 * time.Second

// components holds the initialized services behind the playback commands.
type components struct {
	Config  *config.Config
	Store   *store.Store
	Browser *browser.Manager
	Sched   *scheduler.Scheduler
}

// initializeComponents wires store, browser and scheduler together. The
// browser process itself launches lazily on the first opened page.
func initializeComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*components, error) {
	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	bm := browser.NewManager(cfg.Browser, logger)

	c := &components{Config: cfg, Store: st, Browser: bm}
	c.Sched = scheduler.NewScheduler(scheduler.Deps{
		Logger:     logger,
		Recordings: st,
		Settings:   st,
		Runs:       st,
		Pages:      bm,
		NewPlayer: func(settings schemas.Settings) schemas.Player {
			return playback.NewPlayer(logger, cfg.Playback, settings)
		},
	})
	return c, nil
}

// Shutdown stops the scheduler, the browser and the store, in that order.
func (c *components) Shutdown() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
	defer cancel()

	c.Sched.Stop()
	if err := c.Browser.Shutdown(shutdownCtx); err != nil {
		observability.GetLogger().Warn("Error during browser shutdown.", zap.Error(err))
	}
	c.Store.Close()
}

// openStore connects to the database and verifies the schema. Commands that
// only read or write stored data use this instead of the full component set.
func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*store.Store, error) {
	st, err := store.Connect(ctx, cfg.Database.URL, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}
	if err := st.EnsureSchema(ctx); err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to ensure database schema: %w", err)
	}
	return st, nil
}
