package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/jortega-grc/covmap/internal/adapters/catalog"
	"github.com/jortega-grc/covmap/internal/adapters/registry"
	"github.com/jortega-grc/covmap/internal/adapters/reporting"
	"github.com/jortega-grc/covmap/internal/adapters/storage"
	webserver "github.com/jortega-grc/covmap/internal/adapters/web/server"
	"github.com/jortega-grc/covmap/internal/adapters/web/websocket"
	"github.com/jortega-grc/covmap/internal/config"
	"github.com/jortega-grc/covmap/internal/core/domain"
	"github.com/jortega-grc/covmap/internal/core/services/gap"
	"github.com/jortega-grc/covmap/internal/core/services/mapping"
	"github.com/jortega-grc/covmap/internal/core/services/recompute"
	"github.com/jortega-grc/covmap/internal/core/services/scoring"
	"github.com/jortega-grc/covmap/internal/mock"
	"github.com/jortega-grc/covmap/internal/telemetry"
)

// Application holds the core components of the system. It acts as the
// facade that bootstraps adapters, services and servers in order.
type Application struct {
	Config      *config.Config
	Store       *storage.SQLiteAdapter
	Catalog     *catalog.SQLiteRepository
	Registry    *registry.GormRegistry
	Coordinator *recompute.Coordinator
	WebServer   *webserver.Server
	WSManager   *websocket.WSManager
}

// New creates a new Application instance and bootstraps its components.
func New(cfg *config.Config) (*Application, error) {
	app := &Application{
		Config: cfg,
	}

	if err := app.bootstrap(); err != nil {
		return nil, fmt.Errorf("application bootstrap failed: %w", err)
	}

	return app, nil
}

// bootstrap orchestrates the initialization sequence.
func (app *Application) bootstrap() error {
	// 1. Foundation & Infrastructure
	telemetry.InitMetrics()

	if err := app.initStorage(); err != nil {
		return err
	}
	if err := app.initCatalog(); err != nil {
		return err
	}

	reg, err := registry.NewGormRegistry(app.Store.DB())
	if err != nil {
		return fmt.Errorf("failed to init control registry: %w", err)
	}
	app.Registry = reg

	// 2. Seed data. Requirement changes from later reloads flow through the
	// registry event stream into incremental recomputation.
	loader := catalog.NewSeedLoader(app.Catalog, app.Registry)
	if app.Config.SeedDir != "" {
		if err := loader.LoadFromDir(context.Background(), app.Config.SeedDir); err != nil {
			slog.Warn("framework seed loading incomplete", "error", err)
		}
	}
	if app.Config.MockMode {
		slog.Info("mock mode active, generating demo data")
		if err := mock.Seed(context.Background(), app.Catalog, app.Registry); err != nil {
			return fmt.Errorf("failed to seed demo data: %w", err)
		}
	}

	// 3. Domain Services
	scorer := scoring.NewKeywordScorer()
	engine := mapping.NewEngine(scorer)
	analyzer := gap.NewAnalyzer(app.Catalog, app.Store, app.Store)

	app.Coordinator = recompute.NewCoordinator(app.Catalog, app.Registry, engine, analyzer, app.Store, app.Store, recompute.Config{
		Workers:    app.Config.Workers,
		BatchSize:  app.Config.BatchSize,
		JobTimeout: app.Config.JobTimeout,
	})

	// Mock mode computes the demo pair immediately so the UI has mappings
	// and gaps to show without a manual trigger.
	if app.Config.MockMode {
		for _, fwID := range mock.DemoFrameworkIDs() {
			app.Coordinator.Trigger(mock.DemoOrganization, fwID, domain.JobScope{})
		}
	}

	// 4. Servers
	app.WSManager = websocket.NewWSManager()
	app.Coordinator.SetNotifier(app.WSManager)

	app.WebServer = webserver.NewServer(
		app.Config.Addr,
		app.Coordinator,
		app.Catalog,
		loader,
		app.Config.SeedDir,
		app.Registry,
		app.Store,
		app.Store,
		app.Store,
		app.WSManager,
		reporting.NewPDFExporter(),
	)

	return nil
}

func (app *Application) initStorage() error {
	if err := os.MkdirAll(filepath.Dir(app.Config.DBPath), 0755); err != nil {
		return fmt.Errorf("failed to create DB directory: %w", err)
	}

	store, err := storage.NewSQLiteAdapter(app.Config.DBPath)
	if err != nil {
		return fmt.Errorf("failed to init system storage: %w", err)
	}
	app.Store = store
	return nil
}

func (app *Application) initCatalog() error {
	if err := os.MkdirAll(filepath.Dir(app.Config.CatalogDB), 0755); err != nil {
		return fmt.Errorf("failed to create catalog directory: %w", err)
	}

	cat, err := catalog.NewSQLiteRepository(app.Config.CatalogDB)
	if err != nil {
		return fmt.Errorf("failed to init framework catalog: %w", err)
	}
	app.Catalog = cat
	return nil
}

// Run starts the application components and manages their execution lifecycle.
func (app *Application) Run(ctx context.Context) error {
	slog.Info("starting covmap components")

	// Change event pump feeds incremental recomputation
	go app.Coordinator.PumpEvents(ctx)

	errChan := make(chan error, 1)
	go func() {
		if err := app.WebServer.Run(ctx); err != nil {
			errChan <- fmt.Errorf("web server error: %w", err)
		}
	}()

	slog.Info("covmap ready")

	select {
	case <-ctx.Done():
		slog.Info("termination signal received")
	case err := <-errChan:
		app.cleanup()
		return err
	}

	return app.cleanup()
}

func (app *Application) cleanup() error {
	slog.Info("cleaning up resources")

	app.Registry.Close()

	if err := app.Catalog.Close(); err != nil {
		slog.Error("catalog close error", "error", err)
	}
	if err := app.Store.Close(); err != nil {
		slog.Error("storage close error", "error", err)
	}
	return nil
}
