package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/jortega-grc/covmap/internal/adapters/catalog"
	"github.com/jortega-grc/covmap/internal/adapters/registry"
	"github.com/jortega-grc/covmap/internal/adapters/reporting"
	"github.com/jortega-grc/covmap/internal/adapters/web/handlers"
	"github.com/jortega-grc/covmap/internal/adapters/web/websocket"
	"github.com/jortega-grc/covmap/internal/core/ports"
	"github.com/jortega-grc/covmap/internal/core/services/recompute"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Server handles HTTP and WebSocket connections.
type Server struct {
	Addr      string
	WSManager *websocket.WSManager

	MappingHandler *handlers.MappingHandler
	GapHandler     *handlers.GapHandler
	JobHandler     *handlers.JobHandler
	CatalogHandler *handlers.CatalogHandler
	ControlHandler *handlers.ControlHandler
	ReportHandler  *handlers.ReportHandler

	srv *http.Server
}

// NewServer creates a new web server. The seed loader and directory may be
// empty when catalog reloads are not exposed.
func NewServer(addr string, coordinator *recompute.Coordinator, cat ports.Catalog, loader *catalog.SeedLoader, seedDir string, reg *registry.GormRegistry, mappings ports.MappingRepository, gaps ports.GapRepository, jobs ports.JobRepository, wsManager *websocket.WSManager, pdfExporter *reporting.PDFExporter) *Server {
	return &Server{
		Addr:      addr,
		WSManager: wsManager,

		MappingHandler: handlers.NewMappingHandler(mappings),
		GapHandler:     handlers.NewGapHandler(gaps),
		JobHandler:     handlers.NewJobHandler(coordinator, jobs),
		CatalogHandler: handlers.NewCatalogHandler(cat, loader, seedDir),
		ControlHandler: handlers.NewControlHandler(reg, mappings),
		ReportHandler:  handlers.NewReportHandler(gaps, cat, pdfExporter),
	}
}

// Run starts the server and blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	handler := SetupRoutes(s)

	// Instrument with OpenTelemetry
	instrumentedHandler := otelhttp.NewHandler(handler, "covmap-server")

	s.srv = &http.Server{
		Addr:              s.Addr,
		Handler:           instrumentedHandler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful Shutdown implementation
	go func() {
		<-ctx.Done()
		slog.Info("web server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("web server shutdown error", "error", err)
		}
	}()

	slog.Info("web server listening", "addr", s.Addr)
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
