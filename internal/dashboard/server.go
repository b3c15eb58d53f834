// Package dashboard serves the HTML views and JSON endpoints over the
// stored snapshots.
package dashboard

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ppiankov/meshspectre/internal/metrics"
	"github.com/ppiankov/meshspectre/internal/models"
	"github.com/ppiankov/meshspectre/pkg/config"
)

//go:embed templates/*.html
var templateFS embed.FS

const shutdownTimeout = 10 * time.Second

// SnapshotReader is the read side of the snapshot store.
type SnapshotReader interface {
	ReadInventory(ctx context.Context) (*models.Inventory, error)
	ReadHealth(ctx context.Context) (*models.HealthReport, error)
	ReadRED(ctx context.Context) (*models.REDReport, error)
}

// DetailProvider fetches live drill-down data for one application.
type DetailProvider interface {
	DetailedHealth(ctx context.Context, namespace, app string) (*models.AppHealthDetail, error)
}

// Server is the dashboard HTTP server.
type Server struct {
	config  *config.Config
	store   SnapshotReader
	details DetailProvider
	router  *gin.Engine
}

// New builds the router. details may be nil, in which case drill-down
// requests answer 503.
func New(cfg *config.Config, store SnapshotReader, details DetailProvider) (*Server, error) {
	tmpl, err := template.New("").Funcs(templateFuncs).ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse templates: %w", err)
	}

	s := &Server{
		config:  cfg,
		store:   store,
		details: details,
	}

	r := gin.New()
	r.Use(requestID(), accessLog(), gin.CustomRecovery(recoverPanic))
	r.SetHTMLTemplate(tmpl)

	r.GET("/", s.index)
	r.GET("/apphealth", s.appHealth)
	r.POST("/apphealth", s.appHealth)
	r.GET("/getapp", s.getApp)
	r.GET("/red", s.red)

	api := r.Group("/api")
	api.GET("/summary", s.apiSummary)
	api.GET("/health", s.apiHealth)
	api.GET("/red", s.apiRED)

	r.GET("/healthz", s.healthz)
	r.GET("/readyz", s.readyz)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	s.router = r
	return s, nil
}

// Handler returns the router as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("dashboard listening", slog.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("dashboard server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down dashboard: %w", err)
	}
	slog.Info("dashboard stopped")
	return nil
}

var templateFuncs = template.FuncMap{
	"rate": func(v float64) string {
		return fmt.Sprintf("%.2f", v)
	},
	"timestamp": func(t *time.Time) string {
		if t == nil {
			return "never"
		}
		return t.UTC().Format(time.RFC3339)
	},
}
