package server

import (
	"context"
	"database/sql"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/strefethen/dunehd-driver-go/internal/api"
)

type pinger interface {
	Reader() *sql.DB
}

type healthChecker interface {
	IsHealthy() bool
}

func registerHealthRoutes(router chi.Router, database pinger, auditService healthChecker) {
	router.Method(http.MethodGet, "/v1/health", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		response := map[string]any{
			"status":    "healthy",
			"service":   serviceName,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		}
		return api.WriteJSON(w, http.StatusOK, response)
	}))
	router.Method(http.MethodGet, "/v1/health/live", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		return api.WriteJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	}))
	router.Method(http.MethodGet, "/v1/health/ready", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		checks := map[string]string{"database": "ok", "audit": "ok"}
		ready := true
		if err := database.Reader().PingContext(ctx); err != nil {
			checks["database"] = err.Error()
			ready = false
		}
		if !auditService.IsHealthy() {
			checks["audit"] = "degraded"
			ready = false
		}

		if !ready {
			return api.WriteJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "not_ready", "checks": checks})
		}
		return api.WriteJSON(w, http.StatusOK, map[string]any{"status": "ready", "checks": checks})
	}))
}

type yamlExporter interface {
	ExportYAML(ctx context.Context, out io.Writer) error
}

// registerExportRoute serves the stored devices in the DEVICES_FILE format
// so a backup can be fed back in at startup.
func registerExportRoute(router chi.Router, exporter yamlExporter) {
	router.Method(http.MethodGet, "/v1/devices/export", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		w.Header().Set("Content-Type", "application/yaml")
		w.Header().Set("Content-Disposition", `attachment; filename="devices.yaml"`)
		return exporter.ExportYAML(r.Context(), w)
	}))
}
