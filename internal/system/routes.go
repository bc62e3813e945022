package system

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/strefethen/dunehd-driver-go/internal/api"
)

// RegisterRoutes wires system routes to the router.
func RegisterRoutes(router chi.Router, service *Service) {
	router.Method(http.MethodGet, "/v1/system/info", api.Handler(getSystemInfo(service)))
	router.Method(http.MethodGet, "/v1/dashboard", api.Handler(getDashboard(service)))
}

// getSystemInfo handles GET /v1/system/info
func getSystemInfo(service *Service) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		info := service.GetSystemInfo(r.Context())
		return api.WriteResource(w, http.StatusOK, map[string]any{
			"object": "system_info",
			"info":   info,
		})
	}
}

// getDashboard handles GET /v1/dashboard
func getDashboard(service *Service) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		return api.WriteResource(w, http.StatusOK, map[string]any{
			"object":    "dashboard",
			"dashboard": service.GetDashboardData(),
		})
	}
}
