package devices

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/strefethen/dunehd-driver-go/internal/api"
	"github.com/strefethen/dunehd-driver-go/internal/apperrors"
	"github.com/strefethen/dunehd-driver-go/internal/device"
)

// RegisterRoutes wires device routes to the router.
func RegisterRoutes(router chi.Router, service *Service) {
	router.Method(http.MethodGet, "/v1/devices", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		views, err := service.List(r.Context())
		if err != nil {
			return err
		}

		formatted := make([]map[string]any, 0, len(views))
		for _, view := range views {
			formatted = append(formatted, formatView(view))
		}
		return api.WriteList(w, "/v1/devices", formatted, false)
	}))

	router.Method(http.MethodGet, "/v1/devices/{entity_id}", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		view, err := service.Get(r.Context(), chi.URLParam(r, "entity_id"))
		if err != nil {
			return err
		}
		return api.WriteResource(w, http.StatusOK, formatView(*view))
	}))

	router.Method(http.MethodPost, "/v1/devices/probe", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		var input AddInput
		if err := api.DecodeJSON(r, &input); err != nil {
			return err
		}
		if input.Address == "" {
			return apperrors.NewValidationError("address is required", nil)
		}

		probe, _, err := service.Probe(r.Context(), input.Address, input.Username, input.Password)
		if err != nil {
			return err
		}
		return api.WriteResource(w, http.StatusOK, map[string]any{
			"object":           "device_probe",
			"address":          probe.Address,
			"product_id":       probe.ProductID,
			"product_name":     probe.ProductName,
			"serial_number":    probe.SerialNumber,
			"firmware_version": probe.FirmwareVersion,
			"protocol_version": probe.ProtocolVersion,
			"player_state":     probe.PlayerState,
		})
	}))

	router.Method(http.MethodPost, "/v1/devices", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		var input AddInput
		if err := api.DecodeJSON(r, &input); err != nil {
			return err
		}
		if input.Address == "" {
			return apperrors.NewValidationError("address is required", nil)
		}

		view, err := service.Add(r.Context(), input)
		if err != nil {
			return err
		}
		return api.WriteResource(w, http.StatusCreated, formatView(*view))
	}))

	router.Method(http.MethodDelete, "/v1/devices/{entity_id}", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		entityID := chi.URLParam(r, "entity_id")
		if err := service.Remove(r.Context(), entityID); err != nil {
			return err
		}
		return api.WriteResource(w, http.StatusOK, map[string]any{
			"object":    "device",
			"entity_id": entityID,
			"deleted":   true,
		})
	}))

	router.Method(http.MethodPost, "/v1/devices/{entity_id}/commands", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		entityID := chi.URLParam(r, "entity_id")
		var req device.CommandRequest
		if err := api.DecodeJSON(r, &req); err != nil {
			return err
		}
		if err := service.Command(r.Context(), entityID, req); err != nil {
			return err
		}
		return api.WriteResource(w, http.StatusOK, map[string]any{
			"object":    "command_result",
			"entity_id": entityID,
			"cmd_id":    req.Command,
			"status":    "ok",
		})
	}))
}
