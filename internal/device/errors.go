package device

import (
	"context"
	"errors"
	"net/http"

	"github.com/strefethen/dunehd-driver-go/internal/apperrors"
	"github.com/strefethen/dunehd-driver-go/internal/dunehd"
)

// ErrUnconfigured is returned for entity ids with no stored endpoint.
var ErrUnconfigured = errors.New("device not configured")

// ErrRegistryClosed is returned for subscriptions after Shutdown.
var ErrRegistryClosed = errors.New("device registry is shut down")

// errPowerOnUnconfirmed is returned when the re-poll after a wake call
// cannot tell what state the player is in.
var errPowerOnUnconfirmed = errors.New("player did not confirm power on")

// commandError converts a translator or client failure into the AppError
// returned to the hub. The original error stays reachable through Unwrap.
func commandError(entityID, command string, err error) error {
	if err == nil {
		return nil
	}

	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	details := map[string]any{"entity_id": entityID, "cmd_id": command}

	var unreachable *dunehd.UnreachableError
	var malformed *dunehd.MalformedResponseError
	var rejected *dunehd.RejectedError
	switch {
	case errors.Is(err, context.Canceled):
		return apperrors.NewAppError(apperrors.ErrorCodeDeviceTimeout,
			"command cancelled before the device answered", http.StatusRequestTimeout, details, nil).WithCause(err)
	case errors.Is(err, ErrUnconfigured):
		return apperrors.NewDeviceNotConfigured(entityID).WithCause(err)
	case errors.As(err, &unreachable):
		details["timeout"] = unreachable.Timeout
		return apperrors.NewAppError(apperrors.ErrorCodeDeviceUnreachable,
			"device unreachable", http.StatusServiceUnavailable, details, nil).WithCause(err)
	case errors.As(err, &malformed):
		details["reason"] = malformed.Reason
		return apperrors.NewAppError(apperrors.ErrorCodeDeviceMalformed,
			"device returned a malformed response", http.StatusBadGateway, details, nil).WithCause(err)
	case errors.As(err, &rejected):
		return rejectedError(rejected, details).WithCause(err)
	case errors.Is(err, errPowerOnUnconfirmed):
		return apperrors.NewAppError(apperrors.ErrorCodeDeviceUnreachable,
			err.Error(), http.StatusServiceUnavailable, details, nil).WithCause(err)
	case errors.Is(err, context.DeadlineExceeded):
		return apperrors.NewAppError(apperrors.ErrorCodeDeviceTimeout,
			"command deadline passed before the device answered", http.StatusRequestTimeout, details, nil).WithCause(err)
	}

	return apperrors.NewInternalError("command failed: " + err.Error()).WithCause(err)
}

// rejectedError follows the player's own classification of the failure.
func rejectedError(rejected *dunehd.RejectedError, details map[string]any) *apperrors.AppError {
	if rejected.HTTPStatus != 0 {
		details["http_status"] = rejected.HTTPStatus
		return apperrors.NewAppError(apperrors.ErrorCodeDeviceRejected,
			rejected.Error(), http.StatusInternalServerError, details, nil)
	}
	if rejected.Result == dunehd.ResultTimeout {
		return apperrors.NewAppError(apperrors.ErrorCodeDeviceTimeout,
			"device reported a command timeout", http.StatusRequestTimeout, details, nil)
	}

	details["error_kind"] = string(rejected.Kind)
	if rejected.Description != "" {
		details["error_description"] = rejected.Description
	}

	status := http.StatusInternalServerError
	switch rejected.Kind {
	case dunehd.ErrorKindInvalidParameters:
		status = http.StatusBadRequest
	case dunehd.ErrorKindUnknownCommand:
		status = http.StatusNotImplemented
	case dunehd.ErrorKindIllegalState:
		status = http.StatusConflict
	}
	return apperrors.NewAppError(apperrors.ErrorCodeDeviceRejected, rejected.Error(), status, details, nil)
}
