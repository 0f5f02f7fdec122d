package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/amanthanvi/wardkeeper/internal/app"
	"github.com/amanthanvi/wardkeeper/internal/storage"
	"github.com/go-chi/chi/v5/middleware"
)

const (
	codeValidation        = "VALIDATION_ERROR"
	codeNotFound          = "NOT_FOUND"
	codeDuplicate         = "DUPLICATE"
	codeDoctorUnavailable = "DOCTOR_UNAVAILABLE"
	codeRoomUnavailable   = "ROOM_UNAVAILABLE"
	codeInvalidTransition = "INVALID_TRANSITION"
	codeConflict          = "CONFLICT"
	codeRateLimited       = "RATE_LIMITED"
	codeInternal          = "INTERNAL"
)

type errorResponse struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// statusFor maps service errors to a status code and a stable error code.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, app.ErrValidation):
		return http.StatusUnprocessableEntity, codeValidation
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound, codeNotFound
	case errors.Is(err, app.ErrDuplicate):
		return http.StatusConflict, codeDuplicate
	case errors.Is(err, app.ErrDoctorUnavailable):
		return http.StatusConflict, codeDoctorUnavailable
	case errors.Is(err, app.ErrRoomUnavailable):
		return http.StatusConflict, codeRoomUnavailable
	case errors.Is(err, app.ErrInvalidTransition):
		return http.StatusConflict, codeInvalidTransition
	case errors.Is(err, app.ErrConflict), errors.Is(err, storage.ErrConflict):
		return http.StatusConflict, codeConflict
	default:
		return http.StatusInternalServerError, codeInternal
	}
}

func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		a.logger.ErrorContext(r.Context(), "request failed", "route", routePattern(r), "error", err.Error())
		message = "internal error"
	} else {
		a.logger.DebugContext(r.Context(), "request rejected", "route", routePattern(r), "code", code)
	}
	writeErrorBody(w, r, status, code, message)
}

func writeErrorBody(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: errorBody{
		Code:      code,
		Message:   message,
		RequestID: middleware.GetReqID(r.Context()),
	}})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
