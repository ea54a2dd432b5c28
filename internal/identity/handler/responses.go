package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"beacon/internal/identity/models"
	"beacon/internal/identity/service"
	dErrors "beacon/pkg/domain-errors"
)

// ErrorResponse is the JSON error envelope. Reason carries machine-readable
// detail the client acts on (currently only session eviction).
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Reason  string `json:"reason,omitempty"`
}

// ReasonSessionEvicted tells the client its session lost the concurrency race,
// as opposed to ordinary credential expiry.
const ReasonSessionEvicted = models.ReasonSessionEvicted

func statusFor(code dErrors.Code) int {
	switch code {
	case dErrors.CodeBadRequest:
		return http.StatusBadRequest
	case dErrors.CodeUnauthorized:
		return http.StatusUnauthorized
	case dErrors.CodeForbidden:
		return http.StatusForbidden
	case dErrors.CodeNotFound:
		return http.StatusNotFound
	case dErrors.CodeConflict:
		return http.StatusConflict
	case dErrors.CodeRateLimited:
		return http.StatusTooManyRequests
	case dErrors.CodeInvalidToken:
		return http.StatusUnauthorized
	case dErrors.CodeUnavailable:
		return http.StatusServiceUnavailable
	case dErrors.CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	code := dErrors.CodeOf(err)
	resp := ErrorResponse{Error: string(code)}

	var de *dErrors.Error
	if errors.As(err, &de) {
		resp.Message = de.Message
	} else {
		resp.Message = "internal error"
	}
	if errors.Is(err, service.ErrSessionEvicted) {
		resp.Reason = ReasonSessionEvicted
	}

	writeJSON(w, statusFor(code), resp)
}
