// Package httpx provides HTTP response utilities.
package httpx

import (
	"log/slog"
	"net/http"

	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

var statusByCode = map[string]int{
	shared.CodeValidation:        http.StatusBadRequest,
	shared.CodeNotFound:          http.StatusNotFound,
	shared.CodeInvalidTransition: http.StatusConflict,
	shared.CodeInsufficientStock: http.StatusUnprocessableEntity,
	shared.CodeOverReceipt:       http.StatusUnprocessableEntity,
	shared.CodeDuplicate:         http.StatusConflict,
	shared.CodeConflict:          http.StatusConflict,
}

var titleByCode = map[string]string{
	shared.CodeValidation:        "Validation Failed",
	shared.CodeNotFound:          "Not Found",
	shared.CodeInvalidTransition: "Invalid State Transition",
	shared.CodeInsufficientStock: "Insufficient Stock",
	shared.CodeOverReceipt:       "Over Receipt",
	shared.CodeDuplicate:         "Duplicate",
	shared.CodeConflict:          "Conflict",
}

// detailByCode replaces the error text for codes raised by the storage layer,
// whose chains carry constraint names and driver messages.
var detailByCode = map[string]string{
	shared.CodeNotFound:  "The requested resource does not exist.",
	shared.CodeDuplicate: "A record with the same reference already exists.",
	shared.CodeConflict:  "The resource was modified concurrently. Retry the request.",
}

// RespondError maps domain errors to RFC7807 responses. Unclassified errors
// are logged and answered with a generic body.
func RespondError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	code := shared.Code(err)
	status, ok := statusByCode[code]
	if !ok {
		if logger != nil {
			logger.Error("request failed", slog.String("path", r.URL.Path), slog.String("method", r.Method), slog.Any("error", err))
		}
		Problem(w, http.StatusInternalServerError, shared.CodeInternal, "Internal Error", "")
		return
	}
	detail, curated := detailByCode[code]
	if !curated {
		detail = err.Error()
	} else if logger != nil {
		logger.Warn("request rejected", slog.String("path", r.URL.Path), slog.String("method", r.Method),
			slog.String("code", code), slog.Any("error", err))
	}
	Problem(w, status, code, titleByCode[code], detail)
}
