package v1

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/xtding233/gacha-pity/internal/errs"
)

// StatusCode maps an error to its HTTP status.
//
// Authoring faults (rate table, empty pool, banner shape) are 422 when the caller
// submitted them and 500 when stored data turned out broken at pull time.
func StatusCode(err error) int {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return http.StatusRequestTimeout
	}
	e, ok := errs.As(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch e.Code {
	case errs.BannerNotFound:
		return http.StatusNotFound
	case errs.BannerInactive:
		return http.StatusConflict
	case errs.InvalidCount, errs.InvalidID, errs.InvalidRequest:
		return http.StatusBadRequest
	case errs.RateTableInvalid, errs.EmptyPool, errs.BannerInvalid:
		if e.Kind == errs.KindValidation {
			return http.StatusUnprocessableEntity
		}
		return http.StatusInternalServerError
	case errs.PityConflict, errs.PersistenceFailed:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes {code, message, retryable}. Causes stay in the log.
func writeError(w http.ResponseWriter, r *http.Request, log *slog.Logger, err error) {
	status := StatusCode(err)
	body := ErrorResponse{Code: string(errs.CodeOf(err)), Retryable: errs.Retryable(err)}
	if e, ok := errs.As(err); ok {
		body.Message = e.Message
	} else {
		body.Message = http.StatusText(status)
	}
	if status >= 500 {
		log.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "code", body.Code, "err", err)
	}
	writeJSON(w, status, body)
}
