package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/park285/cheese-arena/internal/obslog"
	"github.com/park285/cheese-arena/pkg/chessdto"
	"go.uber.org/zap"
)

const maxBodyBytes = 64 << 10

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		obslog.L().Warn("http_encode_error", zap.Error(err))
	}
}

func respondError(w http.ResponseWriter, status int, code chessdto.Code, message string) {
	respondJSON(w, status, chessdto.ErrorResponse{Code: code, Message: message})
}

// respondErr maps a domain error to its status. Anything else is a 500 with
// the details kept in the log.
func respondErr(w http.ResponseWriter, r *http.Request, err error) {
	code := chessdto.CodeOf(err)
	status := chessdto.HTTPStatus(code)
	if code == chessdto.CodeInternal {
		obslog.L().Error("http_internal_error", zap.String("method", r.Method), zap.String("path", r.URL.Path), zap.Error(err))
		respondError(w, status, code, "internal error")
		return
	}
	respondError(w, status, code, err.Error())
}

// decode reads a JSON body. An empty body leaves dst untouched.
func decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return chessdto.Errorf(chessdto.CodeValidation, "invalid request body: %v", err)
	}
	return nil
}
