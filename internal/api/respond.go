package api

import (
	"encoding/json"
	"net/http"

	"github.com/ericksa/lexiclarus/internal/apperr"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Code    apperr.Code `json:"code"`
	Message string      `json:"message"`
}

// StatusFor maps an error code to its HTTP status.
func StatusFor(code apperr.Code) int {
	switch code {
	case apperr.CodeInvalidInput, apperr.CodeUnsupportedDocument:
		return http.StatusBadRequest
	case apperr.CodeNotFound:
		return http.StatusNotFound
	case apperr.CodeNotReady:
		return http.StatusConflict
	case apperr.CodeExtractionFailed, apperr.CodeSegmentationFailed:
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, err error) {
	code := apperr.CodeOf(err)
	writeJSON(w, StatusFor(code), map[string]errorBody{
		"error": {Code: code, Message: err.Error()},
	})
}
