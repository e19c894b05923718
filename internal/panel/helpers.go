package panel

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/buffrsign/engine/pkg/schema"
)

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeEngineError maps engine error codes to HTTP status codes.
func writeEngineError(w http.ResponseWriter, err error) {
	switch schema.CodeOf(err) {
	case schema.ErrCodeNotFound:
		writeError(w, http.StatusNotFound, err.Error())
	case schema.ErrCodeValidation:
		writeError(w, http.StatusBadRequest, err.Error())
	case schema.ErrCodeInvalidState, schema.ErrCodeConflict:
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// queryInt extracts an integer query param with a default value.
func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
