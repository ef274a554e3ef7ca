package http

import (
	"errors"
	"net/http"

	gojson "github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

type errorResponse struct {
	Error string `json:"error"`
}

// readJSON decodes a JSON request body with a size limit, writing the error
// response on failure.
func readJSON[T any](w http.ResponseWriter, r *http.Request) (T, bool) {
	var v T
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := gojson.NewDecoder(r.Body).Decode(&v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, r, http.StatusRequestEntityTooLarge, "request body too large")
		} else {
			writeError(w, r, http.StatusBadRequest, "invalid request body")
		}
		return v, false
	}
	return v, true
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := gojson.NewEncoder(w).Encode(data); err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("write json response")
	}
}

func writeError(w http.ResponseWriter, r *http.Request, status int, message string) {
	writeJSON(w, r, status, errorResponse{Error: message})
}
