package main

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/fpang/untrunc-batch/internal/batch"
)

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// httpError sends a JSON error response. The clientMsg is returned to the caller.
// Optional internalDetails are logged server-side but never sent to the client.
func httpError(w http.ResponseWriter, status int, clientMsg string, internalDetails ...string) {
	if len(internalDetails) > 0 {
		log.Error().
			Int("status", status).
			Str("clientMsg", clientMsg).
			Strs("internalDetails", internalDetails).
			Msg("HTTP error with internal details")
	}
	respondJSON(w, status, map[string]string{"error": clientMsg})
}

// respondBatchError maps input kinds to 400 with their message and anything
// else to an opaque 500.
func respondBatchError(w http.ResponseWriter, err error) {
	kind := batch.KindOf(err)
	if kind.IsInput() {
		respondJSON(w, http.StatusBadRequest, map[string]string{
			"error":      err.Error(),
			"error_type": string(kind),
		})
		return
	}
	httpError(w, http.StatusInternalServerError, "internal error", err.Error())
}
