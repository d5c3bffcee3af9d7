package handler

import (
	"net/http"
	"time"
)

// HealthHandler reports liveness and whether the detector can serve requests.
func HealthHandler(detectorReady func() bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := "ok"
		ready := detectorReady == nil || detectorReady()
		if !ready {
			status = "degraded"
		}
		respondJSON(w, map[string]interface{}{
			"status":         status,
			"detector_ready": ready,
			"time":           time.Now().UTC(),
		}, http.StatusOK)
	}
}
