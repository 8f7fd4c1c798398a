package opshttp

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/penthu-app/penthu-web/internal/version"
)

type buildInfoResponse struct {
	Build      version.Info `json:"build"`
	StartedAt  time.Time    `json:"started_at"`
	ServerTime time.Time    `json:"server_time"`
}

// buildInfoHandler reports what binary is running and since when.
func buildInfoHandler(vi version.Info, started time.Time) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.Header().Set("Allow", "GET, HEAD")
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-store")
		_ = json.NewEncoder(w).Encode(buildInfoResponse{
			Build:      vi,
			StartedAt:  started.UTC(),
			ServerTime: time.Now().UTC(),
		})
	}
}
