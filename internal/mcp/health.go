package mcp

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// HealthResponse represents the JSON response from the health check endpoint.
type HealthResponse struct {
	Status    string `json:"status"`
	Qdrant    string `json:"qdrant"`
	Mode      string `json:"mode"`
	Timestamp string `json:"timestamp"`
}

// HealthChecker is implemented by *storage.KnowledgeStore.
type HealthChecker interface {
	Health(ctx context.Context) error
	IsDegraded() bool
}

// NewHealthHandler creates an HTTP handler for the /health endpoint.
//
// Requests are still served from the fallback while Qdrant is down, so an unreachable
// Qdrant or a degraded store reports status "degraded" with 200.
func NewHealthHandler(store HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		response := HealthResponse{
			Status:    "healthy",
			Qdrant:    "connected",
			Mode:      modeOf(store),
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		}
		if err := store.Health(ctx); err != nil {
			response.Qdrant = "disconnected"
		}
		if response.Qdrant != "connected" || response.Mode != "primary" {
			response.Status = "degraded"
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(response)
	}
}
