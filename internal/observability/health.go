package observability

import (
	"encoding/json"
	"net/http"
	"time"
)

// HealthStatus represents the health status of the service
type HealthStatus struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Service   string `json:"service"`
}

// HealthCheckHandler handles health check requests. It never consults
// rate-limit or upstream state.
func HealthCheckHandler(service string) http.HandlerFunc {
	return healthCheckHandler(service, time.Now)
}

func healthCheckHandler(service string, now func() time.Time) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := HealthStatus{
			Status:    "OK",
			Timestamp: now().UTC().Format(time.RFC3339Nano),
			Service:   service,
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(status)
	}
}
