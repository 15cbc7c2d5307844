package http

import "net/http"

type healthResponse struct {
	Status string `json:"status"`
}

// HealthHandler reports liveness without touching the database.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
}
