package http

import (
	"net/http"

	"github.com/rs/cors"
)

// CORS wraps next with an allow-list policy. "*" allows any origin.
func CORS(allowedOrigins []string, next http.Handler) http.Handler {
	return cors.New(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowedHeaders: []string{"Content-Type", UserHeader},
		MaxAge:         600,
	}).Handler(next)
}
