package middleware

import (
	"net/http"

	"github.com/go-chi/cors"
)

const (
	AllowOrigin  = "*"
	AllowHeaders = "authorization, x-client-info, apikey, content-type"
)

// CORS negotiates browser requests and stamps the fixed allow headers on
// every response. Preflights pass through so Preflight can answer them.
func CORS(next http.Handler) http.Handler {
	negotiate := cors.Handler(cors.Options{
		AllowedOrigins:     []string{AllowOrigin},
		AllowedMethods:     []string{http.MethodPost, http.MethodGet, http.MethodOptions},
		AllowedHeaders:     []string{"Authorization", "X-Client-Info", "Apikey", "Content-Type"},
		ExposedHeaders:     []string{RequestIDHeader},
		OptionsPassthrough: true,
		MaxAge:             300,
	})
	return negotiate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", AllowOrigin)
		w.Header().Set("Access-Control-Allow-Headers", AllowHeaders)
		next.ServeHTTP(w, r)
	}))
}

// Preflight answers every OPTIONS request with an empty 200.
func Preflight(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
