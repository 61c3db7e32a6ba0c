package middleware

import (
	"net/http"
	"time"

	"github.com/deckmate/tablesync/pkg/log"
)

// Logging logs each request with its duration.
func Logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Debug("%s %s %s", r.Method, r.URL.Path, time.Since(start))
	})
}
