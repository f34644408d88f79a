package middleware

import "net/http"

// NoStore marks every response as uncacheable. Cart state is per-session and
// changes on each mutation, so neither browsers nor proxies may reuse it.
func NoStore(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		w.Header().Add("Vary", SessionHeader)
		next.ServeHTTP(w, r)
	})
}
