package infra

import (
	"net/http"

	"golang.org/x/time/rate"
)

// RateLimitMiddleware ограничивает общий поток запросов на инстанс.
// Token bucket без ожидания: при переполнении сразу отдаем 429,
// чтобы не копить очередь перед движком.
func RateLimitMiddleware(limiter *rate.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				http.Error(w, "Too many requests", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
