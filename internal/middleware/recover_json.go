package middleware

import (
	"net/http"

	"github.com/chatcore/internal/logger"
)

// RecoverJSON превращает панику обработчика в {"error":"internal"} с кодом 500.
// Если заголовки уже ушли клиенту, ответ не трогаем.
func RecoverJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := record(w)
		defer func() {
			if p := recover(); p != nil {
				if p == http.ErrAbortHandler {
					panic(p)
				}
				logger.Errorf("panic recovered: %s %s: %v", r.Method, r.URL.Path, p)
				if !rec.wrote {
					jsonError(rec, http.StatusInternalServerError, "internal")
				}
			}
		}()
		next.ServeHTTP(rec, r)
	})
}
