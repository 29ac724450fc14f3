package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/chatcore/internal/logger"
)

// statusRecorder запоминает код ответа; повторный WriteHeader игнорируется.
type statusRecorder struct {
	http.ResponseWriter
	status int
	wrote  bool
}

func (w *statusRecorder) WriteHeader(code int) {
	if w.wrote {
		return
	}
	w.status = code
	w.wrote = true
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusRecorder) Write(b []byte) (int, error) {
	if !w.wrote {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}

func record(w http.ResponseWriter) *statusRecorder {
	if rec, ok := w.(*statusRecorder); ok {
		return rec
	}
	return &statusRecorder{ResponseWriter: w, status: http.StatusOK}
}

// MaskSessionID оставляет в логах только префикс идентификатора сессии.
func MaskSessionID(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= 4 {
		return "****"
	}
	return s[:4] + "***"
}

// RequestLog пишет method, шаблон маршрута, статус и длительность запроса.
// 5xx идут в error, остальное в debug.
func RequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := record(w)
		next.ServeHTTP(rec, r)
		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		logger.LogDuration("http "+r.Method+" "+route, start)
		if rec.status >= http.StatusInternalServerError {
			logger.Errorf("http %s %s user=%s -> %d", r.Method, route, GetUserID(r.Context()), rec.status)
		} else {
			logger.Debugf("http %s %s -> %d", r.Method, route, rec.status)
		}
	})
}
