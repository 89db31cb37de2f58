package httptransport

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/atlas-commerce/fulfillment/internal/pkg/correlation"
	"github.com/atlas-commerce/fulfillment/internal/pkg/logging"
)

// requestContext seeds each request with a correlation id (taken from
// X-Request-ID when the caller supplied one) and a request-scoped logger, and
// echoes the id back.
func (h *Handler) requestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := correlation.WithID(r.Context(), r.Header.Get(headerRequestID))
		ctx, id := correlation.Ensure(ctx)
		w.Header().Set(headerRequestID, id)

		reqLogger := h.logger.With(zap.String("request_id", id))
		ctx = logging.ContextWithLogger(ctx, reqLogger)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// instrument records the access log line and the HTTP RED metrics with the
// low-cardinality route template as the label.
func (h *Handler) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		route := r.URL.Path
		if current := mux.CurrentRoute(r); current != nil {
			if tmpl, err := current.GetPathTemplate(); err == nil {
				route = tmpl
			}
		}

		elapsed := time.Since(start)
		h.metrics.HTTPRequests.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Inc()
		h.metrics.HTTPDuration.WithLabelValues(r.Method, route).Observe(elapsed.Seconds())

		logging.FromContext(r.Context()).Info("http_access",
			zap.String("method", r.Method),
			zap.String("route", route),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Int64("latency_ms", elapsed.Milliseconds()),
		)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (w *statusRecorder) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
