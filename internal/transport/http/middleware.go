package httptransport

import (
	"context"
	"crypto/subtle"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"video-lifecycle-service/internal/service"
)

type statusWriter struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}

func RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := &statusWriter{ResponseWriter: w}
		start := time.Now()

		reqID := middleware.GetReqID(r.Context())

		next.ServeHTTP(sw, r)

		log.Printf("[http] req_id=%s method=%s path=%s status=%d bytes=%d duration_ms=%d",
			reqID,
			r.Method,
			r.URL.Path,
			sw.status,
			sw.bytes,
			time.Since(start).Milliseconds(),
		)
	})
}

type ctxKey int

const identityKey ctxKey = 1

// Auth trusts the identity established by the upstream auth layer,
// handed over in headers. The core only enforces ownership/privilege.
func Auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := r.Header.Get("X-User-ID")
		if userID == "" {
			writeErr(w, http.StatusUnauthorized, "missing identity")
			return
		}

		ident := service.Identity{
			UserID:     userID,
			Privileged: r.Header.Get("X-Privileged") == "true",
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), identityKey, ident)))
	})
}

func identityFrom(r *http.Request) service.Identity {
	ident, _ := r.Context().Value(identityKey).(service.Identity)
	return ident
}

// WorkerAuth gates the worker API behind the shared worker credential,
// not end-user auth.
func WorkerAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get("X-Worker-Token")
			if token == "" || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				writeErr(w, http.StatusUnauthorized, "invalid worker credential")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
