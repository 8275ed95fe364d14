package billing

import (
	"context"
	"net/http"

	"github.com/dmitrymomot/billingkit/pkg/logger"
	"github.com/dmitrymomot/billingkit/pkg/usage"
)

type userKey struct{}

// WithUser stores the authenticated user id in ctx.
func WithUser(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userKey{}, userID)
}

// UserFromContext returns the user id stored by WithUser or the module's
// auth middleware.
func UserFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(userKey{}).(string)
	return id, ok && id != ""
}

func userFrom(ctx context.Context) string {
	id, _ := UserFromContext(ctx)
	return id
}

func (m *Module) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := m.users(r)
		if err != nil || id == "" {
			m.writeError(w, r, ErrUnauthenticated)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), id)))
	})
}

// RequireUser is the module's auth middleware for routes mounted outside
// Handle, such as handlers wrapped by RequireUsage.
func (m *Module) RequireUser(next http.Handler) http.Handler {
	return m.requireUser(next)
}

// RequireUsage gates next on one unit of kind. The unit is consumed before
// next runs and released again when next responds with an error status.
// Denied requests get 403 with the denial payload.
func (m *Module) RequireUsage(kind usage.Resource) func(http.Handler) http.Handler {
	return m.RequireUsageFunc(kind, func(*http.Request) int64 { return 1 })
}

// RequireUsageFunc is RequireUsage with a per-request unit count.
func (m *Module) RequireUsageFunc(kind usage.Resource, units func(*http.Request) int64) func(http.Handler) http.Handler {
	gate := m.svc.Gate()
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, ok := UserFromContext(r.Context())
			if !ok {
				id, err := m.users(r)
				if err != nil || id == "" {
					m.writeError(w, r, ErrUnauthenticated)
					return
				}
				userID = id
				r = r.WithContext(WithUser(r.Context(), id))
			}

			n := units(r)
			d, err := gate.Consume(r.Context(), userID, kind, n)
			if err != nil {
				m.writeError(w, r, err)
				return
			}
			if !d.Allowed {
				writeJSON(w, http.StatusForbidden, gate.Denial(d))
				return
			}

			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			if rec.status < http.StatusBadRequest {
				return
			}
			if err := gate.Release(context.WithoutCancel(r.Context()), userID, kind, n); err != nil {
				m.log.ErrorContext(r.Context(), "failed to release usage",
					logger.UserID(userID), logger.Resource(string(kind)), logger.Error(err))
			}
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (s *statusRecorder) WriteHeader(code int) {
	if !s.wroteHeader {
		s.status = code
		s.wroteHeader = true
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	s.wroteHeader = true
	return s.ResponseWriter.Write(b)
}

func (s *statusRecorder) Unwrap() http.ResponseWriter { return s.ResponseWriter }
