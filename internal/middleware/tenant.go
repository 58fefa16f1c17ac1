package middleware

import (
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	handlers "github.com/jkjitendra/transfer-aggregator-service-sub000/internal/http"
	"github.com/jkjitendra/transfer-aggregator-service-sub000/internal/tenant"
)

const (
	TenantHeader  = "X-Tenant-ID"
	DefaultTenant = "default"
)

// TenantMiddleware resolves the X-Tenant-ID header against the directory and puts
// the tenant on the request context. Requests without the header use the default
// tenant; unknown tenants are rejected.
func TenantMiddleware(dir *tenant.Directory) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(TenantHeader)
			if id == "" {
				id = DefaultTenant
			}
			t, ok := dir.Lookup(id)
			if !ok {
				handlers.Forbidden(w, "unknown tenant", map[string]string{"request_id": middleware.GetReqID(r.Context())})
				return
			}
			next.ServeHTTP(w, r.WithContext(tenant.WithTenant(r.Context(), t)))
		})
	}
}
