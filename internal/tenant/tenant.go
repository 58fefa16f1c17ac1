// Package tenant carries the requesting tenant explicitly through call boundaries.
package tenant

import "context"

// Tenant is the caller on whose behalf suppliers are contacted. An empty
// Suppliers list means every enabled supplier is allowed.
type Tenant struct {
	ID        string
	Suppliers []string
}

func (t Tenant) Allows(code string) bool {
	if len(t.Suppliers) == 0 {
		return true
	}
	for _, s := range t.Suppliers {
		if s == code {
			return true
		}
	}
	return false
}

type ctxKey struct{}

// WithTenant is used by the HTTP layer only; core operations take a Tenant argument.
func WithTenant(ctx context.Context, t Tenant) context.Context {
	return context.WithValue(ctx, ctxKey{}, t)
}

func FromContext(ctx context.Context) (Tenant, bool) {
	t, ok := ctx.Value(ctxKey{}).(Tenant)
	return t, ok
}

// Directory resolves tenant ids.
type Directory struct {
	tenants map[string]Tenant
}

func NewDirectory(tenants map[string][]string) *Directory {
	d := &Directory{tenants: make(map[string]Tenant, len(tenants))}
	for id, sups := range tenants {
		d.tenants[id] = Tenant{ID: id, Suppliers: append([]string(nil), sups...)}
	}
	return d
}

func (d *Directory) Lookup(id string) (Tenant, bool) {
	t, ok := d.tenants[id]
	return t, ok
}
