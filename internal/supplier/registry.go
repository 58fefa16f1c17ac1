package supplier

import (
	"fmt"
	"sort"
	"sync"
)

// Registry maps supplier codes to implementations. Disabled suppliers stay
// resolvable for booking and cancellation but are excluded from new searches.
type Registry struct {
	mu        sync.RWMutex
	suppliers map[string]Supplier
	disabled  map[string]bool
}

func NewRegistry(suppliers ...Supplier) *Registry {
	r := &Registry{suppliers: make(map[string]Supplier), disabled: make(map[string]bool)}
	for _, s := range suppliers {
		r.Register(s)
	}
	return r
}

func (r *Registry) Register(s Supplier) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.suppliers[s.Code()] = s
}

func (r *Registry) SetEnabled(code string, enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if enabled {
		delete(r.disabled, code)
	} else {
		r.disabled[code] = true
	}
}

func (r *Registry) Get(code string) (Supplier, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.suppliers[code]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSupplierNotFound, code)
	}
	return s, nil
}

// Searchable returns the enabled suppliers accepted by allow, sorted by code.
// A nil allow accepts every supplier.
func (r *Registry) Searchable(allow func(code string) bool) []Supplier {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Supplier, 0, len(r.suppliers))
	for code, s := range r.suppliers {
		if r.disabled[code] {
			continue
		}
		if allow != nil && !allow(code) {
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code() < out[j].Code() })
	return out
}
