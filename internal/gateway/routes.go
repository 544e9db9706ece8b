package gateway

import (
	"errors"
	"fmt"
	"strings"

	"github.com/nulzo/chat-gateway/internal/supplier"
)

// Route maps model-name prefixes to the supplier serving them.
type Route struct {
	Supplier supplier.Name
	Prefixes []string
}

// DefaultRoutes is the model-name routing contract. Order matters: the first route with a matching
// prefix wins, and matching is case-sensitive.
var DefaultRoutes = []Route{
	{Supplier: supplier.Anthropic, Prefixes: []string{"claude", "anthropic"}},
	{Supplier: supplier.OpenAI, Prefixes: []string{"gpt", "text", "code", "dall", "openai"}},
	{Supplier: supplier.Stability, Prefixes: []string{"stable", "stability"}},
}

// RouteTable resolves model names to suppliers.
type RouteTable struct {
	routes []Route
}

// NewRouteTable validates routes: every prefix non-empty and unique, every supplier listed once.
func NewRouteTable(routes []Route) (*RouteTable, error) {
	if len(routes) == 0 {
		return nil, errors.New("route table is empty")
	}

	seenPrefix := make(map[string]supplier.Name)
	seenSupplier := make(map[supplier.Name]bool)
	copied := make([]Route, 0, len(routes))

	for _, r := range routes {
		if r.Supplier == "" {
			return nil, errors.New("route without supplier")
		}
		if seenSupplier[r.Supplier] {
			return nil, fmt.Errorf("supplier %s routed twice", r.Supplier)
		}
		seenSupplier[r.Supplier] = true

		if len(r.Prefixes) == 0 {
			return nil, fmt.Errorf("supplier %s has no prefixes", r.Supplier)
		}
		for _, p := range r.Prefixes {
			if p == "" {
				return nil, fmt.Errorf("supplier %s has an empty prefix", r.Supplier)
			}
			if owner, dup := seenPrefix[p]; dup {
				return nil, fmt.Errorf("prefix %q claimed by %s and %s", p, owner, r.Supplier)
			}
			seenPrefix[p] = r.Supplier
		}

		copied = append(copied, Route{
			Supplier: r.Supplier,
			Prefixes: append([]string(nil), r.Prefixes...),
		})
	}

	return &RouteTable{routes: copied}, nil
}

// MustRouteTable is NewRouteTable for static tables.
func MustRouteTable(routes []Route) *RouteTable {
	t, err := NewRouteTable(routes)
	if err != nil {
		panic(err)
	}
	return t
}

func (t *RouteTable) Resolve(model string) (supplier.Name, error) {
	for _, r := range t.routes {
		for _, p := range r.Prefixes {
			if strings.HasPrefix(model, p) {
				return r.Supplier, nil
			}
		}
	}
	return "", fmt.Errorf("%w: %q", supplier.ErrNoProviderForModel, model)
}

// Suppliers returns the routed suppliers in evaluation order.
func (t *RouteTable) Suppliers() []supplier.Name {
	out := make([]supplier.Name, 0, len(t.routes))
	for _, r := range t.routes {
		out = append(out, r.Supplier)
	}
	return out
}
