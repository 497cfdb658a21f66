// AngelaMos | 2026
// context.go

package tenant

import (
	"context"
)

type contextKey string

const (
	principalKey contextKey = "tenant_principal"
	scopeKey     contextKey = "tenant_scope"
)

func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

func PrincipalFromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalKey).(*Principal)
	return p, ok && p != nil
}

func WithScope(ctx context.Context, s *Scope) context.Context {
	return context.WithValue(ctx, scopeKey, s)
}

// FromContext returns the Scope placed by Resolver.Middleware. Handlers that
// touch tenant data must treat a missing Scope as a server fault.
func FromContext(ctx context.Context) (*Scope, bool) {
	s, ok := ctx.Value(scopeKey).(*Scope)
	return s, ok && s != nil
}
