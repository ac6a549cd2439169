package rbac

import (
	"context"
	"fmt"

	"github.com/meshworks/backoffice/internal/shared"
)

type principalContextKey struct{}

// ContextWithPrincipal stores the acting principal in ctx.
func ContextWithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, p)
}

// PrincipalFromContext extracts the principal set by ContextWithPrincipal.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalContextKey{}).(Principal)
	return p, ok
}

// RequireEdit fails with shared.ErrPermissionDenied unless the principal in
// ctx can edit menu.
func RequireEdit(ctx context.Context, menu string) (Principal, error) {
	p, ok := PrincipalFromContext(ctx)
	if !ok {
		return Principal{}, fmt.Errorf("rbac: no principal for %s: %w", menu, shared.ErrPermissionDenied)
	}
	if !p.CanEdit(menu) {
		return Principal{}, fmt.Errorf("rbac: %s cannot edit %s: %w", p.Name, menu, shared.ErrPermissionDenied)
	}
	return p, nil
}

// RequireView fails with shared.ErrPermissionDenied unless the principal in
// ctx can view menu.
func RequireView(ctx context.Context, menu string) (Principal, error) {
	p, ok := PrincipalFromContext(ctx)
	if !ok {
		return Principal{}, fmt.Errorf("rbac: no principal for %s: %w", menu, shared.ErrPermissionDenied)
	}
	if !p.CanView(menu) {
		return Principal{}, fmt.Errorf("rbac: %s cannot view %s: %w", p.Name, menu, shared.ErrPermissionDenied)
	}
	return p, nil
}
