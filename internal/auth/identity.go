// Package auth verifies caller credentials and derives the identity used
// for authorization and rate limiting.
package auth

import "context"

// Identity is the authenticated caller attached to a request.
type Identity struct {
	// Subject is the stable caller identifier used as the rate limit
	// client key.
	Subject string

	// Roles are the caller's granted roles.
	Roles []string

	// Claims holds the raw token claims for downstream consumers.
	Claims map[string]any
}

// HasAnyRole reports whether the identity holds at least one of the
// required roles. An empty required set always passes.
func (id *Identity) HasAnyRole(required []string) bool {
	if len(required) == 0 {
		return true
	}
	if id == nil {
		return false
	}

	granted := make(map[string]struct{}, len(id.Roles))
	for _, role := range id.Roles {
		granted[role] = struct{}{}
	}

	for _, role := range required {
		if _, ok := granted[role]; ok {
			return true
		}
	}
	return false
}

type identityKey struct{}

// WithIdentity attaches an identity to a context.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFromContext returns the identity attached to a context, if any.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(*Identity)
	return id, ok
}
