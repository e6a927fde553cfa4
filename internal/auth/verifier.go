package auth

import (
	"context"
	"fmt"
	"strings"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/apexgw/apexgw/internal/observability"
	"github.com/apexgw/apexgw/internal/util"
)

// TokenVerifier validates a bearer credential and returns the caller
// identity.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (*Identity, error)
}

// JWTVerifier validates signed JWTs using a shared secret.
type JWTVerifier struct {
	algorithm  jwa.SignatureAlgorithm
	secret     []byte
	rolesClaim string
	logger     observability.Logger
}

// JWTConfig holds configuration for the JWT verifier.
type JWTConfig struct {
	// Algorithm is the expected signature algorithm, e.g. "HS256".
	Algorithm string

	// Secret is the shared signing secret.
	Secret string

	// RolesClaim names the claim carrying the caller's roles.
	// Defaults to "roles".
	RolesClaim string
}

// JWTVerifierOption is a functional option for the verifier.
type JWTVerifierOption func(*JWTVerifier)

// WithVerifierLogger sets the logger for the verifier.
func WithVerifierLogger(logger observability.Logger) JWTVerifierOption {
	return func(v *JWTVerifier) {
		v.logger = logger
	}
}

// NewJWTVerifier creates a verifier for the configured algorithm and
// secret.
func NewJWTVerifier(cfg JWTConfig, opts ...JWTVerifierOption) (*JWTVerifier, error) {
	if cfg.Secret == "" {
		return nil, fmt.Errorf("jwt secret must not be empty")
	}

	algorithm := jwa.HS256
	if cfg.Algorithm != "" {
		var ok bool
		algorithm, ok = lookupAlgorithm(cfg.Algorithm)
		if !ok {
			return nil, fmt.Errorf("unsupported jwt algorithm: %s", cfg.Algorithm)
		}
	}

	rolesClaim := cfg.RolesClaim
	if rolesClaim == "" {
		rolesClaim = "roles"
	}

	v := &JWTVerifier{
		algorithm:  algorithm,
		secret:     []byte(cfg.Secret),
		rolesClaim: rolesClaim,
		logger:     observability.NopLogger(),
	}

	for _, opt := range opts {
		opt(v)
	}

	return v, nil
}

// Verify implements TokenVerifier. Signature and standard time claims are
// validated; failures map to Unauthenticated.
func (v *JWTVerifier) Verify(ctx context.Context, token string) (*Identity, error) {
	if token == "" {
		return nil, util.NewUnauthenticatedError("missing credentials")
	}

	parsed, err := jwt.Parse([]byte(token),
		jwt.WithContext(ctx),
		jwt.WithKey(v.algorithm, v.secret),
		jwt.WithValidate(true),
	)
	if err != nil {
		v.logger.Debug("token verification failed", observability.Error(err))
		return nil, util.NewUnauthenticatedError("invalid token")
	}

	claims, err := parsed.AsMap(ctx)
	if err != nil {
		return nil, util.NewUnauthenticatedError("invalid token claims")
	}

	return &Identity{
		Subject: parsed.Subject(),
		Roles:   extractRoles(claims[v.rolesClaim]),
		Claims:  claims,
	}, nil
}

// BearerToken extracts the credential from an Authorization header value.
// The "Bearer " prefix is optional and case-insensitive.
func BearerToken(header string) string {
	header = strings.TrimSpace(header)
	if header == "" {
		return ""
	}

	const prefix = "bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return header
}

// extractRoles normalizes a roles claim that may be a string list, a
// single string or a comma-separated string.
func extractRoles(claim any) []string {
	switch value := claim.(type) {
	case nil:
		return nil
	case []string:
		return value
	case []any:
		roles := make([]string, 0, len(value))
		for _, item := range value {
			if role, ok := item.(string); ok && role != "" {
				roles = append(roles, role)
			}
		}
		return roles
	case string:
		if value == "" {
			return nil
		}
		parts := strings.Split(value, ",")
		roles := make([]string, 0, len(parts))
		for _, part := range parts {
			if role := strings.TrimSpace(part); role != "" {
				roles = append(roles, role)
			}
		}
		return roles
	default:
		return nil
	}
}

func lookupAlgorithm(name string) (jwa.SignatureAlgorithm, bool) {
	for _, alg := range jwa.SignatureAlgorithms() {
		if strings.EqualFold(alg.String(), name) {
			return alg, true
		}
	}
	return "", false
}
