package auth

import (
	"context"

	"github.com/google/uuid"

	"github.com/covenant-data/covenant/pkg/model"
)

// CredentialKind distinguishes how a principal authenticated.
type CredentialKind string

const (
	// CredentialAPIKey: a stored, scoped API key.
	CredentialAPIKey CredentialKind = "api_key"
	// CredentialServiceToken: a short-lived signed service token.
	CredentialServiceToken CredentialKind = "service_token"
)

// Principal is the authenticated caller: a team acting under a scope.
type Principal struct {
	TeamID     uuid.UUID
	Scope      model.KeyScope
	Credential CredentialKind
	KeyID      uuid.UUID // zero for service tokens
}

// Admin reports whether the principal carries admin scope.
func (p *Principal) Admin() bool { return p.Scope == model.ScopeAdmin }

// Allows reports whether the principal's scope covers required.
func (p *Principal) Allows(required model.KeyScope) bool { return p.Scope.Covers(required) }

type principalKey struct{}

// WithPrincipal attaches a principal to the context.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// GetPrincipal retrieves the principal, or nil when unauthenticated.
func GetPrincipal(ctx context.Context) *Principal {
	p, _ := ctx.Value(principalKey{}).(*Principal)
	return p
}
