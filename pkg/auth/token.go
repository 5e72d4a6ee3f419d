package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/covenant-data/covenant/pkg/model"
)

// TokenIssuer is the iss claim on service tokens.
const TokenIssuer = "covenant"

// ServiceClaims are the claims carried by a covenant service token:
// a team identity and a scope, bounded in time.
type ServiceClaims struct {
	jwt.RegisteredClaims
	TeamID string `json:"team_id"`
	Scope  string `json:"scope"`
}

// TokenSigner issues and validates HMAC-signed service tokens. Service
// tokens let trusted automation (CI publishers, sync jobs) authenticate
// without a stored API key.
type TokenSigner struct {
	secret []byte
	ttl    time.Duration
}

// DefaultTokenTTL bounds how long an issued service token stays valid.
const DefaultTokenTTL = time.Hour

func NewTokenSigner(secret []byte, ttl time.Duration) *TokenSigner {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &TokenSigner{secret: secret, ttl: ttl}
}

// Issue signs a token for the team with the given scope.
func (s *TokenSigner) Issue(teamID uuid.UUID, scope model.KeyScope, now time.Time) (string, error) {
	claims := ServiceClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    TokenIssuer,
			Subject:   teamID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
		TeamID: teamID.String(),
		Scope:  string(scope),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign service token: %w", err)
	}
	return signed, nil
}

// Validate parses a token and returns the principal it asserts.
func (s *TokenSigner) Validate(tokenStr string) (*Principal, error) {
	claims := &ServiceClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims,
		func(t *jwt.Token) (any, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(TokenIssuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("token validation failed: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	teamID, err := uuid.Parse(claims.TeamID)
	if err != nil {
		return nil, fmt.Errorf("token team binding is malformed")
	}
	scope := model.KeyScope(claims.Scope)
	switch scope {
	case model.ScopeRead, model.ScopeWrite, model.ScopeAdmin:
	default:
		return nil, fmt.Errorf("token scope %q is unknown", claims.Scope)
	}
	return &Principal{
		TeamID:     teamID,
		Scope:      scope,
		Credential: CredentialServiceToken,
	}, nil
}
