package auth_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/covenant-data/covenant/pkg/auth"
	"github.com/covenant-data/covenant/pkg/model"
	"github.com/covenant-data/covenant/pkg/store"
)

func TestGenerateSecret(t *testing.T) {
	secret, digest, err := auth.GenerateSecret()
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(secret, auth.SecretPrefix))
	assert.True(t, auth.ValidSecretFormat(secret))
	assert.Equal(t, auth.DigestSecret(secret), digest)

	other, _, err := auth.GenerateSecret()
	require.NoError(t, err)
	assert.NotEqual(t, secret, other)
}

func TestValidSecretFormat(t *testing.T) {
	tests := []struct {
		name   string
		secret string
		want   bool
	}{
		{"missing prefix", strings.Repeat("ab", 32), false},
		{"too short", auth.SecretPrefix + "abcd", false},
		{"not hex", auth.SecretPrefix + strings.Repeat("zz", 32), false},
		{"well formed", auth.SecretPrefix + strings.Repeat("ab", 32), true},
		{"empty", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, auth.ValidSecretFormat(tt.secret))
		})
	}
}

func seedKey(t *testing.T, st *store.MemoryStore, scope model.KeyScope) (teamID uuid.UUID, secret string) {
	t.Helper()
	ctx := context.Background()
	tx, err := st.Begin(ctx)
	require.NoError(t, err)

	team := &model.Team{ID: uuid.New(), Name: "Producers", Slug: "producers", CreatedAt: time.Now().UTC()}
	require.NoError(t, tx.CreateTeam(ctx, team))

	secret, digest, err := auth.GenerateSecret()
	require.NoError(t, err)
	key := &model.APIKey{
		ID: uuid.New(), TeamID: team.ID, Name: "ci",
		Digest: digest, Scope: scope, CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, tx.CreateAPIKey(ctx, key))
	require.NoError(t, tx.Commit())
	return team.ID, secret
}

func TestAuthenticateKey(t *testing.T) {
	st := store.NewMemoryStore()
	teamID, secret := seedKey(t, st, model.ScopeWrite)
	now := time.Now().UTC()

	principal, err := auth.AuthenticateKey(context.Background(), st, now, secret)
	require.NoError(t, err)
	assert.Equal(t, teamID, principal.TeamID)
	assert.Equal(t, model.ScopeWrite, principal.Scope)
	assert.Equal(t, auth.CredentialAPIKey, principal.Credential)

	// Authentication stamps last-used.
	tx, err := st.Begin(context.Background())
	require.NoError(t, err)
	keys, err := tx.ListAPIKeys(context.Background(), teamID)
	require.NoError(t, err)
	require.NoError(t, tx.Rollback())
	require.Len(t, keys, 1)
	require.NotNil(t, keys[0].LastUsedAt)
	assert.Equal(t, now, *keys[0].LastUsedAt)
}

func TestAuthenticateKey_BadCredentials(t *testing.T) {
	st := store.NewMemoryStore()
	_, secret := seedKey(t, st, model.ScopeRead)
	ctx := context.Background()
	now := time.Now().UTC()

	_, err := auth.AuthenticateKey(ctx, st, now, "not-a-secret")
	assert.ErrorIs(t, err, auth.ErrBadCredentials)

	unknown := auth.SecretPrefix + strings.Repeat("ab", 32)
	_, err = auth.AuthenticateKey(ctx, st, now, unknown)
	assert.ErrorIs(t, err, auth.ErrBadCredentials)

	// Revoked keys stop authenticating.
	tx, err := st.Begin(ctx)
	require.NoError(t, err)
	key, err := tx.GetAPIKeyByDigest(ctx, auth.DigestSecret(secret))
	require.NoError(t, err)
	require.NoError(t, tx.RevokeAPIKey(ctx, key.ID, now))
	require.NoError(t, tx.Commit())

	_, err = auth.AuthenticateKey(ctx, st, now, secret)
	assert.ErrorIs(t, err, auth.ErrBadCredentials)
}

func TestTokenSigner_RoundTrip(t *testing.T) {
	signer := auth.NewTokenSigner([]byte("test-secret"), time.Hour)
	teamID := uuid.New()

	token, err := signer.Issue(teamID, model.ScopeWrite, time.Now())
	require.NoError(t, err)

	principal, err := signer.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, teamID, principal.TeamID)
	assert.Equal(t, model.ScopeWrite, principal.Scope)
	assert.Equal(t, auth.CredentialServiceToken, principal.Credential)
	assert.Equal(t, uuid.Nil, principal.KeyID)
}

func TestTokenSigner_Expired(t *testing.T) {
	signer := auth.NewTokenSigner([]byte("test-secret"), time.Minute)

	token, err := signer.Issue(uuid.New(), model.ScopeRead, time.Now().Add(-time.Hour))
	require.NoError(t, err)

	_, err = signer.Validate(token)
	assert.Error(t, err)
}

func TestTokenSigner_WrongSecret(t *testing.T) {
	token, err := auth.NewTokenSigner([]byte("secret-a"), time.Hour).Issue(uuid.New(), model.ScopeRead, time.Now())
	require.NoError(t, err)

	_, err = auth.NewTokenSigner([]byte("secret-b"), time.Hour).Validate(token)
	assert.Error(t, err)
}

func TestTokenSigner_Garbage(t *testing.T) {
	signer := auth.NewTokenSigner([]byte("test-secret"), time.Hour)
	_, err := signer.Validate("not.a.token")
	assert.Error(t, err)
}

func TestPrincipalScopes(t *testing.T) {
	read := &auth.Principal{Scope: model.ScopeRead}
	write := &auth.Principal{Scope: model.ScopeWrite}
	admin := &auth.Principal{Scope: model.ScopeAdmin}

	assert.True(t, read.Allows(model.ScopeRead))
	assert.False(t, read.Allows(model.ScopeWrite))
	assert.True(t, write.Allows(model.ScopeRead))
	assert.True(t, write.Allows(model.ScopeWrite))
	assert.False(t, write.Allows(model.ScopeAdmin))
	assert.True(t, admin.Allows(model.ScopeWrite))

	assert.False(t, write.Admin())
	assert.True(t, admin.Admin())
}

func TestPrincipalContext(t *testing.T) {
	assert.Nil(t, auth.GetPrincipal(context.Background()))

	p := &auth.Principal{TeamID: uuid.New(), Scope: model.ScopeRead}
	ctx := auth.WithPrincipal(context.Background(), p)
	assert.Same(t, p, auth.GetPrincipal(ctx))
}

func TestLocalLimiter(t *testing.T) {
	limiter := auth.NewLocalLimiter(auth.LimitPolicy{RPM: 60, Burst: 2})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		ok, err := limiter.Allow(ctx, "team-a")
		require.NoError(t, err)
		assert.True(t, ok, "request %d within burst", i)
	}
	ok, err := limiter.Allow(ctx, "team-a")
	require.NoError(t, err)
	assert.False(t, ok, "burst exhausted")

	// Buckets are per actor.
	ok, err = limiter.Allow(ctx, "team-b")
	require.NoError(t, err)
	assert.True(t, ok)
}
