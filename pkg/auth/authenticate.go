package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/covenant-data/covenant/pkg/store"
)

// ErrBadCredentials is returned for any unusable credential. The cause is
// deliberately not distinguished to callers.
var ErrBadCredentials = errors.New("invalid or revoked credentials")

// AuthenticateKey resolves an API key secret to its principal and stamps
// the key's last-used time. Lookup is by SHA-256 digest; revoked keys are
// never returned by the store.
func AuthenticateKey(ctx context.Context, st store.Store, now time.Time, secret string) (*Principal, error) {
	if !ValidSecretFormat(secret) {
		return nil, ErrBadCredentials
	}

	tx, err := st.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	key, err := tx.GetAPIKeyByDigest(ctx, DigestSecret(secret))
	if err != nil {
		_ = tx.Rollback()
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrBadCredentials
		}
		return nil, fmt.Errorf("look up api key: %w", err)
	}
	if err := tx.TouchAPIKey(ctx, key.ID, now); err != nil {
		_ = tx.Rollback()
		return nil, fmt.Errorf("stamp api key: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	return &Principal{
		TeamID:     key.TeamID,
		Scope:      key.Scope,
		Credential: CredentialAPIKey,
		KeyID:      key.ID,
	}, nil
}
