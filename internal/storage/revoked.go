package storage

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/providentiaww/taskflow/internal/token"
	"github.com/sirupsen/logrus"
)

// RevocationList answers "was this raw token revoked" from an in-memory cache in front of
// the append-only revoked token records. Only SHA-256 hashes are stored.
type RevocationList struct {
	store RevocationStore
	log   logrus.FieldLogger
	cache *cache.Cache
}

func NewRevocationList(store RevocationStore, log logrus.FieldLogger) *RevocationList {
	return &RevocationList{
		store: store,
		log:   log,
		cache: cache.New(10*time.Minute, 30*time.Minute),
	}
}

// Revoke records rawToken as revoked. Revoking twice is a no-op.
func (l *RevocationList) Revoke(ctx context.Context, rawToken string) error {
	tokenHash := token.HashToken(rawToken)
	if err := l.store.AddRevokedToken(ctx, tokenHash); err != nil {
		l.log.WithError(err).Error("failed to record revoked token")
		return err
	}
	l.cache.Set(tokenHash, true, cache.DefaultExpiration)
	l.log.Debugf("token revoked: %s", tokenHash[:8])
	return nil
}

// IsRevoked reports whether rawToken has a revocation record.
func (l *RevocationList) IsRevoked(ctx context.Context, rawToken string) (bool, error) {
	tokenHash := token.HashToken(rawToken)
	if _, found := l.cache.Get(tokenHash); found {
		return true, nil
	}

	revoked, err := l.store.HasRevokedToken(ctx, tokenHash)
	if err != nil {
		l.log.WithError(err).Warn("failed to check token revocation status")
		return false, err
	}
	if revoked {
		l.cache.Set(tokenHash, true, cache.DefaultExpiration)
	}
	return revoked, nil
}
