package cockroach

import (
	"context"
	"time"

	"github.com/google/uuid"

	"voicelink-backend/internal/domain"
	"voicelink-backend/pkg/cache"
)

// identitySource is anything that can look up a user's display identity.
type identitySource interface {
	GetUserIdentity(ctx context.Context, userID uuid.UUID) (*domain.Identity, error)
}

// CachedIdentityResolver wraps an identity lookup with a short-lived
// in-memory cache. Identities change rarely but are read on every call
// setup, so a small TTL keeps the hot path off the database.
type CachedIdentityResolver struct {
	source identitySource
	cache  *cache.MemoryCache
	ttl    time.Duration
}

// NewCachedIdentityResolver creates a resolver backed by the given source.
func NewCachedIdentityResolver(source identitySource, ttl time.Duration, maxSize int) *CachedIdentityResolver {
	return &CachedIdentityResolver{
		source: source,
		cache:  cache.NewMemoryCache(ttl, maxSize),
		ttl:    ttl,
	}
}

// GetUserIdentity returns the cached identity when fresh, otherwise falls
// through to the source and caches the result. Lookup errors are never
// cached.
func (r *CachedIdentityResolver) GetUserIdentity(ctx context.Context, userID uuid.UUID) (*domain.Identity, error) {
	key := userID.String()
	if cached, ok := r.cache.Get(key); ok {
		if identity, ok := cached.(*domain.Identity); ok {
			return identity, nil
		}
	}

	identity, err := r.source.GetUserIdentity(ctx, userID)
	if err != nil {
		return nil, err
	}

	r.cache.Set(key, identity, r.ttl)
	return identity, nil
}

// StartCleanup begins background expiry of stale entries and returns a
// stop function.
func (r *CachedIdentityResolver) StartCleanup(interval time.Duration) func() {
	return r.cache.StartCleanup(interval)
}
