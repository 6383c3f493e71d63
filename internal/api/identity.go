package api

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"
)

// UserSource fetches the authenticated user.
type UserSource interface {
	Me(ctx context.Context) (User, error)
}

// Identity resolves the local user once and caches it. Concurrent first
// callers share a single request; failures are not cached.
type Identity struct {
	src   UserSource
	group singleflight.Group

	mu   sync.RWMutex
	user *User
}

func NewIdentity(src UserSource) *Identity {
	return &Identity{src: src}
}

// Get returns the cached user, fetching it on first use.
func (i *Identity) Get(ctx context.Context) (User, error) {
	i.mu.RLock()
	if i.user != nil {
		u := *i.user
		i.mu.RUnlock()
		return u, nil
	}
	i.mu.RUnlock()

	v, err, _ := i.group.Do("me", func() (any, error) {
		u, err := i.src.Me(ctx)
		if err != nil {
			return User{}, err
		}
		i.mu.Lock()
		i.user = &u
		i.mu.Unlock()
		return u, nil
	})
	if err != nil {
		return User{}, err
	}
	return v.(User), nil
}
