package auth

import (
	"context"
	"errors"

	"github.com/cadenhq/speechwire/pkg/async"
)

// KeyProvider authenticates with a static subscription key. The key never
// expires, so Fetch and FetchOnExpiry behave identically.
type KeyProvider struct {
	info Info
}

// NewKeyProvider creates a provider for the given subscription key.
func NewKeyProvider(subscriptionKey string) (*KeyProvider, error) {
	if subscriptionKey == "" {
		return nil, errors.New("auth: subscription key must not be empty")
	}
	return &KeyProvider{
		info: Info{HeaderName: SubscriptionKeyHeader, Token: subscriptionKey},
	}, nil
}

// Fetch returns the subscription key credential.
func (p *KeyProvider) Fetch(_ context.Context, _ string) *async.Promise[Info] {
	return async.FromResult(p.info)
}

// FetchOnExpiry returns the subscription key credential.
func (p *KeyProvider) FetchOnExpiry(ctx context.Context, authFetchEventID string) *async.Promise[Info] {
	return p.Fetch(ctx, authFetchEventID)
}
