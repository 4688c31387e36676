package auth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/cadenhq/speechwire/pkg/async"
)

// Service tokens are valid for 10 minutes; refresh with headroom.
const tokenLifetime = 9 * time.Minute

// TokenProvider exchanges a subscription key for a short-lived bearer token
// at the issue-token endpoint and caches it. Fetch serves the cached token
// while fresh; FetchOnExpiry always forces a refresh.
type TokenProvider struct {
	endpoint        string
	subscriptionKey string
	client          *retryablehttp.Client

	mu        sync.Mutex
	token     string
	fetchedAt time.Time
}

// TokenOption configures a TokenProvider.
type TokenOption func(*TokenProvider)

// WithHTTPClient overrides the retrying HTTP client. Primarily used in tests.
func WithHTTPClient(client *retryablehttp.Client) TokenOption {
	return func(p *TokenProvider) { p.client = client }
}

// NewTokenProvider creates a provider that fetches tokens from endpoint
// (e.g. "https://<region>.api.cognitive.microsoft.com/sts/v1.0/issueToken")
// using the given subscription key.
func NewTokenProvider(endpoint, subscriptionKey string, opts ...TokenOption) (*TokenProvider, error) {
	if endpoint == "" {
		return nil, errors.New("auth: token endpoint must not be empty")
	}
	if subscriptionKey == "" {
		return nil, errors.New("auth: subscription key must not be empty")
	}
	client := retryablehttp.NewClient()
	client.RetryMax = 2
	client.Logger = nil
	p := &TokenProvider{
		endpoint:        endpoint,
		subscriptionKey: subscriptionKey,
		client:          client,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Fetch returns a bearer credential, reusing the cached token while fresh.
func (p *TokenProvider) Fetch(ctx context.Context, _ string) *async.Promise[Info] {
	p.mu.Lock()
	token := p.token
	fresh := token != "" && time.Since(p.fetchedAt) < tokenLifetime
	p.mu.Unlock()

	if fresh {
		return async.FromResult(Info{HeaderName: AuthorizationHeader, Token: "Bearer " + token})
	}
	return p.refresh(ctx)
}

// FetchOnExpiry discards any cached token and fetches a fresh one.
func (p *TokenProvider) FetchOnExpiry(ctx context.Context, _ string) *async.Promise[Info] {
	p.mu.Lock()
	p.token = ""
	p.mu.Unlock()
	return p.refresh(ctx)
}

func (p *TokenProvider) refresh(ctx context.Context) *async.Promise[Info] {
	d := async.NewDeferred[Info]()
	go func() {
		token, err := p.issueToken(ctx)
		if err != nil {
			d.Reject(err)
			return
		}
		p.mu.Lock()
		p.token = token
		p.fetchedAt = time.Now()
		p.mu.Unlock()
		d.Resolve(Info{HeaderName: AuthorizationHeader, Token: "Bearer " + token})
	}()
	return d.Promise()
}

func (p *TokenProvider) issueToken(ctx context.Context) (string, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("auth: build token request: %w", err)
	}
	req.Header.Set(SubscriptionKeyHeader, p.subscriptionKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("auth: fetch token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("auth: token endpoint returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("auth: read token response: %w", err)
	}
	if len(body) == 0 {
		return "", errors.New("auth: token endpoint returned an empty token")
	}
	return string(body), nil
}
