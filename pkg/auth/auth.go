// Package auth provides the authentication providers the recognizer uses to
// authorize its service connection: a static subscription key, or a
// short-lived bearer token fetched from the issue-token endpoint.
package auth

import (
	"context"

	"github.com/cadenhq/speechwire/pkg/async"
)

// Header names understood by the service.
const (
	SubscriptionKeyHeader = "Ocp-Apim-Subscription-Key"
	AuthorizationHeader   = "Authorization"
)

// Info is a resolved credential: the header to set and its value.
type Info struct {
	HeaderName string
	Token      string
}

// Provider supplies credentials for connection attempts. authFetchEventID is
// a caller-generated correlation id recorded in session telemetry.
//
// FetchOnExpiry is the recovery path: the orchestrator calls it exactly once
// when the service answers a connect with 403, to force a fresh credential
// before the single retry.
type Provider interface {
	Fetch(ctx context.Context, authFetchEventID string) *async.Promise[Info]
	FetchOnExpiry(ctx context.Context, authFetchEventID string) *async.Promise[Info]
}
