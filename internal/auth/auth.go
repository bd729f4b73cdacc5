// Package auth verifies handshake tokens and authorizes mutations. The
// realtime server never issues tokens; it validates access tokens the
// main application's identity provider minted, against that provider's
// JWKS endpoint.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/golang-jwt/jwt/v5"

	"github.com/antoine2025-ux/lumi-work-os-sub004/internal/realtime"
)

// ErrWorkspaceDenied is returned when a caller targets a workspace its
// token does not grant.
var ErrWorkspaceDenied = errors.New("caller is not a member of the target workspace")

// tokenClaims extends jwt.RegisteredClaims with the workspace fields
// the identity provider puts in access tokens.
type tokenClaims struct {
	jwt.RegisteredClaims
	Name        string `json:"name"`
	WorkspaceID string `json:"workspace_id"`
}

// Verifier validates access tokens using JWKS and answers workspace
// authorization checks from the validated claims.
type Verifier struct {
	jwks   *keyfunc.JWKS
	issuer string
}

// NewVerifier fetches and caches JWKS keys. The identity provider may
// still be starting when the server boots, so the fetch is retried.
func NewVerifier(jwksURL, issuer string) (*Verifier, error) {
	slog.Info("Initializing JWKS verifier", "jwks_url", jwksURL)

	var jwks *keyfunc.JWKS
	var err error
	for attempt := 1; attempt <= 30; attempt++ {
		jwks, err = keyfunc.Get(jwksURL, keyfunc.Options{
			Ctx:                 context.Background(),
			RefreshInterval:     5 * time.Minute,
			RefreshRateLimit:    1 * time.Minute,
			RefreshUnknownKID:   true,
			RefreshErrorHandler: func(err error) { slog.Error("JWKS refresh error", "error", err) },
		})
		if err == nil {
			break
		}
		slog.Info("Waiting for JWKS endpoint", "attempt", attempt, "error", err)
		time.Sleep(2 * time.Second)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch JWKS after retries: %w", err)
	}

	slog.Info("JWKS loaded", "jwks_url", jwksURL)
	return &Verifier{jwks: jwks, issuer: issuer}, nil
}

// Authenticate validates a handshake token and resolves the identity
// that owns the connection. Any failure is fatal to the connection
// attempt; the connection is never registered.
func (v *Verifier) Authenticate(ctx context.Context, token string) (realtime.Identity, error) {
	claims := &tokenClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, v.jwks.Keyfunc,
		jwt.WithIssuer(v.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return realtime.Identity{}, fmt.Errorf("token validation failed: %w", err)
	}
	if !parsed.Valid {
		return realtime.Identity{}, errors.New("token is not valid")
	}
	if claims.Subject == "" || claims.WorkspaceID == "" {
		return realtime.Identity{}, errors.New("token missing subject or workspace claim")
	}

	displayName := claims.Name
	if displayName == "" {
		displayName = claims.Subject
	}
	return realtime.Identity{
		UserID:      claims.Subject,
		DisplayName: displayName,
		WorkspaceID: claims.WorkspaceID,
	}, nil
}

// Authorize confirms the identity may act on the target workspace. The
// grant was fixed at handshake time from the token's workspace claim; a
// connection is bound to one workspace, so a mutation targeting any
// other is denied without consulting the provider again.
func (v *Verifier) Authorize(ctx context.Context, identity realtime.Identity, workspaceID string) error {
	if identity.WorkspaceID == workspaceID {
		return nil
	}
	return ErrWorkspaceDenied
}

// Close shuts down the JWKS background refresh goroutine.
func (v *Verifier) Close() {
	v.jwks.EndBackground()
}
