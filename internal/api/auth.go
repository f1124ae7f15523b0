// Package api implements the Management HTTP surface (C6): a request-auth
// proxy in front of internal/vaultbox that embeds no domain logic of its
// own, per §4.6.
package api

import (
	"context"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

// servicePrincipals bypass the owner-equality check on another user's
// vaultboxes, per §4.6's authentication rule.
var servicePrincipals = map[string]bool{
	"backend.motorical": true,
	"motorical-backend": true,
}

// Principal is the authenticated caller, extracted from a validated JWT.
type Principal struct {
	UserID      string
	Permissions []string
	IsService   bool
}

// Authenticator validates bearer tokens against a single configured
// public key, following the same jwt.Parse/jwt.WithKeySet shape as the
// JWKS-backed agent in the example pack, but over one static key instead
// of a refreshed remote set (§6's `JWT_PUBLIC_KEY` env var is static).
type Authenticator struct {
	keySet        jwk.Set
	issuer        string
	audience      string
	clockToleranceSec int
}

// NewAuthenticator parses a base64-encoded PEM public key and builds a
// single-key set for token validation.
func NewAuthenticator(publicKeyB64, issuer, audience string, clockToleranceSec int) (*Authenticator, error) {
	der, err := decodePublicKeyPEM(publicKeyB64)
	if err != nil {
		return nil, fmt.Errorf("api: parsing JWT_PUBLIC_KEY: %w", err)
	}
	pub, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("api: parsing JWT_PUBLIC_KEY as PKIX: %w", err)
	}
	key, err := jwk.FromRaw(pub)
	if err != nil {
		return nil, fmt.Errorf("api: building jwk from public key: %w", err)
	}
	set := jwk.NewSet()
	if err := set.AddKey(key); err != nil {
		return nil, fmt.Errorf("api: adding key to set: %w", err)
	}
	return &Authenticator{keySet: set, issuer: issuer, audience: audience, clockToleranceSec: clockToleranceSec}, nil
}

func decodePublicKeyPEM(publicKeyB64 string) ([]byte, error) {
	pemBytes, err := base64.StdEncoding.DecodeString(publicKeyB64)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, errors.New("not valid PEM")
	}
	return block.Bytes, nil
}

var errMissingBearer = errors.New("missing bearer token")

// Authenticate validates the Authorization header and returns the caller's
// Principal.
func (a *Authenticator) Authenticate(ctx context.Context, r *http.Request) (*Principal, error) {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return nil, errMissingBearer
	}
	tokenStr := strings.TrimPrefix(header, prefix)

	token, err := jwt.Parse([]byte(tokenStr),
		jwt.WithKeySet(a.keySet),
		jwt.WithValidate(true),
		jwt.WithIssuer(a.issuer),
		jwt.WithAudience(a.audience),
	)
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	var userID string
	if v, ok := token.Get("sub"); ok {
		if s, ok := v.(string); ok {
			userID = s
		}
	}
	if userID == "" {
		return nil, errors.New("token has no subject")
	}

	var perms []string
	if v, ok := token.Get("permissions"); ok {
		if list, ok := v.([]interface{}); ok {
			for _, p := range list {
				if s, ok := p.(string); ok {
					perms = append(perms, s)
				}
			}
		}
	}

	return &Principal{
		UserID:      userID,
		Permissions: perms,
		IsService:   servicePrincipals[userID],
	}, nil
}

// AuthorizeOwner reports whether p may act on a vaultbox owned by
// ownerUserID: the vaultbox owner always may, service principals always
// may, no one else may.
func (p *Principal) AuthorizeOwner(ownerUserID string) bool {
	return p.IsService || p.UserID == ownerUserID
}
