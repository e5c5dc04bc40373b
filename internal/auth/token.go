package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
)

type claims struct {
	Role  string   `json:"role,omitempty"`
	Roles []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

func (c claims) principal() (Principal, error) {
	if c.Subject == "" {
		return Principal{}, errors.New("subject claim not found in token")
	}
	return Principal{UserID: c.Subject, Role: pickRole(c.Role, c.Roles)}, nil
}

// pickRole takes the strongest known role from the token.
func pickRole(role string, roles []string) Role {
	all := append([]string{role}, roles...)
	best := RoleUser
	for _, r := range all {
		switch Role(strings.ToUpper(r)) {
		case RoleAdmin:
			return RoleAdmin
		case RoleOrganizer:
			best = RoleOrganizer
		}
	}
	return best
}

// HMACVerifier checks HS256 tokens signed with a shared secret.
type HMACVerifier struct {
	secret []byte
}

func NewHMACVerifier(secret string) *HMACVerifier {
	return &HMACVerifier{secret: []byte(secret)}
}

func (v *HMACVerifier) Verify(_ context.Context, raw string) (Principal, error) {
	var c claims
	_, err := jwt.ParseWithClaims(raw, &c, func(t *jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return Principal{}, fmt.Errorf("failed to parse token: %w", err)
	}
	return c.principal()
}

// Sign issues a token for p; used by local tooling and tests.
func (v *HMACVerifier) Sign(p Principal, ttl time.Duration) (string, error) {
	now := time.Now()
	c := claims{
		Role: string(p.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(v.secret)
}

// OIDCVerifier checks tokens against an OpenID Connect issuer.
type OIDCVerifier struct {
	verifier *oidc.IDTokenVerifier
}

// NewOIDCVerifier discovers the issuer. An empty clientID skips the audience
// check.
func NewOIDCVerifier(ctx context.Context, issuer, clientID string) (*OIDCVerifier, error) {
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("create OIDC provider: %w", err)
	}
	cfg := &oidc.Config{ClientID: clientID, SkipClientIDCheck: clientID == ""}
	return &OIDCVerifier{verifier: provider.Verifier(cfg)}, nil
}

func (v *OIDCVerifier) Verify(ctx context.Context, raw string) (Principal, error) {
	idToken, err := v.verifier.Verify(ctx, raw)
	if err != nil {
		return Principal{}, err
	}
	var c struct {
		Sub         string `json:"sub"`
		Role        string `json:"role"`
		RealmAccess struct {
			Roles []string `json:"roles"`
		} `json:"realm_access"`
	}
	if err := idToken.Claims(&c); err != nil {
		return Principal{}, fmt.Errorf("failed to parse claims: %w", err)
	}
	if c.Sub == "" {
		return Principal{}, errors.New("subject claim not found in token")
	}
	return Principal{UserID: c.Sub, Role: pickRole(c.Role, c.RealmAccess.Roles)}, nil
}
