// Package auth verifies the bearer tokens presented at connect time.
//
// Token issuance belongs to the account service; the engine only verifies
// HMAC-signed tokens and extracts the connection identity from the claims.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	gterrors "github.com/louisbranch/gametable/internal/errors"
	"github.com/louisbranch/gametable/internal/session/domain"
)

const issuer = "gametable"

// Claims is the JWT claim set carried by connection tokens.
type Claims struct {
	jwt.RegisteredClaims
	DisplayName string   `json:"name,omitempty"`
	Role        string   `json:"role"`
	CampaignID  string   `json:"campaign_id"`
	Characters  []string `json:"characters,omitempty"`
}

// Verifier authenticates bearer tokens.
type Verifier struct {
	secret []byte
}

// NewVerifier creates a Verifier for the given HMAC secret.
func NewVerifier(secret []byte) (*Verifier, error) {
	if len(secret) == 0 {
		return nil, errors.New("token secret is required")
	}
	return &Verifier{secret: secret}, nil
}

func failed(reason string) error {
	return gterrors.New(gterrors.CodeAuthenticationFailed, reason)
}

// Authenticate verifies a bearer token and returns the connection identity.
func (v *Verifier) Authenticate(token string) (domain.Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return domain.Identity{}, failed("a bearer token is required")
	}

	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(issuer),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return domain.Identity{}, failed("token is expired")
		}
		if errors.Is(err, jwt.ErrTokenSignatureInvalid) {
			return domain.Identity{}, failed("token signature is invalid")
		}
		return domain.Identity{}, failed("token is invalid")
	}

	role := domain.Role(claims.Role)
	if !role.IsValid() {
		return domain.Identity{}, failed(fmt.Sprintf("unknown role %q", claims.Role))
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return domain.Identity{}, failed("token subject is required")
	}
	if strings.TrimSpace(claims.CampaignID) == "" {
		return domain.Identity{}, failed("token campaign is required")
	}

	return domain.Identity{
		PrincipalID: claims.Subject,
		DisplayName: claims.DisplayName,
		Role:        role,
		CampaignID:  claims.CampaignID,
		Characters:  claims.Characters,
	}, nil
}

// Sign mints a token for the identity, valid for the given duration.
// Intended for local tooling and tests; production tokens come from the
// account service.
func (v *Verifier) Sign(identity domain.Identity, ttl time.Duration, now func() time.Time) (string, error) {
	if now == nil {
		now = time.Now
	}
	issuedAt := now().UTC()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   identity.PrincipalID,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(ttl)),
		},
		DisplayName: identity.DisplayName,
		Role:        string(identity.Role),
		CampaignID:  identity.CampaignID,
		Characters:  identity.Characters,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}
