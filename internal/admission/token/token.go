// Package token mints scoped build tokens for admitted builds. A token's
// credential scope and lifetime come from the resolved sandbox profile, so a
// build can never hold more than its tier grants.
package token

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"buildgate/internal/admission/models"
	id "buildgate/pkg/domain"
	dErrors "buildgate/pkg/domain-errors"
)

// Claims represents the JWT claims for build tokens.
type Claims struct {
	EventID string   `json:"event_id"`
	Actor   string   `json:"actor"`
	Scopes  []string `json:"scopes"`
	jwt.RegisteredClaims
}

// Service handles build token creation and validation.
type Service struct {
	signingKey []byte
	issuer     string
	audience   string
}

func NewService(signingKey string, issuer string, audience string) *Service {
	return &Service{
		signingKey: []byte(signingKey),
		issuer:     issuer,
		audience:   audience,
	}
}

// Mint issues a token for an admitted build. Profiles without credentials
// yield no token: the build runs without any platform access.
func (s *Service) Mint(eventID id.EventID, actor id.ActorLogin, profile models.SandboxProfile, now time.Time) (string, error) {
	if !profile.HasCredentials() {
		return "", nil
	}
	if profile.TokenTTL <= 0 {
		return "", dErrors.New(dErrors.CodeInvariantViolation, "credentialed profile without token lifetime")
	}

	claims := Claims{
		EventID: eventID.String(),
		Actor:   actor.String(),
		Scopes:  profile.CredentialScope,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(profile.TokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    s.issuer,
			Audience:  []string{s.audience},
			ID:        uuid.NewString(),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.signingKey)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "sign build token")
	}
	return signed, nil
}

// Validate parses and verifies a build token.
func (s *Service) Validate(tokenString string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return s.signingKey, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, dErrors.New(dErrors.CodeUnauthorized, "token has expired")
		}
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token")
	}
	if !parsed.Valid {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token")
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token claims")
	}
	return claims, nil
}
