// Package auth verifies the bearer token handed over by the external login
// flow and turns it into the principal the access gate evaluates.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/NadirInab/datavis-sub001/internal/client/models"
	"github.com/NadirInab/datavis-sub001/internal/client/policy"
	"github.com/NadirInab/datavis-sub001/internal/common"
	"github.com/golang-jwt/jwt/v5"
)

// Claims carries the registered claims plus the account kind and tier.
type Claims struct {
	jwt.RegisteredClaims
	Kind string `json:"kind"`
	Tier string `json:"tier"`
}

type Verifier struct {
	secret []byte
	now    func() time.Time
}

func NewVerifier(secret []byte) *Verifier {
	return &Verifier{secret: secret, now: time.Now}
}

// Issue signs a token for subject. It is used by tests and local tooling;
// production tokens come from the external login flow.
func Issue(secret []byte, subject string, kind models.IdentityKind, tier policy.Tier, ttl time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
		Kind: string(kind),
		Tier: string(tier),
	})
	return token.SignedString(secret)
}

// Verify checks the signature and expiry of token and returns its principal.
func (v *Verifier) Verify(token string) (models.Principal, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return v.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(v.now),
		jwt.WithExpirationRequired(),
	)
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return models.Principal{}, common.ErrTokenExpired
	case err != nil:
		return models.Principal{}, fmt.Errorf("%w: %w", common.ErrInvalidToken, err)
	case !parsed.Valid:
		return models.Principal{}, common.ErrInvalidToken
	}

	if claims.Subject == "" {
		return models.Principal{}, fmt.Errorf("%w: missing subject", common.ErrInvalidToken)
	}
	tier, err := policy.ParseTier(claims.Tier)
	if err != nil {
		return models.Principal{}, fmt.Errorf("%w: %w", common.ErrInvalidToken, err)
	}

	kind := models.IdentityKind(claims.Kind)
	switch kind {
	case models.KindUser, models.KindVisitor:
	case "":
		kind = models.KindUser
	default:
		return models.Principal{}, fmt.Errorf("%w: unknown kind %q", common.ErrInvalidToken, claims.Kind)
	}

	return models.Principal{ID: claims.Subject, Kind: kind, Tier: tier, Token: token}, nil
}
