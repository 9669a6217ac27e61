package account

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/scamphub/scamp-backend/config"
	"github.com/scamphub/scamp-backend/internal/api"
)

// TokenScheme is the Authorization header scheme clients must use,
// e.g. "Authorization: JWT <token>".
const TokenScheme = "JWT"

// TokenService issues signed bearer tokens for authenticated users.
type TokenService struct {
	cfg config.JWTConfig
}

func NewTokenService(cfg config.JWTConfig) *TokenService {
	return &TokenService{cfg: cfg}
}

// Issue signs a token for the given user and returns it prefixed with the
// expected Authorization scheme, ready to be echoed back by the client.
func (t *TokenService) Issue(userID uuid.UUID, email string, verified bool, roles []api.Role) (string, error) {
	now := time.Now()
	claims := api.Claims{
		UserID:           userID.String(),
		Email:            email,
		HasVerifiedEmail: verified,
		Roles:            roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			Issuer:    t.cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.cfg.TokenTTL)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(t.cfg.SecretKey))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return TokenScheme + " " + signed, nil
}

// Parse validates a raw token string (without the scheme prefix) and
// returns its claims.
func (t *TokenService) Parse(raw string) (*api.Claims, error) {
	claims := &api.Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(tok *jwt.Token) (interface{}, error) {
		if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", tok.Header["alg"])
		}
		return []byte(t.cfg.SecretKey), nil
	}, jwt.WithIssuer(t.cfg.Issuer))
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}
