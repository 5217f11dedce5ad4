package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sheikh-saqib/budget-compliance-engine/internal/models"
)

// Claims carry the identity the engine copies into audit records.
type Claims struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// GenerateToken signs an HS256 token for actor. Used by tooling and tests;
// tokens are normally issued by the identity provider.
func GenerateToken(secret string, actor models.Actor, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		UserID:   actor.UserID,
		Username: actor.Username,
		Role:     actor.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actor.UserID,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}
