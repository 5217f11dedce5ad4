package auth

import (
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/sheikh-saqib/budget-compliance-engine/internal/models"
)

const CtxActorKey = "actor"

// JWTMiddleware validates the bearer token and stores the caller as a
// models.Actor in c.Locals. The client IP comes from the connection, not
// from the token.
func JWTMiddleware(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authHeader := c.Get(fiber.HeaderAuthorization)
		if authHeader == "" {
			return fiber.NewError(fiber.StatusUnauthorized, "missing Authorization header")
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
			return fiber.NewError(fiber.StatusUnauthorized, "Authorization must be 'Bearer <token>'")
		}

		token, err := jwt.ParseWithClaims(parts[1], &Claims{}, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
			}
			return []byte(secret), nil
		})
		if err != nil || !token.Valid {
			return fiber.NewError(fiber.StatusUnauthorized, "invalid or expired token")
		}

		claims, ok := token.Claims.(*Claims)
		if !ok || claims.UserID == "" {
			return fiber.NewError(fiber.StatusUnauthorized, "token has no user")
		}

		c.Locals(CtxActorKey, models.Actor{
			UserID:    claims.UserID,
			Username:  claims.Username,
			Role:      claims.Role,
			IPAddress: c.IP(),
		})
		return c.Next()
	}
}

// ActorFrom returns the authenticated caller. Routes mounted without the
// middleware get an anonymous actor carrying only the client IP.
func ActorFrom(c *fiber.Ctx) models.Actor {
	if actor, ok := c.Locals(CtxActorKey).(models.Actor); ok {
		return actor
	}
	return models.Actor{IPAddress: c.IP()}
}
