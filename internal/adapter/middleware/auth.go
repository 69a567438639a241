package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

type Role string

const (
	RoleMember      Role = "member"
	RoleChurchAdmin Role = "church-admin"
	RoleSuperAdmin  Role = "super-admin"
)

func (r Role) Valid() bool {
	switch r {
	case RoleMember, RoleChurchAdmin, RoleSuperAdmin:
		return true
	}
	return false
}

// Claims are issued by the session service. Subject is the caller's account
// id for members and church admins.
type Claims struct {
	Role Role `json:"role"`
	jwt.RegisteredClaims
}

// Actor is the authenticated caller, stored in c.Locals.
type Actor struct {
	Subject string
	Role    Role
}

const actorKey = "actor"

// IssueToken signs claims for subject. The API never calls this itself; it is
// used by tooling and tests.
func IssueToken(secret, subject string, role Role, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = time.Hour
	}
	now := time.Now()
	claims := &Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// ParseToken verifies an HS256 token and returns its claims.
func ParseToken(secret, tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	if claims.Subject == "" || !claims.Role.Valid() {
		return nil, errors.Join(jwt.ErrTokenInvalidClaims, fmt.Errorf("role %q", claims.Role))
	}
	return claims, nil
}

// Protected rejects requests without a valid bearer token.
func Protected(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authHeader := c.Get(fiber.HeaderAuthorization)
		if authHeader == "" {
			return c.Status(http.StatusUnauthorized).JSON(fiber.Map{"error": "Missing bearer token", "code": "unauthorized"})
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			return c.Status(http.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid Header Format", "code": "unauthorized"})
		}

		claims, err := ParseToken(secret, parts[1])
		if err != nil {
			return c.Status(http.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid or expired token", "code": "unauthorized"})
		}

		c.Locals(actorKey, Actor{Subject: claims.Subject, Role: claims.Role})
		return c.Next()
	}
}

// RequireRole lets through only the listed roles.
func RequireRole(roles ...Role) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, ok := ActorFrom(c)
		if ok {
			for _, r := range roles {
				if actor.Role == r {
					return c.Next()
				}
			}
		}
		return c.Status(http.StatusForbidden).JSON(fiber.Map{"error": "Permission denied", "code": "forbidden"})
	}
}

func ActorFrom(c *fiber.Ctx) (Actor, bool) {
	a, ok := c.Locals(actorKey).(Actor)
	return a, ok
}

// Owns reports whether the actor may act on the account: super admins on
// any, everyone else only on their own.
func (a Actor) Owns(accountID string) bool {
	return a.Role == RoleSuperAdmin || a.Subject == accountID
}
