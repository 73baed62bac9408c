package middleware

import (
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt"

	"github.com/Amankrah/pathfinders/internal/shared/apperr"
)

const (
	CtxKeyUserID   = "user_id"
	CtxKeyUserRole = "user_role"
)

// Auth parses an optional Bearer token and records the caller's user id.
// A missing header is fine (anonymous routes exist); a present-but-invalid
// token is rejected so a broken client notices immediately.
func Auth(secret []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.Next()
			return
		}

		tokenString := strings.TrimPrefix(header, "Bearer ")
		token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return secret, nil
		})
		if err != nil || !token.Valid {
			Fail(c, apperr.UnauthorizedErr("Invalid or expired token."))
			return
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			Fail(c, apperr.UnauthorizedErr("Invalid or expired token."))
			return
		}
		sub, _ := claims["sub"].(string)
		if sub == "" {
			sub, _ = claims["user_id"].(string)
		}
		if sub == "" {
			Fail(c, apperr.UnauthorizedErr("Invalid or expired token."))
			return
		}

		c.Set(CtxKeyUserID, sub)
		if role, _ := claims["role"].(string); role != "" {
			c.Set(CtxKeyUserRole, role)
		}
		c.Next()
	}
}

// RequireAuth gates routes that need an authenticated caller. Auth must run
// earlier in the chain.
func RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := CurrentUserID(c); !ok {
			Fail(c, apperr.UnauthorizedErr("Authentication required."))
			return
		}
		c.Next()
	}
}

// RequireAdmin gates operator routes on the token's role claim.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := CurrentUserID(c); !ok {
			Fail(c, apperr.UnauthorizedErr("Authentication required."))
			return
		}
		if role, _ := c.Get(CtxKeyUserRole); role != "admin" {
			Fail(c, apperr.ForbiddenErr("Admin access required."))
			return
		}
		c.Next()
	}
}

func CurrentUserID(c *gin.Context) (string, bool) {
	v, ok := c.Get(CtxKeyUserID)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok && s != ""
}
