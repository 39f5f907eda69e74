package middleware

import (
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/pantypostorganisation/pantypost-sub009/internal/config"
	"github.com/pantypostorganisation/pantypost-sub009/pkg/apierrors"
)

// Claims carried by platform access tokens.
type Claims struct {
	Username string `json:"username"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

const (
	ContextUsername = "username"
	ContextRole     = "role"
)

func abortWith(c *gin.Context, err *apierrors.AppError) {
	c.AbortWithStatusJSON(err.HTTPStatus(), gin.H{
		"success":       false,
		"error_code":    err.Code,
		"error_message": err.Message,
	})
}

// authenticate verifies the Bearer token and, on success, stores the
// caller's identity on the request context. It never advances the handler
// chain so it can be shared by middlewares that add their own checks.
func authenticate(c *gin.Context, cfg config.AuthConfig) *apierrors.AppError {
	header := c.GetHeader("Authorization")
	if header == "" {
		return apierrors.New(apierrors.CodeUnauthorized, "authorization header is required")
	}
	raw, found := strings.CutPrefix(header, "Bearer ")
	if !found {
		return apierrors.New(apierrors.CodeUnauthorized, "authorization header must be a Bearer token")
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(cfg.JWTSecret), nil
	}, jwt.WithIssuer(cfg.JWTIssuer))
	if err != nil || !token.Valid {
		return apierrors.New(apierrors.CodeUnauthorized, "invalid or expired token")
	}

	c.Set(ContextUsername, claims.Username)
	c.Set(ContextRole, claims.Role)
	return nil
}

// JWTAuth validates the Bearer token and stores the caller's identity on the
// request context.
func JWTAuth(cfg config.AuthConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		if appErr := authenticate(c, cfg); appErr != nil {
			abortWith(c, appErr)
		}
	}
}

// SelfOrAdmin lets a caller operate on their own wallet, and admins on any.
// The target username is read from the named path parameter.
func SelfOrAdmin(param string) gin.HandlerFunc {
	return func(c *gin.Context) {
		caller := c.GetString(ContextUsername)
		role := c.GetString(ContextRole)
		if role != "admin" && caller != c.Param(param) {
			abortWith(c, apierrors.New(apierrors.CodeUnauthorized, "cannot operate on another user's wallet"))
		}
	}
}

// AdminAuth restricts a route to the operator API key or an admin JWT. The
// API key is checked first so operator tooling does not need a token.
func AdminAuth(cfg config.AuthConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		if key := c.GetHeader("X-Admin-API-Key"); key != "" && key == cfg.AdminAPIKey {
			c.Set(ContextRole, "admin")
			return
		}
		if appErr := authenticate(c, cfg); appErr != nil {
			abortWith(c, appErr)
			return
		}
		if c.GetString(ContextRole) != "admin" {
			abortWith(c, apierrors.New(apierrors.CodeUnauthorized, "admin access required"))
			return
		}
	}
}
