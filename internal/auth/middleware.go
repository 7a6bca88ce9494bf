// Package auth guards the mutating scan routes with HMAC-signed bearer
// tokens. With no secret configured the guard is disabled.
package auth

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

type contextKey string

const operatorKey contextKey = "scanOperator"

var (
	errHeaderRequired = errors.New("authorization header required")
	errHeaderInvalid  = errors.New("invalid authorization header")
	errTokenMissing   = errors.New("token missing")
)

// Operator returns the token subject recorded by Guard, if any.
func Operator(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	if value, ok := ctx.Value(operatorKey).(string); ok && value != "" {
		return value, true
	}
	return "", false
}

// Enabled reports whether Guard would check tokens for the given secret.
func Enabled(secret string) bool {
	return strings.TrimSpace(secret) != ""
}

// Guard validates bearer tokens signed with secret. When audience is set the
// token must carry it. An empty secret yields a pass-through handler.
func Guard(secret, audience string, logger *zap.Logger) gin.HandlerFunc {
	secret = strings.TrimSpace(secret)
	audience = strings.TrimSpace(audience)
	if logger == nil {
		logger = zap.NewNop()
	}

	if secret == "" {
		return func(c *gin.Context) { c.Next() }
	}

	key := []byte(secret)
	parser := jwt.NewParser(jwt.WithValidMethods([]string{
		jwt.SigningMethodHS256.Alg(),
		jwt.SigningMethodHS384.Alg(),
		jwt.SigningMethodHS512.Alg(),
	}))

	return func(c *gin.Context) {
		raw, err := bearerToken(c.GetHeader("Authorization"))
		if err != nil {
			reject(c, err.Error())
			return
		}

		claims := &jwt.RegisteredClaims{}
		token, err := parser.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
			return key, nil
		})
		if err != nil || !token.Valid {
			logger.Debug("rejected scan token", zap.Error(err), zap.String("path", c.FullPath()))
			reject(c, "invalid token")
			return
		}
		if audience != "" && !slices.Contains([]string(claims.Audience), audience) {
			reject(c, "invalid audience")
			return
		}
		if claims.Subject == "" {
			reject(c, "missing subject")
			return
		}

		c.Request = c.Request.WithContext(context.WithValue(c.Request.Context(), operatorKey, claims.Subject))
		c.Set(string(operatorKey), claims.Subject)
		c.Next()
	}
}

func bearerToken(header string) (string, error) {
	if header == "" {
		return "", errHeaderRequired
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", errHeaderInvalid
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", errTokenMissing
	}
	return token, nil
}

func reject(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": message})
}
