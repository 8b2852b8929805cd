package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"autotrade-core/pkg/logger"
)

const operatorContextKey = "OperatorID"

// OperatorClaims identifies the operator issuing admin commands.
type OperatorClaims struct {
	OperatorID string `json:"oid"`
	jwt.RegisteredClaims
}

const tokenIssuer = "autotrade-core"

var errNoOperator = errors.New("token carries no operator")

// IssueToken signs an HS256 operator token. Used by deploy tooling; the core
// has no login endpoint.
func IssueToken(operatorID, secret string, ttl time.Duration) (string, error) {
	now := time.Now()
	return jwt.NewWithClaims(jwt.SigningMethodHS256, OperatorClaims{
		OperatorID: operatorID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   operatorID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}).SignedString([]byte(secret))
}

func verifyToken(raw, secret string) (*OperatorClaims, error) {
	claims := &OperatorClaims{}
	_, err := jwt.ParseWithClaims(raw, claims,
		func(*jwt.Token) (interface{}, error) { return []byte(secret), nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, err
	}
	if claims.OperatorID == "" {
		return nil, errNoOperator
	}
	return claims, nil
}

// bearer extracts the token from an "Authorization: Bearer <token>" header.
func bearer(header string) (string, bool) {
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", false
	}
	return strings.TrimSpace(token), true
}

// AuthMiddleware rejects requests without a valid operator token.
func AuthMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			respondError(c, http.StatusUnauthorized, "MISSING_TOKEN", "missing Authorization header")
			c.Abort()
			return
		}
		raw, ok := bearer(header)
		if !ok {
			respondError(c, http.StatusUnauthorized, "INVALID_AUTH_HEADER", "invalid Authorization header")
			c.Abort()
			return
		}
		claims, err := verifyToken(raw, secret)
		if err != nil {
			logger.WithComponent("api").WithError(err).WithField("path", c.FullPath()).Debug("token rejected")
			respondError(c, http.StatusUnauthorized, "INVALID_TOKEN", "invalid or expired token")
			c.Abort()
			return
		}
		c.Set(operatorContextKey, claims.OperatorID)
		c.Next()
	}
}

// CurrentOperator returns the authenticated operator, or "" on public routes.
func CurrentOperator(c *gin.Context) string {
	return c.GetString(operatorContextKey)
}
