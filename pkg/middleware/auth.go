package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/prohmpiriya/rail-reservation/pkg/response"
)

const (
	// ContextKeyUserID is the gin context key carrying the authenticated user
	ContextKeyUserID = "user_id"
	// UserIDHeader is accepted in place of a token when dev fallback is on
	UserIDHeader = "X-User-ID"
)

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid token")
)

// AuthConfig holds JWT validation settings
type AuthConfig struct {
	Secret string
	Issuer string
	// DevHeaderFallback trusts X-User-ID when no Authorization header is sent
	DevHeaderFallback bool
}

// Auth resolves the caller's user ID from an HS256 bearer token. The user ID
// is the "sub" claim, falling back to "user_id".
func Auth(cfg AuthConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			if cfg.DevHeaderFallback {
				if userID := strings.TrimSpace(c.GetHeader(UserIDHeader)); userID != "" {
					c.Set(ContextKeyUserID, userID)
					c.Next()
					return
				}
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, response.ErrorBody("UNAUTHORIZED", ErrMissingToken.Error()))
			return
		}

		tokenString, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || tokenString == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, response.ErrorBody("UNAUTHORIZED", ErrMissingToken.Error()))
			return
		}

		userID, err := ParseUserID(tokenString, cfg)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, response.ErrorBody("UNAUTHORIZED", err.Error()))
			return
		}

		c.Set(ContextKeyUserID, userID)
		c.Next()
	}
}

// ParseUserID validates tokenString and returns the user it was issued to
func ParseUserID(tokenString string, cfg AuthConfig) (string, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}

	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return []byte(cfg.Secret), nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", jwt.ErrTokenExpired
		}
		return "", ErrInvalidToken
	}
	if !token.Valid {
		return "", ErrInvalidToken
	}

	if sub, err := claims.GetSubject(); err == nil && sub != "" {
		return sub, nil
	}
	if userID, ok := claims["user_id"].(string); ok && userID != "" {
		return userID, nil
	}
	return "", ErrInvalidToken
}

// GetUserID returns the authenticated user ID set by Auth
func GetUserID(c *gin.Context) (string, bool) {
	v, exists := c.Get(ContextKeyUserID)
	if !exists {
		return "", false
	}
	userID, ok := v.(string)
	return userID, ok && userID != ""
}
