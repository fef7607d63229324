package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/itss-group/projectpulse/internal/domain"
	"github.com/itss-group/projectpulse/internal/errors"
)

const userContextKey = "auth_user"

// UserSource resolves users for authenticated requests.
type UserSource interface {
	UserByID(ctx context.Context, id int64) (*domain.User, error)
}

// TokenService issues and validates HS256 session tokens.
type TokenService struct {
	secret []byte
	users  UserSource
	ttl    time.Duration
}

// NewTokenService creates a token service with 24 hour session expiry.
func NewTokenService(secret string, users UserSource) *TokenService {
	return &TokenService{
		secret: []byte(secret),
		users:  users,
		ttl:    24 * time.Hour,
	}
}

// GenerateSessionToken generates a JWT for the user session.
func (s *TokenService) GenerateSessionToken(userID int64, roles []domain.Role) (string, error) {
	roleNames := make([]string, len(roles))
	for i, role := range roles {
		roleNames[i] = string(role)
	}

	claims := jwt.MapClaims{
		"user_id": userID,
		"roles":   roleNames,
		"exp":     time.Now().Add(s.ttl).Unix(),
		"iat":     time.Now().Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return tokenString, nil
}

// ValidateSessionToken validates a JWT and returns the user id.
func (s *TokenService) ValidateSessionToken(tokenString string) (int64, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return 0, err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return 0, fmt.Errorf("invalid token")
	}

	// JSON numbers decode as float64 in MapClaims.
	raw, ok := claims["user_id"].(float64)
	if !ok {
		return 0, fmt.Errorf("user_id not found in token")
	}
	return int64(raw), nil
}

// Middleware authenticates requests with a Bearer token and stores the
// resolved user in the request context.
func (s *TokenService) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}

		userID, err := s.ValidateSessionToken(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid session token"})
			return
		}

		user, err := s.users.UserByID(c.Request.Context(), userID)
		if err != nil {
			if errors.IsCategory(err, errors.CategoryNotFound) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unknown user"})
				return
			}
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "failed to resolve user"})
			return
		}

		c.Set(userContextKey, user)
		c.Next()
	}
}

// RequireRole rejects requests whose authenticated user lacks the role.
func RequireRole(role domain.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		user := CurrentUser(c)
		if user == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}
		if !user.HasRole(role) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "insufficient permissions"})
			return
		}
		c.Next()
	}
}

// CurrentUser returns the authenticated user, or nil outside the middleware.
func CurrentUser(c *gin.Context) *domain.User {
	value, exists := c.Get(userContextKey)
	if !exists {
		return nil
	}
	user, _ := value.(*domain.User)
	return user
}
