package middleware

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// PeerIDKey is the context key holding the authenticated peer id
const PeerIDKey = "peer_id"

// PeerClaims represents the claims in a peer identity token
type PeerClaims struct {
	PeerID string `json:"peer_id"`
	jwt.RegisteredClaims
}

// IssueToken signs an identity token for peerID valid for ttl
func IssueToken(jwtSecret, peerID string, ttl time.Duration) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(ttl)
	claims := PeerClaims{
		PeerID: peerID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   peerID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(jwtSecret))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// ParseToken validates a token and returns its claims
func ParseToken(jwtSecret, tokenString string) (*PeerClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &PeerClaims{}, func(token *jwt.Token) (interface{}, error) {
		// Validate signing method
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(jwtSecret), nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*PeerClaims)
	if !ok || !token.Valid || claims.PeerID == "" {
		return nil, fmt.Errorf("invalid token claims")
	}
	return claims, nil
}

// bearerToken extracts the token from the Authorization header. WebSocket
// clients that cannot set headers may pass it as the token query parameter.
func bearerToken(c *gin.Context) (string, string) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		if token := c.Query("token"); token != "" {
			return token, ""
		}
		return "", "Authorization header required"
	}

	// Extract token from "Bearer <token>"
	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		return "", "Invalid authorization header format"
	}
	return parts[1], ""
}

// JWTAuth creates middleware that validates peer identity tokens
func JWTAuth(jwtSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, problem := bearerToken(c)
		if problem != "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": problem,
			})
			return
		}

		claims, err := ParseToken(jwtSecret, tokenString)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Invalid token",
			})
			return
		}

		// Store peer ID in context for handlers
		c.Set(PeerIDKey, claims.PeerID)
		c.Next()
	}
}
