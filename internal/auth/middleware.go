package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/Jeffrey-done/SubScript/internal/apperr"
)

const usernameContextKey = "auth_username"

// Middleware resolves the Authorization header and stores the username in the context.
// Both "Bearer <token>" and a bare token are accepted.
func (s *Service) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		authToken := ExtractToken(c.GetHeader("Authorization"))
		username, err := s.ResolveToken(c.Request.Context(), authToken)
		if err != nil {
			status := http.StatusUnauthorized
			if !apperr.IsKind(err, apperr.KindAuth) {
				status = http.StatusInternalServerError
			}
			c.AbortWithStatusJSON(status, gin.H{"success": false, "error": apperr.Message(err)})
			return
		}
		c.Set(usernameContextKey, username)
		c.Next()
	}
}

// UsernameFromContext retrieves the authenticated username from the gin context.
func UsernameFromContext(c *gin.Context) (string, bool) {
	val, ok := c.Get(usernameContextKey)
	if !ok {
		return "", false
	}
	username, ok := val.(string)
	return username, ok
}

// ExtractToken strips an optional bearer scheme from the header value.
func ExtractToken(header string) string {
	header = strings.TrimSpace(header)
	if len(header) >= 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return header
}
