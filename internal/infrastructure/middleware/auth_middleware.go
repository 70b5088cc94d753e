package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Auth enforces the node password on every request. Lavalink clients
// send it in the Authorization header verbatim.
func Auth(password string) gin.HandlerFunc {
	expected := []byte(password)
	return func(c *gin.Context) {
		provided := []byte(c.GetHeader("Authorization"))
		if subtle.ConstantTimeCompare(provided, expected) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "Unauthorized",
				"message": "invalid password",
			})
			return
		}
		c.Next()
	}
}
