package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/therealutkarshpriyadarshi/mediagrab/pkg/models"
)

// APIKeyHeader is the header clients present their key in
const APIKeyHeader = "X-API-Key"

// APIKeyAuth validates the shared API key on every request. An empty
// configured key disables authentication.
func APIKeyAuth(key string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if key == "" {
			c.Next()
			return
		}

		presented := c.GetHeader(APIKeyHeader)
		if subtle.ConstantTimeCompare([]byte(presented), []byte(key)) != 1 {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": models.JobError{
					Code:        models.ErrAuthRequired,
					Message:     "missing or invalid API key",
					Remediation: "Send a valid key in the " + APIKeyHeader + " header",
				},
			})
			c.Abort()
			return
		}

		c.Next()
	}
}
