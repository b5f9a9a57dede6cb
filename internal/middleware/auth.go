package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"nexchat/internal/auth"
)

const fileNameContextKey = "fileName"

func FileNameFromContext(c *gin.Context) (string, bool) {
	name, ok := c.Get(fileNameContextKey)
	if !ok {
		return "", false
	}
	value, ok := name.(string)
	return value, ok && value != ""
}

// RequireFileToken admits a download only when the token query parameter was
// signed for the file named in the path.
func RequireFileToken(cfg auth.TokenConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, err := auth.VerifyFileToken(c.Query("token"), cfg)
		if err != nil || claims.FileName != c.Param("name") {
			c.JSON(http.StatusForbidden, gin.H{"error": "Invalid or expired file link"})
			c.Abort()
			return
		}

		c.Set(fileNameContextKey, claims.FileName)
		c.Next()
	}
}
