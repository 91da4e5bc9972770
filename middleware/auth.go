package middleware

import (
	"guardian/utils"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// AuthMiddleware checks the device token on API and live channel requests.
// A nil JWT service turns authentication off, which is how local drills and
// the demo setup run.
type AuthMiddleware struct {
	jwtService *utils.JWTService
}

func NewAuthMiddleware(jwtService *utils.JWTService) *AuthMiddleware {
	return &AuthMiddleware{
		jwtService: jwtService,
	}
}

func (am *AuthMiddleware) Enabled() bool {
	return am.jwtService != nil
}

// RequireDevice validates the device token and sets deviceID in the context.
func (am *AuthMiddleware) RequireDevice() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !am.Enabled() {
			c.Set("deviceID", "local")
			c.Next()
			return
		}

		token := extractToken(c)
		if token == "" {
			utils.UnauthorizedResponse(c, "Authentication token required")
			c.Abort()
			return
		}

		claims, err := am.jwtService.ValidateToken(token)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"path":      c.Request.URL.Path,
				"requestId": c.GetString("request_id"),
			}).Warnf("Invalid device token: %v", err)
			utils.UnauthorizedResponse(c, "Invalid authentication token")
			c.Abort()
			return
		}

		c.Set("deviceID", claims.DeviceID)
		c.Next()
	}
}

// extractToken reads a bearer header, then the token query parameter that
// browsers use for WebSocket upgrades.
func extractToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && strings.ToLower(parts[0]) == "bearer" {
			return parts[1]
		}
	}

	return c.Query("token")
}
