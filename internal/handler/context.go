package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/nimbusedu/school-api/internal/middleware"
	"github.com/nimbusedu/school-api/internal/models"
)

// currentUser returns the authenticated claims from the request context.
func currentUser(c *gin.Context) (*models.JWTClaims, bool) {
	claimsValue, exists := c.Get(middleware.ContextUserKey)
	if !exists {
		return nil, false
	}
	claims, ok := claimsValue.(*models.JWTClaims)
	return claims, ok
}

// clientMeta extracts the caller's IP and user agent.
func clientMeta(c *gin.Context) (ip, userAgent string) {
	return c.ClientIP(), c.Request.UserAgent()
}
