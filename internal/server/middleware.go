package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/devplane/devplane/internal/access"
)

const (
	identityKey       = "devplane.identity"
	correlationKey    = "devplane.correlation_id"
	correlationHeader = "X-Correlation-ID"
)

// authenticate validates the bearer token and stores the caller identity
// on the request. WebSocket clients may pass the token as a query
// parameter since browsers cannot set headers on upgrade requests.
func (s *Server) authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := ""
		if header := c.GetHeader("Authorization"); strings.HasPrefix(header, "Bearer ") {
			tokenString = strings.TrimPrefix(header, "Bearer ")
		} else if t := c.Query("token"); t != "" {
			tokenString = t
		}
		if tokenString == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": gin.H{"kind": "DENIED", "message": "missing bearer token"},
			})
			return
		}
		identity, err := parseToken(s.jwtSecret, tokenString)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": gin.H{"kind": "DENIED", "message": "invalid or expired token"},
			})
			return
		}
		c.Set(identityKey, identity)
		c.Next()
	}
}

// identityFrom returns the authenticated identity set by authenticate.
func identityFrom(c *gin.Context) access.Identity {
	v, _ := c.Get(identityKey)
	identity, _ := v.(access.Identity)
	return identity
}

// correlate stamps every request with a correlation id, echoed in the
// response headers and picked up by the request logger.
func correlate() gin.HandlerFunc {
	return func(c *gin.Context) {
		cid := c.GetHeader(correlationHeader)
		if cid == "" {
			cid = uuid.New().String()
		}
		c.Set(correlationKey, cid)
		c.Header(correlationHeader, cid)
		c.Next()
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PATCH, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization, Upgrade, Connection, Sec-WebSocket-Key, Sec-WebSocket-Version, Sec-WebSocket-Protocol")
		c.Header("Access-Control-Allow-Credentials", "true")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
