package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/Sat-14/Crypto-bot/internal/model"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}
		c.Set("requestID", requestID)
		c.Header("X-Request-ID", requestID)
		c.Next()
	}
}

func LoggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()
		rid, _ := c.Get("requestID")
		requestID, _ := rid.(string)

		log.Info().
			Str("request_id", requestID).
			Int("status", status).
			Str("method", c.Request.Method).
			Str("path", path).
			Str("query", raw).
			Str("ip", c.ClientIP()).
			Dur("latency", latency).
			Msg("HTTP Request")
	}
}

// sessionClaims carry the authenticated account and an admin flag.
type sessionClaims struct {
	Admin bool `json:"admin,omitempty"`
	jwt.RegisteredClaims
}

// AuthMiddleware authenticates requests with a bearer token and stores
// the account id for the handlers.
func AuthMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		raw, found := strings.CutPrefix(header, "Bearer ")
		if !found || raw == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, model.ErrorResponse{
				Error: "missing bearer token",
				Code:  "UNAUTHORIZED",
			})
			return
		}

		claims := &sessionClaims{}
		token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return []byte(secret), nil
		})
		if err != nil || !token.Valid || claims.Subject == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, model.ErrorResponse{
				Error: "invalid token",
				Code:  "UNAUTHORIZED",
			})
			return
		}

		c.Set("accountID", claims.Subject)
		c.Set("admin", claims.Admin)
		c.Next()
	}
}

// AdminMiddleware rejects non-admin sessions. It must run after
// AuthMiddleware.
func AdminMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if admin, _ := c.Get("admin"); admin != true {
			c.AbortWithStatusJSON(http.StatusForbidden, model.ErrorResponse{
				Error: "admin privileges required",
				Code:  "FORBIDDEN",
			})
			return
		}
		c.Next()
	}
}

func accountID(c *gin.Context) string {
	id, _ := c.Get("accountID")
	s, _ := id.(string)
	return s
}

func isAdmin(c *gin.Context) bool {
	admin, _ := c.Get("admin")
	b, _ := admin.(bool)
	return b
}
