package server

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// MutationRateLimit throttles write endpoints per client IP. With the limiter
// disabled it is a no-op.
func (s *Server) MutationRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.limiter.Enabled() {
			c.Next()
			return
		}

		result, err := s.limiter.AllowMutation(c.Request.Context(), c.ClientIP())
		if err != nil {
			// broken limiter backend must not take the API down
			s.log.Warn("rate limiter unavailable, allowing request", zap.Error(err))
			c.Next()
			return
		}
		if !result.Allowed {
			AbortWithError(c, ErrTooManyRequests)
			return
		}
		c.Next()
	}
}
