package server

import (
	"github.com/gin-gonic/gin"
	apperrors "github.com/lk2023060901/filevault-backend/internal/pkg/errors"
	"github.com/lk2023060901/filevault-backend/internal/pkg/logger"
	"github.com/lk2023060901/filevault-backend/internal/pkg/response"
	"github.com/lk2023060901/filevault-backend/internal/ratelimit"
	"go.uber.org/zap"
)

// UserIDHeader 调用方传递的用户标识头（可信边界在网关）
const UserIDHeader = "X-User-ID"

// RequireUser 提取用户标识，缺失直接 401
func RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetHeader(UserIDHeader)
		if userID == "" {
			response.ErrorWithCode(c, apperrors.ErrUnauthorized, "missing X-User-ID header")
			c.Abort()
			return
		}

		c.Set("user_id", userID)
		c.Next()
	}
}

// RateLimit 按用户滑动窗口限流
//
// 限流器故障时降级放行（限流是保护手段，不应成为单点）。
func RateLimit(limiter ratelimit.Limiter, log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString("user_id")

		allowed, err := limiter.Admit(c.Request.Context(), userID)
		if err != nil {
			log.Error("rate limiter error", zap.Error(err), zap.String("user_id", userID))
			c.Next()
			return
		}

		if !allowed {
			response.ErrorWithCode(c, apperrors.ErrFileRateLimited)
			c.Abort()
			return
		}

		c.Next()
	}
}
