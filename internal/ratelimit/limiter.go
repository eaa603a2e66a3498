package ratelimit

import (
	"context"
	"time"
)

// Config 限流配置
type Config struct {
	// MaxCalls 窗口内允许的最大请求数
	MaxCalls int
	// Window 滑动窗口时长
	Window time.Duration
}

// normalize 填充默认值
func (c Config) normalize() Config {
	if c.MaxCalls <= 0 {
		c.MaxCalls = 2
	}
	if c.Window <= 0 {
		c.Window = time.Second
	}
	return c
}

// Limiter 按用户的滑动窗口限流器
//
// Admit 判断一次请求是否放行：窗口内已记录的请求数达到上限则拒绝，
// 被拒绝的请求不占用窗口名额。
type Limiter interface {
	Admit(ctx context.Context, userID string) (bool, error)
}
