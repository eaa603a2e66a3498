package ratelimit

import (
	"context"
	"sync"
	"time"
)

func nowUnixMilli() int64 {
	return time.Now().UnixMilli()
}

// MemoryLimiter 进程内滑动窗口限流器
//
// 精确语义：窗口内保留每次放行的时间戳，达到上限的请求被拒绝且不记录。
// 用于单机部署和测试。
type MemoryLimiter struct {
	mu      sync.Mutex
	config  Config
	history map[string][]time.Time
	// now 可注入时钟，便于测试
	now func() time.Time
}

// NewMemoryLimiter 创建内存限流器
func NewMemoryLimiter(cfg Config) *MemoryLimiter {
	return &MemoryLimiter{
		config:  cfg.normalize(),
		history: make(map[string][]time.Time),
		now:     time.Now,
	}
}

// Admit 判断请求是否放行
func (l *MemoryLimiter) Admit(_ context.Context, userID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	windowStart := now.Add(-l.config.Window)

	// 丢弃窗口外的时间戳
	calls := l.history[userID]
	kept := calls[:0]
	for _, ts := range calls {
		if ts.After(windowStart) {
			kept = append(kept, ts)
		}
	}

	if len(kept) >= l.config.MaxCalls {
		l.history[userID] = kept
		return false, nil
	}

	l.history[userID] = append(kept, now)
	return true, nil
}
