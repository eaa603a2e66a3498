package ratelimit

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/lk2023060901/filevault-backend/internal/pkg/redis"
)

// admitScript 原子滑动窗口：清理窗口外的成员、统计、未超限则记录本次请求。
// 分数为毫秒时间戳，成员附加随机后缀避免同一毫秒内互相覆盖；
// 被拒绝的请求不写入，不占用窗口名额。
const admitScript = `
	local key = KEYS[1]
	local now = tonumber(ARGV[1])
	local window = tonumber(ARGV[2])
	local limit = tonumber(ARGV[3])
	local member = ARGV[4]
	local window_start = now - window

	redis.call('ZREMRANGEBYSCORE', key, 0, window_start)

	local current = redis.call('ZCARD', key)
	if current >= limit then
		return 0
	end

	redis.call('ZADD', key, now, member)
	redis.call('PEXPIRE', key, window + 1000)
	return 1
`

// RedisLimiter 基于 Redis ZSET 的滑动窗口限流器
//
// 单次调用在 Lua 脚本内原子完成；多实例部署下窗口边界按 Redis
// 服务端时间之外的调用方时钟计算，属近似滑动窗口。
type RedisLimiter struct {
	client *redis.Client
	config Config
	// now 可注入时钟，便于测试
	now func() int64
}

// NewRedisLimiter 创建 Redis 限流器
func NewRedisLimiter(client *redis.Client, cfg Config) *RedisLimiter {
	return &RedisLimiter{
		client: client,
		config: cfg.normalize(),
		now:    nil,
	}
}

// Admit 判断请求是否放行
func (l *RedisLimiter) Admit(ctx context.Context, userID string) (bool, error) {
	key := fmt.Sprintf("rate_limit:user:%s", userID)

	nowMs := l.nowMillis()
	member := fmt.Sprintf("%d-%s", nowMs, uuid.New().String())

	result, err := l.client.Eval(ctx, admitScript, []string{key},
		nowMs, l.config.Window.Milliseconds(), l.config.MaxCalls, member)
	if err != nil {
		return false, fmt.Errorf("rate limit check failed: %w", err)
	}

	allowed, ok := result.(int64)
	if !ok {
		return false, fmt.Errorf("unexpected rate limit result type %T", result)
	}

	return allowed == 1, nil
}

func (l *RedisLimiter) nowMillis() int64 {
	if l.now != nil {
		return l.now()
	}
	return nowUnixMilli()
}
