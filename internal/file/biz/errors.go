package biz

import "errors"

// 领域哨兵错误，service 层负责映射为业务错误码
var (
	// ErrFileNotFound 文件记录不存在
	ErrFileNotFound = errors.New("file not found")

	// ErrFileUnauthorized 文件不属于当前用户
	ErrFileUnauthorized = errors.New("file does not belong to user")

	// ErrQuotaExceeded 存储配额不足
	ErrQuotaExceeded = errors.New("storage quota exceeded")

	// ErrOriginalGone 引用创建时原始记录已被回收
	ErrOriginalGone = errors.New("original record no longer exists")

	// ErrDuplicateOriginal 并发上传导致同一 (user, hash) 的原始记录已存在
	ErrDuplicateOriginal = errors.New("original record already exists")

	// ErrHashFailed 读取内容计算哈希失败
	ErrHashFailed = errors.New("failed to hash content")
)
