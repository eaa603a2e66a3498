package biz

import (
	"context"
	"math"
)

// StorageStats 存储统计
//
// TotalUsed 是去重后的物理占用（仅原始记录），
// OriginalUsed 是不去重时的逻辑总量（全部记录求和），两者之差即节省量。
type StorageStats struct {
	TotalUsed         int64   `json:"total_storage_used"`
	OriginalUsed      int64   `json:"original_storage_used"`
	Savings           int64   `json:"storage_savings"`
	SavingsPercentage float64 `json:"savings_percentage"`
	Limit             int64   `json:"storage_limit"`
	Remaining         int64   `json:"storage_remaining"`
	UsagePercentage   float64 `json:"quota_usage_percentage"`
}

// QuotaLedger 配额账本：按去重后的实际占用计费
type QuotaLedger struct {
	repo       FileRepo
	limitBytes int64
}

// NewQuotaLedger 创建配额账本
func NewQuotaLedger(repo FileRepo, limitBytes int64) *QuotaLedger {
	return &QuotaLedger{
		repo:       repo,
		limitBytes: limitBytes,
	}
}

// Check 判断上传是否被配额允许
//
// 用户已有相同内容的原始记录时，上传不产生新的物理占用，无条件放行；
// 否则要求实际占用加上本次大小不超过配额。
func (q *QuotaLedger) Check(ctx context.Context, userID string, size int64, contentHash string) (bool, error) {
	original, err := q.repo.FindOriginal(ctx, userID, contentHash)
	if err != nil {
		return false, err
	}
	if original != nil {
		return true, nil
	}

	used, err := q.repo.SumOriginalSize(ctx, userID)
	if err != nil {
		return false, err
	}

	return used+size <= q.limitBytes, nil
}

// Stats 汇总用户的存储统计
func (q *QuotaLedger) Stats(ctx context.Context, userID string) (*StorageStats, error) {
	totalUsed, err := q.repo.SumOriginalSize(ctx, userID)
	if err != nil {
		return nil, err
	}

	originalUsed, err := q.repo.SumTotalSize(ctx, userID)
	if err != nil {
		return nil, err
	}

	savings := originalUsed - totalUsed

	var savingsPct float64
	if originalUsed > 0 {
		savingsPct = round2(float64(savings) / float64(originalUsed) * 100)
	}

	var usagePct float64
	if q.limitBytes > 0 {
		usagePct = round2(float64(totalUsed) / float64(q.limitBytes) * 100)
	}

	// 配额被调低到已用量以下时剩余量为负，如实上报
	remaining := q.limitBytes - totalUsed

	return &StorageStats{
		TotalUsed:         totalUsed,
		OriginalUsed:      originalUsed,
		Savings:           savings,
		SavingsPercentage: savingsPct,
		Limit:             q.limitBytes,
		Remaining:         remaining,
		UsagePercentage:   usagePct,
	}, nil
}

// round2 保留两位小数
func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
