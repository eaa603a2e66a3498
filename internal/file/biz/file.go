package biz

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/lk2023060901/filevault-backend/internal/pkg/logger"
	"go.uber.org/zap"
)

// maxUploadAttempts 上传去重判定的最大重试次数
// （原始记录被并发回收 / 并发创建时按另一分支重试）
const maxUploadAttempts = 3

// FileRecord 文件记录模型，每次上传产生一行
type FileRecord struct {
	ID               string
	UserID           string
	ContentHash      string // 内容 SHA256（按用户去重）
	OriginalFilename string
	ContentType      string
	SizeBytes        int64
	IsReference      bool   // true 表示引用行，不占用物理存储
	ReferenceCount   int    // 仅原始记录有意义，创建时为 1（计自身）
	OriginalID       string // 引用指向的原始记录 ID（原始记录为空）
	StorageKey       string // MinIO 对象键，引用与原始记录共享
	UploadedAt       time.Time
}

// ListFilter 文件列表过滤条件
type ListFilter struct {
	Search      string // 文件名子串匹配（不区分大小写）
	ContentType string
	MinSize     *int64
	MaxSize     *int64
	StartDate   *time.Time
	EndDate     *time.Time
}

// ReclaimTicket 删除事务提交后的清理凭据
type ReclaimTicket struct {
	// StorageKey 非空表示该对象已无任何记录引用，需在提交后删除
	StorageKey string
	// OriginalMissing 引用指向的原始记录已不存在（数据异常，仅记录日志）
	OriginalMissing bool
}

// FileRepo 文件记录仓储接口
type FileRepo interface {
	// Create 插入原始记录；同一 (user, hash) 已有原始记录时返回 ErrDuplicateOriginal
	Create(ctx context.Context, rec *FileRecord) error
	// FindOriginal 查找用户的原始记录，不存在返回 (nil, nil)
	FindOriginal(ctx context.Context, userID, contentHash string) (*FileRecord, error)
	// CreateReference 单事务：锁定原始记录、递增引用计数、插入引用行；
	// 原始记录已消失返回 ErrOriginalGone
	CreateReference(ctx context.Context, ref *FileRecord) error
	// Delete 单事务删除记录并维护引用计数，返回提交后的清理凭据
	Delete(ctx context.Context, userID, fileID string) (*ReclaimTicket, error)
	List(ctx context.Context, userID string, filter *ListFilter) ([]*FileRecord, error)
	// SumOriginalSize 实际占用字节数（仅原始记录）
	SumOriginalSize(ctx context.Context, userID string) (int64, error)
	// SumTotalSize 逻辑字节数（全部记录求和）
	SumTotalSize(ctx context.Context, userID string) (int64, error)
	DistinctContentTypes(ctx context.Context, userID string) ([]string, error)
}

// BlobStore 对象存储服务接口（MinIO）
type BlobStore interface {
	Put(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error
	Remove(ctx context.Context, key string) error
}

// FileUseCase 文件用例：上传去重、删除回收、列表与统计
type FileUseCase struct {
	repo   FileRepo
	blobs  BlobStore
	quota  *QuotaLedger
	logger *logger.Logger
}

// NewFileUseCase 创建文件用例
func NewFileUseCase(repo FileRepo, blobs BlobStore, quota *QuotaLedger, log *logger.Logger) *FileUseCase {
	return &FileUseCase{
		repo:   repo,
		blobs:  blobs,
		quota:  quota,
		logger: log,
	}
}

// Upload 上传文件（按用户内容去重）
//
// 重复内容不再写对象存储，只插入共享 storage_key 的引用行并递增原始记录计数；
// 新内容先写对象、再建记录，记录建失败时清理对象，不留半成品状态。
func (uc *FileUseCase) Upload(ctx context.Context, userID, filename, contentType string, size int64, stream io.ReadSeeker) (*FileRecord, error) {
	contentHash, err := HashReader(stream)
	if err != nil {
		return nil, err
	}

	allowed, err := uc.quota.Check(ctx, userID, size, contentHash)
	if err != nil {
		return nil, fmt.Errorf("quota check failed: %w", err)
	}
	if !allowed {
		return nil, ErrQuotaExceeded
	}

	var lastErr error
	for attempt := 0; attempt < maxUploadAttempts; attempt++ {
		original, err := uc.repo.FindOriginal(ctx, userID, contentHash)
		if err != nil {
			return nil, fmt.Errorf("failed to check content existence: %w", err)
		}

		if original != nil {
			ref := &FileRecord{
				ID:               uuid.New().String(),
				UserID:           userID,
				ContentHash:      contentHash,
				OriginalFilename: filename,
				ContentType:      contentType,
				SizeBytes:        size,
				IsReference:      true,
				OriginalID:       original.ID,
				StorageKey:       original.StorageKey,
				UploadedAt:       time.Now(),
			}

			err = uc.repo.CreateReference(ctx, ref)
			if errors.Is(err, ErrOriginalGone) {
				// 原始记录在判定后被并发回收，按新内容重试
				lastErr = err
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("failed to create reference: %w", err)
			}

			uc.logger.Info("duplicate content referenced",
				zap.String("user_id", userID),
				zap.String("file_id", ref.ID),
				zap.String("original_id", original.ID),
				zap.String("content_hash", contentHash))
			return ref, nil
		}

		// 新内容：键含用户前缀和新 UUID，用户之间互不共享对象
		key := fmt.Sprintf("users/%s/%s", userID, uuid.New().String())

		if _, err := stream.Seek(0, io.SeekStart); err != nil {
			return nil, fmt.Errorf("%w: rewind: %v", ErrHashFailed, err)
		}

		if err := uc.blobs.Put(ctx, key, stream, size, contentType); err != nil {
			return nil, fmt.Errorf("failed to store content: %w", err)
		}

		rec := &FileRecord{
			ID:               uuid.New().String(),
			UserID:           userID,
			ContentHash:      contentHash,
			OriginalFilename: filename,
			ContentType:      contentType,
			SizeBytes:        size,
			IsReference:      false,
			ReferenceCount:   1,
			StorageKey:       key,
			UploadedAt:       time.Now(),
		}

		err = uc.repo.Create(ctx, rec)
		if errors.Is(err, ErrDuplicateOriginal) {
			// 并发上传已建立原始记录，清理刚写入的对象后按引用重试
			if rmErr := uc.blobs.Remove(ctx, key); rmErr != nil {
				uc.logger.Warn("failed to clean up orphaned object",
					zap.String("storage_key", key), zap.Error(rmErr))
			}
			lastErr = err
			continue
		}
		if err != nil {
			if rmErr := uc.blobs.Remove(ctx, key); rmErr != nil {
				uc.logger.Warn("failed to clean up orphaned object",
					zap.String("storage_key", key), zap.Error(rmErr))
			}
			return nil, fmt.Errorf("failed to create file record: %w", err)
		}

		uc.logger.Info("file uploaded",
			zap.String("user_id", userID),
			zap.String("file_id", rec.ID),
			zap.String("content_hash", contentHash),
			zap.Int64("size_bytes", size))
		return rec, nil
	}

	return nil, fmt.Errorf("upload did not converge after %d attempts: %w", maxUploadAttempts, lastErr)
}

// Delete 删除文件记录并维护引用计数
//
// 记录删除与计数维护在仓储层单事务内完成；对象字节在事务提交后删除，
// 崩溃最多留下孤儿对象，不会出现指向空对象的记录。
func (uc *FileUseCase) Delete(ctx context.Context, userID, fileID string) error {
	ticket, err := uc.repo.Delete(ctx, userID, fileID)
	if err != nil {
		return err
	}

	if ticket.OriginalMissing {
		uc.logger.Warn("reference pointed to missing original",
			zap.String("user_id", userID),
			zap.String("file_id", fileID))
	}

	if ticket.StorageKey != "" {
		if err := uc.blobs.Remove(ctx, ticket.StorageKey); err != nil {
			// 记录已删，对象删除失败只记日志，留给后续清理
			uc.logger.Error("failed to remove reclaimed object",
				zap.String("storage_key", ticket.StorageKey),
				zap.Error(err))
		}
	}

	uc.logger.Info("file deleted",
		zap.String("user_id", userID),
		zap.String("file_id", fileID))
	return nil
}

// List 按过滤条件查询用户的文件列表
func (uc *FileUseCase) List(ctx context.Context, userID string, filter *ListFilter) ([]*FileRecord, error) {
	return uc.repo.List(ctx, userID, filter)
}

// StorageStats 用户存储统计（配额、去重节省）
func (uc *FileUseCase) StorageStats(ctx context.Context, userID string) (*StorageStats, error) {
	return uc.quota.Stats(ctx, userID)
}

// ListFileTypes 用户文件的内容类型集合（去重、排序）
func (uc *FileUseCase) ListFileTypes(ctx context.Context, userID string) ([]string, error) {
	return uc.repo.DistinctContentTypes(ctx, userID)
}
