package data

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lk2023060901/filevault-backend/internal/file/biz"
	"github.com/lk2023060901/filevault-backend/internal/pkg/database"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// FilePO 文件记录数据库模型
type FilePO struct {
	ID               string    `gorm:"type:uuid;primarykey"`
	UserID           string    `gorm:"column:user_id;size:255;not null;index:idx_files_user_hash,priority:1"`
	ContentHash      string    `gorm:"column:content_hash;size:64;not null;index:idx_files_user_hash,priority:2"`
	OriginalFilename string    `gorm:"column:original_filename;size:255;not null"`
	ContentType      string    `gorm:"column:content_type;size:100;not null;index:idx_files_content_type"`
	SizeBytes        int64     `gorm:"column:size_bytes;not null"`
	IsReference      bool      `gorm:"column:is_reference;not null;default:false"`
	ReferenceCount   int       `gorm:"column:reference_count;not null;default:1"`
	OriginalID       *string   `gorm:"column:original_id;type:uuid"`
	StorageKey       string    `gorm:"column:storage_key;size:500;not null"`
	UploadedAt       time.Time `gorm:"column:uploaded_at;not null;default:CURRENT_TIMESTAMP;index:idx_files_uploaded_at"`
}

func (FilePO) TableName() string {
	return "files"
}

// FileRepo 文件记录仓储实现
type FileRepo struct {
	db *database.DB
	tm *database.TransactionManager
}

// NewFileRepo 创建文件记录仓储
func NewFileRepo(db *database.DB) *FileRepo {
	return &FileRepo{
		db: db,
		tm: database.NewTransactionManager(db),
	}
}

// Create 插入原始记录
//
// 同一 (user_id, content_hash) 的原始记录受部分唯一索引约束，
// 并发冲突映射为 biz.ErrDuplicateOriginal 由上层按引用重试。
func (r *FileRepo) Create(ctx context.Context, rec *biz.FileRecord) error {
	po := toPO(rec)

	err := r.db.WithContext(ctx).GetDB().Create(po).Error
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return biz.ErrDuplicateOriginal
		}
		return fmt.Errorf("failed to create file record: %w", err)
	}

	return nil
}

// FindOriginal 查找用户的原始记录，不存在返回 (nil, nil)
func (r *FileRepo) FindOriginal(ctx context.Context, userID, contentHash string) (*biz.FileRecord, error) {
	var po FilePO
	err := r.db.WithContext(ctx).GetDB().
		Where("user_id = ? AND content_hash = ? AND NOT is_reference", userID, contentHash).
		First(&po).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find original record: %w", err)
	}

	return toDomain(&po), nil
}

// CreateReference 单事务创建引用行并递增原始记录计数
//
// 原始记录行锁住后递增，和并发的删除/其他引用创建串行化；
// 锁定时原始记录已不存在则返回 biz.ErrOriginalGone。
func (r *FileRepo) CreateReference(ctx context.Context, ref *biz.FileRecord) error {
	return r.tm.ExecuteWithRetry(ctx, 3, func(ctx context.Context, tx *gorm.DB) error {
		var original FilePO
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ? AND NOT is_reference", ref.OriginalID).
			First(&original).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return biz.ErrOriginalGone
			}
			return fmt.Errorf("failed to lock original record: %w", err)
		}

		err = tx.Model(&FilePO{}).Where("id = ?", original.ID).
			UpdateColumn("reference_count", gorm.Expr("reference_count + 1")).Error
		if err != nil {
			return fmt.Errorf("failed to increment reference count: %w", err)
		}

		if err := tx.Create(toPO(ref)).Error; err != nil {
			return fmt.Errorf("failed to create reference record: %w", err)
		}

		return nil
	})
}

// Delete 单事务删除记录并维护引用计数
//
// 行为分支：
//   - 引用行：删除自身并递减原始记录计数，计数归零时原始记录一并回收；
//   - 原始记录：计数减一（计自身），仍有引用则保留行承载共享内容，
//     归零则删除行并在凭据中携带待删的对象键。
//
// 对象字节的删除由调用方在事务提交后执行。
func (r *FileRepo) Delete(ctx context.Context, userID, fileID string) (*biz.ReclaimTicket, error) {
	ticket := &biz.ReclaimTicket{}

	err := r.tm.ExecuteWithRetry(ctx, 3, func(ctx context.Context, tx *gorm.DB) error {
		// 每次重试重置凭据，避免上一轮的残留
		*ticket = biz.ReclaimTicket{}

		var po FilePO
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", fileID).
			First(&po).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return biz.ErrFileNotFound
			}
			return fmt.Errorf("failed to lock file record: %w", err)
		}

		if po.UserID != userID {
			return biz.ErrFileUnauthorized
		}

		if po.IsReference {
			return r.deleteReference(tx, &po, ticket)
		}
		return r.deleteOriginal(tx, &po, ticket)
	})
	if err != nil {
		return nil, err
	}

	return ticket, nil
}

// deleteReference 删除引用行并递减原始记录计数
func (r *FileRepo) deleteReference(tx *gorm.DB, po *FilePO, ticket *biz.ReclaimTicket) error {
	if err := tx.Delete(&FilePO{}, "id = ?", po.ID).Error; err != nil {
		return fmt.Errorf("failed to delete reference record: %w", err)
	}

	if po.OriginalID == nil {
		ticket.OriginalMissing = true
		return nil
	}

	var original FilePO
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ? AND NOT is_reference", *po.OriginalID).
		First(&original).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			ticket.OriginalMissing = true
			return nil
		}
		return fmt.Errorf("failed to lock original record: %w", err)
	}

	newCount := original.ReferenceCount - 1
	if newCount <= 0 {
		// 最后一个引用消失且原始记录本体已被逻辑删除，回收行和对象
		if err := tx.Delete(&FilePO{}, "id = ?", original.ID).Error; err != nil {
			return fmt.Errorf("failed to delete drained original: %w", err)
		}
		ticket.StorageKey = original.StorageKey
		return nil
	}

	err = tx.Model(&FilePO{}).Where("id = ?", original.ID).
		UpdateColumn("reference_count", newCount).Error
	if err != nil {
		return fmt.Errorf("failed to decrement reference count: %w", err)
	}

	return nil
}

// deleteOriginal 删除原始记录（计数含自身）
func (r *FileRepo) deleteOriginal(tx *gorm.DB, po *FilePO, ticket *biz.ReclaimTicket) error {
	newCount := po.ReferenceCount - 1
	if newCount <= 0 {
		if err := tx.Delete(&FilePO{}, "id = ?", po.ID).Error; err != nil {
			return fmt.Errorf("failed to delete original record: %w", err)
		}
		ticket.StorageKey = po.StorageKey
		return nil
	}

	// 仍有引用依赖该内容，行保留用于承载共享的对象键和计数
	err := tx.Model(&FilePO{}).Where("id = ?", po.ID).
		UpdateColumn("reference_count", newCount).Error
	if err != nil {
		return fmt.Errorf("failed to decrement reference count: %w", err)
	}

	return nil
}

// List 按过滤条件查询用户的文件列表
func (r *FileRepo) List(ctx context.Context, userID string, filter *biz.ListFilter) ([]*biz.FileRecord, error) {
	query := r.db.WithContext(ctx).GetDB().Where("user_id = ?", userID)

	if filter != nil {
		if filter.Search != "" {
			pattern := "%" + strings.ToLower(filter.Search) + "%"
			query = query.Where("LOWER(original_filename) LIKE ?", pattern)
		}
		if filter.ContentType != "" {
			query = query.Where("content_type = ?", filter.ContentType)
		}
		if filter.MinSize != nil {
			query = query.Where("size_bytes >= ?", *filter.MinSize)
		}
		if filter.MaxSize != nil {
			query = query.Where("size_bytes <= ?", *filter.MaxSize)
		}
		if filter.StartDate != nil {
			query = query.Where("uploaded_at >= ?", *filter.StartDate)
		}
		if filter.EndDate != nil {
			query = query.Where("uploaded_at <= ?", *filter.EndDate)
		}
	}

	var pos []FilePO
	err := query.Order("uploaded_at DESC").Find(&pos).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list file records: %w", err)
	}

	records := make([]*biz.FileRecord, len(pos))
	for i := range pos {
		records[i] = toDomain(&pos[i])
	}
	return records, nil
}

// SumOriginalSize 实际占用字节数（仅原始记录）
func (r *FileRepo) SumOriginalSize(ctx context.Context, userID string) (int64, error) {
	var total int64
	err := r.db.WithContext(ctx).GetDB().Model(&FilePO{}).
		Where("user_id = ? AND NOT is_reference", userID).
		Select("COALESCE(SUM(size_bytes), 0)").
		Scan(&total).Error
	if err != nil {
		return 0, fmt.Errorf("failed to sum original size: %w", err)
	}
	return total, nil
}

// SumTotalSize 逻辑字节数（全部记录求和）
func (r *FileRepo) SumTotalSize(ctx context.Context, userID string) (int64, error) {
	var total int64
	err := r.db.WithContext(ctx).GetDB().Model(&FilePO{}).
		Where("user_id = ?", userID).
		Select("COALESCE(SUM(size_bytes), 0)").
		Scan(&total).Error
	if err != nil {
		return 0, fmt.Errorf("failed to sum total size: %w", err)
	}
	return total, nil
}

// DistinctContentTypes 用户文件的内容类型集合（排序）
func (r *FileRepo) DistinctContentTypes(ctx context.Context, userID string) ([]string, error) {
	var types []string
	err := r.db.WithContext(ctx).GetDB().Model(&FilePO{}).
		Where("user_id = ?", userID).
		Distinct("content_type").
		Order("content_type").
		Pluck("content_type", &types).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list content types: %w", err)
	}
	return types, nil
}

func toPO(rec *biz.FileRecord) *FilePO {
	po := &FilePO{
		ID:               rec.ID,
		UserID:           rec.UserID,
		ContentHash:      rec.ContentHash,
		OriginalFilename: rec.OriginalFilename,
		ContentType:      rec.ContentType,
		SizeBytes:        rec.SizeBytes,
		IsReference:      rec.IsReference,
		ReferenceCount:   rec.ReferenceCount,
		StorageKey:       rec.StorageKey,
		UploadedAt:       rec.UploadedAt,
	}
	if rec.OriginalID != "" {
		originalID := rec.OriginalID
		po.OriginalID = &originalID
	}
	return po
}

func toDomain(po *FilePO) *biz.FileRecord {
	rec := &biz.FileRecord{
		ID:               po.ID,
		UserID:           po.UserID,
		ContentHash:      po.ContentHash,
		OriginalFilename: po.OriginalFilename,
		ContentType:      po.ContentType,
		SizeBytes:        po.SizeBytes,
		IsReference:      po.IsReference,
		ReferenceCount:   po.ReferenceCount,
		StorageKey:       po.StorageKey,
		UploadedAt:       po.UploadedAt,
	}
	if po.OriginalID != nil {
		rec.OriginalID = *po.OriginalID
	}
	return rec
}
