package service

import (
	"fmt"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lk2023060901/filevault-backend/internal/file/biz"
)

// FileResponse 文件记录响应
type FileResponse struct {
	ID               string `json:"id"`
	OriginalFilename string `json:"original_filename"`
	ContentType      string `json:"content_type"`
	SizeBytes        int64  `json:"size_bytes"`
	ContentHash      string `json:"content_hash"`
	IsReference      bool   `json:"is_reference"`
	ReferenceCount   int    `json:"reference_count"`
	UploadedAt       string `json:"uploaded_at"`
}

func toFileResponse(rec *biz.FileRecord) *FileResponse {
	return &FileResponse{
		ID:               rec.ID,
		OriginalFilename: rec.OriginalFilename,
		ContentType:      rec.ContentType,
		SizeBytes:        rec.SizeBytes,
		ContentHash:      rec.ContentHash,
		IsReference:      rec.IsReference,
		ReferenceCount:   rec.ReferenceCount,
		UploadedAt:       rec.UploadedAt.Format(time.RFC3339),
	}
}

// ParseListQuery 解析并校验列表过滤参数
//
// 非法参数在触达领域层之前拒绝：
// 大小必须是非负整数且 min<=max，日期必须是 RFC3339 且 start<=end。
func ParseListQuery(c *gin.Context) (*biz.ListFilter, error) {
	filter := &biz.ListFilter{
		Search:      c.Query("search"),
		ContentType: c.Query("content_type"),
	}

	minSize, err := parseSizeParam(c.Query("min_size"), "min_size")
	if err != nil {
		return nil, err
	}
	filter.MinSize = minSize

	maxSize, err := parseSizeParam(c.Query("max_size"), "max_size")
	if err != nil {
		return nil, err
	}
	filter.MaxSize = maxSize

	if filter.MinSize != nil && filter.MaxSize != nil && *filter.MinSize > *filter.MaxSize {
		return nil, fmt.Errorf("min_size cannot be greater than max_size")
	}

	startDate, err := parseDateParam(c.Query("start_date"), "start_date")
	if err != nil {
		return nil, err
	}
	filter.StartDate = startDate

	endDate, err := parseDateParam(c.Query("end_date"), "end_date")
	if err != nil {
		return nil, err
	}
	filter.EndDate = endDate

	if filter.StartDate != nil && filter.EndDate != nil && filter.StartDate.After(*filter.EndDate) {
		return nil, fmt.Errorf("start_date cannot be after end_date")
	}

	return filter, nil
}

func parseSizeParam(raw, name string) (*int64, error) {
	if raw == "" {
		return nil, nil
	}

	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		return nil, fmt.Errorf("%s must be a non-negative integer", name)
	}

	return &v, nil
}

func parseDateParam(raw, name string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}

	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, fmt.Errorf("%s must be an RFC3339 datetime", name)
	}

	return &t, nil
}
