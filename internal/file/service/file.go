package service

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/lk2023060901/filevault-backend/internal/file/biz"
	apperrors "github.com/lk2023060901/filevault-backend/internal/pkg/errors"
	"github.com/lk2023060901/filevault-backend/internal/pkg/response"
	"go.uber.org/zap"
)

// FileService 文件 HTTP 服务
type FileService struct {
	fileUseCase *biz.FileUseCase
	logger      *zap.Logger
}

// NewFileService 创建文件服务
func NewFileService(fileUseCase *biz.FileUseCase, logger *zap.Logger) *FileService {
	return &FileService{
		fileUseCase: fileUseCase,
		logger:      logger,
	}
}

// RegisterRoutes 注册文件路由（调用方挂载认证与限流中间件）
func (s *FileService) RegisterRoutes(rg *gin.RouterGroup) {
	files := rg.Group("/files")
	{
		files.POST("", s.Upload)
		files.GET("", s.List)
		files.GET("/storage-stats", s.StorageStats)
		files.GET("/types", s.ListFileTypes)
		files.DELETE("/:id", s.Delete)
	}
}

// Upload 上传文件（multipart 字段名 "file"）
func (s *FileService) Upload(c *gin.Context) {
	userID := c.GetString("user_id")

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		response.ErrorWithCode(c, apperrors.ErrFileEmpty)
		return
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	s.logger.Info("file upload request",
		zap.String("user_id", userID),
		zap.String("filename", header.Filename),
		zap.Int64("size_bytes", header.Size))

	rec, err := s.fileUseCase.Upload(c.Request.Context(), userID, header.Filename, contentType, header.Size, file)
	if err != nil {
		s.handleError(c, err)
		return
	}

	response.Created(c, toFileResponse(rec))
}

// List 按过滤条件列出文件
func (s *FileService) List(c *gin.Context) {
	userID := c.GetString("user_id")

	filter, err := ParseListQuery(c)
	if err != nil {
		response.ErrorWithCode(c, apperrors.ErrFileInvalidParams, err.Error())
		return
	}

	records, err := s.fileUseCase.List(c.Request.Context(), userID, filter)
	if err != nil {
		s.handleError(c, err)
		return
	}

	items := make([]FileResponse, len(records))
	for i, rec := range records {
		items[i] = *toFileResponse(rec)
	}

	response.Success(c, map[string]interface{}{
		"items": items,
		"total": len(items),
	})
}

// Delete 删除文件
func (s *FileService) Delete(c *gin.Context) {
	userID := c.GetString("user_id")
	fileID := c.Param("id")

	if err := s.fileUseCase.Delete(c.Request.Context(), userID, fileID); err != nil {
		s.handleError(c, err)
		return
	}

	response.Success(c, map[string]interface{}{
		"id": fileID,
	})
}

// StorageStats 存储统计
func (s *FileService) StorageStats(c *gin.Context) {
	userID := c.GetString("user_id")

	stats, err := s.fileUseCase.StorageStats(c.Request.Context(), userID)
	if err != nil {
		s.handleError(c, err)
		return
	}

	response.Success(c, stats)
}

// ListFileTypes 内容类型集合
func (s *FileService) ListFileTypes(c *gin.Context) {
	userID := c.GetString("user_id")

	types, err := s.fileUseCase.ListFileTypes(c.Request.Context(), userID)
	if err != nil {
		s.handleError(c, err)
		return
	}

	response.Success(c, map[string]interface{}{
		"types": types,
	})
}

// handleError 领域哨兵错误映射为业务错误码
func (s *FileService) handleError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, biz.ErrQuotaExceeded):
		response.ErrorWithCode(c, apperrors.ErrFileQuotaExceeded)
	case errors.Is(err, biz.ErrFileNotFound):
		response.ErrorWithCode(c, apperrors.ErrFileNotFound)
	case errors.Is(err, biz.ErrFileUnauthorized):
		response.ErrorWithCode(c, apperrors.ErrFileUnauthorized)
	case errors.Is(err, biz.ErrHashFailed):
		response.ErrorWithCode(c, apperrors.ErrFileHashFailed)
	default:
		s.logger.Error("file operation failed", zap.Error(err))
		response.ErrorWithCode(c, apperrors.ErrFileStorageFailed)
	}
}
