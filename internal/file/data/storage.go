package data

import (
	"context"
	"fmt"
	"io"

	"github.com/lk2023060901/filevault-backend/internal/pkg/minio"
)

// BlobStore MinIO 对象存储适配
type BlobStore struct {
	client *minio.Client
	bucket string
}

// NewBlobStore 创建对象存储适配
func NewBlobStore(client *minio.Client, bucket string) *BlobStore {
	return &BlobStore{
		client: client,
		bucket: bucket,
	}
}

// Put 写入对象
func (s *BlobStore) Put(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error {
	_, err := s.client.PutObject(ctx, s.bucket, key, reader, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("failed to put object: %w", err)
	}
	return nil
}

// Remove 删除对象
func (s *BlobStore) Remove(ctx context.Context, key string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, key); err != nil {
		return fmt.Errorf("failed to remove object: %w", err)
	}
	return nil
}
