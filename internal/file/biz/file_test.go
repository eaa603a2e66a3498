package biz

import (
	"bytes"
	"context"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/lk2023060901/filevault-backend/internal/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeFileRepo 内存仓储，镜像数据层的事务语义
type fakeFileRepo struct {
	mu      sync.Mutex
	records map[string]*FileRecord
}

func newFakeFileRepo() *fakeFileRepo {
	return &fakeFileRepo{records: make(map[string]*FileRecord)}
}

func (r *fakeFileRepo) Create(_ context.Context, rec *FileRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.records {
		if !existing.IsReference && existing.UserID == rec.UserID && existing.ContentHash == rec.ContentHash {
			return ErrDuplicateOriginal
		}
	}

	cp := *rec
	r.records[rec.ID] = &cp
	return nil
}

func (r *fakeFileRepo) GetByID(_ context.Context, id string) (*FileRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok {
		return nil, ErrFileNotFound
	}
	cp := *rec
	return &cp, nil
}

func (r *fakeFileRepo) FindOriginal(_ context.Context, userID, contentHash string) (*FileRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, rec := range r.records {
		if !rec.IsReference && rec.UserID == userID && rec.ContentHash == contentHash {
			cp := *rec
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *fakeFileRepo) CreateReference(_ context.Context, ref *FileRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	original, ok := r.records[ref.OriginalID]
	if !ok || original.IsReference {
		return ErrOriginalGone
	}

	original.ReferenceCount++
	cp := *ref
	r.records[ref.ID] = &cp
	return nil
}

func (r *fakeFileRepo) Delete(_ context.Context, userID, fileID string) (*ReclaimTicket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ticket := &ReclaimTicket{}

	rec, ok := r.records[fileID]
	if !ok {
		return nil, ErrFileNotFound
	}
	if rec.UserID != userID {
		return nil, ErrFileUnauthorized
	}

	if rec.IsReference {
		delete(r.records, fileID)

		original, ok := r.records[rec.OriginalID]
		if !ok || original.IsReference {
			ticket.OriginalMissing = true
			return ticket, nil
		}

		original.ReferenceCount--
		if original.ReferenceCount <= 0 {
			delete(r.records, original.ID)
			ticket.StorageKey = original.StorageKey
		}
		return ticket, nil
	}

	rec.ReferenceCount--
	if rec.ReferenceCount <= 0 {
		delete(r.records, fileID)
		ticket.StorageKey = rec.StorageKey
	}
	return ticket, nil
}

func (r *fakeFileRepo) List(_ context.Context, userID string, _ *ListFilter) ([]*FileRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*FileRecord
	for _, rec := range r.records {
		if rec.UserID == userID {
			cp := *rec
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeFileRepo) SumOriginalSize(_ context.Context, userID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var total int64
	for _, rec := range r.records {
		if rec.UserID == userID && !rec.IsReference {
			total += rec.SizeBytes
		}
	}
	return total, nil
}

func (r *fakeFileRepo) SumTotalSize(_ context.Context, userID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var total int64
	for _, rec := range r.records {
		if rec.UserID == userID {
			total += rec.SizeBytes
		}
	}
	return total, nil
}

func (r *fakeFileRepo) DistinctContentTypes(_ context.Context, userID string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[string]bool)
	for _, rec := range r.records {
		if rec.UserID == userID {
			seen[rec.ContentType] = true
		}
	}

	types := make([]string, 0, len(seen))
	for t := range seen {
		types = append(types, t)
	}
	sort.Strings(types)
	return types, nil
}

// raceFileRepo 在指定调用点注入一次并发竞争结果
type raceFileRepo struct {
	*fakeFileRepo
	onCreate          func(rec *FileRecord) error
	onCreateReference func(ref *FileRecord) error
}

func (r *raceFileRepo) Create(ctx context.Context, rec *FileRecord) error {
	if r.onCreate != nil {
		hook := r.onCreate
		r.onCreate = nil
		return hook(rec)
	}
	return r.fakeFileRepo.Create(ctx, rec)
}

func (r *raceFileRepo) CreateReference(ctx context.Context, ref *FileRecord) error {
	if r.onCreateReference != nil {
		hook := r.onCreateReference
		r.onCreateReference = nil
		return hook(ref)
	}
	return r.fakeFileRepo.CreateReference(ctx, ref)
}

// fakeBlobStore 内存对象存储
type fakeBlobStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	removed []string
}

func newFakeBlobStore() *fakeBlobStore {
	return &fakeBlobStore{objects: make(map[string][]byte)}
}

func (s *fakeBlobStore) Put(_ context.Context, key string, reader io.Reader, _ int64, _ string) error {
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = data
	return nil
}

func (s *fakeBlobStore) Remove(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	s.removed = append(s.removed, key)
	return nil
}

func (s *fakeBlobStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.objects)
}

func newTestUseCase(t *testing.T, quotaBytes int64) (*FileUseCase, *fakeFileRepo, *fakeBlobStore) {
	t.Helper()

	log, err := logger.New(&logger.Config{Level: "error", Format: "console", Output: "console"})
	require.NoError(t, err)

	repo := newFakeFileRepo()
	blobs := newFakeBlobStore()
	quota := NewQuotaLedger(repo, quotaBytes)

	return NewFileUseCase(repo, blobs, quota, log), repo, blobs
}

func upload(t *testing.T, uc *FileUseCase, userID, filename, content string) *FileRecord {
	t.Helper()

	rec, err := uc.Upload(context.Background(), userID, filename, "text/plain",
		int64(len(content)), strings.NewReader(content))
	require.NoError(t, err)
	return rec
}

func TestUpload_DeduplicatesSameContent(t *testing.T) {
	uc, repo, blobs := newTestUseCase(t, 1<<20)
	ctx := context.Background()

	first := upload(t, uc, "user-1", "a.txt", "shared content")
	second := upload(t, uc, "user-1", "b.txt", "shared content")

	assert.False(t, first.IsReference)
	assert.True(t, second.IsReference)
	assert.Equal(t, first.ID, second.OriginalID)
	assert.Equal(t, first.StorageKey, second.StorageKey)

	// 原始记录计数涵盖自身和引用
	orig, err := repo.GetByID(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, orig.ReferenceCount)

	// 相同内容只占一份物理存储
	assert.Equal(t, 1, blobs.count())
}

func TestUpload_PerUserIsolation(t *testing.T) {
	uc, _, blobs := newTestUseCase(t, 1<<20)

	r1 := upload(t, uc, "user-1", "a.txt", "same bytes")
	r2 := upload(t, uc, "user-2", "a.txt", "same bytes")

	// 不同用户互不去重，各自持有原始记录和对象
	assert.False(t, r1.IsReference)
	assert.False(t, r2.IsReference)
	assert.NotEqual(t, r1.StorageKey, r2.StorageKey)
	assert.Equal(t, 2, blobs.count())
}

func TestUpload_QuotaExceeded(t *testing.T) {
	uc, _, _ := newTestUseCase(t, 10)
	ctx := context.Background()

	upload(t, uc, "user-1", "a.txt", "123456") // 6 字节

	// 再传 5 字节超出 10 字节配额
	_, err := uc.Upload(ctx, "user-1", "b.txt", "text/plain", 5, strings.NewReader("12345"))
	assert.ErrorIs(t, err, ErrQuotaExceeded)

	// 删除后重试成功
	records, err := uc.List(ctx, "user-1", nil)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.NoError(t, uc.Delete(ctx, "user-1", records[0].ID))

	_, err = uc.Upload(ctx, "user-1", "b.txt", "text/plain", 5, strings.NewReader("12345"))
	assert.NoError(t, err)
}

func TestUpload_DuplicateBypassesQuota(t *testing.T) {
	content := "exactly at the limit"
	uc, _, _ := newTestUseCase(t, int64(len(content)))
	ctx := context.Background()

	upload(t, uc, "user-1", "a.txt", content)

	// 配额已满，但相同内容不占新空间，放行
	rec, err := uc.Upload(ctx, "user-1", "b.txt", "text/plain",
		int64(len(content)), strings.NewReader(content))
	require.NoError(t, err)
	assert.True(t, rec.IsReference)

	// 新内容被拒绝
	_, err = uc.Upload(ctx, "user-1", "c.txt", "text/plain", 1, strings.NewReader("x"))
	assert.ErrorIs(t, err, ErrQuotaExceeded)
}

func TestUpload_LostCreateRaceRetriesAsReference(t *testing.T) {
	base := newFakeFileRepo()
	repo := &raceFileRepo{fakeFileRepo: base}
	blobs := newFakeBlobStore()
	quota := NewQuotaLedger(repo, 1<<20)

	log, err := logger.New(&logger.Config{Level: "error", Format: "console", Output: "console"})
	require.NoError(t, err)
	uc := NewFileUseCase(repo, blobs, quota, log)

	ctx := context.Background()
	content := "raced content"
	hash, err := HashReader(strings.NewReader(content))
	require.NoError(t, err)

	// 判定时尚无原始记录，但插入前另一上传抢先建立了原始记录
	winner := &FileRecord{
		ID:             "winner-id",
		UserID:         "user-1",
		ContentHash:    hash,
		SizeBytes:      int64(len(content)),
		ReferenceCount: 1,
		StorageKey:     "users/user-1/winner-key",
	}
	repo.onCreate = func(_ *FileRecord) error {
		require.NoError(t, base.Create(ctx, winner))
		return ErrDuplicateOriginal
	}

	rec, err := uc.Upload(ctx, "user-1", "a.txt", "text/plain",
		int64(len(content)), strings.NewReader(content))
	require.NoError(t, err)

	// 落败方收敛为引用，指向胜出的原始记录
	assert.True(t, rec.IsReference)
	assert.Equal(t, winner.ID, rec.OriginalID)
	assert.Equal(t, winner.StorageKey, rec.StorageKey)

	got, err := base.GetByID(ctx, winner.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.ReferenceCount)

	// 落败方已写入的对象被清理，不留孤儿
	assert.Equal(t, 0, blobs.count())
	require.Len(t, blobs.removed, 1)
	assert.NotEqual(t, winner.StorageKey, blobs.removed[0])
}

func TestUpload_OriginalReclaimedMidFlight(t *testing.T) {
	base := newFakeFileRepo()
	repo := &raceFileRepo{fakeFileRepo: base}
	blobs := newFakeBlobStore()
	quota := NewQuotaLedger(repo, 1<<20)

	log, err := logger.New(&logger.Config{Level: "error", Format: "console", Output: "console"})
	require.NoError(t, err)
	uc := NewFileUseCase(repo, blobs, quota, log)

	ctx := context.Background()
	first, err := uc.Upload(ctx, "user-1", "a.txt", "text/plain",
		7, strings.NewReader("content"))
	require.NoError(t, err)

	// 引用创建锁定前，原始记录被并发删除回收
	repo.onCreateReference = func(_ *FileRecord) error {
		base.mu.Lock()
		delete(base.records, first.ID)
		base.mu.Unlock()
		return ErrOriginalGone
	}

	second, err := uc.Upload(ctx, "user-1", "b.txt", "text/plain",
		7, strings.NewReader("content"))
	require.NoError(t, err)

	// 重试后作为新的原始记录落地，持有自己的对象
	assert.False(t, second.IsReference)
	assert.Equal(t, 1, second.ReferenceCount)
	assert.NotEqual(t, first.StorageKey, second.StorageKey)
}

func TestDelete_ReferenceDecrementsOriginal(t *testing.T) {
	uc, repo, blobs := newTestUseCase(t, 1<<20)
	ctx := context.Background()

	orig := upload(t, uc, "user-1", "a.txt", "content")
	ref := upload(t, uc, "user-1", "b.txt", "content")

	require.NoError(t, uc.Delete(ctx, "user-1", ref.ID))

	got, err := repo.GetByID(ctx, orig.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.ReferenceCount)
	assert.Equal(t, 1, blobs.count())
}

func TestDelete_OriginalWithReferencesSurvives(t *testing.T) {
	uc, repo, blobs := newTestUseCase(t, 1<<20)
	ctx := context.Background()

	orig := upload(t, uc, "user-1", "a.txt", "content")
	ref := upload(t, uc, "user-1", "b.txt", "content")

	// 原始记录仍被引用：行保留，计数减一，对象保留
	require.NoError(t, uc.Delete(ctx, "user-1", orig.ID))

	got, err := repo.GetByID(ctx, orig.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.ReferenceCount)
	assert.Equal(t, 1, blobs.count())

	// 最后一个引用删除后全部回收
	require.NoError(t, uc.Delete(ctx, "user-1", ref.ID))

	_, err = repo.GetByID(ctx, orig.ID)
	assert.ErrorIs(t, err, ErrFileNotFound)
	assert.Equal(t, 0, blobs.count())
}

func TestDelete_LastRecordReclaimsObject(t *testing.T) {
	uc, _, blobs := newTestUseCase(t, 1<<20)
	ctx := context.Background()

	rec := upload(t, uc, "user-1", "a.txt", "only copy")

	require.NoError(t, uc.Delete(ctx, "user-1", rec.ID))

	assert.Equal(t, 0, blobs.count())
	assert.Equal(t, []string{rec.StorageKey}, blobs.removed)
}

func TestDelete_NotFoundAndUnauthorized(t *testing.T) {
	uc, _, _ := newTestUseCase(t, 1<<20)
	ctx := context.Background()

	err := uc.Delete(ctx, "user-1", "missing-id")
	assert.ErrorIs(t, err, ErrFileNotFound)

	rec := upload(t, uc, "user-1", "a.txt", "mine")
	err = uc.Delete(ctx, "user-2", rec.ID)
	assert.ErrorIs(t, err, ErrFileUnauthorized)
}

func TestDelete_ReferenceWithMissingOriginal(t *testing.T) {
	uc, repo, blobs := newTestUseCase(t, 1<<20)
	ctx := context.Background()

	orig := upload(t, uc, "user-1", "a.txt", "content")
	ref := upload(t, uc, "user-1", "b.txt", "content")

	// 数据异常：引用指向的原始记录行丢失
	repo.mu.Lock()
	delete(repo.records, orig.ID)
	repo.mu.Unlock()

	// 引用删除按无操作处理，不报错也不动对象
	require.NoError(t, uc.Delete(ctx, "user-1", ref.ID))

	assert.Equal(t, 1, blobs.count())
	assert.Empty(t, blobs.removed)
}

func TestStorageStats_Savings(t *testing.T) {
	content := bytes.Repeat([]byte("x"), 1000)
	uc, _, _ := newTestUseCase(t, 10000)
	ctx := context.Background()

	upload(t, uc, "user-1", "a.txt", string(content))
	upload(t, uc, "user-1", "b.txt", string(content))

	stats, err := uc.StorageStats(ctx, "user-1")
	require.NoError(t, err)

	// 物理占用一份，逻辑总量两份，节省 50%
	assert.Equal(t, int64(1000), stats.TotalUsed)
	assert.Equal(t, int64(2000), stats.OriginalUsed)
	assert.Equal(t, int64(1000), stats.Savings)
	assert.Equal(t, 50.0, stats.SavingsPercentage)
	assert.Equal(t, int64(10000), stats.Limit)
	assert.Equal(t, int64(9000), stats.Remaining)
	assert.Equal(t, 10.0, stats.UsagePercentage)
}

func TestStorageStats_NegativeRemaining(t *testing.T) {
	uc, repo, _ := newTestUseCase(t, 1<<20)
	ctx := context.Background()

	upload(t, uc, "user-1", "a.txt", strings.Repeat("x", 1000))

	// 部署配额被调低到已用量以下，剩余量为负
	lowered := NewQuotaLedger(repo, 400)
	stats, err := lowered.Stats(ctx, "user-1")
	require.NoError(t, err)

	assert.Equal(t, int64(1000), stats.TotalUsed)
	assert.Equal(t, int64(400), stats.Limit)
	assert.Equal(t, int64(-600), stats.Remaining)
}

func TestStorageStats_Empty(t *testing.T) {
	uc, _, _ := newTestUseCase(t, 10000)

	stats, err := uc.StorageStats(context.Background(), "user-1")
	require.NoError(t, err)

	assert.Equal(t, int64(0), stats.TotalUsed)
	assert.Equal(t, 0.0, stats.SavingsPercentage)
	assert.Equal(t, int64(10000), stats.Remaining)
}

func TestListFileTypes(t *testing.T) {
	uc, _, _ := newTestUseCase(t, 1<<20)
	ctx := context.Background()

	_, err := uc.Upload(ctx, "user-1", "a.pdf", "application/pdf", 3, strings.NewReader("pdf"))
	require.NoError(t, err)
	_, err = uc.Upload(ctx, "user-1", "b.txt", "text/plain", 3, strings.NewReader("txt"))
	require.NoError(t, err)
	_, err = uc.Upload(ctx, "user-1", "c.txt", "text/plain", 4, strings.NewReader("txt2"))
	require.NoError(t, err)

	types, err := uc.ListFileTypes(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"application/pdf", "text/plain"}, types)
}
