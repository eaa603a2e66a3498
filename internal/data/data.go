package data

import (
	"context"
	"fmt"

	"github.com/lk2023060901/filevault-backend/internal/conf"
	filedata "github.com/lk2023060901/filevault-backend/internal/file/data"
	"github.com/lk2023060901/filevault-backend/internal/pkg/database"
	"github.com/lk2023060901/filevault-backend/internal/pkg/logger"
	"github.com/lk2023060901/filevault-backend/internal/pkg/minio"
	"github.com/lk2023060901/filevault-backend/internal/pkg/redis"
	"go.uber.org/zap"
)

// Data holds the shared infrastructure clients
type Data struct {
	DB     *database.DB
	Redis  *redis.Client
	MinIO  *minio.Client
	Logger *logger.Logger
}

func NewData(config *conf.Config, log *logger.Logger) (*Data, func(), error) {
	// Initialize PostgreSQL
	db, err := initDB(config, log)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to init database: %w", err)
	}

	// Initialize Redis
	redisClient, err := initRedis(config, log)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to init redis: %w", err)
	}

	// Initialize MinIO
	minioClient, err := initMinIO(config, log)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to init minio: %w", err)
	}

	d := &Data{
		DB:     db,
		Redis:  redisClient,
		MinIO:  minioClient,
		Logger: log,
	}

	cleanup := func() {
		log.Info("cleaning up data resources")

		if err := db.Close(); err != nil {
			log.Warn("failed to close database", zap.Error(err))
		}

		if err := redisClient.Close(); err != nil {
			log.Warn("failed to close redis", zap.Error(err))
		}
	}

	return d, cleanup, nil
}

func initDB(config *conf.Config, log *logger.Logger) (*database.DB, error) {
	dbCfg := database.DefaultConfig()
	dbCfg.Host = config.Database.Host
	dbCfg.Port = config.Database.Port
	dbCfg.User = config.Database.User
	dbCfg.Password = config.Database.Password
	dbCfg.DBName = config.Database.DBName
	dbCfg.SSLMode = config.Database.SSLMode

	db, err := database.New(dbCfg, log)
	if err != nil {
		return nil, err
	}

	// Auto migrate
	if err := db.GetDB().AutoMigrate(&filedata.FilePO{}); err != nil {
		return nil, fmt.Errorf("failed to auto migrate: %w", err)
	}

	// 同一用户同一哈希只允许一条原始记录（引用行不受限）
	// gorm 不支持部分索引的标签声明，这里手动建
	err = db.GetDB().Exec(
		`CREATE UNIQUE INDEX IF NOT EXISTS uniq_files_user_hash_original
		 ON files (user_id, content_hash) WHERE NOT is_reference`,
	).Error
	if err != nil {
		return nil, fmt.Errorf("failed to create dedup index: %w", err)
	}

	log.Info("database initialized successfully")
	return db, nil
}

func initRedis(config *conf.Config, log *logger.Logger) (*redis.Client, error) {
	redisCfg := redis.DefaultConfig()
	redisCfg.Addr = fmt.Sprintf("%s:%d", config.Redis.Host, config.Redis.Port)
	redisCfg.Password = config.Redis.Password
	redisCfg.DB = config.Redis.DB

	return redis.New(redisCfg, log)
}

func initMinIO(config *conf.Config, log *logger.Logger) (*minio.Client, error) {
	minioCfg := &minio.Config{
		Endpoint:        config.MinIO.Endpoint,
		AccessKeyID:     config.MinIO.AccessKey,
		SecretAccessKey: config.MinIO.SecretKey,
		UseSSL:          config.MinIO.UseSSL,
	}

	minioClient, err := minio.NewClient(minioCfg, log.Logger)
	if err != nil {
		return nil, err
	}

	if err := minioClient.EnsureBucket(context.Background(), config.MinIO.Bucket); err != nil {
		return nil, err
	}

	return minioClient, nil
}
