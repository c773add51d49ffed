// Package storage提供了与对象存储服务（如 MinIO）交互的功能。
package storage

import (
	"context"
	"fmt"
	"io"
	"time"

	"synapse-go/internal/config"
	"synapse-go/pkg/log"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ObjectStore 封装单个存储桶内的对象读写，用于保存上传的原始 PDF。
type ObjectStore struct {
	client        *minio.Client
	bucket        string
	presignExpiry time.Duration
}

// NewObjectStore 初始化 MinIO 客户端并确保指定的存储桶存在。
func NewObjectStore(ctx context.Context, cfg config.MinIOConfig) (*ObjectStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("初始化 MinIO 客户端失败: %w", err)
	}
	log.Info("MinIO 客户端初始化成功")

	exists, err := client.BucketExists(ctx, cfg.BucketName)
	if err != nil {
		return nil, fmt.Errorf("检查 MinIO 存储桶失败: %w", err)
	}
	if !exists {
		log.Infof("存储桶 '%s' 不存在，正在创建...", cfg.BucketName)
		if err := client.MakeBucket(ctx, cfg.BucketName, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("创建 MinIO 存储桶失败: %w", err)
		}
		log.Infof("存储桶 '%s' 创建成功", cfg.BucketName)
	}

	expiry := time.Duration(cfg.PresignExpiryMinutes) * time.Minute
	if expiry <= 0 {
		expiry = 15 * time.Minute
	}
	return &ObjectStore{client: client, bucket: cfg.BucketName, presignExpiry: expiry}, nil
}

// Put 上传对象，size 未知时传 -1。
func (s *ObjectStore) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	_, err := s.client.PutObject(ctx, s.bucket, key, r, size, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("上传对象 '%s' 失败: %w", key, err)
	}
	return nil
}

// Get 返回对象内容，调用方负责关闭。
func (s *ObjectStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("读取对象 '%s' 失败: %w", key, err)
	}
	// GetObject 是惰性的，Stat 一次以便尽早发现对象不存在
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		return nil, fmt.Errorf("读取对象 '%s' 失败: %w", key, err)
	}
	return obj, nil
}

// Remove 删除对象，对象不存在时不报错。
func (s *ObjectStore) Remove(ctx context.Context, key string) error {
	if key == "" {
		return nil
	}
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil
		}
		return fmt.Errorf("删除对象 '%s' 失败: %w", key, err)
	}
	return nil
}

// PresignedURL generates a presigned URL for a given object.
func (s *ObjectStore) PresignedURL(ctx context.Context, key string) (string, error) {
	u, err := s.client.PresignedGetObject(ctx, s.bucket, key, s.presignExpiry, nil)
	if err != nil {
		log.Errorf("Error generating presigned URL: %s", err)
		return "", err
	}
	return u.String(), nil
}
