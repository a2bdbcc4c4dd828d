// Package storage提供了与对象存储服务（如 MinIO）交互的功能。
package storage

import (
	"context"
	"io"
	"time"

	"github.com/darshan-sc/lab-assistant/internal/config"
	"github.com/darshan-sc/lab-assistant/pkg/log"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioClient 是一个全局的 MinIO 客户端实例。
var MinioClient *minio.Client

// InitMinIO 初始化 MinIO 客户端并确保指定的存储桶存在。
func InitMinIO(cfg config.MinIOConfig) {
	var err error

	// 1. 初始化 MinIO 客户端
	MinioClient, err = minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		log.Fatal("初始化 MinIO 客户端失败", err)
	}

	log.Info("MinIO 客户端初始化成功")

	// 2. 检查存储桶 (Bucket) 是否存在，如果不存在则创建
	ctx := context.Background()
	bucketName := cfg.BucketName
	exists, err := MinioClient.BucketExists(ctx, bucketName)
	if err != nil {
		log.Fatal("检查 MinIO 存储桶失败", err)
	}

	if !exists {
		log.Infof("存储桶 '%s' 不存在，正在创建...", bucketName)
		err = MinioClient.MakeBucket(ctx, bucketName, minio.MakeBucketOptions{})
		if err != nil {
			log.Fatal("创建 MinIO 存储桶失败", err)
		}
		log.Infof("存储桶 '%s' 创建成功", bucketName)
	} else {
		log.Infof("存储桶 '%s' 已存在", bucketName)
	}
}

// GetPresignedURL generates a presigned URL for a given object.
func GetPresignedURL(bucketName, objectName string, expiry time.Duration) (string, error) {
	presignedURL, err := MinioClient.PresignedGetObject(context.Background(), bucketName, objectName, expiry, nil)
	if err != nil {
		log.Errorf("Error generating presigned URL: %s", err)
		return "", err
	}
	return presignedURL.String(), nil
}

// UploadObject 将一个对象上传到配置的存储桶。
func UploadObject(ctx context.Context, objectKey string, reader io.Reader, size int64, contentType string) error {
	_, err := MinioClient.PutObject(ctx, config.Conf.MinIO.BucketName, objectKey, reader, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		log.Errorf("上传对象 '%s' 到 MinIO 失败: %v", objectKey, err)
	}
	return err
}

// DownloadObject 从存储桶读取一个对象。调用方负责关闭返回的 reader。
func DownloadObject(ctx context.Context, objectKey string) (io.ReadCloser, error) {
	obj, err := MinioClient.GetObject(ctx, config.Conf.MinIO.BucketName, objectKey, minio.GetObjectOptions{})
	if err != nil {
		log.Errorf("从 MinIO 读取对象 '%s' 失败: %v", objectKey, err)
		return nil, err
	}
	return obj, nil
}

// DeleteObject 删除存储桶中的一个对象。
func DeleteObject(ctx context.Context, objectKey string) error {
	err := MinioClient.RemoveObject(ctx, config.Conf.MinIO.BucketName, objectKey, minio.RemoveObjectOptions{})
	if err != nil {
		log.Errorf("删除 MinIO 对象 '%s' 失败: %v", objectKey, err)
	}
	return err
}
