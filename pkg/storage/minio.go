// Package storage 提供了附件在对象存储（MinIO）中的上传与读取。
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"fin-chat-go/internal/config"
	"fin-chat-go/internal/model"
	"fin-chat-go/pkg/log"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

var (
	// ErrAttachmentNotFound 表示附件句柄不存在或不属于当前设备。
	ErrAttachmentNotFound = errors.New("attachment not found")
	// ErrAttachmentTooLarge 表示附件超过允许的大小。
	ErrAttachmentTooLarge = errors.New("attachment exceeds size limit")
	// ErrStorageDisabled 表示未配置对象存储。
	ErrStorageDisabled = errors.New("attachment storage is not configured")
)

const filenameMeta = "Filename"

// AttachmentStore 保存设备上传的附件，并在发送消息时按句柄取回。
type AttachmentStore interface {
	Put(ctx context.Context, deviceID, name, mimeType string, r io.Reader, size int64) (string, error)
	Fetch(ctx context.Context, deviceID, handle string, maxBytes int64) (*model.Attachment, error)
}

type minioStore struct {
	client *minio.Client
	bucket string
}

// InitMinIO 初始化 MinIO 客户端并确保存储桶存在。Endpoint 为空时返回禁用的存储。
func InitMinIO(cfg config.MinIOConfig) AttachmentStore {
	if cfg.Endpoint == "" {
		log.Warnf("未配置 MinIO，附件上传已禁用")
		return disabledStore{}
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		log.Fatal("初始化 MinIO 客户端失败", err)
	}
	log.Info("MinIO 客户端初始化成功")

	ctx := context.Background()
	exists, err := client.BucketExists(ctx, cfg.BucketName)
	if err != nil {
		log.Fatal("检查 MinIO 存储桶失败", err)
	}
	if !exists {
		log.Infof("存储桶 '%s' 不存在，正在创建...", cfg.BucketName)
		if err := client.MakeBucket(ctx, cfg.BucketName, minio.MakeBucketOptions{}); err != nil {
			log.Fatal("创建 MinIO 存储桶失败", err)
		}
	}
	return &minioStore{client: client, bucket: cfg.BucketName}
}

// Put 上传附件，返回形如 "<deviceID>/<uuid>" 的句柄。
func (s *minioStore) Put(ctx context.Context, deviceID, name, mimeType string, r io.Reader, size int64) (string, error) {
	handle := deviceID + "/" + uuid.NewString()
	_, err := s.client.PutObject(ctx, s.bucket, handle, r, size, minio.PutObjectOptions{
		ContentType:  mimeType,
		UserMetadata: map[string]string{filenameMeta: path.Base(name)},
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload attachment: %w", err)
	}
	log.Infof("附件上传成功: device=%s, handle=%s, size=%d", deviceID, handle, size)
	return handle, nil
}

// Fetch 先检查对象大小，再下载内容。
func (s *minioStore) Fetch(ctx context.Context, deviceID, handle string, maxBytes int64) (*model.Attachment, error) {
	if !OwnsHandle(deviceID, handle) {
		return nil, ErrAttachmentNotFound
	}

	info, err := s.client.StatObject(ctx, s.bucket, handle, minio.StatObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, ErrAttachmentNotFound
		}
		return nil, fmt.Errorf("failed to stat attachment: %w", err)
	}
	if maxBytes > 0 && info.Size > maxBytes {
		return nil, ErrAttachmentTooLarge
	}

	obj, err := s.client.GetObject(ctx, s.bucket, handle, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get attachment: %w", err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("failed to read attachment: %w", err)
	}

	return &model.Attachment{
		Name:      metaFilename(info.UserMetadata, handle),
		MIMEType:  info.ContentType,
		SizeBytes: info.Size,
		Data:      data,
	}, nil
}

// OwnsHandle 判断句柄是否属于该设备。
func OwnsHandle(deviceID, handle string) bool {
	return deviceID != "" && strings.HasPrefix(handle, deviceID+"/") && !strings.Contains(handle, "..")
}

// metaFilename 读取用户元数据中的文件名。MinIO 返回的键大小写不固定。
func metaFilename(meta map[string]string, handle string) string {
	for k, v := range meta {
		if strings.EqualFold(k, filenameMeta) || strings.EqualFold(k, "X-Amz-Meta-"+filenameMeta) {
			return v
		}
	}
	return path.Base(handle)
}

type disabledStore struct{}

func (disabledStore) Put(context.Context, string, string, string, io.Reader, int64) (string, error) {
	return "", ErrStorageDisabled
}

func (disabledStore) Fetch(context.Context, string, string, int64) (*model.Attachment, error) {
	return nil, ErrStorageDisabled
}
