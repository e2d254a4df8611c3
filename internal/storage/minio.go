package storage

import (
	"context"
	"fmt"
	"io"
	"log"
	"path/filepath"
	"sort"
	"strings"

	"resume-match-go/internal/config"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var minioTracer = otel.Tracer("resume-match-go/storage/minio")

// ObjectSummary 列举结果中的单个对象
type ObjectSummary struct {
	Key  string
	Size int64
}

// ObjectStorage 对象存储接口。简历原件放在收件桶(source bucket)，
// 摄取成功后搬运到已处理桶(processed bucket)，两个桶共同构成
// "哪些文件已经进过流水线"的事实来源。
type ObjectStorage interface {
	// ListPage 按字典序列举收件桶中 prefix 下的一页对象。
	// startAfter 为上一页最后一个对象键（空串表示从头开始），
	// 返回的对象数不超过 maxKeys；返回空切片表示遍历完成。
	ListPage(ctx context.Context, prefix, startAfter string, maxKeys int) ([]ObjectSummary, error)

	// Download 下载收件桶中的对象内容
	Download(ctx context.Context, objectKey string) ([]byte, error)

	// Upload 上传对象到收件桶，返回对象键
	Upload(ctx context.Context, objectKey string, reader io.Reader, fileSize int64) (string, error)

	// MoveToProcessed 把对象从收件桶搬运到已处理桶（复制后删除源对象）
	MoveToProcessed(ctx context.Context, objectKey string) error

	// Exists 检查对象是否存在（先查已处理桶，再查收件桶）
	Exists(ctx context.Context, objectKey string) (bool, error)
}

var _ ObjectStorage = (*MinIO)(nil)

// MinIO 提供对象存储功能
type MinIO struct {
	client          *minio.Client
	cfg             *config.MinIOConfig
	sourceBucket    string
	processedBucket string
	logger          *log.Logger
}

// NewMinIO 创建MinIO客户端并确保两个存储桶存在
func NewMinIO(cfg *config.MinIOConfig, logger *log.Logger) (*MinIO, error) {
	if cfg == nil {
		return nil, fmt.Errorf("MinIO配置不能为空")
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	logger.Printf("[MinIO] Initializing client: endpoint=%s, sourceBucket=%s, processedBucket=%s",
		cfg.Endpoint, cfg.SourceBucket, cfg.ProcessedBucket)

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		logger.Printf("[MinIO] Initialization failed: %v", err)
		return nil, fmt.Errorf("创建MinIO客户端失败: %w", err)
	}

	m := &MinIO{
		client:          client,
		cfg:             cfg,
		sourceBucket:    cfg.SourceBucket,
		processedBucket: cfg.ProcessedBucket,
		logger:          logger,
	}

	if err := m.ensureBucketExists(m.sourceBucket, cfg.Location); err != nil {
		return nil, fmt.Errorf("确保收件存储桶 %s 存在失败: %w", m.sourceBucket, err)
	}
	if err := m.ensureBucketExists(m.processedBucket, cfg.Location); err != nil {
		return nil, fmt.Errorf("确保已处理存储桶 %s 存在失败: %w", m.processedBucket, err)
	}

	logger.Printf("[MinIO] Client initialized successfully for endpoint: %s", cfg.Endpoint)
	return m, nil
}

// ensureBucketExists 确保存储桶存在，不存在则创建
func (m *MinIO) ensureBucketExists(bucketName, location string) error {
	exists, err := m.client.BucketExists(context.Background(), bucketName)
	if err != nil {
		return fmt.Errorf("检查存储桶 %s 是否存在时出错: %w", bucketName, err)
	}
	if !exists {
		m.logger.Printf("[MinIO] Bucket %s does not exist, creating...", bucketName)
		if err := m.client.MakeBucket(context.Background(), bucketName, minio.MakeBucketOptions{Region: location}); err != nil {
			return fmt.Errorf("创建存储桶 %s 失败: %w", bucketName, err)
		}
	}
	return nil
}

// ListPage 按字典序列举收件桶中的一页对象。
// MinIO的列举结果本身按键字典序返回，这里在截断前再排序一次，
// 保证分页游标(startAfter=上一页最后一个键)在任何S3兼容实现上都成立。
func (m *MinIO) ListPage(ctx context.Context, prefix, startAfter string, maxKeys int) ([]ObjectSummary, error) {
	ctx, span := minioTracer.Start(ctx, "minio.ListPage")
	defer span.End()
	span.SetAttributes(
		attribute.String("minio.bucket", m.sourceBucket),
		attribute.String("minio.prefix", prefix),
	)

	if maxKeys <= 0 {
		maxKeys = 50
	}

	// 提前终止channel消费时必须取消上下文，否则列举goroutine泄漏
	listCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	objectCh := m.client.ListObjects(listCtx, m.sourceBucket, minio.ListObjectsOptions{
		Prefix:     prefix,
		Recursive:  true,
		StartAfter: startAfter,
		MaxKeys:    maxKeys,
	})

	page := make([]ObjectSummary, 0, maxKeys)
	for object := range objectCh {
		if object.Err != nil {
			return nil, fmt.Errorf("列举存储桶 %s 对象失败: %w", m.sourceBucket, object.Err)
		}
		// 目录占位对象不参与处理
		if strings.HasSuffix(object.Key, "/") {
			continue
		}
		page = append(page, ObjectSummary{Key: object.Key, Size: object.Size})
		if len(page) >= maxKeys {
			break
		}
	}

	sort.Slice(page, func(i, j int) bool { return page[i].Key < page[j].Key })
	span.SetAttributes(attribute.Int("minio.page_size", len(page)))
	return page, nil
}

// Download 下载收件桶中的对象内容
func (m *MinIO) Download(ctx context.Context, objectKey string) ([]byte, error) {
	ctx, span := minioTracer.Start(ctx, "minio.Download")
	defer span.End()
	span.SetAttributes(attribute.String("minio.object_key", objectKey))

	obj, err := m.client.GetObject(ctx, m.sourceBucket, objectKey, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("获取对象 %s/%s 失败: %w", m.sourceBucket, objectKey, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("读取对象 %s/%s 数据失败: %w", m.sourceBucket, objectKey, err)
	}

	if m.cfg.EnableTestLogging && m.logger.Writer() != io.Discard {
		m.logger.Printf("[MinIO-Download] Downloaded %d bytes from %s/%s", len(data), m.sourceBucket, objectKey)
	}
	span.SetAttributes(attribute.Int("minio.object_size", len(data)))
	return data, nil
}

// Upload 上传对象到收件桶，内容类型按扩展名推断
func (m *MinIO) Upload(ctx context.Context, objectKey string, reader io.Reader, fileSize int64) (string, error) {
	ctx, span := minioTracer.Start(ctx, "minio.Upload")
	defer span.End()
	span.SetAttributes(attribute.String("minio.object_key", objectKey))

	contentType := getContentType(filepath.Ext(objectKey))
	info, err := m.client.PutObject(ctx, m.sourceBucket, objectKey, reader, fileSize,
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return "", fmt.Errorf("上传对象 %s/%s 失败: %w", m.sourceBucket, objectKey, err)
	}

	if m.cfg.EnableTestLogging && m.logger.Writer() != io.Discard {
		m.logger.Printf("[MinIO-Upload] Uploaded %s, ETag: %s, Size: %d", objectKey, info.ETag, info.Size)
	}
	return objectKey, nil
}

// MoveToProcessed 把对象从收件桶搬运到已处理桶。
// 复制与删除不是原子的：复制成功后删除失败时对象短暂存在于两个桶，
// 下一次运行靠MD5去重跳过重复摄取。
func (m *MinIO) MoveToProcessed(ctx context.Context, objectKey string) error {
	ctx, span := minioTracer.Start(ctx, "minio.MoveToProcessed")
	defer span.End()
	span.SetAttributes(attribute.String("minio.object_key", objectKey))

	src := minio.CopySrcOptions{Bucket: m.sourceBucket, Object: objectKey}
	dst := minio.CopyDestOptions{Bucket: m.processedBucket, Object: objectKey}
	if _, err := m.client.CopyObject(ctx, dst, src); err != nil {
		return fmt.Errorf("复制对象 %s 到存储桶 %s 失败: %w", objectKey, m.processedBucket, err)
	}

	if err := m.client.RemoveObject(ctx, m.sourceBucket, objectKey, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("删除源对象 %s/%s 失败: %w", m.sourceBucket, objectKey, err)
	}

	m.logger.Printf("[MinIO] Moved %s from %s to %s", objectKey, m.sourceBucket, m.processedBucket)
	return nil
}

// Exists 检查对象是否存在。摄取成功的文件位于已处理桶；搬运
// 失败但已入库的文件可能还留在收件桶，因此两个桶都要查。
func (m *MinIO) Exists(ctx context.Context, objectKey string) (bool, error) {
	ctx, span := minioTracer.Start(ctx, "minio.Exists")
	defer span.End()
	span.SetAttributes(attribute.String("minio.object_key", objectKey))

	for _, bucket := range []string{m.processedBucket, m.sourceBucket} {
		_, err := m.client.StatObject(ctx, bucket, objectKey, minio.StatObjectOptions{})
		if err == nil {
			return true, nil
		}
		resp := minio.ToErrorResponse(err)
		if resp.Code == "NoSuchKey" || resp.Code == "NoSuchBucket" {
			continue
		}
		return false, fmt.Errorf("检查对象 %s/%s 状态失败: %w", bucket, objectKey, err)
	}
	return false, nil
}

// StatObject 暴露底层的StatObject方法，用于测试或特定场景
func (m *MinIO) StatObject(ctx context.Context, bucketName, objectName string, opts minio.StatObjectOptions) (minio.ObjectInfo, error) {
	return m.client.StatObject(ctx, bucketName, objectName, opts)
}

// RemoveObject 暴露底层的RemoveObject方法，用于测试或特定场景
func (m *MinIO) RemoveObject(ctx context.Context, bucketName, objectName string, opts minio.RemoveObjectOptions) error {
	return m.client.RemoveObject(ctx, bucketName, objectName, opts)
}

// 获取内容类型
func getContentType(ext string) string {
	ext = strings.ToLower(ext)
	switch ext {
	case ".pdf":
		return "application/pdf"
	case ".doc":
		return "application/msword"
	case ".docx":
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	case ".txt":
		return "text/plain"
	case ".html", ".htm":
		return "text/html"
	default:
		return "application/octet-stream"
	}
}
