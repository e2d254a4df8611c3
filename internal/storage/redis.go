package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"resume-match-go/internal/config"
	"resume-match-go/internal/constants"
	"resume-match-go/internal/types"

	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

// ErrNotFound 键不存在。包装 redis.Nil 以隔离底层依赖。
var ErrNotFound = redis.Nil

var redisTracer = otel.Tracer("resume-match-go/storage/redis")

// Redis 包装Redis客户端，承载摄取运行锁、跨运行MD5去重集合、
// 运行状态快照与JD标签缓存。
type Redis struct {
	Client *redis.Client
	config *config.RedisConfig
}

// NewRedisAdapter 创建Redis客户端连接
func NewRedisAdapter(cfg *config.RedisConfig) (*Redis, error) {
	if cfg == nil {
		return nil, fmt.Errorf("redis config cannot be nil")
	}
	if cfg.Address == "" {
		return nil, fmt.Errorf("redis address is required")
	}

	opt := &redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,

		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,

		DialTimeout:  time.Duration(cfg.DialTimeoutSeconds) * time.Second,
		ReadTimeout:  time.Duration(cfg.ReadTimeoutSeconds) * time.Second,
		WriteTimeout: time.Duration(cfg.WriteTimeoutSeconds) * time.Second,
	}

	client := redis.NewClient(opt)

	// OpenTelemetry钩子记录所有Redis命令
	if err := redisotel.InstrumentTracing(client); err != nil {
		return nil, fmt.Errorf("failed to instrument Redis with OpenTelemetry: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Address, err)
	}

	return &Redis{
		Client: client,
		config: cfg,
	}, nil
}

// Close 关闭Redis客户端连接
func (r *Redis) Close() error {
	if r.Client != nil {
		return r.Client.Close()
	}
	return nil
}

// Ping 检查Redis连接
func (r *Redis) Ping(ctx context.Context) error {
	if r.Client == nil {
		return fmt.Errorf("redis client is not initialized")
	}
	return r.Client.Ping(ctx).Err()
}

// AcquireLock 获取分布式锁。成功时返回持有者标识（释放时校验用），
// 锁已被其他持有者占用时返回空串且不报错。
func (r *Redis) AcquireLock(ctx context.Context, lockKey string, expiration time.Duration) (string, error) {
	if r.Client == nil {
		return "", fmt.Errorf("redis client is not initialized")
	}
	lockValue := fmt.Sprintf("%d", time.Now().UnixNano())
	ok, err := r.Client.SetNX(ctx, lockKey, lockValue, expiration).Result()
	if err != nil {
		return "", err
	}
	if ok {
		return lockValue, nil
	}
	return "", nil
}

// ReleaseLock 释放分布式锁，使用Lua脚本保证只有持有者能释放
func (r *Redis) ReleaseLock(ctx context.Context, lockKey string, lockValue string) (bool, error) {
	if r.Client == nil {
		return false, fmt.Errorf("redis client is not initialized")
	}
	script := `
        if redis.call("get", KEYS[1]) == ARGV[1] then
            return redis.call("del", KEYS[1])
        else
            return 0
        end
    `
	res, err := r.Client.Eval(ctx, script, []string{lockKey}, lockValue).Result()
	if err != nil {
		return false, err
	}

	if released, ok := res.(int64); ok && released == 1 {
		return true, nil
	}
	return false, nil
}

// ingestedMD5ExpireDuration 已摄取MD5记录的保留时长
func ingestedMD5ExpireDuration() time.Duration {
	return time.Duration(constants.IngestedMD5ExpireDays) * 24 * time.Hour
}

// CheckIngestedMD5 检查文档MD5是否已摄取过（跨运行去重）
func (r *Redis) CheckIngestedMD5(ctx context.Context, md5Hex string) (bool, error) {
	ctx, span := redisTracer.Start(ctx, "Redis.CheckIngestedMD5",
		trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(
		semconv.DBSystemRedis,
		attribute.String("db.operation", "SISMEMBER"),
		attribute.String("db.redis.key", constants.KeyIngestedMD5Set),
	)

	if r.Client == nil {
		err := fmt.Errorf("redis client is not initialized")
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return false, err
	}

	exists, err := r.Client.SIsMember(ctx, constants.KeyIngestedMD5Set, md5Hex).Result()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return false, fmt.Errorf("检查已摄取MD5失败: %w", err)
	}
	span.SetAttributes(attribute.Bool("already_exists", exists))
	return exists, nil
}

// AddIngestedMD5 把文档MD5记入已摄取集合并设置保底过期时间。
// 只在整篇文档入库并搬运成功之后调用：中途失败的文档不记MD5，
// 下次运行会重新处理（入库是幂等的，重放无副作用）。
func (r *Redis) AddIngestedMD5(ctx context.Context, md5Hex string) error {
	ctx, span := redisTracer.Start(ctx, "Redis.AddIngestedMD5",
		trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(
		semconv.DBSystemRedis,
		attribute.String("db.operation", "SADD"),
		attribute.String("db.redis.key", constants.KeyIngestedMD5Set),
	)

	if r.Client == nil {
		err := fmt.Errorf("redis client is not initialized")
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	pipe := r.Client.Pipeline()
	pipe.SAdd(ctx, constants.KeyIngestedMD5Set, md5Hex)
	pipe.ExpireNX(ctx, constants.KeyIngestedMD5Set, ingestedMD5ExpireDuration())
	if _, err := pipe.Exec(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("记录已摄取MD5失败: %w", err)
	}
	return nil
}

// SetRunStatus 写入摄取运行状态快照
func (r *Redis) SetRunStatus(ctx context.Context, status *types.RunStatus) error {
	if r.Client == nil {
		return fmt.Errorf("redis client is not initialized")
	}
	if status == nil || status.RunID == "" {
		return fmt.Errorf("运行状态缺少runID")
	}

	data, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("序列化运行状态失败: %w", err)
	}

	key := fmt.Sprintf(constants.KeyIngestRunStatus, status.RunID)
	if err := r.Client.Set(ctx, key, data, constants.RunStatusTTL).Err(); err != nil {
		return fmt.Errorf("写入运行状态 %s 失败: %w", status.RunID, err)
	}
	return nil
}

// GetRunStatus 读取摄取运行状态快照；不存在时返回 NotFound 类错误
func (r *Redis) GetRunStatus(ctx context.Context, runID string) (*types.RunStatus, error) {
	if r.Client == nil {
		return nil, fmt.Errorf("redis client is not initialized")
	}

	key := fmt.Sprintf(constants.KeyIngestRunStatus, runID)
	data, err := r.Client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, types.NewNotFoundError("redis.get_run_status", fmt.Sprintf("摄取运行 %s 不存在", runID))
		}
		return nil, fmt.Errorf("读取运行状态 %s 失败: %w", runID, err)
	}

	var status types.RunStatus
	if err := json.Unmarshal(data, &status); err != nil {
		return nil, fmt.Errorf("解析运行状态 %s 失败: %w", runID, err)
	}
	return &status, nil
}

// CacheJDTags 缓存一份JD文本（按MD5键）的标签抽取结果
func (r *Redis) CacheJDTags(ctx context.Context, jdMD5 string, tags *types.TagSet) error {
	ctx, span := redisTracer.Start(ctx, "Redis.CacheJDTags",
		trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(
		semconv.DBSystemRedis,
		attribute.String("db.operation", "SET"),
	)

	if r.Client == nil || tags == nil {
		return nil
	}

	data, err := json.Marshal(tags)
	if err != nil {
		return fmt.Errorf("序列化JD标签失败: %w", err)
	}

	key := fmt.Sprintf(constants.KeyJDTagsCache, jdMD5)
	if err := r.Client.Set(ctx, key, data, constants.JDTagsCacheTTL).Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("缓存JD标签失败: %w", err)
	}
	return nil
}

// GetCachedJDTags 读取JD标签缓存；未命中返回 (nil, nil)
func (r *Redis) GetCachedJDTags(ctx context.Context, jdMD5 string) (*types.TagSet, error) {
	if r.Client == nil {
		return nil, nil
	}

	key := fmt.Sprintf(constants.KeyJDTagsCache, jdMD5)
	data, err := r.Client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("读取JD标签缓存失败: %w", err)
	}

	var tags types.TagSet
	if err := json.Unmarshal(data, &tags); err != nil {
		// 缓存内容损坏按未命中处理，调用方重新抽取后覆盖
		return nil, nil
	}
	return &tags, nil
}
