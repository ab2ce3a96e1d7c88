package audit

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	xerrors "AgneticGOD/internal/errors"
)

// RedisConfig 描述 Redis 审计列表的连接参数。
type RedisConfig struct {
	Address  string
	Password string
	DB       int
	Key      string
	// MaxLen 限制列表长度，0 表示不裁剪。
	MaxLen int64
}

// RedisPublisher 将事件以 JSON 形式 LPUSH 到 Redis 列表。
type RedisPublisher struct {
	client *redis.Client
	key    string
	maxLen int64
}

// NewRedisPublisher 创建 Redis 发布器并检查连通性。
func NewRedisPublisher(ctx context.Context, cfg RedisConfig) (*RedisPublisher, error) {
	if cfg.Address == "" {
		return nil, errors.New("Redis address 不能为空")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("连接 Redis 失败: %w", err)
	}
	return NewRedisPublisherFromClient(client, cfg.Key, cfg.MaxLen), nil
}

// NewRedisPublisherFromClient 使用已有客户端创建发布器。
func NewRedisPublisherFromClient(client *redis.Client, key string, maxLen int64) *RedisPublisher {
	if key == "" {
		key = "agnetic:audit"
	}
	return &RedisPublisher{client: client, key: key, maxLen: maxLen}
}

// Publish 将事件写入列表头部。
func (p *RedisPublisher) Publish(ctx context.Context, event Event) error {
	data, err := event.encode()
	if err != nil {
		return err
	}
	pipe := p.client.TxPipeline()
	pipe.LPush(ctx, p.key, data)
	if p.maxLen > 0 {
		pipe.LTrim(ctx, p.key, 0, p.maxLen-1)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return xerrors.Wrap(xerrors.CodeQueueFailure, err, "Redis 发布审计事件失败")
	}
	return nil
}

// Close 关闭 Redis 连接。
func (p *RedisPublisher) Close() error {
	if p == nil || p.client == nil {
		return nil
	}
	return p.client.Close()
}
