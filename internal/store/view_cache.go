package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
	"wisefido-queue-view/internal/models"

	"go.uber.org/zap"
)

// ViewCache 队列视图缓存（多实例共享、重启预热）
// 实现 refresher.Sink
type ViewCache struct {
	kv     KV
	key    string
	ttl    time.Duration
	logger *zap.Logger
}

// NewViewCache 创建视图缓存
func NewViewCache(kv KV, key string, ttl time.Duration, logger *zap.Logger) *ViewCache {
	return &ViewCache{
		kv:     kv,
		key:    key,
		ttl:    ttl,
		logger: logger,
	}
}

// Publish 写入完整视图
func (c *ViewCache) Publish(ctx context.Context, v *models.QueueView) error {
	jsonData, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal queue view: %w", err)
	}

	if err := c.kv.Set(ctx, c.key, string(jsonData), c.ttl); err != nil {
		return fmt.Errorf("failed to set cache: %w", err)
	}

	c.logger.Debug("Updated queue view cache",
		zap.String("key", c.key),
		zap.Uint64("version", v.Version),
	)
	return nil
}

// KeepAlive 视图未变化时续期 TTL；key 已过期或被淘汰则整体重写
func (c *ViewCache) KeepAlive(ctx context.Context, v *models.QueueView) error {
	err := c.kv.Expire(ctx, c.key, c.ttl)
	if errors.Is(err, ErrCacheMiss) {
		c.logger.Debug("Queue view cache key gone, rewriting", zap.String("key", c.key))
		return c.Publish(ctx, v)
	}
	if err != nil {
		return fmt.Errorf("failed to extend cache ttl: %w", err)
	}
	return nil
}

// Load 读取缓存中的视图；不存在时返回 ErrCacheMiss
func (c *ViewCache) Load(ctx context.Context) (*models.QueueView, error) {
	raw, err := c.kv.Get(ctx, c.key)
	if err != nil {
		return nil, err
	}

	var v models.QueueView
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, fmt.Errorf("failed to decode cached queue view: %w", err)
	}
	v.Snapshot.Normalize()
	return &v, nil
}
