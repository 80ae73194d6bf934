package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
	"wisefido-queue-view/internal/models"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// ErrUpstreamStatus 上游返回非 2xx
var ErrUpstreamStatus = errors.New("upstream returned non-success status")

// Options QueueClient 参数
type Options struct {
	BaseURL string
	Path    string
	Timeout time.Duration
	Retries int
}

// QueueClient 上游队列接口客户端（GET /api/patients）
type QueueClient struct {
	httpClient *resty.Client
	path       string
	logger     *zap.Logger
}

// NewQueueClient 创建队列客户端
func NewQueueClient(opts Options, logger *zap.Logger) *QueueClient {
	client := resty.New().
		SetBaseURL(opts.BaseURL).
		SetTimeout(opts.Timeout).
		SetRetryCount(opts.Retries).
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(1 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return r != nil && r.StatusCode() >= 500
		}).
		SetHeader("Accept", "application/json")

	path := opts.Path
	if path == "" {
		path = "/api/patients"
	}

	return &QueueClient{
		httpClient: client,
		path:       path,
		logger:     logger,
	}
}

// FetchSnapshot 拉取一次完整队列快照
// 任何网络、状态码、解析失败都返回 error，调用方保持旧视图不变
func (c *QueueClient) FetchSnapshot(ctx context.Context) (*models.QueueSnapshot, error) {
	start := time.Now()

	resp, err := c.httpClient.R().
		SetContext(ctx).
		Get(c.path)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch queue snapshot: %w", err)
	}

	if resp.IsError() {
		return nil, fmt.Errorf("%w: %d %s", ErrUpstreamStatus, resp.StatusCode(), resp.Status())
	}

	var snapshot models.QueueSnapshot
	if err := json.Unmarshal(resp.Body(), &snapshot); err != nil {
		return nil, fmt.Errorf("failed to decode queue snapshot: %w", err)
	}
	snapshot.Normalize()

	c.logger.Debug("Fetched queue snapshot",
		zap.Int("patient_count", len(snapshot.Patients)),
		zap.Int("total_waiting", snapshot.TotalWaiting),
		zap.Int("total_emergency", snapshot.TotalEmergency),
		zap.Duration("elapsed", time.Since(start)),
	)

	return &snapshot, nil
}
