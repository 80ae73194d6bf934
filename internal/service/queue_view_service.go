package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"wisefido-queue-view/internal/client"
	"wisefido-queue-view/internal/config"
	httpapi "wisefido-queue-view/internal/http"
	"wisefido-queue-view/internal/mqtt"
	"wisefido-queue-view/internal/refresher"
	"wisefido-queue-view/internal/store"
	"wisefido-queue-view/internal/view"

	"go.uber.org/zap"
)

// QueueViewService 队列视图服务
type QueueViewService struct {
	config    *config.Config
	logger    *zap.Logger
	refresher *refresher.Refresher
	hub       *httpapi.Hub
	router    *httpapi.Router
	server    *Server

	cache      *store.ViewCache
	redisKV    *store.RedisKV
	mqttClient *mqtt.Client
}

// Dependencies 外部依赖，便于测试替换
type Dependencies struct {
	Source     refresher.SnapshotSource
	Cache      *store.ViewCache
	RedisKV    *store.RedisKV
	MQTTClient *mqtt.Client
	Counts     mqtt.Publisher
}

// NewQueueViewService 创建服务并连接 Redis / MQTT（按配置启用）
func NewQueueViewService(cfg *config.Config, logger *zap.Logger) (*QueueViewService, error) {
	deps := Dependencies{
		Source: client.NewQueueClient(client.Options{
			BaseURL: cfg.Source.BaseURL,
			Path:    cfg.Source.Path,
			Timeout: cfg.FetchTimeout(),
			Retries: cfg.Source.Retries,
		}, logger),
	}

	// 初始化 Redis（视图缓存）
	if cfg.Cache.Enabled {
		redisClient := store.NewRedisClient(&cfg.Redis)
		if err := store.Ping(context.Background(), redisClient); err != nil {
			_ = redisClient.Close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		deps.RedisKV = store.NewRedisKV(redisClient)
		deps.Cache = store.NewViewCache(deps.RedisKV, cfg.Cache.Key, cfg.CacheTTL(), logger)
	}

	// 初始化 MQTT（计数广播）
	if cfg.MQTT.Enabled {
		c, err := mqtt.NewClient(&cfg.MQTT, logger)
		if err != nil {
			if deps.RedisKV != nil {
				_ = deps.RedisKV.Close()
			}
			return nil, err
		}
		deps.MQTTClient = c
		deps.Counts = c
	}

	return NewQueueViewServiceWithDeps(cfg, logger, deps)
}

// NewQueueViewServiceWithDeps 使用给定依赖组装服务
func NewQueueViewServiceWithDeps(cfg *config.Config, logger *zap.Logger, deps Dependencies) (*QueueViewService, error) {
	renderer, err := view.NewRenderer(cfg.ActionBaseURL)
	if err != nil {
		return nil, err
	}

	ref, err := refresher.New(deps.Source, refresher.Options{
		Interval: cfg.PollInterval(),
		Timeout:  cfg.FetchTimeout(),
	}, logger)
	if err != nil {
		return nil, err
	}

	hub := httpapi.NewHub(ref.Current, renderer, logger)
	ref.AddSink(hub)
	if deps.Cache != nil {
		ref.AddSink(deps.Cache)
	}
	if deps.Counts != nil {
		ref.AddSink(mqtt.NewCountsSink(deps.Counts, cfg.MQTT.Topic, cfg.MQTT.QoS))
	}

	router := httpapi.NewRouter(logger)
	router.RegisterQueueRoutes(httpapi.NewQueueHandler(ref, renderer, logger))
	router.RegisterHubRoutes(hub)
	var checks []httpapi.HealthCheck
	if deps.MQTTClient != nil {
		checks = append(checks, httpapi.HealthCheck{Name: "mqtt", Check: deps.MQTTClient.IsConnected})
	}
	router.RegisterHealthRoutes(checks...)

	return &QueueViewService{
		config:     cfg,
		logger:     logger,
		refresher:  ref,
		hub:        hub,
		router:     router,
		server:     NewServer(cfg.HTTP.Addr, router, logger),
		cache:      deps.Cache,
		redisKV:    deps.RedisKV,
		mqttClient: deps.MQTTClient,
	}, nil
}

// Handler HTTP 入口（测试使用）
func (s *QueueViewService) Handler() http.Handler {
	return s.router
}

// Refresher 刷新器
func (s *QueueViewService) Refresher() *refresher.Refresher {
	return s.refresher
}

// Start 启动服务：缓存预热、启动刷新、启动 HTTP（阻塞）
func (s *QueueViewService) Start(ctx context.Context) error {
	s.logger.Info("Starting queue view service",
		zap.String("source", s.config.Source.BaseURL+s.config.Source.Path),
		zap.Duration("interval", s.config.PollInterval()),
		zap.Bool("cache_enabled", s.cache != nil),
		zap.Bool("mqtt_enabled", s.mqttClient != nil),
	)

	s.warmStart(ctx)

	go s.refresher.Run(ctx)

	return s.server.Start()
}

// warmStart 从缓存恢复上一份视图，首次拉取完成前页面不为空
func (s *QueueViewService) warmStart(ctx context.Context) {
	if s.cache == nil {
		return
	}
	v, err := s.cache.Load(ctx)
	if err != nil {
		if !errors.Is(err, store.ErrCacheMiss) {
			s.logger.Warn("Failed to load cached queue view", zap.Error(err))
		}
		return
	}
	if s.refresher.Seed(v) {
		s.logger.Info("Seeded queue view from cache",
			zap.Uint64("version", v.Version),
			zap.Int("patient_count", v.PatientCount()),
		)
	}
}

// Stop 停止服务
func (s *QueueViewService) Stop(ctx context.Context) error {
	s.logger.Info("Stopping queue view service")

	var firstErr error
	if err := s.server.Stop(ctx); err != nil {
		s.logger.Error("Error stopping HTTP server", zap.Error(err))
		firstErr = err
	}

	s.hub.Close()

	if s.mqttClient != nil {
		s.mqttClient.Disconnect()
	}

	if s.redisKV != nil {
		if err := s.redisKV.Close(); err != nil {
			s.logger.Error("Error closing redis connection", zap.Error(err))
		}
	}

	s.logger.Info("Queue view service stopped")
	return firstErr
}
