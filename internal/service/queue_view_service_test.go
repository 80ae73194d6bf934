package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
	"wisefido-queue-view/internal/config"
	"wisefido-queue-view/internal/models"
	"wisefido-queue-view/internal/store"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubSource struct {
	snap *models.QueueSnapshot
}

func (s *stubSource) FetchSnapshot(ctx context.Context) (*models.QueueSnapshot, error) {
	cp := *s.snap
	cp.Patients = append([]models.PatientRow(nil), s.snap.Patients...)
	return &cp, nil
}

type memKV struct {
	mu      sync.Mutex
	data    map[string]string
	sets    int
	expires int
}

func (m *memKV) Get(ctx context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return "", store.ErrCacheMiss
	}
	return v, nil
}

func (m *memKV) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	m.sets++
	return nil
}

func (m *memKV) Expire(ctx context.Context, key string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[key]; !ok {
		return store.ErrCacheMiss
	}
	m.expires++
	return nil
}

type capturePublisher struct {
	mu       sync.Mutex
	payloads [][]byte
}

func (c *capturePublisher) Publish(topic string, qos byte, retained bool, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.payloads = append(c.payloads, payload)
	return nil
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.HTTP.Addr = "127.0.0.1:0"
	cfg.Source.BaseURL = "http://upstream.test"
	cfg.Source.Path = "/api/patients"
	cfg.Source.TimeoutMs = 500
	cfg.Refresh.Interval = 5
	cfg.Cache.Key = "queue-view:snapshot:full"
	cfg.Cache.TTL = 60
	cfg.MQTT.Topic = "queue-view/counts"
	return cfg
}

func TestService_RefreshFansOutToSinks(t *testing.T) {
	kv := &memKV{data: map[string]string{}}
	pub := &capturePublisher{}
	logger := zap.NewNop()
	cfg := testConfig()

	svc, err := NewQueueViewServiceWithDeps(cfg, logger, Dependencies{
		Source: &stubSource{snap: &models.QueueSnapshot{
			Patients:       []models.PatientRow{{ID: "1", Priority: models.PriorityHigh}},
			TotalEmergency: 1,
		}},
		Cache:  store.NewViewCache(kv, cfg.Cache.Key, cfg.CacheTTL(), logger),
		Counts: pub,
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/queue/refresh", nil)
	w := httptest.NewRecorder()
	svc.Handler().ServeHTTP(w, req)
	require.Contains(t, w.Body.String(), `"code":2000`)

	raw, err := kv.Get(context.Background(), cfg.Cache.Key)
	require.NoError(t, err)
	var cached models.QueueView
	require.NoError(t, json.Unmarshal([]byte(raw), &cached))
	require.Equal(t, 1, cached.Counts.Emergency)

	require.Len(t, pub.payloads, 1)
	require.Contains(t, string(pub.payloads[0]), `"total_emergency":1`)

	page := httptest.NewRecorder()
	svc.Handler().ServeHTTP(page, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Contains(t, page.Body.String(), `<span id="emergencyCount">1</span>`)
}

func TestService_WarmStartFromCache(t *testing.T) {
	kv := &memKV{data: map[string]string{}}
	logger := zap.NewNop()
	cfg := testConfig()
	cache := store.NewViewCache(kv, cfg.Cache.Key, cfg.CacheTTL(), logger)

	require.NoError(t, cache.Publish(context.Background(), &models.QueueView{
		Snapshot: models.QueueSnapshot{Patients: []models.PatientRow{{ID: "9", PatientID: "T-9", Priority: models.PriorityLow}}, TotalWaiting: 1},
		Counts:   models.QueueCounts{Waiting: 1},
		Version:  4,
	}))

	svc, err := NewQueueViewServiceWithDeps(cfg, logger, Dependencies{
		Source: &stubSource{snap: &models.QueueSnapshot{}},
		Cache:  cache,
	})
	require.NoError(t, err)

	svc.warmStart(context.Background())
	require.NotNil(t, svc.Refresher().Current())
	require.Equal(t, uint64(4), svc.Refresher().Current().Version)

	w := httptest.NewRecorder()
	svc.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/queue/rows", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.True(t, strings.Contains(w.Body.String(), "T-9"))
}

func TestService_StopWithoutStart(t *testing.T) {
	svc, err := NewQueueViewServiceWithDeps(testConfig(), zap.NewNop(), Dependencies{
		Source: &stubSource{snap: &models.QueueSnapshot{}},
	})
	require.NoError(t, err)
	require.NoError(t, svc.Stop(context.Background()))
}

func TestService_UnchangedQueueKeepsCacheAlive(t *testing.T) {
	kv := &memKV{data: map[string]string{}}
	logger := zap.NewNop()
	cfg := testConfig()

	svc, err := NewQueueViewServiceWithDeps(cfg, logger, Dependencies{
		Source: &stubSource{snap: &models.QueueSnapshot{
			Patients:     []models.PatientRow{{ID: "1", Priority: models.PriorityLow}},
			TotalWaiting: 1,
		}},
		Cache: store.NewViewCache(kv, cfg.Cache.Key, cfg.CacheTTL(), logger),
	})
	require.NoError(t, err)

	for i := 0; i < 20; i++ {
		w := httptest.NewRecorder()
		svc.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/queue/refresh", nil))
		require.Contains(t, w.Body.String(), `"code":2000`)
	}

	require.Equal(t, 1, kv.sets)
	require.Equal(t, 19, kv.expires)
	require.Equal(t, uint64(1), svc.Refresher().Current().Version)
}
