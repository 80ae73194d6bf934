package refresher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
	"wisefido-queue-view/internal/models"

	"go.uber.org/zap"
)

var (
	// ErrRefreshInProgress 上一次拉取尚未结束，本次被跳过
	ErrRefreshInProgress = errors.New("queue refresh already in progress")
	// ErrNoView 尚未成功刷新过
	ErrNoView = errors.New("queue view not available yet")
)

// SnapshotSource 队列快照来源（上游 /api/patients）
type SnapshotSource interface {
	FetchSnapshot(ctx context.Context) (*models.QueueSnapshot, error)
}

// Sink 视图变化的订阅方（websocket、缓存、MQTT）
type Sink interface {
	Publish(ctx context.Context, view *models.QueueView) error
}

// KeepAliver 可选接口：视图未变化时也需要续期的 sink（如带 TTL 的缓存）
type KeepAliver interface {
	KeepAlive(ctx context.Context, view *models.QueueView) error
}

// sinkState 记录每个 sink 已成功送达的版本，落后的 sink 在下一次刷新时补发
type sinkState struct {
	sink      Sink
	delivered uint64
}

// Options 刷新参数
type Options struct {
	Interval time.Duration
	Timeout  time.Duration
}

// Status 刷新健康状态
type Status struct {
	Version             uint64    `json:"version"`
	PatientCount        int       `json:"patient_count"`
	Refreshes           uint64    `json:"refreshes"`
	Failures            uint64    `json:"failures"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	SkippedTicks        uint64    `json:"skipped_ticks"`
	LaggingSinks        int       `json:"lagging_sinks"`
	LastSuccessAt       time.Time `json:"last_success_at"`
	LastErrorAt         time.Time `json:"last_error_at"`
	LastError           string    `json:"last_error,omitempty"`
	Stale               bool      `json:"stale"`
}

// Refresher 队列视图刷新器
// 视图与计数只由 Refresh 写入；同一时刻最多一次拉取在途
type Refresher struct {
	source SnapshotSource
	sinks  []*sinkState
	opts   Options
	logger *zap.Logger

	inFlight atomic.Bool
	current  atomic.Pointer[models.QueueView]

	mu     sync.Mutex
	status Status
}

// New 创建刷新器
func New(source SnapshotSource, opts Options, logger *zap.Logger, sinks ...Sink) (*Refresher, error) {
	if source == nil {
		return nil, errors.New("refresher: snapshot source required")
	}
	if opts.Interval <= 0 {
		return nil, errors.New("refresher: interval must be > 0")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = opts.Interval
	}
	r := &Refresher{
		source: source,
		opts:   opts,
		logger: logger,
	}
	for _, s := range sinks {
		r.AddSink(s)
	}
	return r, nil
}

// AddSink 追加订阅方，必须在 Run 之前调用
func (r *Refresher) AddSink(s Sink) {
	r.sinks = append(r.sinks, &sinkState{sink: s})
}

// Current 当前已提交的视图，未刷新成功前为 nil
func (r *Refresher) Current() *models.QueueView {
	return r.current.Load()
}

// Seed 用缓存中的视图预热（仅在尚无视图时生效）
func (r *Refresher) Seed(view *models.QueueView) bool {
	if view == nil {
		return false
	}
	return r.current.CompareAndSwap(nil, view)
}

// Status 返回健康状态副本
func (r *Refresher) Status() Status {
	r.mu.Lock()
	st := r.status
	r.mu.Unlock()

	// 以视图自身的刷新时间判断，缓存预热的视图同样适用
	if v := r.current.Load(); v != nil {
		st.Version = v.Version
		st.PatientCount = v.PatientCount()
		st.Stale = time.Since(v.RefreshedAt) > 2*r.opts.Interval
	} else {
		st.Stale = true
	}
	return st
}

// Refresh 拉取快照并整体替换视图
// 拉取失败时旧视图保持不变；内容未变化时只补发落后的 sink 并为缓存续期
func (r *Refresher) Refresh(ctx context.Context) (*models.QueueView, error) {
	if !r.inFlight.CompareAndSwap(false, true) {
		return nil, ErrRefreshInProgress
	}
	defer r.inFlight.Store(false)

	fetchCtx, cancel := context.WithTimeout(ctx, r.opts.Timeout)
	snapshot, err := r.source.FetchSnapshot(fetchCtx)
	cancel()
	if err != nil {
		r.recordFailure(err)
		return nil, err
	}
	if snapshot == nil {
		err := errors.New("refresher: source returned nil snapshot")
		r.recordFailure(err)
		return nil, err
	}
	snapshot.Normalize()

	now := time.Now()
	fp := snapshot.Fingerprint()
	prev := r.current.Load()

	view := &models.QueueView{
		Snapshot:    *snapshot,
		Counts:      models.CountsFromSnapshot(snapshot),
		Fingerprint: fp,
		RefreshedAt: now,
		ChangedAt:   now,
		Version:     1,
	}
	if prev != nil {
		view.Version = prev.Version
		if prev.Fingerprint == fp {
			view.ChangedAt = prev.ChangedAt
		} else {
			view.Version++
		}
	}

	if derived := models.DeriveCounts(snapshot.Patients); derived != view.Counts {
		r.logger.Warn("Queue totals disagree with row priorities",
			zap.Int("total_waiting", view.Counts.Waiting),
			zap.Int("total_emergency", view.Counts.Emergency),
			zap.Int("derived_waiting", derived.Waiting),
			zap.Int("derived_emergency", derived.Emergency),
			zap.Int("patient_count", len(snapshot.Patients)),
		)
	}

	r.current.Store(view)
	r.recordSuccess(now)
	r.deliver(ctx, view)
	return view, nil
}

// deliver 调用方在 inFlight 保护下执行，sinkState 无需加锁
// sink 使用不随调用方取消的超时 context
func (r *Refresher) deliver(ctx context.Context, view *models.QueueView) {
	base := context.WithoutCancel(ctx)
	lagging := 0
	for _, s := range r.sinks {
		sinkCtx, cancel := context.WithTimeout(base, r.opts.Timeout)
		if s.delivered == view.Version {
			if ka, ok := s.sink.(KeepAliver); ok {
				if err := ka.KeepAlive(sinkCtx, view); err != nil {
					r.logger.Warn("Failed to keep queue view alive",
						zap.String("sink", fmt.Sprintf("%T", s.sink)),
						zap.Error(err),
					)
				}
			}
			cancel()
			continue
		}

		err := s.sink.Publish(sinkCtx, view)
		cancel()
		if err != nil {
			lagging++
			r.logger.Error("Failed to publish queue view, will retry on next refresh",
				zap.String("sink", fmt.Sprintf("%T", s.sink)),
				zap.Uint64("version", view.Version),
				zap.Uint64("delivered_version", s.delivered),
				zap.Error(err),
			)
			continue
		}
		s.delivered = view.Version
	}

	r.mu.Lock()
	r.status.LaggingSinks = lagging
	r.mu.Unlock()
}

func (r *Refresher) recordSuccess(at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status.Refreshes++
	r.status.ConsecutiveFailures = 0
	r.status.LastSuccessAt = at
}

func (r *Refresher) recordFailure(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status.Failures++
	r.status.ConsecutiveFailures++
	r.status.LastErrorAt = time.Now()
	r.status.LastError = err.Error()
}

func (r *Refresher) recordSkip() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status.SkippedTicks++
}
