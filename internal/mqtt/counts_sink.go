package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
	"wisefido-queue-view/internal/models"
)

// Publisher 发布接口（*Client 实现；测试中替换）
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
}

// CountsMessage 广播到 MQTT 的队列计数（供病区大屏等订阅）
type CountsMessage struct {
	TotalWaiting   int       `json:"total_waiting"`
	TotalEmergency int       `json:"total_emergency"`
	PatientCount   int       `json:"patient_count"`
	Version        uint64    `json:"version"`
	RefreshedAt    time.Time `json:"refreshed_at"`
}

// CountsSink 视图变化时发布计数（retained，新订阅者立即拿到最新值）
type CountsSink struct {
	pub   Publisher
	topic string
	qos   byte
}

// NewCountsSink 创建计数发布器
func NewCountsSink(pub Publisher, topic string, qos byte) *CountsSink {
	return &CountsSink{pub: pub, topic: topic, qos: qos}
}

// Publish 实现 refresher.Sink
func (s *CountsSink) Publish(ctx context.Context, v *models.QueueView) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := json.Marshal(CountsMessage{
		TotalWaiting:   v.Counts.Waiting,
		TotalEmergency: v.Counts.Emergency,
		PatientCount:   v.PatientCount(),
		Version:        v.Version,
		RefreshedAt:    v.RefreshedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal counts message: %w", err)
	}
	return s.pub.Publish(s.topic, s.qos, true, payload)
}
