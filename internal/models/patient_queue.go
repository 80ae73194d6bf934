package models

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
)

// Priority 患者紧急程度（LOW / MEDIUM / HIGH）
type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityMedium Priority = "MEDIUM"
	PriorityHigh   Priority = "HIGH"
)

// ParsePriority 解析上游给出的 priority 文本
// 未知值原样保留（ok=false），分类时按 waiting 处理
func ParsePriority(s string) (Priority, bool) {
	p := Priority(strings.ToUpper(strings.TrimSpace(s)))
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return p, true
	default:
		return Priority(s), false
	}
}

// IsEmergency 只有 HIGH 计为 emergency（大小写、首尾空白不敏感）
func (p Priority) IsEmergency() bool {
	parsed, _ := ParsePriority(string(p))
	return parsed == PriorityHigh
}

// FlexID 兼容上游 id 为 JSON number 或 string 两种写法
type FlexID string

func (id *FlexID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = FlexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*id = FlexID(n.String())
	return nil
}

// Reading 生命体征读数（血氧、体温），兼容 number 与数字字符串
type Reading float64

func (r *Reading) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*r = 0
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s == "" {
			*r = 0
			return nil
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return err
		}
		*r = Reading(f)
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	*r = Reading(f)
	return nil
}

// String 去掉多余的小数位（98.6 / 95）
func (r Reading) String() string {
	return strconv.FormatFloat(float64(r), 'f', -1, 64)
}

// PatientRow 队列中的一行患者数据（来自上游 /api/patients）
type PatientRow struct {
	PatientID   string   `json:"patient_id"`
	Name        string   `json:"name"`
	OxygenLevel Reading  `json:"oxygen_level"`
	BP          string   `json:"bp"`
	Temperature Reading  `json:"temperature"`
	Disease     string   `json:"disease"`
	Priority    Priority `json:"priority"`
	ID          FlexID   `json:"id"`
}

// QueueSnapshot 一次轮询得到的完整队列快照
// 每次轮询整体替换上一份快照，不做行级 diff
type QueueSnapshot struct {
	Patients       []PatientRow `json:"patients"`
	TotalWaiting   int          `json:"total_waiting"`
	TotalEmergency int          `json:"total_emergency"`
}

// Normalize 规整上游数据：patients 为 null 时置为空切片
// priority 保留上游原文，仅在分类时解析
func (s *QueueSnapshot) Normalize() {
	if s.Patients == nil {
		s.Patients = []PatientRow{}
	}
}

// Fingerprint 快照内容指纹，用于判断视图是否发生变化
func (s *QueueSnapshot) Fingerprint() uint64 {
	raw, err := json.Marshal(s)
	if err != nil {
		return 0
	}
	return xxhash.Sum64(raw)
}

// QueueCounts 页面显示的 waiting / emergency 数量
type QueueCounts struct {
	Waiting   int `json:"total_waiting"`
	Emergency int `json:"total_emergency"`
}

// Total 两个计数之和
func (c QueueCounts) Total() int {
	return c.Waiting + c.Emergency
}

// CountsFromSnapshot 显示用计数：直接取上游给出的 total_waiting / total_emergency
func CountsFromSnapshot(s *QueueSnapshot) QueueCounts {
	return QueueCounts{
		Waiting:   s.TotalWaiting,
		Emergency: s.TotalEmergency,
	}
}

// DeriveCounts 按行重新分类计数（HIGH => emergency，其余 => waiting）
// 仅用于一致性诊断，不用于显示
func DeriveCounts(rows []PatientRow) QueueCounts {
	var c QueueCounts
	for _, r := range rows {
		if r.Priority.IsEmergency() {
			c.Emergency++
		} else {
			c.Waiting++
		}
	}
	return c
}

// QueueView 已提交的视图状态（由 refresher 独占写入）
type QueueView struct {
	Snapshot    QueueSnapshot `json:"snapshot"`
	Counts      QueueCounts   `json:"counts"`
	Version     uint64        `json:"version"`
	Fingerprint uint64        `json:"fingerprint"`
	RefreshedAt time.Time     `json:"refreshed_at"`
	ChangedAt   time.Time     `json:"changed_at"`
}

// PatientCount 当前视图中的行数
func (v *QueueView) PatientCount() int {
	if v == nil {
		return 0
	}
	return len(v.Snapshot.Patients)
}
