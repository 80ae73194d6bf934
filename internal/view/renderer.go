package view

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io"
	"net/url"
	"strconv"
	"strings"
	"time"
	"wisefido-queue-view/internal/models"
)

//go:embed templates/*.html
var templateFS embed.FS

// RowData 表格中一行的显示数据（列顺序与页面表头一致）
type RowData struct {
	ID           string
	PatientID    string
	Name         string
	Oxygen       string
	BP           string
	Temperature  string
	Disease      string
	Priority     string
	CompleteURL  string
	EmergencyURL string
}

// PageData 页面模板数据
type PageData struct {
	Rows        []RowData
	Waiting     int
	Emergency   int
	Version     uint64
	Fingerprint string
	RefreshedAt string
}

// Renderer 队列表格渲染器
// 页面约定：#queueTable > tbody、#waitingCount、#emergencyCount
type Renderer struct {
	tmpl       *template.Template
	actionBase string
}

// NewRenderer 创建渲染器，actionBaseURL 为 Complete / Emergency 链接前缀（空表示同源）
func NewRenderer(actionBaseURL string) (*Renderer, error) {
	tmpl, err := template.ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse queue templates: %w", err)
	}
	return &Renderer{
		tmpl:       tmpl,
		actionBase: strings.TrimRight(actionBaseURL, "/"),
	}, nil
}

// ActionURL Complete / Emergency 跳转地址：{base}/{action}/{id}
func (r *Renderer) ActionURL(action, id string) string {
	return r.actionBase + "/" + action + "/" + url.PathEscape(id)
}

// Build 由视图构造模板数据；view 为 nil 时返回空表
func (r *Renderer) Build(v *models.QueueView) PageData {
	if v == nil {
		return PageData{Rows: []RowData{}}
	}
	rows := make([]RowData, 0, len(v.Snapshot.Patients))
	for _, p := range v.Snapshot.Patients {
		id := string(p.ID)
		rows = append(rows, RowData{
			ID:           id,
			PatientID:    p.PatientID,
			Name:         p.Name,
			Oxygen:       p.OxygenLevel.String(),
			BP:           p.BP,
			Temperature:  p.Temperature.String(),
			Disease:      p.Disease,
			Priority:     string(p.Priority),
			CompleteURL:  r.ActionURL("complete", id),
			EmergencyURL: r.ActionURL("emergency", id),
		})
	}
	return PageData{
		Rows:        rows,
		Waiting:     v.Counts.Waiting,
		Emergency:   v.Counts.Emergency,
		Version:     v.Version,
		Fingerprint: FingerprintString(v.Fingerprint),
		RefreshedAt: v.RefreshedAt.Format(time.RFC3339),
	}
}

// FingerprintString 页面端用于去重的内容指纹（十六进制字符串，避免 JS 数值精度丢失）
// 版本号在进程重启后会从 1 重新开始，指纹不会
func FingerprintString(fp uint64) string {
	return strconv.FormatUint(fp, 16)
}

// RenderPage 渲染完整页面
func (r *Renderer) RenderPage(w io.Writer, v *models.QueueView) error {
	return r.tmpl.ExecuteTemplate(w, "page", r.Build(v))
}

// RenderRows 渲染 tbody 内部的行（每个患者一行，保持快照顺序）
func (r *Renderer) RenderRows(v *models.QueueView) (string, error) {
	var buf bytes.Buffer
	if err := r.tmpl.ExecuteTemplate(&buf, "rows", r.Build(v)); err != nil {
		return "", err
	}
	return buf.String(), nil
}
