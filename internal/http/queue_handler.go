package httpapi

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"
	"wisefido-queue-view/internal/models"
	"wisefido-queue-view/internal/refresher"
	"wisefido-queue-view/internal/view"

	"go.uber.org/zap"
)

// QueueRefresher handler 依赖的刷新器能力（*refresher.Refresher 实现）
type QueueRefresher interface {
	Current() *models.QueueView
	Refresh(ctx context.Context) (*models.QueueView, error)
	Status() refresher.Status
}

// QueueHandler 队列页面与接口
type QueueHandler struct {
	refresher QueueRefresher
	renderer  *view.Renderer
	logger    *zap.Logger
}

func NewQueueHandler(r QueueRefresher, renderer *view.Renderer, logger *zap.Logger) *QueueHandler {
	return &QueueHandler{refresher: r, renderer: renderer, logger: logger}
}

// GET /
func (h *QueueHandler) Page(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if err := h.renderer.RenderPage(&buf, h.refresher.Current()); err != nil {
		h.logger.Error("Failed to render queue page", zap.Error(err))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

// GET /queue/rows
// tbody 片段；尚无视图时返回 204，调用方保留已有表格
func (h *QueueHandler) Rows(w http.ResponseWriter, r *http.Request) {
	v := h.refresher.Current()
	if v == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	rows, err := h.renderer.RenderRows(v)
	if err != nil {
		h.logger.Error("Failed to render queue rows", zap.Error(err))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Queue-Version", strconv.FormatUint(v.Version, 10))
	w.Header().Set("X-Waiting-Count", strconv.Itoa(v.Counts.Waiting))
	w.Header().Set("X-Emergency-Count", strconv.Itoa(v.Counts.Emergency))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(rows))
}

// GET /queue/snapshot
func (h *QueueHandler) Snapshot(w http.ResponseWriter, r *http.Request) {
	v := h.refresher.Current()
	if v == nil {
		writeJSON(w, http.StatusOK, Fail(refresher.ErrNoView.Error()))
		return
	}
	writeJSON(w, http.StatusOK, Ok(v))
}

// GET /queue/status
func (h *QueueHandler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, Ok(h.refresher.Status()))
}

// POST /queue/refresh
// 与定时刷新共用同一个防重入保护，在途时直接返回失败
func (h *QueueHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	v, err := h.refresher.Refresh(r.Context())
	if errors.Is(err, refresher.ErrRefreshInProgress) {
		writeJSON(w, http.StatusOK, Fail("refresh in progress"))
		return
	}
	if err != nil {
		h.logger.Warn("Manual queue refresh failed", zap.Error(err))
		writeJSON(w, http.StatusOK, Fail("refresh failed: "+err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, Ok(v))
}

// GET /queue/export.xlsx
func (h *QueueHandler) Export(w http.ResponseWriter, r *http.Request) {
	data, err := view.ExportExcel(h.refresher.Current())
	if err != nil {
		h.logger.Error("Failed to export queue", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail("export failed"))
		return
	}
	filename := fmt.Sprintf("patient-queue-%s.xlsx", time.Now().Format("20060102-150405"))
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
