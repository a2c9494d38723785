package httptransport

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"voicenote-ingest-go/internal/domain/history"
	"voicenote-ingest-go/internal/domain/ingest"
)

// MaxBatchPaths 单次批量转写请求的文件上限
const MaxBatchPaths = 200

// Ingestor 音频转写入口
type Ingestor interface {
	Status() ingest.Status
	TranscribeFiles(ctx context.Context, paths []string) ([]ingest.Outcome, error)
}

// Linker 日记反向链接入口
type Linker interface {
	IsRunning() bool
	Scan(ctx context.Context) (int, error)
}

// HistoryReader 转写历史查询
type HistoryReader interface {
	Recent(ctx context.Context, limit int) ([]history.Record, error)
	Stats(ctx context.Context) (map[string]any, error)
}

// HandlerDeps API 处理器依赖，除 Ingestor 外均可为空
type HandlerDeps struct {
	Ingest  Ingestor
	Journal Linker
	History HistoryReader
	// Extra 附加到 /api/status 的运行信息，例如提供者名称
	Extra   func() map[string]any
	Version string
}

// Handler 状态与批量转写接口
type Handler struct {
	deps    HandlerDeps
	started time.Time
}

func NewHandler(deps HandlerDeps) *Handler {
	return &Handler{deps: deps, started: time.Now()}
}

// RegisterRoutes 注册路由，health 不需要鉴权
func (h *Handler) RegisterRoutes(router *Router) {
	router.API.GET("/health", h.Health)
	router.Secured.GET("/status", h.Status)
	router.Secured.GET("/history", h.History)
	router.Secured.POST("/transcriptions", h.Transcribe)
	router.Secured.POST("/journal/reconcile", h.ReconcileJournal)
}

func (h *Handler) Health(c *gin.Context) {
	RespondSuccess(c, http.StatusOK, gin.H{
		"status":  "ok",
		"version": h.deps.Version,
		"uptime":  time.Since(h.started).Round(time.Second).String(),
	}, "")
}

func (h *Handler) Status(c *gin.Context) {
	data := gin.H{}
	if h.deps.Ingest != nil {
		data["ingest"] = h.deps.Ingest.Status()
	}
	if h.deps.Journal != nil {
		data["journal"] = gin.H{"running": h.deps.Journal.IsRunning()}
	}
	if h.deps.History != nil {
		if stats, err := h.deps.History.Stats(c.Request.Context()); err == nil {
			data["history"] = stats
		}
	}
	if h.deps.Extra != nil {
		for k, v := range h.deps.Extra() {
			data[k] = v
		}
	}
	RespondSuccess(c, http.StatusOK, data, "")
}

func (h *Handler) History(c *gin.Context) {
	if h.deps.History == nil {
		RespondError(c, http.StatusServiceUnavailable, "history store is not configured", nil)
		return
	}
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			RespondError(c, http.StatusBadRequest, "limit must be a non-negative integer", nil)
			return
		}
		limit = n
	}
	records, err := h.deps.History.Recent(c.Request.Context(), limit)
	if err != nil {
		_ = c.Error(err)
		RespondError(c, http.StatusInternalServerError, err.Error(), nil)
		return
	}
	RespondSuccess(c, http.StatusOK, records, "")
}

// TranscribeRequest 批量转写请求
type TranscribeRequest struct {
	Paths []string `json:"paths" binding:"required,min=1"`
}

// TranscribeResponse 批量转写结果
type TranscribeResponse struct {
	Created  int              `json:"created"`
	Skipped  int              `json:"skipped"`
	Failed   int              `json:"failed"`
	Outcomes []ingest.Outcome `json:"outcomes"`
}

func (h *Handler) Transcribe(c *gin.Context) {
	var req TranscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "Invalid request format", nil)
		return
	}
	if len(req.Paths) > MaxBatchPaths {
		RespondError(c, http.StatusRequestEntityTooLarge, "too many paths in one request", gin.H{"max": MaxBatchPaths})
		return
	}
	if h.deps.Ingest == nil {
		RespondError(c, http.StatusServiceUnavailable, "transcription is not configured", nil)
		return
	}

	outcomes, err := h.deps.Ingest.TranscribeFiles(c.Request.Context(), req.Paths)
	if err != nil {
		RespondError(c, http.StatusServiceUnavailable, err.Error(), nil)
		return
	}

	resp := TranscribeResponse{Outcomes: outcomes}
	for _, o := range outcomes {
		switch o.Status {
		case ingest.OutcomeCreated:
			resp.Created++
		case ingest.OutcomeSkipped:
			resp.Skipped++
		case ingest.OutcomeFailed:
			resp.Failed++
		}
	}
	RespondSuccess(c, http.StatusOK, resp, "")
}

func (h *Handler) ReconcileJournal(c *gin.Context) {
	if h.deps.Journal == nil {
		RespondError(c, http.StatusServiceUnavailable, "journal linking is not configured", nil)
		return
	}
	added, err := h.deps.Journal.Scan(c.Request.Context())
	if err != nil {
		RespondError(c, http.StatusInternalServerError, err.Error(), gin.H{"added": added})
		return
	}
	RespondSuccess(c, http.StatusOK, gin.H{"added": added}, "")
}
