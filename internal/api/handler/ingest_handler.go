package handler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"

	"resume-match-go/internal/config"
	"resume-match-go/internal/match"
	"resume-match-go/internal/types"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/go-playground/validator/v10"
)

// IngestService 摄取运行的服务层入口
type IngestService interface {
	StartIngestion(ctx context.Context, opts match.IngestOptions) (string, error)
}

// RunStatusReader 读取摄取运行的状态快照
type RunStatusReader interface {
	GetRunStatus(ctx context.Context, runID string) (*types.RunStatus, error)
}

// IngestHandler 处理摄取运行的启动与状态查询。
type IngestHandler struct {
	cfg      *config.Config
	service  IngestService
	statuses RunStatusReader
	validate *validator.Validate
	logger   *log.Logger
}

// NewIngestHandler 创建一个新的 IngestHandler 实例。
func NewIngestHandler(cfg *config.Config, service IngestService, statuses RunStatusReader) *IngestHandler {
	return &IngestHandler{
		cfg:      cfg,
		service:  service,
		statuses: statuses,
		validate: validator.New(),
		logger:   log.New(os.Stdout, "[IngestHandler] ", log.LstdFlags|log.Lshortfile),
	}
}

// HandleStartIngestion 启动一轮后台摄取。
// POST /api/v1/ingest
// 运行在后台执行，立即返回202和运行ID；已有运行持有锁时返回409。
func (h *IngestHandler) HandleStartIngestion(ctx context.Context, c *app.RequestContext) {
	var req types.IngestRequest
	// 空请求体表示全部使用配置默认值
	if len(c.Request.Body()) > 0 {
		if err := c.BindJSON(&req); err != nil {
			c.JSON(consts.StatusBadRequest, map[string]string{"error": "请求体不是合法JSON"})
			return
		}
		if err := h.validate.Struct(&req); err != nil {
			c.JSON(consts.StatusBadRequest, map[string]string{"error": fmt.Sprintf("请求参数不合法: %v", err)})
			return
		}
	}

	runID, err := h.service.StartIngestion(ctx, match.IngestOptions{
		SourcePrefix: req.SourcePrefix,
		StoreRef:     req.StoreRef,
		BatchSize:    req.BatchSize,
		MaxDocs:      req.MaxDocs,
	})
	if err != nil {
		if errors.Is(err, match.ErrRunInProgress) {
			c.JSON(consts.StatusConflict, map[string]interface{}{
				"error":       "已有摄取运行正在进行，请稍后重试",
				"retry_after": 2,
			})
			return
		}
		if types.KindOf(err) == types.KindValidation {
			c.JSON(consts.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		h.logger.Printf("启动摄取运行失败: %v", err)
		c.JSON(consts.StatusInternalServerError, map[string]string{"error": "启动摄取运行失败"})
		return
	}

	h.logger.Printf("摄取运行 %s 已在后台启动", runID)
	c.JSON(consts.StatusAccepted, map[string]string{"run_id": runID})
}

// HandleGetRunStatus 查询一次摄取运行的状态。
// GET /api/v1/ingest/runs/:run_id
func (h *IngestHandler) HandleGetRunStatus(ctx context.Context, c *app.RequestContext) {
	runID := c.Param("run_id")
	if runID == "" {
		c.JSON(consts.StatusBadRequest, map[string]string{"error": "run_id 不能为空"})
		return
	}
	if h.statuses == nil {
		c.JSON(consts.StatusServiceUnavailable, map[string]string{"error": "运行状态存储未配置"})
		return
	}

	status, err := h.statuses.GetRunStatus(ctx, runID)
	if err != nil {
		if types.KindOf(err) == types.KindNotFound {
			c.JSON(consts.StatusNotFound, map[string]string{"error": fmt.Sprintf("摄取运行 %s 不存在", runID)})
			return
		}
		h.logger.Printf("查询运行 %s 状态失败: %v", runID, err)
		c.JSON(consts.StatusInternalServerError, map[string]string{"error": "查询运行状态失败"})
		return
	}

	c.JSON(consts.StatusOK, status)
}
