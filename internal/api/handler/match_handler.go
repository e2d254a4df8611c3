package handler

import (
	"context"
	"fmt"
	"log"
	"os"

	"resume-match-go/internal/config"
	"resume-match-go/internal/types"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/go-playground/validator/v10"
)

// MatchService 匹配查询的服务层入口
type MatchService interface {
	Match(ctx context.Context, req *types.MatchRequest) (*types.MatchResponse, error)
}

// MatchHandler 处理岗位描述与语料库简历的匹配查询。
type MatchHandler struct {
	cfg      *config.Config
	service  MatchService
	validate *validator.Validate
	logger   *log.Logger
}

// NewMatchHandler 创建一个新的 MatchHandler 实例。
func NewMatchHandler(cfg *config.Config, service MatchService) *MatchHandler {
	return &MatchHandler{
		cfg:      cfg,
		service:  service,
		validate: validator.New(),
		logger:   log.New(os.Stdout, "[MatchHandler] ", log.LstdFlags|log.Lshortfile),
	}
}

// HandleMatch 处理匹配查询请求。
// POST /api/v1/match
func (h *MatchHandler) HandleMatch(ctx context.Context, c *app.RequestContext) {
	var req types.MatchRequest
	if err := c.BindJSON(&req); err != nil {
		c.JSON(consts.StatusBadRequest, map[string]string{"error": "请求体不是合法JSON"})
		return
	}

	// 任何外部调用之前先做参数校验
	if err := h.validate.Struct(&req); err != nil {
		c.JSON(consts.StatusBadRequest, map[string]string{"error": fmt.Sprintf("请求参数不合法: %v", err)})
		return
	}

	resp, err := h.service.Match(ctx, &req)
	if err != nil {
		if types.KindOf(err) == types.KindValidation {
			c.JSON(consts.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		h.logger.Printf("匹配查询失败: %v", err)
		c.JSON(consts.StatusInternalServerError, map[string]string{"error": "匹配查询失败"})
		return
	}

	c.JSON(consts.StatusOK, resp)
}
