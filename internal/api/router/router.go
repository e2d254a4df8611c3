package router

import (
	"context"

	"resume-match-go/internal/api/handler"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
)

// RegisterRoutes 注册 API 路由
func RegisterRoutes(h *server.Hertz, matchHandler *handler.MatchHandler, ingestHandler *handler.IngestHandler, searchHandler *handler.SearchHandler) {
	api := h.Group("/api/v1")

	// 匹配查询
	api.POST("/match", matchHandler.HandleMatch)

	// 摄取运行：启动 + 状态查询
	api.POST("/ingest", ingestHandler.HandleStartIngestion)
	api.GET("/ingest/runs/:run_id", ingestHandler.HandleGetRunStatus)

	// 语义检索（分块向量库）
	api.GET("/resumes/search", searchHandler.HandleSemanticSearch)

	// 健康检查
	h.GET("/health", func(c context.Context, ctx *app.RequestContext) {
		ctx.JSON(consts.StatusOK, utils.H{"status": "ok"})
	})
}
