package handler

import (
	"context"
	"log"
	"os"
	"sort"
	"strconv"
	"strings"

	"resume-match-go/internal/storage"
	"resume-match-go/internal/types"

	"github.com/cloudwego/eino/components/embedding"
	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
)

const (
	defaultSearchLimit = 10
	maxSearchLimit     = 50
	// chunkSearchFactor 按分块检索时的放大倍数，同一文件的多个分块会合并
	chunkSearchFactor = 4
)

// ChunkSearcher 按查询向量检索相似分块
type ChunkSearcher interface {
	SearchSimilarChunks(ctx context.Context, queryVector []float64, limit int) ([]storage.SearchResult, error)
}

// SearchHandler 处理简历的语义检索请求。
// 查询文本向量化后在分块向量库中检索，命中按文件聚合取最高分。
type SearchHandler struct {
	embedder embedding.Embedder
	vectors  ChunkSearcher
	logger   *log.Logger
}

// NewSearchHandler 创建一个新的 SearchHandler 实例。
func NewSearchHandler(embedder embedding.Embedder, vectors ChunkSearcher) *SearchHandler {
	return &SearchHandler{
		embedder: embedder,
		vectors:  vectors,
		logger:   log.New(os.Stdout, "[SearchHandler] ", log.LstdFlags|log.Lshortfile),
	}
}

// HandleSemanticSearch 处理语义检索请求。
// GET /api/v1/resumes/search?q=&limit=
func (h *SearchHandler) HandleSemanticSearch(ctx context.Context, c *app.RequestContext) {
	query := strings.TrimSpace(c.Query("q"))
	if query == "" {
		c.JSON(consts.StatusBadRequest, map[string]string{"error": "查询文本 q 不能为空"})
		return
	}
	if h.embedder == nil || h.vectors == nil {
		c.JSON(consts.StatusServiceUnavailable, map[string]string{"error": "语义检索未配置"})
		return
	}

	limit, err := strconv.Atoi(c.Query("limit"))
	if err != nil || limit <= 0 {
		limit = defaultSearchLimit
	}
	if limit > maxSearchLimit {
		limit = maxSearchLimit
	}

	vectors, err := h.embedder.EmbedStrings(ctx, []string{query})
	if err != nil {
		h.logger.Printf("查询文本向量化失败: %v", err)
		c.JSON(consts.StatusInternalServerError, map[string]string{"error": "查询向量化失败"})
		return
	}
	if len(vectors) == 0 || len(vectors[0]) == 0 {
		c.JSON(consts.StatusInternalServerError, map[string]string{"error": "查询向量化结果为空"})
		return
	}

	results, err := h.vectors.SearchSimilarChunks(ctx, vectors[0], limit*chunkSearchFactor)
	if err != nil {
		h.logger.Printf("向量检索失败: %v", err)
		c.JSON(consts.StatusInternalServerError, map[string]string{"error": "向量检索失败"})
		return
	}

	hits := aggregateByFile(results, limit)
	c.JSON(consts.StatusOK, map[string]interface{}{
		"query": query,
		"hits":  hits,
	})
}

// aggregateByFile 把分块级命中聚合为文件级命中，每个文件取最高分，
// 按分数降序（同分按文件名升序）截断到limit。
func aggregateByFile(results []storage.SearchResult, limit int) []types.SemanticHit {
	best := make(map[string]float32)
	for _, r := range results {
		fileName, _ := r.Payload["file_name"].(string)
		if fileName == "" {
			continue
		}
		if score, ok := best[fileName]; !ok || r.Score > score {
			best[fileName] = r.Score
		}
	}

	hits := make([]types.SemanticHit, 0, len(best))
	for file, score := range best {
		hits = append(hits, types.SemanticHit{File: file, Score: score})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].File < hits[j].File
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits
}
