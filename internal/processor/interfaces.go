package processor

import (
	"context"

	"resume-match-go/internal/parser"
	"resume-match-go/internal/storage"
	"resume-match-go/internal/storage/models"
	"resume-match-go/internal/types"

	"github.com/cloudwego/eino/components/embedding"
)

// 管线对外部系统的依赖全部收敛为窄接口，测试用假实现替换。

//
// 对象存储相关接口
//

// ObjectStore 简历文件的来源与归档目的地
type ObjectStore interface {
	// ListPage 按字典序分页枚举对象，startAfter为上一页最后一个key
	ListPage(ctx context.Context, prefix, startAfter string, maxKeys int) ([]storage.ObjectSummary, error)

	// Download 下载对象完整内容
	Download(ctx context.Context, objectKey string) ([]byte, error)

	// MoveToProcessed 把处理完的对象迁移到已处理桶
	MoveToProcessed(ctx context.Context, objectKey string) error
}

//
// 摄取状态相关接口
//

// IngestStateStore 跨运行去重索引与运行状态快照
type IngestStateStore interface {
	// CheckIngestedMD5 判断内容MD5是否已摄取过
	CheckIngestedMD5(ctx context.Context, md5Hex string) (bool, error)

	// AddIngestedMD5 记录已摄取内容MD5，仅在入库与归档都成功后调用
	AddIngestedMD5(ctx context.Context, md5Hex string) error

	// SetRunStatus 写入运行状态快照
	SetRunStatus(ctx context.Context, status *types.RunStatus) error
}

// RunReporter 运行结束后的持久化报告
type RunReporter interface {
	SaveRun(ctx context.Context, run *models.IngestionRun) error
}

//
// 文档处理相关接口
//

// DocumentParser 按扩展名提取文档纯文本
type DocumentParser interface {
	// ExtractText 提取文件的纯文本内容
	ExtractText(ctx context.Context, filePath string) (string, map[string]interface{}, error)

	// Supported 判断文件名是否有已注册的提取器
	Supported(fileName string) bool
}

// TextChunker 长文本切分
type TextChunker interface {
	Chunk(text string) []string
}

// TextEmbedder 文本向量化接口 (符合 cloudwego/eino 规范)
type TextEmbedder interface {
	EmbedStrings(ctx context.Context, texts []string, opts ...embedding.Option) ([][]float64, error)
}

// TagExtractor 结构化标签抽取。模型输出无法解析时返回 (nil, nil)，
// 由调用方决定如何降级。
type TagExtractor interface {
	Extract(ctx context.Context, documentText string, mode parser.FieldMode) (*types.TagSet, error)
}

//
// 产物落地相关接口
//

// ChunkVectorStore 分块向量写入，向量是旁路产物，失败不阻断摄取
type ChunkVectorStore interface {
	UpsertDocumentChunks(ctx context.Context, fileName string, chunks []string, embeddings [][]float64) ([]string, error)
}

// CorpusWriter 标签语料库与失败台账写入
type CorpusWriter interface {
	Upsert(ctx context.Context, records []types.CorpusRecord) error
	RecordFailures(ctx context.Context, files []string) error
}
