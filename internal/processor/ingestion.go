// Package processor 实现简历语料的批量摄取管线。
// 管线把对象存储里的新简历转成结构化标签并入库：
// 枚举 -> 过滤 -> 去重 -> 下载 -> 提取 -> 切分 -> 向量化(旁路) -> 打标 -> 入库 -> 归档。
// 单个文档的失败只进失败台账，不会中断整轮运行。
package processor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"resume-match-go/internal/constants"
	"resume-match-go/internal/corpus"
	"resume-match-go/internal/parser"
	"resume-match-go/internal/storage"
	"resume-match-go/internal/storage/models"
	"resume-match-go/internal/types"
	"resume-match-go/pkg/utils"

	"github.com/gofrs/uuid/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var pipelineTracer = otel.Tracer("resume-match-go/processor/ingestion")

// 编译期确认具体实现满足管线依赖的窄接口
var (
	_ ObjectStore      = (*storage.MinIO)(nil)
	_ IngestStateStore = (*storage.Redis)(nil)
	_ RunReporter      = (*storage.MySQL)(nil)
	_ DocumentParser   = (*parser.DocumentLoader)(nil)
	_ TextChunker      = (*parser.WindowChunker)(nil)
	_ TextEmbedder     = (*parser.OpenAIEmbedder)(nil)
	_ TagExtractor     = (*parser.LLMTagExtractor)(nil)
	_ ChunkVectorStore = (*storage.Qdrant)(nil)
	_ CorpusWriter     = (*corpus.Store)(nil)
)

// 单文档失败阶段
const (
	stageDownload = "download"
	stageParse    = "parse"
	stageExtract  = "extract"
	stageUpsert   = "upsert"
	stageMove     = "move"
)

// Components 管线的组件依赖。
// Objects/Loader/Chunker/Extractor/Corpus 为必备；
// State/Embedder/Vectors/Reporter/Events 缺失时对应能力整体退化但不报错。
type Components struct {
	Objects   ObjectStore
	State     IngestStateStore
	Loader    DocumentParser
	Chunker   TextChunker
	Embedder  TextEmbedder
	Vectors   ChunkVectorStore
	Extractor TagExtractor
	Corpus    CorpusWriter
	Reporter  RunReporter
	Events    storage.EventPublisher
}

// Settings 管线运行参数，零值字段取constants中的默认值
type Settings struct {
	SourcePrefix string
	StoreRef     string
	BatchSize    int
	MaxDocs      int
	DocPause     time.Duration
	Extensions   []string
	Logger       *log.Logger
}

// RunOptions 单次运行的覆盖参数，零值沿用Settings
type RunOptions struct {
	RunID        string
	SourcePrefix string
	BatchSize    int
	MaxDocs      int
}

// Report 一次摄取运行的结果
type Report struct {
	RunID       string
	State       string
	Succeeded   int
	Skipped     int
	Failed      int
	FailedFiles []string
	StartedAt   time.Time
	FinishedAt  time.Time
}

// failedDoc 失败台账中的一条
type failedDoc struct {
	File   string
	Stage  string
	Reason string
}

// IngestionPipeline 简历摄取管线
type IngestionPipeline struct {
	objects   ObjectStore
	state     IngestStateStore
	loader    DocumentParser
	chunker   TextChunker
	embedder  TextEmbedder
	vectors   ChunkVectorStore
	extractor TagExtractor
	corpus    CorpusWriter
	reporter  RunReporter
	events    storage.EventPublisher

	sourcePrefix string
	storeRef     string
	batchSize    int
	maxDocs      int
	docPause     time.Duration
	extensions   map[string]bool
	logger       *log.Logger
}

// NewIngestionPipeline 创建摄取管线并校验必备组件
func NewIngestionPipeline(comp *Components, set *Settings) (*IngestionPipeline, error) {
	if comp == nil {
		return nil, fmt.Errorf("管线组件不能为空")
	}
	if comp.Objects == nil {
		return nil, fmt.Errorf("对象存储组件不能为空")
	}
	if comp.Loader == nil {
		return nil, fmt.Errorf("文档加载组件不能为空")
	}
	if comp.Chunker == nil {
		return nil, fmt.Errorf("切分组件不能为空")
	}
	if comp.Extractor == nil {
		return nil, fmt.Errorf("标签抽取组件不能为空")
	}
	if comp.Corpus == nil {
		return nil, fmt.Errorf("语料库组件不能为空")
	}

	if set == nil {
		set = &Settings{}
	}
	p := &IngestionPipeline{
		objects:      comp.Objects,
		state:        comp.State,
		loader:       comp.Loader,
		chunker:      comp.Chunker,
		embedder:     comp.Embedder,
		vectors:      comp.Vectors,
		extractor:    comp.Extractor,
		corpus:       comp.Corpus,
		reporter:     comp.Reporter,
		events:       comp.Events,
		sourcePrefix: set.SourcePrefix,
		storeRef:     set.StoreRef,
		batchSize:    set.BatchSize,
		maxDocs:      set.MaxDocs,
		docPause:     set.DocPause,
		logger:       set.Logger,
	}
	if p.batchSize <= 0 {
		p.batchSize = constants.DefaultBatchSize
	}
	if p.maxDocs <= 0 {
		p.maxDocs = constants.DefaultMaxDocs
	}
	if p.docPause == 0 {
		p.docPause = constants.DefaultDocPause
	} else if p.docPause < 0 {
		// 负值显式关闭文档间节流
		p.docPause = 0
	}
	if p.logger == nil {
		p.logger = log.New(io.Discard, "", 0)
	}

	exts := set.Extensions
	if len(exts) == 0 {
		exts = constants.SupportedExtensions
	}
	p.extensions = make(map[string]bool, len(exts))
	for _, ext := range exts {
		p.extensions[strings.ToLower(ext)] = true
	}

	if p.state == nil {
		p.logger.Printf("[WARN] 未配置摄取状态存储，跨运行MD5去重与状态快照不可用")
	}
	if p.embedder == nil || p.vectors == nil {
		p.logger.Printf("向量化组件未完整配置，本管线跳过向量写入")
	}

	return p, nil
}

// Run 执行一轮摄取。
// 逐页枚举来源前缀下的对象，对每个文档独立处理；文档失败写入
// 失败台账后继续，整轮结束时台账整体落盘。ctx取消后在当前文档
// 边界停下并照常收尾。
func (p *IngestionPipeline) Run(ctx context.Context, opts RunOptions) (*Report, error) {
	runID := opts.RunID
	if runID == "" {
		runID = uuid.Must(uuid.NewV4()).String()
	}
	prefix := opts.SourcePrefix
	if prefix == "" {
		prefix = p.sourcePrefix
	}
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = p.batchSize
	}
	maxDocs := opts.MaxDocs
	if maxDocs <= 0 {
		maxDocs = p.maxDocs
	}

	ctx, span := pipelineTracer.Start(ctx, "IngestionPipeline.Run",
		trace.WithAttributes(
			attribute.String("ingest.run_id", runID),
			attribute.String("ingest.source_prefix", prefix),
			attribute.Int("ingest.batch_size", batchSize),
			attribute.Int("ingest.max_docs", maxDocs),
		))
	defer span.End()

	report := &Report{
		RunID:     runID,
		State:     types.RunStateRunning,
		StartedAt: time.Now(),
	}
	var failures []failedDoc
	seenKeys := make(map[string]bool)
	seenMD5s := make(map[string]bool)

	p.logInfo("摄取运行 %s 开始, 前缀: %q, 页大小: %d, 文档上限: %d", runID, prefix, batchSize, maxDocs)
	p.publishStatus(ctx, report)

	var runErr error
	startAfter := ""

listing:
	for {
		if ctx.Err() != nil {
			report.State = types.RunStateCancelled
			break
		}

		page, err := p.objects.ListPage(ctx, prefix, startAfter, batchSize)
		if err != nil {
			// 枚举失败是运行级错误：没有对象清单就无从继续
			runErr = fmt.Errorf("枚举对象失败: %w", err)
			report.State = types.RunStateFailed
			span.RecordError(runErr)
			break
		}
		if len(page) == 0 {
			report.State = types.RunStateCompleted
			break
		}
		span.AddEvent("batch_listed", trace.WithAttributes(
			attribute.Int("batch.objects", len(page)),
			attribute.String("batch.start_after", startAfter),
		))

		for _, obj := range page {
			if ctx.Err() != nil {
				report.State = types.RunStateCancelled
				break listing
			}
			if report.Succeeded+report.Failed >= maxDocs {
				p.logInfo("运行 %s 达到文档上限 %d, 提前结束", runID, maxDocs)
				report.State = types.RunStateCompleted
				break listing
			}

			attempted := p.processObject(ctx, runID, obj, seenKeys, seenMD5s, report, &failures)
			p.publishStatus(ctx, report)

			if attempted && !p.pause(ctx) {
				report.State = types.RunStateCancelled
				break listing
			}
		}

		startAfter = page[len(page)-1].Key
		if len(page) < batchSize {
			report.State = types.RunStateCompleted
			break
		}
	}

	if report.State == types.RunStateRunning {
		report.State = types.RunStateCompleted
	}
	report.FinishedAt = time.Now()
	for _, f := range failures {
		report.FailedFiles = append(report.FailedFiles, f.File)
	}

	// 收尾动作不能被取消打断，否则台账会丢失本轮的失败记录
	finalCtx := context.WithoutCancel(ctx)
	if err := p.corpus.RecordFailures(finalCtx, report.FailedFiles); err != nil {
		p.logError(err, "运行 %s 写失败台账失败", runID)
	}
	p.publishStatus(finalCtx, report)
	p.persistReport(finalCtx, prefix, report, runErr)
	p.publishRunCompleted(finalCtx, prefix, report)

	span.SetAttributes(
		attribute.String("ingest.state", report.State),
		attribute.Int("ingest.succeeded", report.Succeeded),
		attribute.Int("ingest.skipped", report.Skipped),
		attribute.Int("ingest.failed", report.Failed),
	)
	if runErr != nil {
		span.SetStatus(codes.Error, runErr.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}

	p.logInfo("摄取运行 %s 结束: 状态=%s, 成功=%d, 跳过=%d, 失败=%d, 耗时=%s",
		runID, report.State, report.Succeeded, report.Skipped, report.Failed,
		report.FinishedAt.Sub(report.StartedAt).Round(time.Millisecond))
	return report, runErr
}

// processObject 处理单个对象，返回是否真正尝试了处理（跳过不算）。
// 失败只追加到台账，绝不让错误冒泡中断整轮运行。
func (p *IngestionPipeline) processObject(ctx context.Context, runID string, obj storage.ObjectSummary,
	seenKeys, seenMD5s map[string]bool, report *Report, failures *[]failedDoc) bool {

	key := obj.Key
	ext := strings.ToLower(filepath.Ext(key))

	// 扩展名过滤与同运行内key去重都是静默跳过
	if !p.extensions[ext] || !p.loader.Supported(key) {
		p.logInfo("跳过不支持的文件: %s", key)
		report.Skipped++
		return false
	}
	if seenKeys[key] {
		report.Skipped++
		return false
	}
	seenKeys[key] = true

	ctx, span := pipelineTracer.Start(ctx, "IngestionPipeline.processObject",
		trace.WithAttributes(
			attribute.String("ingest.run_id", runID),
			attribute.String("document.key", key),
			attribute.Int64("document.size", obj.Size),
		))
	defer span.End()

	fail := func(stage string, err error) {
		// 取消不算文档失败，运行会以cancelled状态收尾
		if err != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
			span.SetStatus(codes.Error, "cancelled")
			return
		}
		reason := ""
		if err != nil {
			reason = err.Error()
		}
		p.logError(err, "文档 %s 在 %s 阶段失败", key, stage)
		*failures = append(*failures, failedDoc{File: key, Stage: stage, Reason: reason})
		report.Failed++
		span.SetAttributes(attribute.String("document.fail_stage", stage))
		span.SetStatus(codes.Error, reason)
		p.publishDocFailed(ctx, runID, key, stage, reason)
	}

	// 下载
	data, err := p.objects.Download(ctx, key)
	if err != nil {
		fail(stageDownload, err)
		return true
	}
	span.AddEvent("downloaded", trace.WithAttributes(attribute.Int("document.bytes", len(data))))

	// 内容去重：同一轮内与跨运行各查一次
	md5Hex := utils.CalculateMD5(data)
	if seenMD5s[md5Hex] {
		p.logInfo("文档 %s 内容与本轮已处理文档重复, 跳过", key)
		report.Skipped++
		span.SetStatus(codes.Ok, "duplicate in run")
		return false
	}
	if p.state != nil {
		exists, err := p.state.CheckIngestedMD5(ctx, md5Hex)
		if err != nil {
			p.logWarn("查询MD5去重索引失败 (%s): %v, 继续处理", key, err)
		} else if exists {
			p.logInfo("文档 %s 内容已摄取过 (md5=%s), 跳过", key, md5Hex)
			report.Skipped++
			span.SetStatus(codes.Ok, "duplicate across runs")
			return false
		}
	}
	seenMD5s[md5Hex] = true

	// 提取器按路径扩展名分发，先落成临时文件
	text, err := p.extractToText(ctx, key, ext, data)
	if err != nil {
		fail(stageParse, err)
		return true
	}
	if strings.TrimSpace(text) == "" {
		fail(stageParse, fmt.Errorf("文档无文本内容"))
		return true
	}
	span.AddEvent("text_extracted", trace.WithAttributes(attribute.Int("document.text_chars", len([]rune(text)))))

	// 切分 + 向量化是旁路产物，失败降级为告警
	chunks := p.chunker.Chunk(text)
	span.SetAttributes(attribute.Int("document.chunks", len(chunks)))
	var vectorIDs []string
	if p.embedder != nil && p.vectors != nil && len(chunks) > 0 {
		vectorIDs = p.storeChunkVectors(ctx, key, chunks)
	}

	// 打标。模型输出不可解析时抽取器返回 (nil, nil)，同样计为失败。
	tags, err := p.extractor.Extract(ctx, text, parser.FieldModeResume)
	if err != nil {
		fail(stageExtract, err)
		return true
	}
	if tags == nil {
		fail(stageExtract, fmt.Errorf("模型输出无法解析为标签"))
		return true
	}
	span.AddEvent("tags_extracted")

	record := types.CorpusRecord{ResumeFileName: filepath.Base(key)}
	record.TagSet = *tags
	if err := p.corpus.Upsert(ctx, []types.CorpusRecord{record}); err != nil {
		fail(stageUpsert, err)
		return true
	}

	// 归档失败时记录已在语料库里；文件留在来源桶，
	// 下一轮靠MD5去重跳过重复打标，重复入库也是幂等的
	if err := p.objects.MoveToProcessed(ctx, key); err != nil {
		fail(stageMove, err)
		return true
	}

	if p.state != nil {
		if err := p.state.AddIngestedMD5(ctx, md5Hex); err != nil {
			p.logWarn("记录已摄取MD5失败 (%s): %v", key, err)
		}
	}

	report.Succeeded++
	span.SetStatus(codes.Ok, "")
	p.logInfo("文档 %s 摄取完成 (分块=%d, 向量=%d)", key, len(chunks), len(vectorIDs))

	if p.events != nil {
		event := &storage.ResumeIngestedEvent{
			RunID:      runID,
			FileName:   filepath.Base(key),
			FileMD5:    md5Hex,
			ChunkCount: len(chunks),
			JobTitle:   tags.JobTitle,
			IngestedAt: time.Now(),
			VectorIDs:  vectorIDs,
		}
		if err := p.events.PublishResumeIngested(ctx, event); err != nil {
			p.logWarn("发布摄取成功事件失败 (%s): %v", key, err)
		}
	}
	return true
}

// extractToText 把对象内容写入临时文件后走加载器提取文本
func (p *IngestionPipeline) extractToText(ctx context.Context, key, ext string, data []byte) (string, error) {
	tmpFile, err := os.CreateTemp("", "ingest-*"+ext)
	if err != nil {
		return "", fmt.Errorf("创建临时文件失败: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer os.Remove(tmpPath)

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return "", fmt.Errorf("写入临时文件失败: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return "", fmt.Errorf("关闭临时文件失败: %w", err)
	}

	text, _, err := p.loader.ExtractText(ctx, tmpPath)
	if err != nil {
		return "", fmt.Errorf("提取文档 %s 文本失败: %w", key, err)
	}
	return text, nil
}

// storeChunkVectors 向量化分块并写入向量库，任何失败只告警
func (p *IngestionPipeline) storeChunkVectors(ctx context.Context, key string, chunks []string) []string {
	embeddings, err := p.embedder.EmbedStrings(ctx, chunks)
	if err != nil {
		p.logWarn("文档 %s 向量化失败: %v, 跳过向量写入", key, err)
		return nil
	}
	ids, err := p.vectors.UpsertDocumentChunks(ctx, filepath.Base(key), chunks, embeddings)
	if err != nil {
		p.logWarn("文档 %s 向量写入失败: %v", key, err)
		return nil
	}
	return ids
}

// pause 文档间节流，返回false表示等待期间被取消
func (p *IngestionPipeline) pause(ctx context.Context) bool {
	if p.docPause <= 0 {
		return ctx.Err() == nil
	}
	select {
	case <-ctx.Done():
		return false
	case <-time.After(p.docPause):
		return true
	}
}

// publishStatus 把当前进度快照写入状态存储，尽力而为
func (p *IngestionPipeline) publishStatus(ctx context.Context, report *Report) {
	if p.state == nil {
		return
	}
	status := &types.RunStatus{
		RunID:     report.RunID,
		State:     report.State,
		Processed: report.Succeeded + report.Failed,
		Succeeded: report.Succeeded,
		Skipped:   report.Skipped,
		Failed:    report.Failed,
		StartedAt: report.StartedAt.Unix(),
		UpdatedAt: time.Now().Unix(),
	}
	if err := p.state.SetRunStatus(ctx, status); err != nil {
		p.logWarn("写运行状态快照失败 (%s): %v", report.RunID, err)
	}
}

// persistReport 运行结束后写入持久化报告
func (p *IngestionPipeline) persistReport(ctx context.Context, prefix string, report *Report, runErr error) {
	if p.reporter == nil {
		return
	}
	message := ""
	if runErr != nil {
		message = runErr.Error()
	} else if len(report.FailedFiles) > 0 {
		message = fmt.Sprintf("%d个文件处理失败", len(report.FailedFiles))
	}
	finishedAt := report.FinishedAt
	run := &models.IngestionRun{
		RunID:        report.RunID,
		SourcePrefix: prefix,
		StoreRef:     p.storeRef,
		State:        report.State,
		Processed:    report.Succeeded,
		Skipped:      report.Skipped,
		Failed:       report.Failed,
		Message:      message,
		StartedAt:    report.StartedAt,
		FinishedAt:   &finishedAt,
	}
	if err := p.reporter.SaveRun(ctx, run); err != nil {
		p.logError(err, "持久化运行报告失败 (%s)", report.RunID)
	}
}

// publishDocFailed 发布单文档失败事件
func (p *IngestionPipeline) publishDocFailed(ctx context.Context, runID, key, stage, reason string) {
	if p.events == nil {
		return
	}
	event := &storage.ResumeFailedEvent{
		RunID:    runID,
		FileName: filepath.Base(key),
		Stage:    stage,
		Reason:   reason,
		FailedAt: time.Now(),
	}
	if err := p.events.PublishResumeFailed(ctx, event); err != nil {
		p.logWarn("发布文档失败事件失败 (%s): %v", key, err)
	}
}

// publishRunCompleted 发布运行结束事件
func (p *IngestionPipeline) publishRunCompleted(ctx context.Context, prefix string, report *Report) {
	if p.events == nil {
		return
	}
	event := &storage.RunCompletedEvent{
		RunID:        report.RunID,
		SourcePrefix: prefix,
		Processed:    report.Succeeded,
		Skipped:      report.Skipped,
		Failed:       report.Failed,
		StartedAt:    report.StartedAt,
		FinishedAt:   report.FinishedAt,
	}
	if err := p.events.PublishRunCompleted(ctx, event); err != nil {
		p.logWarn("发布运行结束事件失败 (%s): %v", report.RunID, err)
	}
}

// logInfo 记录信息级别日志
func (p *IngestionPipeline) logInfo(format string, args ...interface{}) {
	p.logger.Printf(format, args...)
}

// logWarn 记录警告级别日志
func (p *IngestionPipeline) logWarn(format string, args ...interface{}) {
	p.logger.Printf("[WARN] "+format, args...)
}

// logError 记录错误级别日志
func (p *IngestionPipeline) logError(err error, format string, args ...interface{}) {
	if err != nil {
		format = fmt.Sprintf("ERROR: %v - %s", err, format)
	} else {
		format = "ERROR: " + format
	}
	p.logger.Printf(format, args...)
}
