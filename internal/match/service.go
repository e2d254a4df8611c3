package match

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"resume-match-go/internal/constants"
	"resume-match-go/internal/parser"
	"resume-match-go/internal/processor"
	"resume-match-go/internal/types"
	"resume-match-go/pkg/utils"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var matchTracer = otel.Tracer("resume-match-go/match/service")

// ErrRunInProgress 摄取运行锁已被其他运行持有
var ErrRunInProgress = errors.New("已有摄取运行正在进行")

// TagExtractor 从非结构化文本抽取结构化标签。
// 返回 (nil, nil) 表示模型输出无法修复，调用方按"标签不可用"降级。
type TagExtractor interface {
	Extract(ctx context.Context, documentText string, mode parser.FieldMode) (*types.TagSet, error)
}

// RelevanceScorer 对一批候选人做批量相关性评分，失败收敛为空结果
type RelevanceScorer interface {
	Score(ctx context.Context, jdTags *types.TagSet, candidates []types.Candidate, topN, threshold int) *types.MatchResult
}

// CorpusReader 读取语料库全部已打标记录
type CorpusReader interface {
	ReadAll(ctx context.Context) ([]types.CorpusRecord, error)
}

// ObjectChecker 检查文件是否仍存在于对象存储（已处理或待处理分区）
type ObjectChecker interface {
	Exists(ctx context.Context, objectKey string) (bool, error)
}

// TagCache JD标签抽取结果缓存，键为JD文本MD5；未命中返回 (nil, nil)
type TagCache interface {
	GetCachedJDTags(ctx context.Context, jdMD5 string) (*types.TagSet, error)
	CacheJDTags(ctx context.Context, jdMD5 string, tags *types.TagSet) error
}

// RunLocker 摄取运行的单写者锁。AcquireLock 在锁被占用时返回空持有者标识
type RunLocker interface {
	AcquireLock(ctx context.Context, lockKey string, expiration time.Duration) (string, error)
	ReleaseLock(ctx context.Context, lockKey string, lockValue string) (bool, error)
}

// IngestRunner 执行一轮摄取
type IngestRunner interface {
	Run(ctx context.Context, opts processor.RunOptions) (*processor.Report, error)
}

// PipelineFactory 按语料库引用构造摄取管线，
// 供单次运行覆盖默认语料库目标时使用
type PipelineFactory func(storeRef string) (IngestRunner, error)

// Dependencies 服务层的组件依赖。
// Extractor/Scorer/Corpus/Objects 为查询路径必备；
// Cache 缺失时每次查询都重新抽取；Locker/Pipeline 缺失时摄取操作不可用；
// PipelineFactory 缺失时运行不能指定非默认语料库。
type Dependencies struct {
	Extractor       TagExtractor
	Scorer          RelevanceScorer
	Corpus          CorpusReader
	Objects         ObjectChecker
	Cache           TagCache
	Locker          RunLocker
	Pipeline        IngestRunner
	PipelineFactory PipelineFactory
}

// Settings 服务层参数，零值取constants中的默认值
type Settings struct {
	DefaultTopN      int
	DefaultThreshold int
	Logger           *log.Logger
}

// IngestOptions 一次摄取运行的参数；零值字段沿用管线配置。
// StoreRef 非空时本次运行写入指定语料库而不是默认语料库。
type IngestOptions struct {
	RunID        string
	SourcePrefix string
	StoreRef     string
	BatchSize    int
	MaxDocs      int
}

// Service 匹配查询与摄取运行的服务层编排。
// HTTP handler 只做协议转换，业务编排集中在这里，便于脱离HTTP测试。
type Service struct {
	extractor TagExtractor
	scorer    RelevanceScorer
	corpus    CorpusReader
	objects   ObjectChecker
	cache     TagCache
	locker    RunLocker
	pipeline  IngestRunner
	factory   PipelineFactory

	defaultTopN      int
	defaultThreshold int
	logger           *log.Logger
}

// NewService 创建服务层并校验查询路径的必备组件
func NewService(deps *Dependencies, set *Settings) (*Service, error) {
	if deps == nil {
		return nil, fmt.Errorf("服务依赖不能为空")
	}
	if deps.Extractor == nil {
		return nil, fmt.Errorf("标签抽取器不能为空")
	}
	if deps.Scorer == nil {
		return nil, fmt.Errorf("相关性评分器不能为空")
	}
	if deps.Corpus == nil {
		return nil, fmt.Errorf("语料库不能为空")
	}
	if deps.Objects == nil {
		return nil, fmt.Errorf("对象存储不能为空")
	}

	if set == nil {
		set = &Settings{}
	}
	s := &Service{
		extractor:        deps.Extractor,
		scorer:           deps.Scorer,
		corpus:           deps.Corpus,
		objects:          deps.Objects,
		cache:            deps.Cache,
		locker:           deps.Locker,
		pipeline:         deps.Pipeline,
		factory:          deps.PipelineFactory,
		defaultTopN:      set.DefaultTopN,
		defaultThreshold: set.DefaultThreshold,
		logger:           set.Logger,
	}
	if s.defaultTopN <= 0 {
		s.defaultTopN = constants.DefaultTopN
	}
	if s.defaultThreshold <= 0 {
		s.defaultThreshold = constants.DefaultThreshold
	}
	if s.logger == nil {
		s.logger = log.New(io.Discard, "", 0)
	}
	return s, nil
}

// ExtractJDTags 从岗位描述抽取结构化标签。
// 空文本在任何外部调用前被拒绝；命中缓存时不调用模型；
// 模型输出无法修复时返回 (nil, nil)，调用方按降级处理。
func (s *Service) ExtractJDTags(ctx context.Context, jobDescription string) (*types.TagSet, error) {
	ctx, span := matchTracer.Start(ctx, "match.ExtractJDTags")
	defer span.End()

	text := strings.TrimSpace(jobDescription)
	if text == "" {
		return nil, types.NewValidationError("match.extract_jd_tags", "岗位描述不能为空")
	}

	var cacheKey string
	if s.cache != nil {
		cacheKey = utils.CalculateMD5([]byte(text))
		tags, err := s.cache.GetCachedJDTags(ctx, cacheKey)
		if err != nil {
			// 缓存故障不阻断查询，直接回源抽取
			s.logger.Printf("读取JD标签缓存失败: %v", err)
		} else if tags != nil {
			span.SetAttributes(attribute.Bool("match.cache_hit", true))
			return tags, nil
		}
	}

	tags, err := s.extractor.Extract(ctx, text, parser.FieldModeJD)
	if err != nil {
		return nil, err
	}
	if tags == nil {
		span.SetAttributes(attribute.Bool("match.degraded", true))
		return nil, nil
	}

	if s.cache != nil {
		if err := s.cache.CacheJDTags(ctx, cacheKey, tags); err != nil {
			s.logger.Printf("写入JD标签缓存失败: %v", err)
		}
	}
	return tags, nil
}

// FindBestResumes 从语料库记录构造候选清单并批量评分选优。
// topN<=0 与 threshold<0 取服务默认值；语料库为空时返回空结果而不是错误。
func (s *Service) FindBestResumes(ctx context.Context, jdTags *types.TagSet, corpusRows []types.CorpusRecord, topN, threshold int) (*types.MatchResult, error) {
	ctx, span := matchTracer.Start(ctx, "match.FindBestResumes")
	defer span.End()

	if jdTags == nil {
		return nil, types.NewValidationError("match.find_best_resumes", "JD标签不能为空")
	}
	if topN <= 0 {
		topN = s.defaultTopN
	}
	if threshold < 0 {
		threshold = s.defaultThreshold
	}

	candidates := make([]types.Candidate, 0, len(corpusRows))
	for i := range corpusRows {
		rec := &corpusRows[i]
		if strings.TrimSpace(rec.ResumeFileName) == "" {
			continue
		}
		candidates = append(candidates, types.Candidate{
			FileName: rec.ResumeFileName,
			Summary:  rec.Summary(),
		})
	}
	span.SetAttributes(attribute.Int("match.candidate_count", len(candidates)))
	if len(candidates) == 0 {
		return types.EmptyMatchResult(), nil
	}

	return s.scorer.Score(ctx, jdTags, candidates, topN, threshold), nil
}

// Match 完整的匹配查询：抽取JD标签 → 读语料库 → 评分选优 → 在库校验。
// 请求中 TopN/Threshold 的JSON零值视为未提供，取服务默认值。
// 没有任何简历入选属于正常结果，响应中带解释性message而不是错误。
func (s *Service) Match(ctx context.Context, req *types.MatchRequest) (*types.MatchResponse, error) {
	ctx, span := matchTracer.Start(ctx, "match.Query")
	defer span.End()

	if req == nil {
		return nil, types.NewValidationError("match.query", "请求不能为空")
	}

	jdTags, err := s.ExtractJDTags(ctx, req.JobDescription)
	if err != nil {
		return nil, err
	}
	if jdTags == nil {
		// 标签不可用按"无可信匹配"降级，不作为错误向上传播
		return &types.MatchResponse{
			Success:         false,
			MatchingResumes: []string{},
			NotFound:        []string{},
			Scores:          types.ScoreMap{},
			Message:         "未能从岗位描述中提取有效标签，请补充岗位要求后重试",
		}, nil
	}

	rows, err := s.corpus.ReadAll(ctx)
	if err != nil {
		if types.KindOf(err) != types.KindNotFound {
			return nil, fmt.Errorf("读取语料库失败: %w", err)
		}
		// 语料库尚未建立，按空语料处理
		rows = nil
	}

	topN := req.TopN
	if topN == 0 {
		topN = s.defaultTopN
	}
	threshold := req.Threshold
	if threshold == 0 {
		threshold = s.defaultThreshold
	}

	result, err := s.FindBestResumes(ctx, jdTags, rows, topN, threshold)
	if err != nil {
		return nil, err
	}

	resp := &types.MatchResponse{
		Success:         true,
		JDTags:          jdTags,
		MatchingResumes: []string{},
		NotFound:        []string{},
		Scores:          result.Scores,
	}
	for _, fileName := range result.Selected {
		exists, err := s.objects.Exists(ctx, fileName)
		if err != nil {
			// 在库校验失败的文件归入notFound，查询本身不失败
			s.logger.Printf("检查文件 %s 在库状态失败: %v", fileName, err)
			exists = false
		}
		if exists {
			resp.MatchingResumes = append(resp.MatchingResumes, fileName)
		} else {
			resp.NotFound = append(resp.NotFound, fileName)
		}
	}
	if len(result.Selected) == 0 {
		resp.Message = "没有找到符合要求的简历"
	}

	span.SetAttributes(
		attribute.Int("match.selected_count", len(result.Selected)),
		attribute.Int("match.confirmed_count", len(resp.MatchingResumes)),
	)
	return resp, nil
}

// RunIngestion 同步执行一轮摄取，整轮持有单写者锁。
// 锁被其他运行持有时返回 ErrRunInProgress。
func (s *Service) RunIngestion(ctx context.Context, opts IngestOptions) (*processor.Report, error) {
	runner, err := s.runnerFor(opts.StoreRef)
	if err != nil {
		return nil, err
	}

	release, err := s.acquireRunLock(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	return runner.Run(ctx, processor.RunOptions{
		RunID:        opts.RunID,
		SourcePrefix: opts.SourcePrefix,
		BatchSize:    opts.BatchSize,
		MaxDocs:      opts.MaxDocs,
	})
}

// StartIngestion 在后台启动一轮摄取并立即返回运行ID。
// 后台任务使用独立context，请求结束不会打断运行；锁在运行收尾后释放。
func (s *Service) StartIngestion(ctx context.Context, opts IngestOptions) (string, error) {
	runner, err := s.runnerFor(opts.StoreRef)
	if err != nil {
		return "", err
	}

	release, err := s.acquireRunLock(ctx)
	if err != nil {
		return "", err
	}

	runID := opts.RunID
	if runID == "" {
		runID = uuid.NewString()
	}

	go func() {
		defer release()
		_, err := runner.Run(context.Background(), processor.RunOptions{
			RunID:        runID,
			SourcePrefix: opts.SourcePrefix,
			BatchSize:    opts.BatchSize,
			MaxDocs:      opts.MaxDocs,
		})
		if err != nil {
			s.logger.Printf("后台摄取运行 %s 失败: %v", runID, err)
		}
	}()

	return runID, nil
}

// runnerFor 解析本次运行使用的管线：未指定语料库时用默认管线，
// 指定了语料库且配置了工厂时构造运行级管线。
func (s *Service) runnerFor(storeRef string) (IngestRunner, error) {
	if storeRef == "" {
		if s.pipeline == nil {
			return nil, fmt.Errorf("摄取管线未配置")
		}
		return s.pipeline, nil
	}
	if s.factory == nil {
		return nil, types.NewValidationError("match.run_ingestion", "本服务不支持按运行指定语料库")
	}
	return s.factory(storeRef)
}

// acquireRunLock 获取摄取运行锁并返回释放函数。
// 未配置锁组件时退化为空操作（单进程场景）。
func (s *Service) acquireRunLock(ctx context.Context) (func(), error) {
	if s.locker == nil {
		return func() {}, nil
	}

	lockValue, err := s.locker.AcquireLock(ctx, constants.KeyIngestLock, constants.IngestLockTTL)
	if err != nil {
		return nil, fmt.Errorf("获取摄取运行锁失败: %w", err)
	}
	if lockValue == "" {
		return nil, ErrRunInProgress
	}

	release := func() {
		// 释放不随调用方context取消，避免取消的运行把锁留到TTL过期
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if _, err := s.locker.ReleaseLock(rctx, constants.KeyIngestLock, lockValue); err != nil {
			s.logger.Printf("释放摄取运行锁失败: %v", err)
		}
	}
	return release, nil
}
