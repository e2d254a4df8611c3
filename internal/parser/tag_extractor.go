package parser

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"strings"

	"resume-match-go/internal/types"
	"resume-match-go/pkg/ratelimit"
	"resume-match-go/pkg/sanitize"
	"resume-match-go/pkg/utils"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tagTracer = otel.Tracer("resume-match-go/parser/tags")

const (
	opExtractTags = "tags.extract"

	// defaultDocCharLimit 进入提示词前的文档符文上限。超长文档截断
	// 保留前N个字符，牺牲尾部内容换取可控的成本与时延。
	defaultDocCharLimit = 12000
)

// FieldMode 抽取模式。岗位描述与简历的字段清单不同：
// 简历模式额外要求归一化岗位名称与主要成就。
type FieldMode int

const (
	// FieldModeJD 岗位描述模式：技能/编程语言/年限
	FieldModeJD FieldMode = iota
	// FieldModeResume 简历模式：在JD字段之外增加 jobTitle 与 achievements
	FieldModeResume
)

func (m FieldMode) String() string {
	if m == FieldModeResume {
		return "resume"
	}
	return "jd"
}

// LLMTagExtractor 基于LLM的结构化标签抽取器。
// 对单份文档（岗位描述或简历全文）发起一次模型调用，把自由文本
// 压缩为 TagSet。模型输出经过清洗与Schema校验，无法修复的输出
// 记录日志后返回 (nil, nil) 降级——标签缺失是数据质量问题，由
// 调用方决定如何呈现，不作为故障向上传播。
type LLMTagExtractor struct {
	llmModel     model.ToolCallingChatModel
	retry        ratelimit.Policy
	docCharLimit int
	logger       *log.Logger
}

// LLMTagExtractorOption 配置选项
type LLMTagExtractorOption func(*LLMTagExtractor)

// WithExtractorRetryPolicy 覆盖默认重试策略（仅限流类错误重试）
func WithExtractorRetryPolicy(policy ratelimit.Policy) LLMTagExtractorOption {
	return func(e *LLMTagExtractor) {
		e.retry = policy
	}
}

// WithDocCharLimit 覆盖文档符文截断上限，<=0 表示不截断
func WithDocCharLimit(limit int) LLMTagExtractorOption {
	return func(e *LLMTagExtractor) {
		e.docCharLimit = limit
	}
}

// NewLLMTagExtractor 创建标签抽取器。llmModel 不能为空；
// logger 为空时丢弃日志输出。
func NewLLMTagExtractor(llmModel model.ToolCallingChatModel, logger *log.Logger, options ...LLMTagExtractorOption) (*LLMTagExtractor, error) {
	if llmModel == nil {
		return nil, fmt.Errorf("LLM模型实例不能为空")
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	extractor := &LLMTagExtractor{
		llmModel:     llmModel,
		retry:        ratelimit.DefaultPolicy(types.IsRetryable),
		docCharLimit: defaultDocCharLimit,
		logger:       logger,
	}
	for _, opt := range options {
		opt(extractor)
	}
	return extractor, nil
}

// Extract 从文档文本中抽取结构化标签。
//
// 返回值语义分三类：
//   - (tags, nil)：抽取成功；
//   - (nil, nil)：模型调用成功但输出无法修复为合法标签，降级；
//   - (nil, err)：空文本校验失败，或模型调用本身失败
//     （限流重试耗尽、鉴权/网络等永久故障）。
func (e *LLMTagExtractor) Extract(ctx context.Context, documentText string, mode FieldMode) (*types.TagSet, error) {
	ctx, span := tagTracer.Start(ctx, "tags.Extract")
	defer span.End()
	span.SetAttributes(
		attribute.String("tags.mode", mode.String()),
		attribute.Int("tags.document_chars", len([]rune(documentText))),
	)

	if strings.TrimSpace(documentText) == "" {
		return nil, types.NewValidationError(opExtractTags, "文档内容为空")
	}

	truncated := utils.TruncateRunes(documentText, e.docCharLimit)
	if len(truncated) != len(documentText) {
		e.logger.Printf("文档超长，截断到前%d个字符参与抽取", e.docCharLimit)
		span.SetAttributes(attribute.Bool("tags.truncated", true))
	}

	messages := []*schema.Message{
		schema.SystemMessage(tagSystemPrompt),
		schema.UserMessage(buildTagPrompt(truncated, mode)),
	}

	response, err := ratelimit.DoWithRetry(ctx, e.retry, func(ctx context.Context) (*schema.Message, error) {
		return e.llmModel.Generate(ctx, messages)
	})
	if err != nil {
		return nil, fmt.Errorf("标签抽取调用LLM失败: %w", err)
	}
	if response == nil || strings.TrimSpace(response.Content) == "" {
		e.logger.Printf("模型返回空响应，标签不可用 (mode=%s)", mode)
		return nil, nil
	}

	content := strings.TrimPrefix(response.Content, "\uFEFF")
	result := sanitize.Repair(content)
	if !result.OK {
		e.logger.Printf("模型输出无法修复为JSON，标签不可用 (mode=%s): %.200s", mode, result.Raw)
		span.SetAttributes(attribute.Bool("tags.malformed", true))
		return nil, nil
	}

	if err := validateTagSetJSON(result.JSON, mode); err != nil {
		e.logger.Printf("标签JSON校验失败，标签不可用 (mode=%s): %v", mode, err)
		span.SetAttributes(attribute.Bool("tags.malformed", true))
		return nil, nil
	}

	var tags types.TagSet
	if err := json.Unmarshal([]byte(result.JSON), &tags); err != nil {
		e.logger.Printf("标签JSON反序列化失败，标签不可用 (mode=%s): %v", mode, err)
		return nil, nil
	}

	if mode == FieldModeResume {
		tags.JobTitle = NormalizeJobTitle(tags.JobTitle)
	}
	return &tags, nil
}

const tagSystemPrompt = `你是一位专业的招聘信息结构化助手。你只输出一个严格合法的JSON对象：所有键名和字符串值使用双引号，不输出Markdown代码块、反引号或任何解释文字。`

const jdTagPromptTemplate = `请从下面的【岗位描述】中抽取结构化要求，输出为单个JSON对象，字段如下：
- "skills": 字符串，逗号分隔的技能与工具要求（编程语言除外），保留原文表述
- "programmingLanguages": 字符串，逗号分隔的编程语言要求
- "yearsOfExperience": 数字，要求的工作年限；给出区间时取上限，未明确时可给出合理估计或空字符串

只输出JSON对象本身，不要输出任何其他文本。

【岗位描述】:
"""
%s
"""`

const resumeTagPromptTemplate = `请从下面的【简历全文】中抽取候选人画像，输出为单个JSON对象，字段如下：
- "jobTitle": 字符串，候选人的标准化岗位名称，去掉资历修饰词（如"高级"、"资深"、"Senior"、"Lead"），例如"高级Java工程师"写作"Java工程师"
- "skills": 字符串，逗号分隔的技能与工具（编程语言除外）
- "programmingLanguages": 字符串，逗号分隔的编程语言
- "yearsOfExperience": 数字，候选人的工作年限；无法确定时给出空字符串
- "achievements": 字符串，逗号分隔的主要成就与量化结果，没有则给出空字符串

只输出JSON对象本身，不要输出任何其他文本。

【简历全文】:
"""
%s
"""`

func buildTagPrompt(documentText string, mode FieldMode) string {
	template := jdTagPromptTemplate
	if mode == FieldModeResume {
		template = resumeTagPromptTemplate
	}
	return fmt.Sprintf(template, documentText)
}

// 岗位名称中的资历修饰词。归一化用于跨简历聚合同类岗位，
// 提示词已要求模型剥离，这里对漏网的再剥离一次。
var (
	seniorityPrefixes = []string{"高级", "资深", "首席", "中级", "初级", "助理"}

	seniorityWords = map[string]bool{
		"senior":    true,
		"junior":    true,
		"staff":     true,
		"principal": true,
		"lead":      true,
		"chief":     true,
		"associate": true,
		"sr":        true,
		"sr.":       true,
		"jr":        true,
		"jr.":       true,
	}
)

// NormalizeJobTitle 去掉岗位名称中的资历修饰词。
// 剥离后会变成空串的名称保持原样返回。
func NormalizeJobTitle(title string) string {
	trimmed := strings.TrimSpace(title)
	if trimmed == "" {
		return ""
	}

	normalized := trimmed
	for changed := true; changed; {
		changed = false
		for _, prefix := range seniorityPrefixes {
			if strings.HasPrefix(normalized, prefix) {
				normalized = strings.TrimSpace(strings.TrimPrefix(normalized, prefix))
				changed = true
			}
		}
	}

	words := strings.Fields(normalized)
	kept := words[:0]
	for _, w := range words {
		if seniorityWords[strings.ToLower(w)] {
			continue
		}
		kept = append(kept, w)
	}
	normalized = strings.TrimSpace(strings.Join(kept, " "))

	if normalized == "" {
		return trimmed
	}
	return normalized
}
