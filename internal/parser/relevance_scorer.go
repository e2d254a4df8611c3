package parser

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math"
	"sort"
	"strconv"
	"strings"

	"resume-match-go/internal/types"
	"resume-match-go/pkg/ratelimit"
	"resume-match-go/pkg/sanitize"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var scoreTracer = otel.Tracer("resume-match-go/parser/score")

const (
	// defaultTopN 最终返回的最大候选数
	defaultTopN = 3
	// defaultScoreThreshold 入选的最低分数线
	defaultScoreThreshold = 60
	// maxScore 合法分值上限，越界分值收敛到边界而不是丢弃
	maxScore = 100
)

// LLMRelevanceScorer 对一批已打标候选人做单次批量相关性评分。
// 全部候选人的摘要装进一个提示词，模型返回 文件名→分数 的JSON映射。
// 评分是尽力而为的：提示词装配之后的任何失败（调用失败、输出无法
// 修复、全部分值非法）都收敛为空结果，绝不向调用方抛错——查询路径
// 宁可返回"无匹配"也不能因模型抽风而崩溃。
type LLMRelevanceScorer struct {
	llmModel model.ToolCallingChatModel
	retry    ratelimit.Policy
	logger   *log.Logger
}

// LLMRelevanceScorerOption 配置选项
type LLMRelevanceScorerOption func(*LLMRelevanceScorer)

// WithScorerRetryPolicy 覆盖默认重试策略（仅限流类错误重试）
func WithScorerRetryPolicy(policy ratelimit.Policy) LLMRelevanceScorerOption {
	return func(s *LLMRelevanceScorer) {
		s.retry = policy
	}
}

// NewLLMRelevanceScorer 创建批量评分器。llmModel 不能为空；
// logger 为空时丢弃日志输出。
func NewLLMRelevanceScorer(llmModel model.ToolCallingChatModel, logger *log.Logger, options ...LLMRelevanceScorerOption) (*LLMRelevanceScorer, error) {
	if llmModel == nil {
		return nil, fmt.Errorf("LLM模型实例不能为空")
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	scorer := &LLMRelevanceScorer{
		llmModel: llmModel,
		retry:    ratelimit.DefaultPolicy(types.IsRetryable),
		logger:   logger,
	}
	for _, opt := range options {
		opt(scorer)
	}
	return scorer, nil
}

// Score 对候选人批量评分并选出最终名单。
//
// Selected 中只保留分数达到 threshold 的候选，按分数降序排列
// （同分按文件名升序），最多 topN 条。Scores 是完整的后校验分值表，
// 包含低于阈值与排在 topN 之外的条目。topN<=0 与 threshold<0 时
// 使用默认值。任何不可恢复的失败都返回空结果而不是错误。
func (s *LLMRelevanceScorer) Score(ctx context.Context, jdTags *types.TagSet, candidates []types.Candidate, topN, threshold int) *types.MatchResult {
	ctx, span := scoreTracer.Start(ctx, "score.Candidates")
	defer span.End()
	span.SetAttributes(attribute.Int("score.candidate_count", len(candidates)))

	if topN <= 0 {
		topN = defaultTopN
	}
	if threshold < 0 {
		threshold = defaultScoreThreshold
	}

	if jdTags == nil || len(candidates) == 0 {
		return types.EmptyMatchResult()
	}

	messages := []*schema.Message{
		schema.SystemMessage(scorerSystemPrompt),
		schema.UserMessage(buildScoringPrompt(jdTags, candidates)),
	}

	response, err := ratelimit.DoWithRetry(ctx, s.retry, func(ctx context.Context) (*schema.Message, error) {
		return s.llmModel.Generate(ctx, messages)
	})
	if err != nil {
		s.logger.Printf("评分调用LLM失败，返回空结果: %v", err)
		span.SetAttributes(attribute.Bool("score.degraded", true))
		return types.EmptyMatchResult()
	}
	if response == nil || strings.TrimSpace(response.Content) == "" {
		s.logger.Printf("评分模型返回空响应，返回空结果")
		return types.EmptyMatchResult()
	}

	content := strings.TrimPrefix(response.Content, "\uFEFF")
	result := sanitize.Repair(content)
	if !result.OK {
		s.logger.Printf("评分输出无法修复为JSON，返回空结果: %.200s", result.Raw)
		span.SetAttributes(attribute.Bool("score.degraded", true))
		return types.EmptyMatchResult()
	}

	var rawScores map[string]interface{}
	if err := json.Unmarshal([]byte(result.JSON), &rawScores); err != nil {
		s.logger.Printf("评分输出不是JSON对象，返回空结果: %v", err)
		span.SetAttributes(attribute.Bool("score.degraded", true))
		return types.EmptyMatchResult()
	}

	known := make(map[string]bool, len(candidates))
	for _, c := range candidates {
		known[c.FileName] = true
	}

	scores := types.ScoreMap{}
	for fileName, value := range rawScores {
		if !known[fileName] {
			s.logger.Printf("丢弃候选清单之外的文件名: %s", fileName)
			continue
		}
		score, ok := coerceScore(value)
		if !ok {
			s.logger.Printf("丢弃无法解析的分值 %s=%v", fileName, value)
			continue
		}
		scores[fileName] = score
	}

	selected := make([]string, 0, len(scores))
	for fileName, score := range scores {
		if score >= threshold {
			selected = append(selected, fileName)
		}
	}
	sort.Slice(selected, func(i, j int) bool {
		si, sj := scores[selected[i]], scores[selected[j]]
		if si != sj {
			return si > sj
		}
		return selected[i] < selected[j]
	})
	if len(selected) > topN {
		selected = selected[:topN]
	}

	span.SetAttributes(
		attribute.Int("score.scored_count", len(scores)),
		attribute.Int("score.selected_count", len(selected)),
	)
	return &types.MatchResult{Selected: selected, Scores: scores}
}

// coerceScore 把模型返回的分值统一收敛为 [0,100] 的整数。
// 模型偶尔输出字符串形式的数字（"85"），一并接受。
func coerceScore(value interface{}) (int, bool) {
	var f float64
	switch v := value.(type) {
	case float64:
		f = v
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}

	score := int(math.Round(f))
	if score < 0 {
		score = 0
	}
	if score > maxScore {
		score = maxScore
	}
	return score, true
}

const scorerSystemPrompt = `你是一位严格的技术招聘评审。你只输出一个严格合法的JSON对象：所有键名和字符串值使用双引号，不输出Markdown代码块、反引号或任何解释文字。`

// buildScoringPrompt 装配批量评分提示词：岗位要求 + 编号候选清单 + 评分标准。
func buildScoringPrompt(jdTags *types.TagSet, candidates []types.Candidate) string {
	var b strings.Builder

	b.WriteString("请根据下面的岗位要求，对每位候选人的匹配程度打分。\n\n")
	b.WriteString("【岗位要求】\n")
	fmt.Fprintf(&b, "- 技能要求: %s\n", orUnlimited(jdTags.Skills))
	fmt.Fprintf(&b, "- 编程语言: %s\n", orUnlimited(jdTags.ProgrammingLanguages))
	fmt.Fprintf(&b, "- 经验年限: %s\n\n", orUnlimited(jdTags.YearsOfExperience.String()))

	b.WriteString("【候选人清单】\n")
	for i, c := range candidates {
		fmt.Fprintf(&b, "%d. 文件名: %s\n   画像: %s\n", i+1, c.FileName, c.Summary)
	}

	b.WriteString(`
【评分标准】
- 90-100: 完美匹配，几乎满足所有硬性要求
- 75-89: 高度匹配，满足大部分核心要求
- 60-74: 良好匹配，具备主要技能但存在明显差距
- 60以下: 匹配不足，不推荐

【输出要求】
1. 输出单个JSON对象，键为候选人文件名，值为0-100的整数分数
2. 必须覆盖清单中的每一位候选人
3. 不得出现清单之外的文件名
4. 只输出JSON对象本身，不要输出任何其他文本

输出示例:
{"resume_a.pdf": 85, "resume_b.pdf": 55}`)

	return b.String()
}

func orUnlimited(s string) string {
	if strings.TrimSpace(s) == "" {
		return "不限"
	}
	return s
}
