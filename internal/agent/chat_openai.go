package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"resume-match-go/internal/tracing"
	"resume-match-go/internal/types"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	// DashScope的OpenAI兼容端点
	defaultChatAPIURL    = "https://dashscope.aliyuncs.com/compatible-mode/v1/chat/completions"
	defaultChatModelName = "qwen-turbo"

	opLLMGenerate = "llm.generate"
)

var llmTracer = otel.Tracer("resume-match-go/agent/llm")

// OpenAIChatModel 是OpenAI兼容协议的对话模型客户端，实现
// model.ToolCallingChatModel 接口。限流失败(HTTP 429)被归类为
// 瞬时错误，其余失败一律归类为永久错误，由调用侧按类别决定重试。
type OpenAIChatModel struct {
	apiKey      string
	modelName   string
	apiURL      string
	temperature float64
	maxTokens   int
	httpClient  *http.Client
	logger      *log.Logger
}

var _ model.ToolCallingChatModel = (*OpenAIChatModel)(nil)

// OpenAIChatModelOption 客户端配置选项
type OpenAIChatModelOption func(*OpenAIChatModel)

// WithTemperature 设置采样温度，0表示使用服务端默认值
func WithTemperature(temperature float64) OpenAIChatModelOption {
	return func(m *OpenAIChatModel) {
		m.temperature = temperature
	}
}

// WithMaxTokens 设置生成上限，0表示使用服务端默认值
func WithMaxTokens(maxTokens int) OpenAIChatModelOption {
	return func(m *OpenAIChatModel) {
		m.maxTokens = maxTokens
	}
}

// WithHTTPClient 替换底层HTTP客户端，测试时注入
func WithHTTPClient(client *http.Client) OpenAIChatModelOption {
	return func(m *OpenAIChatModel) {
		m.httpClient = client
	}
}

// WithClientLogger 设置客户端日志记录器
func WithClientLogger(logger *log.Logger) OpenAIChatModelOption {
	return func(m *OpenAIChatModel) {
		m.logger = logger
	}
}

// NewOpenAIChatModel 创建对话模型客户端
func NewOpenAIChatModel(apiKey, modelName, apiURL string, options ...OpenAIChatModelOption) (*OpenAIChatModel, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("API密钥不能为空")
	}

	mn := modelName
	if strings.TrimSpace(mn) == "" {
		mn = defaultChatModelName
	}

	url := apiURL
	if strings.TrimSpace(url) == "" {
		url = defaultChatAPIURL
	}

	m := &OpenAIChatModel{
		apiKey:     apiKey,
		modelName:  mn,
		apiURL:     url,
		httpClient: &http.Client{Timeout: 120 * time.Second},
		logger:     log.New(io.Discard, "", 0),
	}
	for _, opt := range options {
		opt(m)
	}

	m.logger.Printf("[LLM客户端] API URL: %s, 模型: %s", url, mn)
	return m, nil
}

// chatCompletionRequest OpenAI兼容的请求体。
// eino的schema.Message自带role/content的JSON标签，可直接序列化。
type chatCompletionRequest struct {
	Model       string            `json:"model"`
	Messages    []*schema.Message `json:"messages"`
	Temperature float64           `json:"temperature,omitempty"`
	MaxTokens   int               `json:"max_tokens,omitempty"`
}

type chatChoice struct {
	Index        int    `json:"index"`
	FinishReason string `json:"finish_reason"`
	Message      struct {
		Role    string  `json:"role"`
		Content *string `json:"content"`
	} `json:"message"`
}

type chatCompletionResponse struct {
	ID      string       `json:"id"`
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
	Error   *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error,omitempty"`
}

// Generate 实现 model.ToolCallingChatModel 接口
func (m *OpenAIChatModel) Generate(ctx context.Context, messages []*schema.Message, options ...model.Option) (*schema.Message, error) {
	ctx, span := llmTracer.Start(ctx, opLLMGenerate, trace.WithAttributes(
		attribute.String("llm.model", m.modelName),
		attribute.Int("llm.message_count", len(messages)),
	))
	defer span.End()

	reqPayload := chatCompletionRequest{
		Model:       m.modelName,
		Messages:    messages,
		Temperature: m.temperature,
		MaxTokens:   m.maxTokens,
	}

	jsonData, err := json.Marshal(reqPayload)
	if err != nil {
		wrapped := types.NewPermanentError(opLLMGenerate, fmt.Errorf("序列化请求体失败: %w", err))
		tracing.RecordError(span, wrapped, tracing.ErrorTypeLLM)
		return nil, wrapped
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, m.apiURL, bytes.NewBuffer(jsonData))
	if err != nil {
		wrapped := types.NewPermanentError(opLLMGenerate, fmt.Errorf("创建HTTP请求失败: %w", err))
		tracing.RecordError(span, wrapped, tracing.ErrorTypeLLM)
		return nil, wrapped
	}
	httpReq.Header.Set("Authorization", "Bearer "+m.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := m.httpClient.Do(httpReq)
	if err != nil {
		wrapped := types.NewPermanentError(opLLMGenerate, fmt.Errorf("发送HTTP请求失败: %w", err))
		tracing.RecordError(span, wrapped, tracing.ErrorTypeLLM)
		return nil, wrapped
	}
	defer httpResp.Body.Close()

	bodyBytes, err := io.ReadAll(httpResp.Body)
	if err != nil {
		wrapped := types.NewPermanentError(opLLMGenerate, fmt.Errorf("读取响应体失败: %w", err))
		tracing.RecordError(span, wrapped, tracing.ErrorTypeLLM)
		return nil, wrapped
	}

	if httpResp.StatusCode == http.StatusTooManyRequests {
		m.logger.Printf("[LLM客户端] 触发限流: %s", tracing.TruncateString(string(bodyBytes), tracing.DefaultMaxLength))
		wrapped := types.NewTransientError(opLLMGenerate, fmt.Errorf("请求被限流，状态 %s: %s", httpResp.Status, string(bodyBytes)))
		tracing.RecordHTTPError(span, wrapped, httpResp.StatusCode)
		return nil, wrapped
	}
	if httpResp.StatusCode != http.StatusOK {
		wrapped := types.NewPermanentError(opLLMGenerate, fmt.Errorf("API请求失败，状态 %s: %s", httpResp.Status, string(bodyBytes)))
		tracing.RecordHTTPError(span, wrapped, httpResp.StatusCode)
		return nil, wrapped
	}

	var apiResp chatCompletionResponse
	if err := json.Unmarshal(bodyBytes, &apiResp); err != nil {
		wrapped := types.NewPermanentError(opLLMGenerate, fmt.Errorf("反序列化API响应失败: %w", err))
		tracing.RecordError(span, wrapped, tracing.ErrorTypeLLM)
		return nil, wrapped
	}
	if apiResp.Error != nil {
		wrapped := types.NewPermanentError(opLLMGenerate, fmt.Errorf("API返回错误: %s (code=%s)", apiResp.Error.Message, apiResp.Error.Code))
		tracing.RecordError(span, wrapped, tracing.ErrorTypeLLM)
		return nil, wrapped
	}
	if len(apiResp.Choices) == 0 {
		wrapped := types.NewPermanentError(opLLMGenerate, fmt.Errorf("API返回空选项"))
		tracing.RecordError(span, wrapped, tracing.ErrorTypeLLM)
		return nil, wrapped
	}

	apiMessage := apiResp.Choices[0].Message
	responseContent := ""
	if apiMessage.Content != nil {
		responseContent = *apiMessage.Content
	}

	role := schema.RoleType(apiMessage.Role)
	if role == "" {
		role = schema.Assistant
	}

	span.SetAttributes(attribute.Int("llm.response_chars", len(responseContent)))
	return &schema.Message{
		Role:    role,
		Content: responseContent,
	}, nil
}

// Stream 实现 model.ToolCallingChatModel 接口；本系统不使用流式输出
func (m *OpenAIChatModel) Stream(ctx context.Context, messages []*schema.Message, options ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, types.NewPermanentError(opLLMGenerate, fmt.Errorf("OpenAIChatModel 的 Stream 方法未实现"))
}

// WithTools 实现 model.ToolCallingChatModel 接口；本系统不绑定工具
func (m *OpenAIChatModel) WithTools(tools []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	return nil, fmt.Errorf("OpenAIChatModel 不支持工具调用")
}
