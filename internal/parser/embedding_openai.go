package parser

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

	"resume-match-go/internal/config"
	"resume-match-go/internal/types"

	"github.com/cloudwego/eino/components/embedding"
)

// OpenAIEmbedder 通过OpenAI兼容端点做文本向量化，实现eino的
// embedding.Embedder 接口。限流(429)归类为瞬时错误，其余为永久错误。
type OpenAIEmbedder struct {
	apiKey     string
	model      string
	dimensions int
	httpClient *http.Client
	baseURL    string
	logger     *log.Logger
}

var _ embedding.Embedder = (*OpenAIEmbedder)(nil)

const opEmbed = "embedding.embed"

// NewOpenAIEmbedder 创建向量化客户端
func NewOpenAIEmbedder(apiKey string, embeddingCfg config.EmbeddingConfig, logger *log.Logger) (*OpenAIEmbedder, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("API密钥不能为空")
	}

	model := embeddingCfg.Model
	if model == "" {
		model = "text-embedding-v3"
	}
	baseURL := embeddingCfg.BaseURL
	if baseURL == "" {
		baseURL = "https://dashscope.aliyuncs.com/compatible-mode/v1/embeddings"
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	return &OpenAIEmbedder{
		apiKey:     apiKey,
		model:      model,
		dimensions: embeddingCfg.Dimensions,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		baseURL:    baseURL,
		logger:     logger,
	}, nil
}

// GetDimensions 返回配置的向量维度
func (a *OpenAIEmbedder) GetDimensions() int {
	return a.dimensions
}

type embeddingRequest struct {
	Input      interface{} `json:"input"` // string 或 []string
	Model      string      `json:"model"`
	Dimensions int         `json:"dimensions,omitempty"`
}

type embeddingDataEntry struct {
	Object    string    `json:"object"`
	Embedding []float64 `json:"embedding"`
	Index     int       `json:"index"`
}

type embeddingResponse struct {
	Object string               `json:"object"`
	Data   []embeddingDataEntry `json:"data"`
	Model  string               `json:"model"`
	Usage  struct {
		PromptTokens int `json:"prompt_tokens"`
		TotalTokens  int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error,omitempty"`
}

// EmbedStrings 将文本转换为向量，实现 embedding.Embedder 接口
func (a *OpenAIEmbedder) EmbedStrings(ctx context.Context, texts []string, opts ...embedding.Option) ([][]float64, error) {
	if len(texts) == 0 {
		return [][]float64{}, nil
	}

	options := &embedding.Options{}
	embedding.GetCommonOptions(options, opts...)

	effectiveModel := a.model
	if options.Model != nil && *options.Model != "" {
		effectiveModel = *options.Model
	}

	var inputBody interface{}
	if len(texts) == 1 {
		inputBody = texts[0]
	} else {
		inputBody = texts
	}

	reqBody := embeddingRequest{
		Input: inputBody,
		Model: effectiveModel,
	}
	if a.dimensions > 0 {
		reqBody.Dimensions = a.dimensions
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, types.NewPermanentError(opEmbed, fmt.Errorf("序列化请求失败: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, types.NewPermanentError(opEmbed, fmt.Errorf("创建HTTP请求失败: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.apiKey)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, types.NewPermanentError(opEmbed, fmt.Errorf("发送HTTP请求失败: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, types.NewPermanentError(opEmbed, fmt.Errorf("读取响应体失败: %w", err))
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, types.NewTransientError(opEmbed, fmt.Errorf("向量化请求被限流, 状态码: %d, 响应: %s", resp.StatusCode, string(body)))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, types.NewPermanentError(opEmbed, fmt.Errorf("API调用失败, 状态码: %d, 响应: %s", resp.StatusCode, string(body)))
	}

	var parsedResp embeddingResponse
	if err := json.Unmarshal(body, &parsedResp); err != nil {
		return nil, types.NewPermanentError(opEmbed, fmt.Errorf("解析响应JSON失败: %w", err))
	}
	if parsedResp.Error != nil && parsedResp.Error.Message != "" {
		return nil, types.NewPermanentError(opEmbed, fmt.Errorf("API返回错误: 类型=%s, 消息='%s', Code=%s",
			parsedResp.Error.Type, parsedResp.Error.Message, parsedResp.Error.Code))
	}

	outputEmbeddings := make([][]float64, len(parsedResp.Data))
	for i, dataEntry := range parsedResp.Data {
		outputEmbeddings[i] = dataEntry.Embedding
	}

	if len(outputEmbeddings) > 0 {
		a.logger.Printf("[向量化] 完成 %d 条文本, 首向量维度: %d, 预览: %s, 消耗token: %d",
			len(texts), firstEmbeddingDim(outputEmbeddings), truncateEmbedding(outputEmbeddings[0]), parsedResp.Usage.TotalTokens)
	}
	return outputEmbeddings, nil
}

// firstEmbeddingDim 取首个向量的维度用于日志
func firstEmbeddingDim(embeddings [][]float64) int {
	if len(embeddings) > 0 {
		return len(embeddings[0])
	}
	return 0
}

// truncateEmbedding 截断向量的字符串表示，便于日志排查
func truncateEmbedding(vector []float64) string {
	const maxLen = 6
	const showEachSide = 3

	if len(vector) <= maxLen {
		return fmt.Sprintf("%v", vector)
	}

	var truncated []string
	for i := 0; i < showEachSide; i++ {
		truncated = append(truncated, fmt.Sprintf("%.4f", vector[i]))
	}
	truncated = append(truncated, "...")
	for i := len(vector) - showEachSide; i < len(vector); i++ {
		truncated = append(truncated, fmt.Sprintf("%.4f", vector[i]))
	}
	return fmt.Sprintf("[%s]", strings.Join(truncated, ", "))
}
