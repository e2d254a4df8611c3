package agent

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"resume-match-go/internal/types"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestOpenAIChatModelGenerate 验证正常生成路径及请求体格式
func TestOpenAIChatModelGenerate(t *testing.T) {
	var capturedAuth string
	var capturedReq chatCompletionRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		capturedAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&capturedReq))

		content := `{"skills": "Go, Kubernetes"}`
		resp := chatCompletionResponse{
			ID:    "chatcmpl-test",
			Model: "qwen-turbo",
			Choices: []chatChoice{
				{Index: 0, FinishReason: "stop"},
			},
		}
		resp.Choices[0].Message.Role = "assistant"
		resp.Choices[0].Message.Content = &content

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client, err := NewOpenAIChatModel("sk-test", "qwen-turbo", server.URL,
		WithTemperature(0.1), WithMaxTokens(512))
	require.NoError(t, err)

	messages := []*schema.Message{
		schema.SystemMessage("你是信息抽取助手"),
		schema.UserMessage("抽取以下岗位描述的标签"),
	}
	resp, err := client.Generate(context.Background(), messages)
	require.NoError(t, err)
	require.NotNil(t, resp)

	assert.Equal(t, schema.Assistant, resp.Role)
	assert.Equal(t, `{"skills": "Go, Kubernetes"}`, resp.Content)

	// 请求格式断言
	assert.Equal(t, "Bearer sk-test", capturedAuth)
	assert.Equal(t, "qwen-turbo", capturedReq.Model)
	assert.InDelta(t, 0.1, capturedReq.Temperature, 1e-9)
	assert.Equal(t, 512, capturedReq.MaxTokens)
	require.Len(t, capturedReq.Messages, 2)
	assert.Equal(t, schema.System, capturedReq.Messages[0].Role)
}

// TestOpenAIChatModelRateLimited 验证429被归类为瞬时错误
func TestOpenAIChatModelRateLimited(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"message":"Requests throttled","code":"Throttling.RateQuota"}}`))
	}))
	defer server.Close()

	client, err := NewOpenAIChatModel("sk-test", "", server.URL)
	require.NoError(t, err)

	_, err = client.Generate(context.Background(), []*schema.Message{schema.UserMessage("hi")})
	require.Error(t, err)
	assert.Equal(t, types.KindTransientExternal, types.KindOf(err), "429必须归类为瞬时错误以触发重试")
	assert.True(t, types.IsRetryable(err))
}

// TestOpenAIChatModelServerError 验证非429失败被归类为永久错误
func TestOpenAIChatModelServerError(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		body       string
	}{
		{"服务端内部错误", http.StatusInternalServerError, `{"error":{"message":"internal"}}`},
		{"鉴权失败", http.StatusUnauthorized, `{"error":{"message":"invalid api key"}}`},
		{"请求无效", http.StatusBadRequest, `{"error":{"message":"bad request"}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.statusCode)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			client, err := NewOpenAIChatModel("sk-test", "", server.URL)
			require.NoError(t, err)

			_, err = client.Generate(context.Background(), []*schema.Message{schema.UserMessage("hi")})
			require.Error(t, err)
			assert.Equal(t, types.KindPermanentExternal, types.KindOf(err), "非限流失败必须立即失败，不得重试")
			assert.False(t, types.IsRetryable(err))
		})
	}
}

// TestOpenAIChatModelEmptyChoices 验证空选项响应报永久错误
func TestOpenAIChatModelEmptyChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":"x","choices":[]}`))
	}))
	defer server.Close()

	client, err := NewOpenAIChatModel("sk-test", "", server.URL)
	require.NoError(t, err)

	_, err = client.Generate(context.Background(), []*schema.Message{schema.UserMessage("hi")})
	require.Error(t, err)
	assert.Equal(t, types.KindPermanentExternal, types.KindOf(err))
}

// TestNewOpenAIChatModelValidation 验证构造参数校验与默认值
func TestNewOpenAIChatModelValidation(t *testing.T) {
	_, err := NewOpenAIChatModel("", "m", "http://x")
	assert.Error(t, err, "空API密钥应报错")

	client, err := NewOpenAIChatModel("sk-test", "", "")
	require.NoError(t, err)
	assert.Equal(t, defaultChatModelName, client.modelName)
	assert.Equal(t, defaultChatAPIURL, client.apiURL)
}

// TestOpenAIChatModelNoTools 验证工具绑定被明确拒绝
func TestOpenAIChatModelNoTools(t *testing.T) {
	client, err := NewOpenAIChatModel("sk-test", "", "http://localhost:1")
	require.NoError(t, err)

	_, err = client.WithTools(nil)
	assert.Error(t, err)
}
