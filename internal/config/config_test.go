package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestLoadConfigWithTaskModels 验证 task_models map 能被正确加载
func TestLoadConfigWithTaskModels(t *testing.T) {
	// 1. 创建一个临时的 YAML 配置文件，内容包含任务模型映射
	yamlContent := `
llm:
  api_key: "sk-test"
  model: "qwen-turbo"
  task_models:
    tag_extraction: "qwen-plus"
    relevance_scoring: "qwen-max"
scorer:
  topN: 5
  threshold: 70
`
	tmpDir, err := os.MkdirTemp("", "config-test")
	require.NoError(t, err, "无法创建临时目录")
	defer os.RemoveAll(tmpDir)

	configPath := filepath.Join(tmpDir, "config.yaml")
	err = os.WriteFile(configPath, []byte(yamlContent), 0644)
	require.NoError(t, err, "无法写入临时配置文件")

	// 2. 调用 LoadConfig 函数加载配置
	config, err := LoadConfig(configPath)

	// 3. 断言结果
	require.NoError(t, err, "加载具有正确语法的配置不应返回错误")
	require.NotNil(t, config, "配置对象不应为 nil")

	assert.Equal(t, "qwen-plus", config.GetModelForTask(TaskTagExtraction), "标签抽取任务应使用专用模型")
	assert.Equal(t, "qwen-max", config.GetModelForTask(TaskRelevanceScoring), "评分任务应使用专用模型")
	assert.Equal(t, "qwen-turbo", config.GetModelForTask("unknown_task"), "未配置的任务应回退到默认模型")

	// 评分器配置加载
	assert.Equal(t, 5, config.Scorer.TopN)
	assert.Equal(t, 70, config.Scorer.Threshold)
}

// TestLoadConfigAppliesDefaults 验证未配置项会被填充默认值
func TestLoadConfigAppliesDefaults(t *testing.T) {
	yamlContent := `
llm:
  api_key: "sk-test"
`
	tmpDir, err := os.MkdirTemp("", "config-test-defaults")
	require.NoError(t, err)
	defer os.RemoveAll(tmpDir)

	configPath := filepath.Join(tmpDir, "config.yaml")
	err = os.WriteFile(configPath, []byte(yamlContent), 0644)
	require.NoError(t, err)

	config, err := LoadConfig(configPath)
	require.NoError(t, err)
	require.NotNil(t, config)

	assert.Equal(t, ":8080", config.Server.Address)
	assert.Equal(t, 5, config.TagExtractor.MaxRetries, "重试次数默认应为5")
	assert.Equal(t, 1, config.TagExtractor.RetryWaitSeconds, "首次重试等待默认应为1秒")
	assert.Equal(t, 12000, config.TagExtractor.DocCharLimit)
	assert.Equal(t, 3, config.Scorer.TopN)
	assert.Equal(t, 60, config.Scorer.Threshold)
	assert.Equal(t, 1000, config.Ingestion.ChunkSize)
	assert.Equal(t, 200, config.Ingestion.ChunkOverlap)
	assert.Equal(t, 2, config.Ingestion.DocPauseSeconds)
	assert.Contains(t, config.Ingestion.Extensions, ".pdf")
	assert.Equal(t, config.LLM.Embedding.Dimensions, config.Qdrant.Dimension, "Qdrant维度默认跟随向量化维度")
}

// TestLoadConfigEnvOverrides 验证环境变量覆盖秘钥类配置
func TestLoadConfigEnvOverrides(t *testing.T) {
	yamlContent := `
llm:
  api_key: "from-file"
`
	tmpDir, err := os.MkdirTemp("", "config-test-env")
	require.NoError(t, err)
	defer os.RemoveAll(tmpDir)

	configPath := filepath.Join(tmpDir, "config.yaml")
	err = os.WriteFile(configPath, []byte(yamlContent), 0644)
	require.NoError(t, err)

	t.Setenv("LLM_API_KEY", "from-env")
	t.Setenv("MYSQL_PASSWORD", "env-secret")

	config, err := LoadConfig(configPath)
	require.NoError(t, err)

	assert.Equal(t, "from-env", config.LLM.APIKey, "环境变量应覆盖文件中的API密钥")
	assert.Equal(t, "env-secret", config.MySQL.Password)
}

// TestLoadConfigMissingFileInTests 验证测试环境下缺失配置文件时退回默认配置
func TestLoadConfigMissingFileInTests(t *testing.T) {
	config, err := LoadConfig(filepath.Join(os.TempDir(), "definitely-not-there.yaml"))
	require.NoError(t, err, "测试环境下缺失配置文件不应报错")
	require.NotNil(t, config)
	assert.NotEmpty(t, config.LLM.APIKey, "默认配置应包含测试用API密钥")
	assert.Equal(t, 3, config.Scorer.TopN)
}

// TestGetDuration 验证时长解析的回退行为
func TestGetDuration(t *testing.T) {
	assert.Equal(t, 5*time.Second, GetDuration("5s", time.Second))
	assert.Equal(t, time.Second, GetDuration("", time.Second))
	assert.Equal(t, time.Second, GetDuration("not-a-duration", time.Second))
}
