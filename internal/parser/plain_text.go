package parser

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"
	"unicode/utf8"
)

// PlainTextExtractor 直接读取纯文本文件
type PlainTextExtractor struct{}

var _ TextExtractor = (*PlainTextExtractor)(nil)

// NewPlainTextExtractor 创建纯文本提取器
func NewPlainTextExtractor() *PlainTextExtractor {
	return &PlainTextExtractor{}
}

// ExtractFromFile 读取文件全部内容
func (e *PlainTextExtractor) ExtractFromFile(ctx context.Context, filePath string) (string, map[string]interface{}, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return "", nil, fmt.Errorf("读取文本文件 %s 失败: %w", filePath, err)
	}
	return e.decode(data, filePath)
}

// ExtractTextFromReader 读取Reader全部内容
func (e *PlainTextExtractor) ExtractTextFromReader(ctx context.Context, reader io.Reader, uri string, options interface{}) (string, map[string]interface{}, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return "", nil, fmt.Errorf("读取文本内容失败: %w", err)
	}
	return e.decode(data, uri)
}

func (e *PlainTextExtractor) decode(data []byte, source string) (string, map[string]interface{}, error) {
	text := string(data)
	if !utf8.ValidString(text) {
		// 含非法UTF-8序列的文件按字节替换处理，不中断摄取
		text = string([]rune(text))
	}
	metadata := map[string]interface{}{
		"source_file_path": source,
		"extraction_time":  time.Now().Format(time.RFC3339),
		"text_length":      len(text),
	}
	return text, metadata, nil
}
