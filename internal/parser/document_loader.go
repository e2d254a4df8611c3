// Package parser 负责文档文本提取、切分以及面向LLM的信息抽取组件。
package parser

import (
	"context"
	"fmt"
	"io"
	"log"
	"path/filepath"
	"strings"

	"resume-match-go/internal/types"
)

// TextExtractor 从单一格式的文档中提取纯文本
type TextExtractor interface {
	// ExtractFromFile 从文件提取文本和元数据
	ExtractFromFile(ctx context.Context, filePath string) (string, map[string]interface{}, error)

	// ExtractTextFromReader 从io.Reader提取文本和元数据
	ExtractTextFromReader(ctx context.Context, reader io.Reader, uri string, options interface{}) (string, map[string]interface{}, error)
}

// DocumentLoader 按文件扩展名把提取请求分发给对应的提取器
type DocumentLoader struct {
	extractors map[string]TextExtractor
	logger     *log.Logger
}

// DocumentLoaderOption 加载器配置选项
type DocumentLoaderOption func(*DocumentLoader)

// WithLoaderLogger 设置日志记录器
func WithLoaderLogger(logger *log.Logger) DocumentLoaderOption {
	return func(l *DocumentLoader) {
		l.logger = logger
	}
}

// NewDocumentLoader 创建空的文档加载器，提取器通过 Register 注册
func NewDocumentLoader(options ...DocumentLoaderOption) *DocumentLoader {
	loader := &DocumentLoader{
		extractors: make(map[string]TextExtractor),
		logger:     log.New(io.Discard, "", 0),
	}
	for _, opt := range options {
		opt(loader)
	}
	return loader
}

// Register 注册某扩展名的提取器，扩展名带点且不区分大小写
func (l *DocumentLoader) Register(ext string, extractor TextExtractor) {
	l.extractors[strings.ToLower(ext)] = extractor
}

// Supported 判断文件名是否有已注册的提取器
func (l *DocumentLoader) Supported(fileName string) bool {
	_, ok := l.extractors[strings.ToLower(filepath.Ext(fileName))]
	return ok
}

// ExtractText 提取文件的纯文本内容
func (l *DocumentLoader) ExtractText(ctx context.Context, filePath string) (string, map[string]interface{}, error) {
	ext := strings.ToLower(filepath.Ext(filePath))
	extractor, ok := l.extractors[ext]
	if !ok {
		return "", nil, types.NewValidationError("loader.extract", fmt.Sprintf("不支持的文件类型: %s", ext))
	}

	l.logger.Printf("[文档加载器] 提取 %s (%s)", filePath, ext)
	return extractor.ExtractFromFile(ctx, filePath)
}
