package parser

import (
	"bytes"
	"context"
	"fmt"
	"html"
	"io"
	"log"
	"regexp"
	"strings"
	"time"

	"github.com/nguyenthenguyen/docx"
)

// 文档XML标记，按段落与换行映射后剥除
var (
	docxParagraphRe = regexp.MustCompile(`</w:p>`)
	docxBreakRe     = regexp.MustCompile(`<w:br[^>]*/>`)
	docxTabRe       = regexp.MustCompile(`<w:tab[^>]*/>`)
	docxTagRe       = regexp.MustCompile(`<[^>]+>`)
)

// DocxTextExtractor 从Word文档(.docx)中提取纯文本
type DocxTextExtractor struct {
	logger *log.Logger
}

var _ TextExtractor = (*DocxTextExtractor)(nil)

// DocxOption 提取器配置选项
type DocxOption func(*DocxTextExtractor)

// WithDocxLogger 设置日志记录器
func WithDocxLogger(logger *log.Logger) DocxOption {
	return func(e *DocxTextExtractor) {
		e.logger = logger
	}
}

// NewDocxTextExtractor 创建Word文档提取器
func NewDocxTextExtractor(options ...DocxOption) *DocxTextExtractor {
	extractor := &DocxTextExtractor{
		logger: log.New(io.Discard, "", 0),
	}
	for _, opt := range options {
		opt(extractor)
	}
	return extractor
}

// ExtractFromFile 从docx文件提取文本
func (e *DocxTextExtractor) ExtractFromFile(ctx context.Context, filePath string) (string, map[string]interface{}, error) {
	startTime := time.Now()

	doc, err := docx.ReadDocxFile(filePath)
	if err != nil {
		return "", nil, fmt.Errorf("解析docx文件 %s 失败: %w", filePath, err)
	}
	defer doc.Close()

	text := flattenDocxXML(doc.Editable().GetContent())
	metadata := map[string]interface{}{
		"source_file_path":       filePath,
		"extraction_time":        time.Now().Format(time.RFC3339),
		"text_length":            len(text),
		"processing_duration_ms": time.Since(startTime).Milliseconds(),
	}

	e.logger.Printf("[Docx解析器] %s: 提取了 %d 个字符 (用时 %.2f秒)", filePath, len(text), time.Since(startTime).Seconds())
	return text, metadata, nil
}

// ExtractTextFromReader 从Reader提取文本；docx需要随机访问，先读入内存
func (e *DocxTextExtractor) ExtractTextFromReader(ctx context.Context, reader io.Reader, uri string, options interface{}) (string, map[string]interface{}, error) {
	startTime := time.Now()

	data, err := io.ReadAll(reader)
	if err != nil {
		return "", nil, fmt.Errorf("读取docx内容失败: %w", err)
	}

	doc, err := docx.ReadDocxFromMemory(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", nil, fmt.Errorf("解析docx内容失败 (URI: %s): %w", uri, err)
	}
	defer doc.Close()

	text := flattenDocxXML(doc.Editable().GetContent())
	metadata := map[string]interface{}{
		"source_file_path":       uri,
		"extraction_time":        time.Now().Format(time.RFC3339),
		"text_length":            len(text),
		"processing_duration_ms": time.Since(startTime).Milliseconds(),
	}
	return text, metadata, nil
}

// flattenDocxXML 把document.xml的内容还原成带换行的纯文本。
// 段落与强制换行映射为换行符，其余XML标记剥除，实体反转义。
func flattenDocxXML(content string) string {
	s := docxParagraphRe.ReplaceAllString(content, "\n")
	s = docxBreakRe.ReplaceAllString(s, "\n")
	s = docxTabRe.ReplaceAllString(s, " ")
	s = docxTagRe.ReplaceAllString(s, "")
	s = html.UnescapeString(s)
	return strings.TrimSpace(s)
}
