package parser

import (
	"strings"
)

// WindowChunker 把长文本切成固定大小、带重叠的窗口。
// 重叠部分保留跨窗口的上下文，供下游抽取与向量化使用。
type WindowChunker struct {
	chunkSize int // 每个窗口的符文数
	overlap   int // 相邻窗口的重叠符文数
}

// NewWindowChunker 创建窗口切分器。
// chunkSize<=0 取1000，overlap<0 取200；overlap>=chunkSize 时压到chunkSize/5。
func NewWindowChunker(chunkSize, overlap int) *WindowChunker {
	if chunkSize <= 0 {
		chunkSize = 1000
	}
	if overlap < 0 {
		overlap = 200
	}
	if overlap >= chunkSize {
		overlap = chunkSize / 5
	}
	return &WindowChunker{chunkSize: chunkSize, overlap: overlap}
}

// Chunk 按符文切分文本，空白窗口被丢弃
func (c *WindowChunker) Chunk(text string) []string {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}
	if len(runes) <= c.chunkSize {
		if strings.TrimSpace(text) == "" {
			return nil
		}
		return []string{text}
	}

	step := c.chunkSize - c.overlap
	chunks := make([]string, 0, (len(runes)+step-1)/step)
	for start := 0; start < len(runes); start += step {
		end := start + c.chunkSize
		if end > len(runes) {
			end = len(runes)
		}
		window := string(runes[start:end])
		if strings.TrimSpace(window) != "" {
			chunks = append(chunks, window)
		}
		if end == len(runes) {
			break
		}
	}
	return chunks
}
