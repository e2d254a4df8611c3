package handler_test

import (
	"context"
	"fmt"
	"sync"

	"resume-match-go/internal/match"
	"resume-match-go/internal/storage"
	"resume-match-go/internal/types"

	"github.com/cloudwego/eino/components/embedding"
)

// ---- handler单元测试共用的stub服务 ----

type stubMatchService struct {
	mu   sync.Mutex
	resp *types.MatchResponse
	err  error
	got  *types.MatchRequest
}

func (s *stubMatchService) Match(_ context.Context, req *types.MatchRequest) (*types.MatchResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = req
	return s.resp, s.err
}

type stubIngestService struct {
	mu    sync.Mutex
	runID string
	err   error
	got   *match.IngestOptions
}

func (s *stubIngestService) StartIngestion(_ context.Context, opts match.IngestOptions) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = &opts
	return s.runID, s.err
}

type stubStatusReader struct {
	statuses map[string]*types.RunStatus
	err      error
}

func (s *stubStatusReader) GetRunStatus(_ context.Context, runID string) (*types.RunStatus, error) {
	if s.err != nil {
		return nil, s.err
	}
	if st, ok := s.statuses[runID]; ok {
		return st, nil
	}
	return nil, types.NewNotFoundError("redis.get_run_status", fmt.Sprintf("摄取运行 %s 不存在", runID))
}

type stubEmbedder struct {
	vector []float64
	err    error
}

func (s *stubEmbedder) EmbedStrings(_ context.Context, texts []string, _ ...embedding.Option) ([][]float64, error) {
	if s.err != nil {
		return nil, s.err
	}
	out := make([][]float64, len(texts))
	for i := range texts {
		out[i] = s.vector
	}
	return out, nil
}

type stubSearcher struct {
	mu       sync.Mutex
	results  []storage.SearchResult
	err      error
	gotLimit int
}

func (s *stubSearcher) SearchSimilarChunks(_ context.Context, _ []float64, limit int) ([]storage.SearchResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gotLimit = limit
	if s.err != nil {
		return nil, s.err
	}
	return s.results, nil
}
