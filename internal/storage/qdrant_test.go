package storage_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"resume-match-go/internal/config"
	"resume-match-go/internal/storage"

	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// qdrantMock 记录请求顺序的Qdrant模拟服务器
type qdrantMock struct {
	mu       sync.Mutex
	calls    []string // "METHOD path"
	putBody  []byte   // 最近一次PUT points的请求体
	lastAuth string   // 最近一次请求的api-key头
}

func (m *qdrantMock) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		m.calls = append(m.calls, r.Method+" "+r.URL.Path)
		m.lastAuth = r.Header.Get("api-key")
		m.mu.Unlock()

		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/collections/test_collection":
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"result": {"config": {"params": {"vectors": {"size": 4, "distance": "Cosine"}}}}}`))

		case r.Method == http.MethodPost && r.URL.Path == "/collections/test_collection/points/delete":
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"result": {"status": "completed"}, "status": "ok"}`))

		case r.Method == http.MethodPut && r.URL.Path == "/collections/test_collection/points":
			body, _ := io.ReadAll(r.Body)
			m.mu.Lock()
			m.putBody = body
			m.mu.Unlock()
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"result": {"status": "completed"}, "status": "ok", "time": 0.001}`))

		case r.Method == http.MethodPost && r.URL.Path == "/collections/test_collection/points/search":
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{
				"result": [
					{
						"id": "a0b1c2d3-0000-0000-0000-000000000001",
						"score": 0.95,
						"payload": {"file_name": "zhang_san.pdf", "chunk_index": 0, "content_text": "精通Go语言"}
					},
					{
						"id": "a0b1c2d3-0000-0000-0000-000000000002",
						"score": 0.87,
						"payload": {"file_name": "li_si.pdf", "chunk_index": 2, "content_text": "五年后端经验"}
					}
				],
				"status": "ok",
				"time": 0.002
			}`))

		case r.Method == http.MethodPost && r.URL.Path == "/collections/test_collection/points/count":
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"result": {"count": 42}, "status": "ok"}`))

		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}
}

func newTestQdrant(t *testing.T, mock *qdrantMock, apiKey string) *storage.Qdrant {
	t.Helper()
	server := httptest.NewServer(mock.handler())
	t.Cleanup(server.Close)

	cfg := &config.QdrantConfig{
		Endpoint:   server.URL,
		Collection: "test_collection",
		Dimension:  4,
		APIKey:     apiKey,
	}
	client, err := storage.NewQdrant(cfg, storage.WithHTTPTimeout(5*time.Second))
	require.NoError(t, err, "应该成功创建Qdrant客户端")
	return client
}

func TestNewQdrantChecksExistingCollection(t *testing.T) {
	mock := &qdrantMock{}
	client := newTestQdrant(t, mock, "")
	require.NotNil(t, client)
	assert.Equal(t, []string{"GET /collections/test_collection"}, mock.calls)
}

func TestNewQdrantCreatesMissingCollection(t *testing.T) {
	var created bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet && r.URL.Path == "/collections/fresh_collection" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if r.Method == http.MethodPut && r.URL.Path == "/collections/fresh_collection" {
			body, _ := io.ReadAll(r.Body)
			var req struct {
				Vectors struct {
					Size     int    `json:"size"`
					Distance string `json:"distance"`
				} `json:"vectors"`
			}
			require.NoError(t, json.Unmarshal(body, &req))
			assert.Equal(t, 8, req.Vectors.Size)
			assert.Equal(t, "Cosine", req.Vectors.Distance)
			created = true
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"result": true, "status": "ok"}`))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	cfg := &config.QdrantConfig{
		Endpoint:   server.URL,
		Collection: "fresh_collection",
		Dimension:  8,
	}
	_, err := storage.NewQdrant(cfg)
	require.NoError(t, err)
	assert.True(t, created, "集合不存在时应自动创建")
}

func TestUpsertDocumentChunksDeterministicIDs(t *testing.T) {
	mock := &qdrantMock{}
	client := newTestQdrant(t, mock, "")

	chunks := []string{"第一段内容", "第二段内容"}
	embeddings := [][]float64{
		{0.1, 0.2, 0.3, 0.4},
		{0.5, 0.6, 0.7, 0.8},
	}

	ids, err := client.UpsertDocumentChunks(context.Background(), "zhang_san.pdf", chunks, embeddings)
	require.NoError(t, err)
	require.Len(t, ids, 2)

	// 点ID由文件名与分块序号确定性派生，重复摄取得到相同ID
	wantFirst := uuid.NewV5(storage.QdrantPointIDNamespace, "file:zhang_san.pdf_chunk:0").String()
	wantSecond := uuid.NewV5(storage.QdrantPointIDNamespace, "file:zhang_san.pdf_chunk:1").String()
	assert.Equal(t, wantFirst, ids[0])
	assert.Equal(t, wantSecond, ids[1])

	// 写入前先清理同文件旧点
	require.GreaterOrEqual(t, len(mock.calls), 3)
	assert.Equal(t, "POST /collections/test_collection/points/delete", mock.calls[1])
	assert.Equal(t, "PUT /collections/test_collection/points", mock.calls[2])

	var putReq struct {
		Points []struct {
			ID      string                 `json:"id"`
			Vector  []float64              `json:"vector"`
			Payload map[string]interface{} `json:"payload"`
		} `json:"points"`
	}
	require.NoError(t, json.Unmarshal(mock.putBody, &putReq))
	require.Len(t, putReq.Points, 2)
	assert.Equal(t, "zhang_san.pdf", putReq.Points[0].Payload["file_name"])
	assert.Equal(t, float64(0), putReq.Points[0].Payload["chunk_index"])
	assert.Equal(t, "第一段内容", putReq.Points[0].Payload["content_text"])
}

func TestUpsertDocumentChunksRejectsDimensionMismatch(t *testing.T) {
	mock := &qdrantMock{}
	client := newTestQdrant(t, mock, "")

	callsBefore := len(mock.calls)
	_, err := client.UpsertDocumentChunks(context.Background(), "bad.pdf",
		[]string{"内容"}, [][]float64{{0.1, 0.2}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "维度")
	assert.Equal(t, callsBefore, len(mock.calls), "维度不匹配时不应发起任何写请求")
}

func TestUpsertDocumentChunksRejectsCountMismatch(t *testing.T) {
	mock := &qdrantMock{}
	client := newTestQdrant(t, mock, "")

	_, err := client.UpsertDocumentChunks(context.Background(), "bad.pdf",
		[]string{"内容A", "内容B"}, [][]float64{{0.1, 0.2, 0.3, 0.4}})
	require.Error(t, err)
}

func TestSearchSimilarChunks(t *testing.T) {
	mock := &qdrantMock{}
	client := newTestQdrant(t, mock, "")

	results, err := client.SearchSimilarChunks(context.Background(), []float64{0.1, 0.2, 0.3, 0.4}, 10)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.InDelta(t, 0.95, float64(results[0].Score), 0.001)
	assert.Equal(t, "zhang_san.pdf", results[0].Payload["file_name"])
	assert.Equal(t, "li_si.pdf", results[1].Payload["file_name"])
}

func TestSearchSimilarChunksRejectsDimensionMismatch(t *testing.T) {
	mock := &qdrantMock{}
	client := newTestQdrant(t, mock, "")

	_, err := client.SearchSimilarChunks(context.Background(), []float64{0.1}, 10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "维度")
}

func TestCountPoints(t *testing.T) {
	mock := &qdrantMock{}
	client := newTestQdrant(t, mock, "")

	count, err := client.CountPoints(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(42), count)
}

func TestQdrantSendsAPIKeyHeader(t *testing.T) {
	mock := &qdrantMock{}
	client := newTestQdrant(t, mock, "secret-key")

	_, err := client.CountPoints(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "secret-key", mock.lastAuth)
}
