package processor_test

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"resume-match-go/internal/parser"
	"resume-match-go/internal/processor"
	"resume-match-go/internal/storage"
	"resume-match-go/internal/storage/models"
	"resume-match-go/internal/types"

	"github.com/cloudwego/eino/components/embedding"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ---- 假实现 ----

type fakeObjects struct {
	mu          sync.Mutex
	contents    map[string][]byte // key -> 内容
	downloadErr map[string]error
	moveErr     map[string]error
	moved       []string
	listCalls   []string // 每次ListPage的startAfter
}

func newFakeObjects(files map[string]string) *fakeObjects {
	contents := make(map[string][]byte, len(files))
	for k, v := range files {
		contents[k] = []byte(v)
	}
	return &fakeObjects{
		contents:    contents,
		downloadErr: make(map[string]error),
		moveErr:     make(map[string]error),
	}
}

func (f *fakeObjects) ListPage(_ context.Context, prefix, startAfter string, maxKeys int) ([]storage.ObjectSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls = append(f.listCalls, startAfter)

	keys := make([]string, 0, len(f.contents))
	for k := range f.contents {
		if strings.HasPrefix(k, prefix) && k > startAfter {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	if len(keys) > maxKeys {
		keys = keys[:maxKeys]
	}
	page := make([]storage.ObjectSummary, 0, len(keys))
	for _, k := range keys {
		page = append(page, storage.ObjectSummary{Key: k, Size: int64(len(f.contents[k]))})
	}
	return page, nil
}

func (f *fakeObjects) Download(_ context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.downloadErr[key]; err != nil {
		return nil, err
	}
	data, ok := f.contents[key]
	if !ok {
		return nil, fmt.Errorf("对象不存在: %s", key)
	}
	return data, nil
}

func (f *fakeObjects) MoveToProcessed(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.moveErr[key]; err != nil {
		return err
	}
	f.moved = append(f.moved, key)
	return nil
}

type fakeState struct {
	mu       sync.Mutex
	md5s     map[string]bool
	statuses []*types.RunStatus
}

func newFakeState() *fakeState {
	return &fakeState{md5s: make(map[string]bool)}
}

func (f *fakeState) CheckIngestedMD5(_ context.Context, md5Hex string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.md5s[md5Hex], nil
}

func (f *fakeState) AddIngestedMD5(_ context.Context, md5Hex string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.md5s[md5Hex] = true
	return nil
}

func (f *fakeState) SetRunStatus(_ context.Context, status *types.RunStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *status
	f.statuses = append(f.statuses, &copied)
	return nil
}

func (f *fakeState) lastStatus() *types.RunStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.statuses) == 0 {
		return nil
	}
	return f.statuses[len(f.statuses)-1]
}

// fakeLoader 把临时文件内容原样当作纯文本
type fakeLoader struct{}

func (fakeLoader) ExtractText(_ context.Context, filePath string) (string, map[string]interface{}, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return "", nil, err
	}
	return string(data), nil, nil
}

func (fakeLoader) Supported(fileName string) bool {
	lower := strings.ToLower(fileName)
	return strings.HasSuffix(lower, ".pdf") || strings.HasSuffix(lower, ".txt") || strings.HasSuffix(lower, ".docx")
}

// fakeChunker 整段返回
type fakeChunker struct{}

func (fakeChunker) Chunk(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	return []string{text}
}

type fakeEmbedder struct {
	err   error
	calls int
}

func (f *fakeEmbedder) EmbedStrings(_ context.Context, texts []string, _ ...embedding.Option) ([][]float64, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float64, len(texts))
	for i := range texts {
		out[i] = []float64{0.1, 0.2}
	}
	return out, nil
}

type fakeVectors struct {
	mu      sync.Mutex
	upserts map[string]int // fileName -> 分块数
}

func newFakeVectors() *fakeVectors {
	return &fakeVectors{upserts: make(map[string]int)}
}

func (f *fakeVectors) UpsertDocumentChunks(_ context.Context, fileName string, chunks []string, _ [][]float64) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserts[fileName] = len(chunks)
	ids := make([]string, len(chunks))
	for i := range chunks {
		ids[i] = fmt.Sprintf("%s-%d", fileName, i)
	}
	return ids, nil
}

// fakeExtractor 按文档文本决定返回值
type fakeExtractor struct {
	mu    sync.Mutex
	calls int
	// hook 非空时完全接管
	hook func(text string) (*types.TagSet, error)
}

func (f *fakeExtractor) Extract(_ context.Context, text string, _ parser.FieldMode) (*types.TagSet, error) {
	f.mu.Lock()
	f.calls++
	hook := f.hook
	f.mu.Unlock()
	if hook != nil {
		return hook(text)
	}
	return &types.TagSet{Skills: "技能:" + firstLine(text), ProgrammingLanguages: "Go", JobTitle: "工程师"}, nil
}

func (f *fakeExtractor) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func firstLine(text string) string {
	if idx := strings.IndexByte(text, '\n'); idx >= 0 {
		return text[:idx]
	}
	return text
}

type fakeCorpus struct {
	mu             sync.Mutex
	records        []types.CorpusRecord
	failures       []string
	failuresCalled bool
	upsertErr      error
}

func (f *fakeCorpus) Upsert(_ context.Context, records []types.CorpusRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.upsertErr != nil {
		return f.upsertErr
	}
	f.records = append(f.records, records...)
	return nil
}

func (f *fakeCorpus) RecordFailures(_ context.Context, files []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failuresCalled = true
	f.failures = append([]string(nil), files...)
	return nil
}

type fakeReporter struct {
	mu   sync.Mutex
	runs []*models.IngestionRun
}

func (f *fakeReporter) SaveRun(_ context.Context, run *models.IngestionRun) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *run
	f.runs = append(f.runs, &copied)
	return nil
}

type fakeEvents struct {
	mu        sync.Mutex
	ingested  []*storage.ResumeIngestedEvent
	failed    []*storage.ResumeFailedEvent
	completed []*storage.RunCompletedEvent
}

func (f *fakeEvents) PublishResumeIngested(_ context.Context, e *storage.ResumeIngestedEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ingested = append(f.ingested, e)
	return nil
}

func (f *fakeEvents) PublishResumeFailed(_ context.Context, e *storage.ResumeFailedEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed = append(f.failed, e)
	return nil
}

func (f *fakeEvents) PublishRunCompleted(_ context.Context, e *storage.RunCompletedEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed = append(f.completed, e)
	return nil
}

func (f *fakeEvents) Close() error { return nil }

// ---- 组装辅助 ----

type pipelineEnv struct {
	objects   *fakeObjects
	state     *fakeState
	embedder  *fakeEmbedder
	vectors   *fakeVectors
	extractor *fakeExtractor
	corpus    *fakeCorpus
	reporter  *fakeReporter
	events    *fakeEvents
}

func newPipelineEnv(files map[string]string) *pipelineEnv {
	return &pipelineEnv{
		objects:   newFakeObjects(files),
		state:     newFakeState(),
		embedder:  &fakeEmbedder{},
		vectors:   newFakeVectors(),
		extractor: &fakeExtractor{},
		corpus:    &fakeCorpus{},
		reporter:  &fakeReporter{},
		events:    &fakeEvents{},
	}
}

func (e *pipelineEnv) build(t *testing.T, set *processor.Settings) *processor.IngestionPipeline {
	t.Helper()
	if set == nil {
		set = &processor.Settings{}
	}
	// 默认节流2秒，测试压到1毫秒
	if set.DocPause == 0 {
		set.DocPause = time.Millisecond
	}
	p, err := processor.NewIngestionPipeline(&processor.Components{
		Objects:   e.objects,
		State:     e.state,
		Loader:    fakeLoader{},
		Chunker:   fakeChunker{},
		Embedder:  e.embedder,
		Vectors:   e.vectors,
		Extractor: e.extractor,
		Corpus:    e.corpus,
		Reporter:  e.reporter,
		Events:    e.events,
	}, set)
	require.NoError(t, err)
	return p
}

// ---- 测试 ----

func TestRunIngestsSupportedDocuments(t *testing.T) {
	env := newPipelineEnv(map[string]string{
		"inbox/zhang_san.pdf": "张三的简历正文",
		"inbox/li_si.txt":     "李四的简历正文",
		"inbox/notes.xlsx":    "不支持的表格文件",
	})
	p := env.build(t, &processor.Settings{SourcePrefix: "inbox/"})

	report, err := p.Run(context.Background(), processor.RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, types.RunStateCompleted, report.State)
	assert.Equal(t, 2, report.Succeeded)
	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, 0, report.Failed)
	assert.Empty(t, report.FailedFiles)

	// 语料库按去掉前缀的文件名落库
	require.Len(t, env.corpus.records, 2)
	names := []string{env.corpus.records[0].ResumeFileName, env.corpus.records[1].ResumeFileName}
	sort.Strings(names)
	assert.Equal(t, []string{"li_si.txt", "zhang_san.pdf"}, names)

	// 成功的文件被归档，失败台账被清空
	assert.ElementsMatch(t, []string{"inbox/zhang_san.pdf", "inbox/li_si.txt"}, env.objects.moved)
	assert.True(t, env.corpus.failuresCalled)
	assert.Empty(t, env.corpus.failures)

	// 事件与状态快照
	assert.Len(t, env.events.ingested, 2)
	assert.Len(t, env.events.completed, 1)
	last := env.state.lastStatus()
	require.NotNil(t, last)
	assert.Equal(t, types.RunStateCompleted, last.State)

	// 持久化报告
	require.Len(t, env.reporter.runs, 1)
	assert.Equal(t, 2, env.reporter.runs[0].Processed)
}

func TestRunContinuesPastDocumentFailure(t *testing.T) {
	env := newPipelineEnv(map[string]string{
		"inbox/x.pdf": "下载会失败的文档",
		"inbox/y.pdf": "正常文档",
	})
	env.objects.downloadErr["inbox/x.pdf"] = fmt.Errorf("连接被重置")
	p := env.build(t, &processor.Settings{SourcePrefix: "inbox/"})

	report, err := p.Run(context.Background(), processor.RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, 1, report.Succeeded)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, []string{"inbox/x.pdf"}, report.FailedFiles)

	// 失败进台账，其余文档照常处理
	assert.Equal(t, []string{"inbox/x.pdf"}, env.corpus.failures)
	require.Len(t, env.corpus.records, 1)
	assert.Equal(t, "y.pdf", env.corpus.records[0].ResumeFileName)

	require.Len(t, env.events.failed, 1)
	assert.Equal(t, "x.pdf", env.events.failed[0].FileName)
	assert.Equal(t, "download", env.events.failed[0].Stage)
}

func TestRunSkipsAlreadyIngestedContent(t *testing.T) {
	env := newPipelineEnv(map[string]string{
		"inbox/seen.pdf": "已经摄取过的内容",
	})
	p := env.build(t, &processor.Settings{SourcePrefix: "inbox/"})

	// 先跑一轮建立MD5索引
	_, err := p.Run(context.Background(), processor.RunOptions{})
	require.NoError(t, err)
	require.Equal(t, 1, env.extractor.callCount())

	// 同内容换个名字回到收件箱
	env.objects.mu.Lock()
	env.objects.contents["inbox/seen_copy.pdf"] = []byte("已经摄取过的内容")
	env.objects.mu.Unlock()

	report, err := p.Run(context.Background(), processor.RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 0, report.Succeeded)
	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, 1, env.extractor.callCount(), "重复内容不应再次调用模型")
}

func TestRunSkipsDuplicateContentWithinRun(t *testing.T) {
	env := newPipelineEnv(map[string]string{
		"inbox/a.pdf": "完全相同的内容",
		"inbox/b.pdf": "完全相同的内容",
	})
	p := env.build(t, &processor.Settings{SourcePrefix: "inbox/"})

	report, err := p.Run(context.Background(), processor.RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Succeeded)
	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, 1, env.extractor.callCount())
}

func TestRunMalformedTagsGoesToLedger(t *testing.T) {
	env := newPipelineEnv(map[string]string{
		"inbox/garbled.pdf": "模型读不懂的文档",
	})
	env.extractor.hook = func(string) (*types.TagSet, error) {
		return nil, nil // 输出不可解析时抽取器降级为空结果
	}
	p := env.build(t, &processor.Settings{SourcePrefix: "inbox/"})

	report, err := p.Run(context.Background(), processor.RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, 0, report.Succeeded)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, []string{"inbox/garbled.pdf"}, env.corpus.failures)
	assert.Empty(t, env.objects.moved, "失败的文件不应被归档")
	assert.Empty(t, env.state.md5s, "失败的文件不应记入MD5索引")
}

func TestRunMoveFailureKeepsCorpusRecord(t *testing.T) {
	env := newPipelineEnv(map[string]string{
		"inbox/stuck.pdf": "归档会失败的文档",
	})
	env.objects.moveErr["inbox/stuck.pdf"] = fmt.Errorf("目标桶不可用")
	p := env.build(t, &processor.Settings{SourcePrefix: "inbox/"})

	report, err := p.Run(context.Background(), processor.RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, 1, report.Failed)
	// 标签已入库（入库幂等，下一轮重做无害），但MD5不能记，
	// 否则文件会永远留在收件箱且再也不被处理
	require.Len(t, env.corpus.records, 1)
	assert.Empty(t, env.state.md5s)
	assert.Equal(t, []string{"inbox/stuck.pdf"}, env.corpus.failures)
}

func TestRunRespectsMaxDocs(t *testing.T) {
	files := make(map[string]string, 5)
	for i := 0; i < 5; i++ {
		files[fmt.Sprintf("inbox/r%d.pdf", i)] = fmt.Sprintf("第%d份简历", i)
	}
	env := newPipelineEnv(files)
	p := env.build(t, &processor.Settings{SourcePrefix: "inbox/"})

	report, err := p.Run(context.Background(), processor.RunOptions{MaxDocs: 2})
	require.NoError(t, err)

	assert.Equal(t, types.RunStateCompleted, report.State)
	assert.Equal(t, 2, report.Succeeded)
	assert.Len(t, env.objects.moved, 2)
	assert.Equal(t, 2, env.extractor.callCount())
}

func TestRunPaginatesWithStartAfter(t *testing.T) {
	files := make(map[string]string, 5)
	for i := 0; i < 5; i++ {
		files[fmt.Sprintf("inbox/r%d.pdf", i)] = fmt.Sprintf("第%d份简历", i)
	}
	env := newPipelineEnv(files)
	p := env.build(t, &processor.Settings{SourcePrefix: "inbox/"})

	report, err := p.Run(context.Background(), processor.RunOptions{BatchSize: 2})
	require.NoError(t, err)

	assert.Equal(t, 5, report.Succeeded)
	// 页游标是上一页最后一个key
	assert.Equal(t, []string{"", "inbox/r1.pdf", "inbox/r3.pdf"}, env.objects.listCalls)
}

func TestRunHonorsCancellation(t *testing.T) {
	env := newPipelineEnv(map[string]string{
		"inbox/first.pdf":  "第一份",
		"inbox/second.pdf": "第二份",
	})
	ctx, cancel := context.WithCancel(context.Background())
	env.extractor.hook = func(text string) (*types.TagSet, error) {
		cancel() // 第一份处理完成前触发取消
		return &types.TagSet{Skills: "技能", ProgrammingLanguages: "Go"}, nil
	}
	p := env.build(t, &processor.Settings{SourcePrefix: "inbox/"})

	report, err := p.Run(ctx, processor.RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, types.RunStateCancelled, report.State)
	assert.Equal(t, 1, report.Succeeded)
	assert.Equal(t, 1, env.extractor.callCount(), "取消后不应再处理后续文档")

	// 收尾动作不受取消影响
	assert.True(t, env.corpus.failuresCalled)
	assert.Len(t, env.events.completed, 1)
	require.Len(t, env.reporter.runs, 1)
	assert.Equal(t, types.RunStateCancelled, env.reporter.runs[0].State)
}

func TestRunEmbeddingFailureIsNonFatal(t *testing.T) {
	env := newPipelineEnv(map[string]string{
		"inbox/novec.pdf": "向量化会失败的文档",
	})
	env.embedder.err = fmt.Errorf("向量化服务不可用")
	p := env.build(t, &processor.Settings{SourcePrefix: "inbox/"})

	report, err := p.Run(context.Background(), processor.RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, 1, report.Succeeded)
	assert.Equal(t, 0, report.Failed)
	assert.Empty(t, env.vectors.upserts)
	require.Len(t, env.events.ingested, 1)
	assert.Empty(t, env.events.ingested[0].VectorIDs)
}

func TestNewIngestionPipelineValidation(t *testing.T) {
	env := newPipelineEnv(nil)

	_, err := processor.NewIngestionPipeline(nil, nil)
	assert.Error(t, err)

	_, err = processor.NewIngestionPipeline(&processor.Components{
		Loader:    fakeLoader{},
		Chunker:   fakeChunker{},
		Extractor: env.extractor,
		Corpus:    env.corpus,
	}, nil)
	assert.Error(t, err, "缺少对象存储应报错")

	_, err = processor.NewIngestionPipeline(&processor.Components{
		Objects:   env.objects,
		Loader:    fakeLoader{},
		Chunker:   fakeChunker{},
		Extractor: env.extractor,
	}, nil)
	assert.Error(t, err, "缺少语料库应报错")
}
