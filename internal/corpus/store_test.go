package corpus_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"resume-match-go/internal/constants"
	"resume-match-go/internal/corpus"
	"resume-match-go/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTabular 内存表格存储，分区不存在时读取返回空集
type fakeTabular struct {
	mu           sync.Mutex
	sheets       map[string][][]string
	replaceCalls int
	failReplace  error
	failRead     error
}

func newFakeTabular() *fakeTabular {
	return &fakeTabular{sheets: make(map[string][][]string)}
}

func (f *fakeTabular) key(storeRef, sheetName string) string {
	return fmt.Sprintf("%s|%s", storeRef, sheetName)
}

func (f *fakeTabular) ReadSheet(_ context.Context, storeRef, sheetName string) ([][]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failRead != nil {
		return nil, f.failRead
	}
	rows := f.sheets[f.key(storeRef, sheetName)]
	out := make([][]string, len(rows))
	for i, row := range rows {
		out[i] = append([]string(nil), row...)
	}
	return out, nil
}

func (f *fakeTabular) ReplaceSheet(_ context.Context, storeRef, sheetName string, rows [][]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replaceCalls++
	if f.failReplace != nil {
		return f.failReplace
	}
	stored := make([][]string, len(rows))
	for i, row := range rows {
		stored[i] = append([]string(nil), row...)
	}
	f.sheets[f.key(storeRef, sheetName)] = stored
	return nil
}

func (f *fakeTabular) rows(storeRef, sheetName string) [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sheets[f.key(storeRef, sheetName)]
}

func newTestStore(t *testing.T, tab *fakeTabular) *corpus.Store {
	t.Helper()
	store, err := corpus.NewStore(tab, "test-corpus", nil)
	require.NoError(t, err)
	return store
}

func record(fileName, skills, langs, years, title, achievements string) types.CorpusRecord {
	rec := types.CorpusRecord{ResumeFileName: fileName}
	rec.Skills = skills
	rec.ProgrammingLanguages = langs
	rec.YearsOfExperience = types.NumberOrString(years)
	rec.JobTitle = title
	rec.Achievements = achievements
	return rec
}

func TestUpsertCreatesSheetWithHeader(t *testing.T) {
	tab := newFakeTabular()
	store := newTestStore(t, tab)

	err := store.Upsert(context.Background(), []types.CorpusRecord{
		record("zhang_san.pdf", "微服务, 分布式", "Go, Python", "5", "后端工程师", "重构订单系统"),
		record("li_si.pdf", "前端架构", "TypeScript", "3", "前端工程师", ""),
	})
	require.NoError(t, err)

	rows := tab.rows("test-corpus", constants.SheetResumeTags)
	require.Len(t, rows, 3)
	assert.Equal(t, constants.ResumeTagsHeader, rows[0])
	assert.Equal(t, []string{"zhang_san.pdf", "微服务, 分布式", "Go, Python", "5", "后端工程师", "重构订单系统"}, rows[1])
	assert.Equal(t, []string{"li_si.pdf", "前端架构", "TypeScript", "3", "前端工程师", ""}, rows[2])
}

func TestUpsertMergesByFileName(t *testing.T) {
	tab := newFakeTabular()
	store := newTestStore(t, tab)

	require.NoError(t, store.Upsert(context.Background(), []types.CorpusRecord{
		record("a.pdf", "旧技能", "Go", "5", "工程师", ""),
		record("b.pdf", "测试", "Python", "2", "测试工程师", ""),
	}))

	// a.pdf 原位更新，c.pdf 追加，b.pdf 不动
	require.NoError(t, store.Upsert(context.Background(), []types.CorpusRecord{
		record("a.pdf", "新技能", "Go, Rust", "6", "高级工程师", "性能优化"),
		record("c.pdf", "数据", "SQL", "4", "数据工程师", ""),
	}))

	rows := tab.rows("test-corpus", constants.SheetResumeTags)
	require.Len(t, rows, 4)
	assert.Equal(t, "a.pdf", rows[1][0])
	assert.Equal(t, "新技能", rows[1][1])
	assert.Equal(t, "b.pdf", rows[2][0])
	assert.Equal(t, "测试", rows[2][1])
	assert.Equal(t, "c.pdf", rows[3][0])
}

func TestUpsertIsIdempotent(t *testing.T) {
	tab := newFakeTabular()
	store := newTestStore(t, tab)

	batch := []types.CorpusRecord{
		record("a.pdf", "技能A", "Go", "5", "工程师", ""),
		record("b.pdf", "技能B", "Java", "3", "工程师", ""),
	}

	require.NoError(t, store.Upsert(context.Background(), batch))
	first := tab.rows("test-corpus", constants.SheetResumeTags)

	require.NoError(t, store.Upsert(context.Background(), batch))
	second := tab.rows("test-corpus", constants.SheetResumeTags)

	assert.Equal(t, first, second, "重复写入同一批记录不应改变语料库")
}

func TestUpsertDuplicateNamesInBatchLastWins(t *testing.T) {
	tab := newFakeTabular()
	store := newTestStore(t, tab)

	require.NoError(t, store.Upsert(context.Background(), []types.CorpusRecord{
		record("a.pdf", "第一版", "Go", "5", "工程师", ""),
		record("a.pdf", "第二版", "Go", "5", "工程师", ""),
	}))

	rows := tab.rows("test-corpus", constants.SheetResumeTags)
	require.Len(t, rows, 2)
	assert.Equal(t, "第二版", rows[1][1])
}

func TestUpsertEmptyBatchSkipsWrite(t *testing.T) {
	tab := newFakeTabular()
	store := newTestStore(t, tab)

	require.NoError(t, store.Upsert(context.Background(), nil))
	assert.Equal(t, 0, tab.replaceCalls)
}

func TestReadAllSkipsHeaderAndBlankRows(t *testing.T) {
	tab := newFakeTabular()
	tab.sheets[tab.key("test-corpus", constants.SheetResumeTags)] = [][]string{
		constants.ResumeTagsHeader,
		{"zhang_san.pdf", "微服务", "Go", "5", "后端工程师", "重构订单系统"},
		{"", "无名记录", "Go", "1", "", ""},
		{"short_row.pdf", "只有两列"},
	}
	store := newTestStore(t, tab)

	records, err := store.ReadAll(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, "zhang_san.pdf", records[0].ResumeFileName)
	assert.Equal(t, "微服务", records[0].Skills)
	assert.Equal(t, "5", records[0].YearsOfExperience.String())
	assert.Equal(t, "后端工程师", records[0].JobTitle)

	// 缺列按空值补齐
	assert.Equal(t, "short_row.pdf", records[1].ResumeFileName)
	assert.Equal(t, "只有两列", records[1].Skills)
	assert.Equal(t, "", records[1].JobTitle)
}

func TestReadAllEmptyCorpus(t *testing.T) {
	tab := newFakeTabular()
	store := newTestStore(t, tab)

	records, err := store.ReadAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestRecordFailuresReplacesLedger(t *testing.T) {
	tab := newFakeTabular()
	store := newTestStore(t, tab)

	require.NoError(t, store.RecordFailures(context.Background(), []string{"x.pdf", "y.pdf"}))
	rows := tab.rows("test-corpus", constants.SheetFailedFiles)
	require.Len(t, rows, 3)
	assert.Equal(t, constants.FailedFilesHeader, rows[0])
	assert.Equal(t, []string{"x.pdf"}, rows[1])
	assert.Equal(t, []string{"y.pdf"}, rows[2])

	// 台账只反映最近一次运行
	require.NoError(t, store.RecordFailures(context.Background(), []string{"z.pdf"}))
	rows = tab.rows("test-corpus", constants.SheetFailedFiles)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"z.pdf"}, rows[1])

	// 干净的一轮运行清空台账
	require.NoError(t, store.RecordFailures(context.Background(), nil))
	rows = tab.rows("test-corpus", constants.SheetFailedFiles)
	require.Len(t, rows, 1)
}

func TestNewStoreValidation(t *testing.T) {
	_, err := corpus.NewStore(nil, "ref", nil)
	assert.Error(t, err)

	_, err = corpus.NewStore(newFakeTabular(), "", nil)
	assert.Error(t, err)
}
