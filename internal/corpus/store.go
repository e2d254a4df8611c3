// Package corpus 维护已打标简历的表格语料库。
// 语料库按"分区(sheet)"组织：标签记录区与失败台账区。
// 底层通过TabularStore以整区替换的方式落盘，读写都带表头行。
package corpus

import (
	"context"
	"fmt"
	"io"
	"log"
	"strings"

	"resume-match-go/internal/constants"
	"resume-match-go/internal/types"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var corpusTracer = otel.Tracer("resume-match-go/corpus/store")

// TabularStore 表格存储后端。分区不存在时ReadSheet返回空集而非错误，
// 首次ReplaceSheet即完成惰性创建。
type TabularStore interface {
	// ReadSheet 按行序读取整个分区
	ReadSheet(ctx context.Context, storeRef, sheetName string) ([][]string, error)

	// ReplaceSheet 以给定行整体替换分区内容
	ReplaceSheet(ctx context.Context, storeRef, sheetName string, rows [][]string) error
}

// Store 简历语料库
type Store struct {
	tab      TabularStore
	storeRef string
	logger   *log.Logger
}

// NewStore 创建语料库实例
func NewStore(tab TabularStore, storeRef string, logger *log.Logger) (*Store, error) {
	if tab == nil {
		return nil, fmt.Errorf("表格存储后端不能为空")
	}
	if storeRef == "" {
		return nil, fmt.Errorf("语料库标识不能为空")
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Store{tab: tab, storeRef: storeRef, logger: logger}, nil
}

// Upsert 按文件名合并写入标签记录。
// 已存在的文件名原位更新，新文件名按入参顺序追加，其余行保持原有顺序，
// 最终整区替换落盘。同一批次重复出现的文件名后者覆盖前者。
func (s *Store) Upsert(ctx context.Context, records []types.CorpusRecord) error {
	ctx, span := corpusTracer.Start(ctx, "Corpus.Upsert")
	defer span.End()
	span.SetAttributes(
		attribute.String("corpus.store_ref", s.storeRef),
		attribute.Int("corpus.incoming_records", len(records)),
	)

	if len(records) == 0 {
		span.SetStatus(codes.Ok, "nothing to upsert")
		return nil
	}

	existing, err := s.tab.ReadSheet(ctx, s.storeRef, constants.SheetResumeTags)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("读取语料库失败: %w", err)
	}

	// 现有记录按行序建立索引，跳过表头
	order := make([]string, 0, len(existing))
	byName := make(map[string]types.CorpusRecord, len(existing))
	for _, row := range existing {
		if isResumeTagsHeader(row) {
			continue
		}
		rec := rowToRecord(row)
		if rec.ResumeFileName == "" {
			continue
		}
		if _, seen := byName[rec.ResumeFileName]; !seen {
			order = append(order, rec.ResumeFileName)
		}
		byName[rec.ResumeFileName] = rec
	}

	updated, appended := 0, 0
	for _, rec := range records {
		name := strings.TrimSpace(rec.ResumeFileName)
		if name == "" {
			continue
		}
		rec.ResumeFileName = name
		if _, seen := byName[name]; seen {
			updated++
		} else {
			order = append(order, name)
			appended++
		}
		byName[name] = rec
	}

	rows := make([][]string, 0, len(order)+1)
	rows = append(rows, constants.ResumeTagsHeader)
	for _, name := range order {
		rows = append(rows, recordToRow(byName[name]))
	}

	if err := s.tab.ReplaceSheet(ctx, s.storeRef, constants.SheetResumeTags, rows); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("写入语料库失败: %w", err)
	}

	s.logger.Printf("语料库已更新: 更新%d条, 新增%d条, 总计%d条", updated, appended, len(order))
	span.SetAttributes(
		attribute.Int("corpus.updated", updated),
		attribute.Int("corpus.appended", appended),
		attribute.Int("corpus.total", len(order)),
	)
	span.SetStatus(codes.Ok, "")
	return nil
}

// ReadAll 读取全部标签记录。分区不存在或只有表头时返回空集。
func (s *Store) ReadAll(ctx context.Context) ([]types.CorpusRecord, error) {
	ctx, span := corpusTracer.Start(ctx, "Corpus.ReadAll")
	defer span.End()
	span.SetAttributes(attribute.String("corpus.store_ref", s.storeRef))

	rows, err := s.tab.ReadSheet(ctx, s.storeRef, constants.SheetResumeTags)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("读取语料库失败: %w", err)
	}

	records := make([]types.CorpusRecord, 0, len(rows))
	for _, row := range rows {
		if isResumeTagsHeader(row) {
			continue
		}
		rec := rowToRecord(row)
		if rec.ResumeFileName == "" {
			continue
		}
		records = append(records, rec)
	}

	span.SetAttributes(attribute.Int("corpus.records", len(records)))
	span.SetStatus(codes.Ok, "")
	return records, nil
}

// RecordFailures 整区重写失败台账，台账只反映最近一次运行。
// 空清单会清空台账（只保留表头）。
func (s *Store) RecordFailures(ctx context.Context, files []string) error {
	ctx, span := corpusTracer.Start(ctx, "Corpus.RecordFailures")
	defer span.End()
	span.SetAttributes(
		attribute.String("corpus.store_ref", s.storeRef),
		attribute.Int("corpus.failed_files", len(files)),
	)

	rows := make([][]string, 0, len(files)+1)
	rows = append(rows, constants.FailedFilesHeader)
	for _, file := range files {
		if strings.TrimSpace(file) == "" {
			continue
		}
		rows = append(rows, []string{file})
	}

	if err := s.tab.ReplaceSheet(ctx, s.storeRef, constants.SheetFailedFiles, rows); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("写入失败台账失败: %w", err)
	}

	if len(files) > 0 {
		s.logger.Printf("失败台账已更新: %d个文件", len(files))
	}
	span.SetStatus(codes.Ok, "")
	return nil
}

// isResumeTagsHeader 识别表头行
func isResumeTagsHeader(row []string) bool {
	return len(row) > 0 && row[0] == constants.ResumeTagsHeader[0]
}

// recordToRow 记录转行，列序与ResumeTagsHeader一致
func recordToRow(rec types.CorpusRecord) []string {
	return []string{
		rec.ResumeFileName,
		rec.Skills,
		rec.ProgrammingLanguages,
		rec.YearsOfExperience.String(),
		rec.JobTitle,
		rec.Achievements,
	}
}

// rowToRecord 行转记录，缺列按空值处理
func rowToRecord(row []string) types.CorpusRecord {
	rec := types.CorpusRecord{ResumeFileName: cellAt(row, 0)}
	rec.Skills = cellAt(row, 1)
	rec.ProgrammingLanguages = cellAt(row, 2)
	rec.YearsOfExperience = types.NumberOrString(cellAt(row, 3))
	rec.JobTitle = cellAt(row, 4)
	rec.Achievements = cellAt(row, 5)
	return rec
}

func cellAt(row []string, idx int) string {
	if idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}
