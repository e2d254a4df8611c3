package models

import (
	"time"

	"gorm.io/datatypes"
)

// SheetRow 表格语料库的一行。语料库沿用"电子表格"模型：一个
// store_ref 下有多张命名工作表，每张表由有序的行组成，单元格
// 序列化为JSON数组存储。整表替换按 (store_ref, sheet_name) 删旧写新，
// row_index 保证读取顺序与写入顺序一致。
type SheetRow struct {
	ID        uint64         `gorm:"primaryKey;autoIncrement"`
	StoreRef  string         `gorm:"type:varchar(255);not null;uniqueIndex:idx_sheet_rows_ref_sheet_row,priority:1"`
	SheetName string         `gorm:"type:varchar(255);not null;uniqueIndex:idx_sheet_rows_ref_sheet_row,priority:2"`
	RowIndex  int            `gorm:"not null;uniqueIndex:idx_sheet_rows_ref_sheet_row,priority:3"`
	Cells     datatypes.JSON `gorm:"type:json"`
	CreatedAt time.Time      `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6)"`
	UpdatedAt time.Time      `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6);autoUpdateTime"`
}

func (SheetRow) TableName() string {
	return "sheet_rows"
}

// IngestionRun 摄取运行的持久化记录。运行中的状态快照缓存在
// Redis供查询端点低延迟读取，这里保留跨重启可查的最终报告。
type IngestionRun struct {
	RunID        string    `gorm:"type:char(36);primaryKey"`
	SourcePrefix string    `gorm:"type:varchar(512)"`
	StoreRef     string    `gorm:"type:varchar(255);index:idx_ingestion_runs_store_ref"`
	State        string    `gorm:"type:varchar(50);index:idx_ingestion_runs_state"`
	Processed    int       `gorm:"not null;default:0"`
	Skipped      int       `gorm:"not null;default:0"`
	Failed       int       `gorm:"not null;default:0"`
	Message      string    `gorm:"type:text"`
	StartedAt    time.Time `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6)"`
	FinishedAt   *time.Time
	CreatedAt    time.Time `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6)"`
	UpdatedAt    time.Time `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6);autoUpdateTime"`
}

func (IngestionRun) TableName() string {
	return "ingestion_runs"
}
