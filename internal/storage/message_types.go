package storage

import "time"

// ResumeIngestedEvent 单份简历摄取成功事件
type ResumeIngestedEvent struct {
	RunID      string    `json:"run_id"`               // 本次摄取运行ID
	FileName   string    `json:"file_name"`            // 对象存储中的文件名
	FileMD5    string    `json:"file_md5"`             // 原始文件MD5
	ChunkCount int       `json:"chunk_count"`          // 写入向量库的分块数，向量化失败时为0
	JobTitle   string    `json:"job_title,omitempty"`  // 抽取出的归一化岗位名称
	IngestedAt time.Time `json:"ingested_at"`          // 完成时间
	VectorIDs  []string  `json:"vector_ids,omitempty"` // 关联的向量点ID列表
}

// ResumeFailedEvent 单份简历摄取失败事件。
// 失败不会中断整轮运行，文件名同时记入失败清单表。
type ResumeFailedEvent struct {
	RunID    string    `json:"run_id"`
	FileName string    `json:"file_name"`
	Stage    string    `json:"stage"` // 失败阶段: download/parse/extract/upsert/move
	Reason   string    `json:"reason,omitempty"`
	FailedAt time.Time `json:"failed_at"`
}

// RunCompletedEvent 摄取运行结束事件
type RunCompletedEvent struct {
	RunID        string    `json:"run_id"`
	SourcePrefix string    `json:"source_prefix,omitempty"`
	Processed    int       `json:"processed"` // 成功摄取数
	Skipped      int       `json:"skipped"`   // 因去重或扩展名过滤跳过数
	Failed       int       `json:"failed"`    // 失败数
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
}
