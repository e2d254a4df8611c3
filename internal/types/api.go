package types

// 对外HTTP层使用的请求/响应载荷。
// 校验标签由 go-playground/validator 解释，handler 在任何外部调用前执行校验。

// MatchRequest 匹配查询请求
type MatchRequest struct {
	JobDescription string `json:"job_description" validate:"required"`
	TopN           int    `json:"top_n" validate:"omitempty,min=1,max=50"`
	Threshold      int    `json:"threshold" validate:"omitempty,min=0,max=100"`
}

// MatchResponse 匹配查询响应
type MatchResponse struct {
	Success         bool     `json:"success"`
	JDTags          *TagSet  `json:"jdTags"`
	MatchingResumes []string `json:"matchingResumes"`
	NotFound        []string `json:"notFound"`
	Scores          ScoreMap `json:"scores"`
	// Message 仅在没有任何简历入选时填充
	Message string `json:"message,omitempty"`
}

// IngestRequest 摄取运行请求；零值字段使用配置默认值
type IngestRequest struct {
	SourcePrefix string `json:"source_prefix"`
	StoreRef     string `json:"store_ref"`
	BatchSize    int    `json:"batch_size" validate:"omitempty,min=1,max=1000"`
	MaxDocs      int    `json:"max_docs" validate:"omitempty,min=1"`
}

// 摄取运行状态机
const (
	RunStateRunning   = "running"
	RunStateCompleted = "completed"
	RunStateFailed    = "failed"
	RunStateCancelled = "cancelled"
)

// RunStatus 一次摄取运行的状态快照（缓存于Redis，供查询端点读取）
type RunStatus struct {
	RunID     string `json:"run_id"`
	State     string `json:"state"`
	Processed int    `json:"processed"`
	Succeeded int    `json:"succeeded"`
	Skipped   int    `json:"skipped"`
	Failed    int    `json:"failed"`
	Error     string `json:"error,omitempty"`
	StartedAt int64  `json:"started_at"`
	UpdatedAt int64  `json:"updated_at"`
}

// SemanticHit 语义检索端点返回的一条命中
type SemanticHit struct {
	File  string  `json:"file"`
	Score float32 `json:"score"`
}
