package constants

import "time"

// 语料库表分区名与表头。写入是整表替换语义，表头行始终是第一行。
const (
	// SheetResumeTags 已打标简历记录所在分区
	SheetResumeTags = "Resume Tags"
	// SheetFailedFiles 失败台账分区，始终反映最近一次运行
	SheetFailedFiles = "Failed Files"
)

// 语料分区表头（列序固定，记录与行互转按该顺序）
var (
	ResumeTagsHeader = []string{"Resume File Name", "Skills", "Programming Languages", "Years of Experience", "Job Title", "Achievements"}
	FailedFilesHeader = []string{"File"}
)

// 摄取管线默认参数
const (
	// DefaultBatchSize 对象枚举单页大小
	DefaultBatchSize = 100
	// DefaultMaxDocs 单次运行处理文档数上限
	DefaultMaxDocs = 500
	// DefaultChunkSize 文本分块窗口大小（按符文计）
	DefaultChunkSize = 1000
	// DefaultChunkOverlap 相邻分块重叠量（按符文计）
	DefaultChunkOverlap = 200
	// DefaultDocCharLimit 进入提示词前的文档截断上限
	DefaultDocCharLimit = 12000
	// DefaultDocPause 文档间的固定节流间隔
	DefaultDocPause = 2 * time.Second
)

// 匹配查询默认参数
const (
	DefaultTopN      = 3
	DefaultThreshold = 60
)

// Redis Key 前缀和格式常量
// 统一命名规范: app:{module}:{entity}:{unique_id}
const (
	// AppPrefix 所有Redis Key的统一应用前缀
	AppPrefix = "app"

	// KeyIngestLock 摄取运行的单写者锁 (STRING, SET NX)
	// 格式: app:ingest:lock
	KeyIngestLock = AppPrefix + ":ingest:lock"

	// KeyIngestRunStatus 摄取运行状态快照 (STRING, JSON)
	// 格式: app:ingest:run:{runID}
	KeyIngestRunStatus = AppPrefix + ":ingest:run:%s"

	// KeyIngestedMD5Set 跨运行已摄取文档MD5集合 (SET)
	// 格式: app:file:ingested_md5s
	KeyIngestedMD5Set = AppPrefix + ":file:ingested_md5s"

	// KeyJDTagsCache JD标签抽取结果缓存 (STRING, JSON)
	// 格式: app:jd:tags:{md5}
	KeyJDTagsCache = AppPrefix + ":jd:tags:%s"
)

// Redis 相关TTL
const (
	// IngestLockTTL 运行锁的保底过期时间，防止崩溃后死锁
	IngestLockTTL = 2 * time.Hour
	// RunStatusTTL 运行状态快照保留时长
	RunStatusTTL = 24 * time.Hour
	// JDTagsCacheTTL JD标签缓存时长
	JDTagsCacheTTL = 24 * time.Hour
	// IngestedMD5ExpireDays 已摄取MD5记录的保留天数
	IngestedMD5ExpireDays = 30
)

// RabbitMQ 事件拓扑
const (
	// ExchangeResumeEvents 摄取事件交换机 (topic)
	ExchangeResumeEvents = "resume.events"
	// RoutingKeyResumeIngested 单文档打标成功
	RoutingKeyResumeIngested = "resume.ingested"
	// RoutingKeyResumeFailed 单文档处理失败
	RoutingKeyResumeFailed = "resume.failed"
	// RoutingKeyRunCompleted 一次运行结束（含取消）
	RoutingKeyRunCompleted = "run.completed"
)

// 识别为可摄取文档的扩展名（小写）
var SupportedExtensions = []string{".pdf", ".docx", ".txt"}
