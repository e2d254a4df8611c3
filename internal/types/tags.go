package types

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// NumberOrString 表示既可能是JSON数字也可能是字符串的字段。
// LLM对"工作年限"这类字段的输出不稳定（可能是 5、"5" 或 "5+ years"），
// 下游必须同时容忍两种形态，这里统一以字符串形式保存。
type NumberOrString string

// UnmarshalJSON 同时接受JSON数字、字符串和null
func (n *NumberOrString) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "null" {
		*n = ""
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*n = NumberOrString(s)
		return nil
	}

	var f float64
	if err := json.Unmarshal(data, &f); err == nil {
		*n = NumberOrString(formatFloat(f))
		return nil
	}

	return fmt.Errorf("无法解析数字或字符串字段: %s", trimmed)
}

// MarshalJSON 数值内容输出为JSON数字，其余输出为字符串
func (n NumberOrString) MarshalJSON() ([]byte, error) {
	if f, ok := n.Float(); ok {
		return []byte(formatFloat(f)), nil
	}
	return json.Marshal(string(n))
}

// Float 尝试把内容解析为数值
func (n NumberOrString) Float() (float64, bool) {
	f, err := strconv.ParseFloat(strings.TrimSpace(string(n)), 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

func (n NumberOrString) String() string {
	return string(n)
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// TagSet 从非结构化文本中抽取出的结构化标签。
// skills/programmingLanguages 是逗号拼接的自由短语，原样保留，
// 除"是字符串"之外不做二次校验。jobTitle 与 achievements 仅在
// 简历模式下产生，JD模式不包含。
type TagSet struct {
	Skills               string         `json:"skills"`
	ProgrammingLanguages string         `json:"programmingLanguages"`
	YearsOfExperience    NumberOrString `json:"yearsOfExperience"`
	JobTitle             string         `json:"jobTitle,omitempty"`
	Achievements         string         `json:"achievements,omitempty"`
}

// CorpusRecord 语料库中的一条已打标简历记录，resumeFileName 为唯一键
type CorpusRecord struct {
	ResumeFileName string `json:"resumeFileName"`
	TagSet
}

// Summary 生成评分提示词中使用的候选人摘要（固定模板）
func (r *CorpusRecord) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Skills: %s. ", emptyDash(r.Skills))
	fmt.Fprintf(&b, "Programming languages: %s. ", emptyDash(r.ProgrammingLanguages))
	fmt.Fprintf(&b, "Years of experience: %s. ", emptyDash(r.YearsOfExperience.String()))
	fmt.Fprintf(&b, "Achievements: %s.", emptyDash(r.Achievements))
	return b.String()
}

func emptyDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}

// FailureRecord 摄取失败台账中的一条记录，始终反映最近一次运行
type FailureRecord struct {
	File string `json:"file"`
}

// ScoreMap 文件名到整数分值(0-100)的映射，每次查询新建，不持久化
type ScoreMap map[string]int

// Candidate 参与评分的候选条目
type Candidate struct {
	FileName string
	Summary  string
}

// MatchResult 评分排序结果。Selected 是派生值(长度≤topN)，
// Scores 是权威的完整后校验分值表（含低于阈值与topN之外的条目）。
type MatchResult struct {
	Selected []string `json:"selected"`
	Scores   ScoreMap `json:"scores"`
}

// EmptyMatchResult 解析失败时的降级结果："无可信匹配"，不是错误
func EmptyMatchResult() *MatchResult {
	return &MatchResult{Selected: []string{}, Scores: ScoreMap{}}
}
