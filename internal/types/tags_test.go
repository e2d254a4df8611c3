package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNumberOrStringUnmarshal(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "整数", input: `5`, expected: "5"},
		{name: "浮点数", input: `5.5`, expected: "5.5"},
		{name: "字符串数字", input: `"7"`, expected: "7"},
		{name: "自由文本", input: `"5+ years"`, expected: "5+ years"},
		{name: "空字符串", input: `""`, expected: ""},
		{name: "null", input: `null`, expected: ""},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var n NumberOrString
			err := json.Unmarshal([]byte(tc.input), &n)
			require.NoError(t, err, "解析不应失败")
			assert.Equal(t, tc.expected, n.String())
		})
	}
}

func TestNumberOrStringMarshal(t *testing.T) {
	// 数值内容应输出为JSON数字
	data, err := json.Marshal(NumberOrString("5"))
	require.NoError(t, err)
	assert.Equal(t, `5`, string(data))

	// 非数值内容应输出为字符串
	data, err = json.Marshal(NumberOrString("5+ years"))
	require.NoError(t, err)
	assert.Equal(t, `"5+ years"`, string(data))
}

func TestNumberOrStringFloat(t *testing.T) {
	f, ok := NumberOrString("12.5").Float()
	assert.True(t, ok)
	assert.InDelta(t, 12.5, f, 1e-9)

	_, ok = NumberOrString("大约五年").Float()
	assert.False(t, ok, "非数值内容不应解析成功")
}

func TestTagSetJSONRoundTrip(t *testing.T) {
	raw := `{"skills":"AWS, Kubernetes","programmingLanguages":"Python","yearsOfExperience":5,"jobTitle":"software engineer"}`

	var ts TagSet
	require.NoError(t, json.Unmarshal([]byte(raw), &ts))
	assert.Equal(t, "AWS, Kubernetes", ts.Skills)
	assert.Equal(t, "Python", ts.ProgrammingLanguages)
	assert.Equal(t, "5", ts.YearsOfExperience.String())
	assert.Equal(t, "software engineer", ts.JobTitle)

	// 简历模式才有的可选字段在JD模式下应被省略
	out, err := json.Marshal(TagSet{Skills: "AWS", ProgrammingLanguages: "Go", YearsOfExperience: "3"})
	require.NoError(t, err)
	assert.NotContains(t, string(out), "jobTitle")
	assert.NotContains(t, string(out), "achievements")
}

func TestCorpusRecordSummary(t *testing.T) {
	rec := CorpusRecord{
		ResumeFileName: "a.pdf",
		TagSet: TagSet{
			Skills:               "AWS, Docker",
			ProgrammingLanguages: "Go, Python",
			YearsOfExperience:    "6",
			Achievements:         "led migration to Kubernetes",
		},
	}

	summary := rec.Summary()
	assert.Contains(t, summary, "Skills: AWS, Docker.")
	assert.Contains(t, summary, "Programming languages: Go, Python.")
	assert.Contains(t, summary, "Years of experience: 6.")
	assert.Contains(t, summary, "Achievements: led migration to Kubernetes.")
}

func TestCorpusRecordSummaryEmptyFields(t *testing.T) {
	rec := CorpusRecord{ResumeFileName: "b.pdf"}
	summary := rec.Summary()
	// 空字段用占位符填充，保持模板形状稳定
	assert.Contains(t, summary, "Skills: -.")
	assert.Contains(t, summary, "Years of experience: -.")
}

func TestEmptyMatchResult(t *testing.T) {
	r := EmptyMatchResult()
	require.NotNil(t, r)
	assert.Empty(t, r.Selected)
	assert.Empty(t, r.Scores)

	// 序列化后应是空数组/空对象而不是null，方便前端处理
	data, err := json.Marshal(r)
	require.NoError(t, err)
	assert.JSONEq(t, `{"selected":[],"scores":{}}`, string(data))
}
