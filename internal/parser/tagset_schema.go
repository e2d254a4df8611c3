package parser

import (
	"fmt"
	"strings"

	"resume-match-go/internal/types"

	"github.com/xeipuuv/gojsonschema"
)

// 标签对象的JSON Schema。岗位描述与简历两种模式共用属性定义，
// 必填字段按模式收紧：简历模式额外要求归一化岗位名称。
const (
	jdTagSchemaJSON = `{
		"$schema": "http://json-schema.org/draft-07/schema#",
		"type": "object",
		"properties": {
			"skills": {"type": "string"},
			"programmingLanguages": {"type": "string"},
			"yearsOfExperience": {"type": ["string", "number", "null"]},
			"jobTitle": {"type": "string"},
			"achievements": {"type": "string"}
		},
		"required": ["skills", "programmingLanguages"],
		"additionalProperties": true
	}`

	resumeTagSchemaJSON = `{
		"$schema": "http://json-schema.org/draft-07/schema#",
		"type": "object",
		"properties": {
			"skills": {"type": "string"},
			"programmingLanguages": {"type": "string"},
			"yearsOfExperience": {"type": ["string", "number", "null"]},
			"jobTitle": {"type": "string"},
			"achievements": {"type": "string"}
		},
		"required": ["skills", "programmingLanguages", "jobTitle"],
		"additionalProperties": true
	}`
)

// validateTagSetJSON 按模式校验清洗后的标签JSON。
// 校验失败返回 MalformedOutput 类错误，调用方据此退化而非上抛。
func validateTagSetJSON(jsonStr string, mode FieldMode) error {
	schemaJSON := jdTagSchemaJSON
	if mode == FieldModeResume {
		schemaJSON = resumeTagSchemaJSON
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(schemaJSON),
		gojsonschema.NewStringLoader(jsonStr),
	)
	if err != nil {
		return types.NewMalformedOutputError("tags.validate", fmt.Sprintf("标签JSON无法解析: %v", err))
	}
	if result.Valid() {
		return nil
	}

	var sb strings.Builder
	for i, desc := range result.Errors() {
		if i > 0 {
			sb.WriteString("; ")
		}
		field := desc.Field()
		if field == "" {
			field = "(root)"
		}
		sb.WriteString(fmt.Sprintf("%s: %s", field, desc.Description()))
	}
	return types.NewMalformedOutputError("tags.validate", sb.String())
}
