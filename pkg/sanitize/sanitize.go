// Package sanitize 把LLM返回的"近似JSON"文本修复为可解析的JSON。
// 模型经常在JSON外包裹markdown围栏、散文说明，或者输出单引号、
// 裸键名、多余逗号等非法语法。这里按固定顺序做幂等修复，修复
// 失败时携带原始文本返回，绝不向调用方抛出异常——本包是针对
// 任意模型文本的信任边界。
package sanitize

import (
	"encoding/json"
	"regexp"
	"strings"
)

// Result 修复尝试的带标签结果：成功时携带修复后的JSON文本，
// 失败时JSON为空、OK为false。Raw始终保留原始输入用于诊断日志。
type Result struct {
	OK   bool
	JSON string
	Raw  string
}

var (
	// 围栏与反引号全部移除（带语言标签的形式优先匹配）
	fenceCleaner = strings.NewReplacer("```json", "", "```JSON", "", "```", "", "`", "")

	whitespaceRe   = regexp.MustCompile(`\s+`)
	trailingComma  = regexp.MustCompile(`,\s*([}\]])`)
	bareKeyPattern = regexp.MustCompile(`([{,]\s*)([A-Za-z_][A-Za-z0-9_]*)\s*:`)
)

// Repair 按序执行修复：
//  1. 去掉代码围栏与散落的反引号，压缩空白并trim；
//  2. 直接解析，成功即返回；
//  3. 截取第一个配平的 {...} 子串（散文包裹合法JSON的常见情形），
//     先于文本替换尝试，避免替换破坏本来合法的内容；
//  4. 文本修复：单引号→双引号、删除闭合符前的多余逗号、为裸键名
//     补双引号，再次解析（必要时再截取一次）。
//
// 每个阶段都是幂等的。对任意输入都不会panic。
func Repair(raw string) Result {
	normalized := normalize(raw)

	if isValidJSON(normalized) {
		return Result{OK: true, JSON: normalized, Raw: raw}
	}

	if obj, found := extractBalancedObject(normalized); found && isValidJSON(obj) {
		return Result{OK: true, JSON: obj, Raw: raw}
	}

	repaired := quoteBareKeys(stripTrailingCommas(replaceSingleQuotes(normalized)))
	if isValidJSON(repaired) {
		return Result{OK: true, JSON: repaired, Raw: raw}
	}
	if obj, found := extractBalancedObject(repaired); found && isValidJSON(obj) {
		return Result{OK: true, JSON: obj, Raw: raw}
	}

	return Result{OK: false, Raw: raw}
}

// normalize 去围栏、压缩空白。换行与连续空白统一折叠为单个空格。
func normalize(s string) string {
	cleaned := fenceCleaner.Replace(s)
	cleaned = whitespaceRe.ReplaceAllString(cleaned, " ")
	return strings.TrimSpace(cleaned)
}

func isValidJSON(s string) bool {
	return s != "" && json.Valid([]byte(s))
}

func replaceSingleQuotes(s string) string {
	return strings.ReplaceAll(s, "'", `"`)
}

func stripTrailingCommas(s string) string {
	return trailingComma.ReplaceAllString(s, "$1")
}

// quoteBareKeys 为保守标识符形态的裸键名补双引号，如 {key: 1} → {"key": 1}
func quoteBareKeys(s string) string {
	return bareKeyPattern.ReplaceAllString(s, `$1"$2":`)
}

// extractBalancedObject 返回第一个配平的顶层 {...} 子串。
// 括号计数跳过字符串字面量内部，避免值里的花括号干扰配平。
func extractBalancedObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}
