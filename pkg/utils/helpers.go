package utils

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"

	"gorm.io/datatypes"
)

// CalculateMD5 计算字节串的MD5十六进制摘要。
// 用于跨运行的文档去重键与JD标签缓存键。
func CalculateMD5(data []byte) string {
	hasher := md5.New()
	hasher.Write(data)
	return hex.EncodeToString(hasher.Sum(nil))
}

// ConvertRowToJSON 把一行单元格序列化为JSON数组。
// 序列化失败时返回空数组而不是报错，表存储层把它当作空行处理。
func ConvertRowToJSON(cells []string) datatypes.JSON {
	if len(cells) == 0 {
		return datatypes.JSON("[]")
	}

	jsonBytes, err := json.Marshal(cells)
	if err != nil {
		return datatypes.JSON("[]")
	}
	return datatypes.JSON(jsonBytes)
}

// ParseRowJSON 反序列化单元格JSON；非法内容按空行处理
func ParseRowJSON(data datatypes.JSON) []string {
	if len(data) == 0 {
		return nil
	}
	var cells []string
	if err := json.Unmarshal(data, &cells); err != nil {
		return nil
	}
	return cells
}

// TruncateRunes 按符文截断文本，避免截断多字节字符。
// 长文档在进入提示词装配前用它限制成本与时延（保留前maxRunes个字符）。
func TruncateRunes(s string, maxRunes int) string {
	if maxRunes <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= maxRunes {
		return s
	}
	return string(runes[:maxRunes])
}
