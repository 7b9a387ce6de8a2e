package domain

import (
	"errors"
	"strings"

	"github.com/tidwall/gjson"
)

var (
	// ErrNoJSONArray 模型输出里找不到 [ ... ] 结构
	ErrNoJSONArray = errors.New("no JSON array found in model output")
	// ErrInvalidJSONArray 找到了 [ ... ] 但不是合法 JSON
	ErrInvalidJSONArray = errors.New("model output contains an invalid JSON array")
)

// StripCodeFences 去掉 ```json / ``` 标记
func StripCodeFences(text string) string {
	text = strings.TrimSpace(text)
	text = strings.ReplaceAll(text, "```json", "")
	text = strings.ReplaceAll(text, "```JSON", "")
	text = strings.ReplaceAll(text, "```", "")
	return strings.TrimSpace(text)
}

// ExtractJSONArray 截取第一个 '[' 到最后一个 ']' 之间的内容并校验 JSON。
// 即使模型在数组前后加了解释文字，也能抠出中间的数组。
func ExtractJSONArray(text string) (string, error) {
	text = StripCodeFences(text)

	start := strings.Index(text, "[")
	end := strings.LastIndex(text, "]")
	if start == -1 || end == -1 || end <= start {
		return "", ErrNoJSONArray
	}

	raw := text[start : end+1]
	if !gjson.Valid(raw) {
		return "", ErrInvalidJSONArray
	}
	return raw, nil
}

// ParseCandidates 从模型原文中解析出候选列表。
// 字段类型不规范时 (比如 tags 是字符串) 尽量宽容处理，非对象元素直接跳过。
func ParseCandidates(text string) ([]Candidate, error) {
	raw, err := ExtractJSONArray(text)
	if err != nil {
		return nil, err
	}

	items := gjson.Parse(raw).Array()
	candidates := make([]Candidate, 0, len(items))
	for _, item := range items {
		if !item.IsObject() {
			continue
		}
		candidates = append(candidates, Candidate{
			Name:        item.Get("name").String(),
			URL:         item.Get("url").String(),
			Category:    item.Get("category").String(),
			Description: item.Get("description").String(),
			Tags:        parseTags(item.Get("tags")),
		})
	}
	return candidates, nil
}

func parseTags(v gjson.Result) []string {
	switch {
	case !v.Exists() || v.Type == gjson.Null:
		return nil
	case v.IsArray():
		var tags []string
		for _, t := range v.Array() {
			if s := t.String(); s != "" {
				tags = append(tags, s)
			}
		}
		return tags
	case v.Type == gjson.String:
		var tags []string
		for _, t := range strings.Split(v.String(), ",") {
			if t = strings.TrimSpace(t); t != "" {
				tags = append(tags, t)
			}
		}
		return tags
	default:
		return nil
	}
}
