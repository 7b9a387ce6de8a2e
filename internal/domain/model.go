package domain

import (
	"strings"
	"time"
	"unicode/utf8"

	"gorm.io/datatypes"
)

// MaxShortDescriptionLen 卡片展示用的简介长度上限 (按字符计)
const MaxShortDescriptionLen = 100

// 结果来源
const (
	SourceCache = "cache"
	SourceAI    = "ai"
)

// Alternative 代表一个免费/开源的替代软件
type Alternative struct {
	ID               uint                        `json:"id" gorm:"primaryKey"`
	Name             string                      `json:"name" gorm:"uniqueIndex;not null"` // 去重键 (upsert 冲突列)
	URL              string                      `json:"url"`
	Category         string                      `json:"category"`
	ShortDescription string                      `json:"short_description"`
	Tags             datatypes.JSONSlice[string] `json:"tags"`
	CreatedAt        time.Time                   `json:"created_at"`
	UpdatedAt        time.Time                   `json:"updated_at"`
}

// TableName 固定表名
func (Alternative) TableName() string { return "alternatives" }

// HasTag 判断是否包含某个标签 (标签统一为小写)
func (a *Alternative) HasTag(tag string) bool {
	tag = strings.ToLower(tag)
	for _, t := range a.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// SearchResult 是 /api/search 的响应体
type SearchResult struct {
	Results []*Alternative `json:"results"`
	Source  string         `json:"source"`
	Message string         `json:"message"`
}

// Candidate 是模型输出中的一条原始记录
type Candidate struct {
	Name        string   `json:"name"`
	URL         string   `json:"url"`
	Category    string   `json:"category"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
}

// GenerationRequest 描述一次流式补全请求
type GenerationRequest struct {
	System      string
	Prompt      string
	MaxTokens   int
	Temperature float64
}

// BuildRecords 把模型输出映射成入库记录。
// description 改名为 short_description，tags 追加小写的查询词；
// 没有名字的条目被丢弃，同名条目只保留第一次出现的。
func BuildRecords(candidates []Candidate, query string) []*Alternative {
	queryTag := strings.ToLower(strings.TrimSpace(query))
	seen := make(map[string]struct{}, len(candidates))
	records := make([]*Alternative, 0, len(candidates))

	for _, c := range candidates {
		name := strings.TrimSpace(c.Name)
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}

		records = append(records, &Alternative{
			Name:             name,
			URL:              strings.TrimSpace(c.URL),
			Category:         strings.TrimSpace(c.Category),
			ShortDescription: truncate(strings.TrimSpace(c.Description), MaxShortDescriptionLen),
			Tags:             normalizeTags(c.Tags, queryTag),
		})
	}
	return records
}

func normalizeTags(tags []string, queryTag string) datatypes.JSONSlice[string] {
	out := make([]string, 0, len(tags)+1)
	seen := make(map[string]struct{}, len(tags)+1)
	add := func(t string) {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			return
		}
		if _, ok := seen[t]; ok {
			return
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	for _, t := range tags {
		add(t)
	}
	add(queryTag)
	return datatypes.JSONSlice[string](out)
}

func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return strings.TrimSpace(string(runes[:max]))
}
