package port

import (
	"context"
	"iter"

	"free-alt-finder/internal/domain"
)

// AlternativeStore (仓库管理员): 负责替代软件的查询和写回
type AlternativeStore interface {
	// Search 名字包含 query (不区分大小写) 或 tags 包含小写 query 的记录，最多 limit 条
	Search(ctx context.Context, query string, limit int) ([]*domain.Alternative, error)

	// Upsert 按 name 批量插入或覆盖，返回写入后的记录
	Upsert(ctx context.Context, records []*domain.Alternative) ([]*domain.Alternative, error)
}

// Generator (鉴定师): 负责调用 LLM 流式生成候选替代品
type Generator interface {
	// Stream 按到达顺序逐段产出文本增量；出错时产出一次 error 后结束
	Stream(ctx context.Context, req domain.GenerationRequest) iter.Seq2[string, error]

	// Model 当前使用的模型标识，用于健康检查
	Model() string
}

// MaintenanceChecker 过滤掉已经不再维护的项目 (可选)
type MaintenanceChecker interface {
	Filter(ctx context.Context, records []*domain.Alternative) ([]*domain.Alternative, error)
}

// Notifier (信使): 新发现替代品时推送消息 (可选)
type Notifier interface {
	NotifyDiscovered(ctx context.Context, query string, records []*domain.Alternative) error
}
