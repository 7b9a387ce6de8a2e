package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"free-alt-finder/internal/common"
	"free-alt-finder/internal/domain"
	"free-alt-finder/internal/port"
)

const systemInstruction = "You are a helpful assistant that finds free and open-source software. Always respond with valid JSON only, no markdown, no extra text."

const promptTemplate = `Find 5-8 truly free or open-source alternatives to "%s".

CRITICAL REQUIREMENTS:
- Must be 100%% FREE (no trials, no freemium, no subscriptions, no paid tiers)
- Must be actively maintained
- Must have a real, accessible website
- Only PERMANENTLY free or open-source software

Return ONLY valid JSON array, nothing else:
[
  {
    "name": "Tool Name",
    "url": "https://example.com",
    "category": "Category Name",
    "description": "Brief description under 100 chars",
    "tags": ["tag1", "tag2", "tag3"]
  }
]`

const (
	defaultCacheLimit  = 10
	defaultMaxTokens   = 2000
	defaultTemperature = 0.7
)

// SearchService 处理一次替代品查询: 先查库，未命中再让模型生成并写回
type SearchService struct {
	store     port.AlternativeStore
	generator port.Generator
	checker   port.MaintenanceChecker
	notifier  port.Notifier
	logger    *zap.Logger

	cacheLimit  int
	maxTokens   int
	temperature float64
}

type Option func(*SearchService)

// WithCacheLimit 缓存命中时最多返回的条数
func WithCacheLimit(n int) Option {
	return func(s *SearchService) {
		if n > 0 {
			s.cacheLimit = n
		}
	}
}

func WithGenerationParams(maxTokens int, temperature float64) Option {
	return func(s *SearchService) {
		if maxTokens > 0 {
			s.maxTokens = maxTokens
		}
		if temperature >= 0 {
			s.temperature = temperature
		}
	}
}

// WithMaintenanceChecker 入库前过滤不再维护的项目
func WithMaintenanceChecker(c port.MaintenanceChecker) Option {
	return func(s *SearchService) { s.checker = c }
}

// WithNotifier 写库成功后推送新发现
func WithNotifier(n port.Notifier) Option {
	return func(s *SearchService) { s.notifier = n }
}

// NewSearchService 创建查询服务
func NewSearchService(store port.AlternativeStore, generator port.Generator, logger *zap.Logger, opts ...Option) *SearchService {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &SearchService{
		store:       store,
		generator:   generator,
		logger:      logger,
		cacheLimit:  defaultCacheLimit,
		maxTokens:   defaultMaxTokens,
		temperature: defaultTemperature,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Model 当前生成服务使用的模型
func (s *SearchService) Model() string {
	return s.generator.Model()
}

// Search 先查缓存，未命中时调用模型生成、解析、写库。
// 模型输出无法解析不算错误，返回空结果。
func (s *SearchService) Search(ctx context.Context, query string) (*domain.SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, common.NewError(common.ErrCodeInvalidInput, "Query is required")
	}

	log := s.logger.With(zap.String("query", query))

	cached, err := s.store.Search(ctx, query, s.cacheLimit)
	if err != nil {
		return nil, common.WrapError(common.ErrCodeDatabase, "查询缓存失败", err)
	}
	if len(cached) > 0 {
		log.Info("缓存命中", zap.Int("count", len(cached)))
		return &domain.SearchResult{
			Results: cached,
			Source:  domain.SourceCache,
			Message: fmt.Sprintf("Found %d cached alternatives", len(cached)),
		}, nil
	}

	log.Info("缓存未命中，调用模型生成", zap.String("model", s.generator.Model()))
	text, err := s.generate(ctx, query)
	if err != nil {
		return nil, err
	}

	candidates, err := domain.ParseCandidates(text)
	if err != nil {
		log.Warn("模型输出无法解析", zap.Error(err), zap.Int("length", len(text)))
		return emptyResult(), nil
	}

	records := domain.BuildRecords(candidates, query)
	if s.checker != nil && len(records) > 0 {
		filtered, err := s.checker.Filter(ctx, records)
		if err != nil {
			log.Warn("维护状态检查失败，跳过过滤", zap.Error(err))
		} else {
			if dropped := len(records) - len(filtered); dropped > 0 {
				log.Info("过滤掉不再维护的项目", zap.Int("dropped", dropped))
			}
			records = filtered
		}
	}
	if len(records) == 0 {
		return emptyResult(), nil
	}

	results := records
	saved, err := s.store.Upsert(ctx, records)
	if err != nil {
		// 写库失败不影响本次响应
		log.Error("写入替代品失败",
			zap.String("code", common.CodeOf(err)), zap.Error(err), zap.Int("count", len(records)))
	} else {
		results = saved
		s.notify(ctx, query, saved)
	}

	log.Info("生成完成", zap.Int("count", len(results)))
	return &domain.SearchResult{
		Results: results,
		Source:  domain.SourceAI,
		Message: fmt.Sprintf("Found %d new alternatives", len(results)),
	}, nil
}

// Probe 只调用模型并解析，不读写存储，用于排查模型输出
func (s *SearchService) Probe(ctx context.Context, query string) (string, []*domain.Alternative, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return "", nil, common.NewError(common.ErrCodeInvalidInput, "Query is required")
	}
	text, err := s.generate(ctx, query)
	if err != nil {
		return "", nil, err
	}
	candidates, err := domain.ParseCandidates(text)
	if err != nil {
		return text, nil, common.WrapError(common.ErrCodeAIProcessing, "解析模型输出失败", err)
	}
	return text, domain.BuildRecords(candidates, query), nil
}

func (s *SearchService) generate(ctx context.Context, query string) (string, error) {
	req := domain.GenerationRequest{
		System:      systemInstruction,
		Prompt:      BuildPrompt(query),
		MaxTokens:   s.maxTokens,
		Temperature: s.temperature,
	}

	var sb strings.Builder
	for chunk, err := range s.generator.Stream(ctx, req) {
		if err != nil {
			var appErr *common.AppError
			if errors.As(err, &appErr) {
				return "", err
			}
			return "", common.WrapError(common.ErrCodeAIProcessing, "模型生成失败", err)
		}
		sb.WriteString(chunk)
	}
	return sb.String(), nil
}

func (s *SearchService) notify(ctx context.Context, query string, records []*domain.Alternative) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.NotifyDiscovered(ctx, query, records); err != nil {
		s.logger.Warn("推送新发现失败", zap.String("query", query), zap.Error(err))
	}
}

// BuildPrompt 生成发给模型的用户提示词
func BuildPrompt(query string) string {
	return fmt.Sprintf(promptTemplate, query)
}

func emptyResult() *domain.SearchResult {
	return &domain.SearchResult{
		Results: []*domain.Alternative{},
		Source:  domain.SourceAI,
		Message: "No free alternatives found",
	}
}
