package gemini

import (
	"context"
	"errors"
	"iter"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"free-alt-finder/internal/domain"
)

// Generator 通过 Gemini 流式生成候选替代品，实现 port.Generator
type Generator struct {
	client *genai.Client
	model  string
}

func NewGenerator(ctx context.Context, apiKey, model string) (*Generator, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, err
	}
	return &Generator{client: client, model: model}, nil
}

func (g *Generator) Model() string { return g.model }

// Stream 每次调用都新建 GenerativeModel，避免并发请求互相改参数
func (g *Generator) Stream(ctx context.Context, req domain.GenerationRequest) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		model := g.client.GenerativeModel(g.model)
		// 强制要求返回 JSON，降低解析错误的概率
		model.ResponseMIMEType = "application/json"
		model.SetTemperature(float32(req.Temperature))
		if req.MaxTokens > 0 {
			model.SetMaxOutputTokens(int32(req.MaxTokens))
		}
		if req.System != "" {
			model.SystemInstruction = genai.NewUserContent(genai.Text(req.System))
		}

		it := model.GenerateContentStream(ctx, genai.Text(req.Prompt))
		for {
			resp, err := it.Next()
			if errors.Is(err, iterator.Done) {
				return
			}
			if err != nil {
				yield("", err)
				return
			}
			if text := textOf(resp); text != "" {
				if !yield(text, nil) {
					return
				}
			}
		}
	}
}

// Close 释放底层连接
func (g *Generator) Close() error {
	return g.client.Close()
}

// textOf 拼接一次响应里第一个候选的所有文本片段
func textOf(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			sb.WriteString(string(t))
		}
	}
	return sb.String()
}
