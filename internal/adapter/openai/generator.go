package openai

import (
	"context"
	"iter"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"free-alt-finder/internal/domain"
)

// Generator 调用 OpenAI 兼容的 chat completions 接口 (默认 Hugging Face router)，
// 以流的形式返回文本增量，实现 port.Generator
type Generator struct {
	client openai.Client
	model  string
}

func NewGenerator(apiKey, baseURL, model string, opts ...option.RequestOption) *Generator {
	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(baseURL))
	}
	reqOpts = append(reqOpts, opts...)

	return &Generator{
		client: openai.NewClient(reqOpts...),
		model:  model,
	}
}

func (g *Generator) Model() string { return g.model }

func (g *Generator) Stream(ctx context.Context, req domain.GenerationRequest) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		params := openai.ChatCompletionNewParams{
			Model: openai.ChatModel(g.model),
			Messages: []openai.ChatCompletionMessageParamUnion{
				openai.SystemMessage(req.System),
				openai.UserMessage(req.Prompt),
			},
			Temperature: openai.Float(req.Temperature),
		}
		if req.MaxTokens > 0 {
			params.MaxTokens = openai.Int(int64(req.MaxTokens))
		}

		stream := g.client.Chat.Completions.NewStreaming(ctx, params)
		defer stream.Close()

		for stream.Next() {
			chunk := stream.Current()
			if len(chunk.Choices) == 0 {
				continue
			}
			if delta := chunk.Choices[0].Delta.Content; delta != "" {
				if !yield(delta, nil) {
					return
				}
			}
		}
		if err := stream.Err(); err != nil {
			yield("", err)
		}
	}
}
