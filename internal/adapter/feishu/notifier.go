package feishu

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"free-alt-finder/internal/common"
	"free-alt-finder/internal/domain"
)

// maxListed 卡片里最多列出的条目数，避免超出飞书消息长度限制
const maxListed = 10

type Notifier struct {
	webhookURL string
	httpClient *http.Client
	logger     *zap.Logger
	retryOpts  []common.Option
}

func NewNotifier(webhook string, logger *zap.Logger) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	if webhook == "" {
		logger.Warn("飞书 Webhook 为空，新发现通知将被跳过")
	}
	return &Notifier{
		webhookURL: webhook,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
		retryOpts: []common.Option{
			common.WithMaxRetries(3),
			common.WithInitialDelay(500 * time.Millisecond),
		},
	}
}

// NotifyDiscovered 发送飞书卡片消息 (Schema 2.0)，列出本次新发现的替代品
func (n *Notifier) NotifyDiscovered(ctx context.Context, query string, records []*domain.Alternative) error {
	if n.webhookURL == "" {
		return common.NewError(common.ErrCodeNotification, "Webhook URL 为空")
	}
	if len(records) == 0 {
		return nil
	}

	body, err := json.Marshal(buildCard(query, records))
	if err != nil {
		return common.WrapError(common.ErrCodeNotification, "序列化卡片失败", err)
	}

	err = common.Do(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
		if err != nil {
			return common.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := n.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, resp.Body)

		switch {
		case resp.StatusCode == http.StatusOK:
			return nil
		case resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests:
			// 4xx 重试也没用
			return common.Permanent(fmt.Errorf("飞书 API 报错: 状态码 %d", resp.StatusCode))
		default:
			return fmt.Errorf("飞书 API 报错: 状态码 %d", resp.StatusCode)
		}
	}, n.retryOpts...)
	if err != nil {
		return common.WrapError(common.ErrCodeNotification, "发送请求失败", err)
	}

	n.logger.Debug("已推送新发现通知", zap.String("query", query), zap.Int("count", len(records)))
	return nil
}

func buildCard(query string, records []*domain.Alternative) map[string]interface{} {
	title := fmt.Sprintf("🔍 「%s」发现 %d 个免费替代品", query, len(records))

	var md strings.Builder
	for i, r := range records {
		if i == maxListed {
			fmt.Fprintf(&md, "\n…另有 %d 个未列出", len(records)-maxListed)
			break
		}
		name := r.Name
		if r.URL != "" {
			name = fmt.Sprintf("[%s](%s)", r.Name, r.URL)
		}
		fmt.Fprintf(&md, "**%d. %s**", i+1, name)
		if r.Category != "" {
			fmt.Fprintf(&md, "  |  %s", r.Category)
		}
		md.WriteString("\n")
		if r.ShortDescription != "" {
			md.WriteString(r.ShortDescription + "\n")
		}
		if len(r.Tags) > 0 {
			fmt.Fprintf(&md, "🏷️ %s\n", strings.Join(r.Tags, ", "))
		}
	}

	return map[string]interface{}{
		"msg_type": "interactive",
		"card": map[string]interface{}{
			"schema": "2.0",
			"config": map[string]interface{}{
				"update_multi": true,
			},
			"header": map[string]interface{}{
				"title": map[string]interface{}{
					"tag":     "plain_text",
					"content": title,
				},
				"template": "green",
			},
			"body": map[string]interface{}{
				"direction": "vertical",
				"elements": []map[string]interface{}{
					{
						"tag":       "markdown",
						"content":   md.String(),
						"text_size": "normal",
					},
				},
			},
		},
	}
}
