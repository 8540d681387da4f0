package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const defaultWebhookTimeout = 10 * time.Second

// WebhookClient 通过 HTTP POST 将告警内容推送到机器人 Webhook。
// 同时满足 DingTalkSender 与 SlackSender。
type WebhookClient struct {
	url        string
	httpClient *http.Client
}

// NewWebhookClient 创建一个指向固定 Webhook 地址的发送器。
func NewWebhookClient(url string, timeout time.Duration) *WebhookClient {
	if timeout <= 0 {
		timeout = defaultWebhookTimeout
	}
	return &WebhookClient{
		url:        url,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Send 以钉钉文本消息格式推送内容。
func (c *WebhookClient) Send(ctx context.Context, content string) error {
	payload := map[string]any{
		"msgtype": "text",
		"text":    map[string]string{"content": content},
	}
	return c.post(ctx, payload)
}

// SendToChannel 以 Slack 消息格式推送内容到指定频道。
func (c *WebhookClient) SendToChannel(ctx context.Context, channel, content string) error {
	payload := map[string]any{
		"channel": channel,
		"text":    content,
	}
	return c.post(ctx, payload)
}

func (c *WebhookClient) post(ctx context.Context, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("序列化告警内容失败: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("构造告警请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("发送告警请求失败: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("告警 Webhook 返回 %d: %s", resp.StatusCode, string(detail))
	}
	return nil
}

// slackWebhookSender 将 WebhookClient 适配为 SlackSender。
type slackWebhookSender struct {
	client *WebhookClient
}

func (s slackWebhookSender) Send(ctx context.Context, channel, content string) error {
	return s.client.SendToChannel(ctx, channel, content)
}

// NewSlackSender 返回基于 Webhook 的 Slack 发送器。
func NewSlackSender(url string, timeout time.Duration) SlackSender {
	return slackWebhookSender{client: NewWebhookClient(url, timeout)}
}
