package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	xerrors "ReasonChain/internal/errors"
)

type recordingSender struct {
	channel  Channel
	messages []string
	err      error
}

func (s *recordingSender) Channel() Channel { return s.channel }

func (s *recordingSender) Notify(_ context.Context, event Event) error {
	if s.err != nil {
		return s.err
	}
	s.messages = append(s.messages, event.Message)
	return nil
}

func sampleEvent() Event {
	return Event{
		Code:       xerrors.CodeCommitFailure,
		Message:    "承诺提交失败",
		Severity:   xerrors.SeverityCritical,
		TaskID:     "task-1",
		Attempts:   2,
		MaxRetries: 3,
		OccurredAt: time.Now(),
	}
}

func TestFanoutBroadcastsToAllChannels(t *testing.T) {
	email := &recordingSender{channel: ChannelEmail}
	slack := &recordingSender{channel: ChannelSlack}
	dispatcher := NewFanout(email, slack, nil)

	if err := dispatcher.Notify(context.Background(), sampleEvent()); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if len(email.messages) != 1 || len(slack.messages) != 1 {
		t.Fatalf("期望两个渠道各收到一条消息, got %d/%d", len(email.messages), len(slack.messages))
	}
}

func TestFanoutCollectsChannelErrors(t *testing.T) {
	failing := &recordingSender{channel: ChannelDingTalk, err: errors.New("机器人限流")}
	healthy := &recordingSender{channel: ChannelEmail}
	dispatcher := NewFanout(failing, healthy)

	err := dispatcher.Notify(context.Background(), sampleEvent())
	if err == nil {
		t.Fatal("期望返回渠道错误")
	}
	if !strings.Contains(err.Error(), "dingtalk") {
		t.Fatalf("错误应标明渠道: %v", err)
	}
	if len(healthy.messages) != 1 {
		t.Fatal("单个渠道失败不应阻断其他渠道")
	}
}

func TestWebhookClientSendsDingTalkPayload(t *testing.T) {
	var got map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("Content-Type = %s", r.Header.Get("Content-Type"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("解析请求体失败: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewWebhookClient(server.URL, time.Second)
	if err := client.Send(context.Background(), "余额不足"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got["msgtype"] != "text" {
		t.Fatalf("msgtype = %v", got["msgtype"])
	}
	text, ok := got["text"].(map[string]any)
	if !ok || text["content"] != "余额不足" {
		t.Fatalf("text = %v", got["text"])
	}
}

func TestWebhookClientReportsHTTPFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "invalid token", http.StatusForbidden)
	}))
	defer server.Close()

	client := NewWebhookClient(server.URL, time.Second)
	err := client.Send(context.Background(), "test")
	if err == nil {
		t.Fatal("期望返回 HTTP 错误")
	}
	if !strings.Contains(err.Error(), "403") {
		t.Fatalf("错误应包含状态码: %v", err)
	}
}

func TestSlackNotifierSendsToConfiguredChannel(t *testing.T) {
	var got map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("解析请求体失败: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	notifier := &SlackNotifier{
		Sender:    NewSlackSender(server.URL, time.Second),
		ChannelID: "#treasury-alerts",
	}
	if err := notifier.Notify(context.Background(), sampleEvent()); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if got["channel"] != "#treasury-alerts" {
		t.Fatalf("channel = %v", got["channel"])
	}
	if text, _ := got["text"].(string); !strings.Contains(text, "COMMIT_FAILURE") {
		t.Fatalf("text 应包含错误码: %v", got["text"])
	}
}

func TestUnconfiguredNotifiersSkipSilently(t *testing.T) {
	notifiers := []Notifier{
		&EmailNotifier{},
		&DingTalkNotifier{},
		&SlackNotifier{},
	}
	for _, n := range notifiers {
		if err := n.Notify(context.Background(), sampleEvent()); err != nil {
			t.Fatalf("%s: 未配置的通知器应跳过而非报错: %v", n.Channel(), err)
		}
	}
}
