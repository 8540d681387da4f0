package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"ReasonChain/internal/auditor"
	"ReasonChain/internal/auth"
	"ReasonChain/internal/protocol"
	"ReasonChain/internal/reasoning"
	storage "ReasonChain/internal/storage/mysql"
	"ReasonChain/internal/task"
)

type stubProtocol struct {
	verify protocol.VerifyResult
}

func (s *stubProtocol) IsAgentRegistered(context.Context, string) (bool, error) { return true, nil }

func (s *stubProtocol) RegisterAgent(context.Context, string, string) error { return nil }

func (s *stubProtocol) CommitReasoning(context.Context, string, any) (protocol.Commitment, error) {
	return protocol.Commitment{Hash: "0xhash", Address: "0xaddr"}, nil
}

func (s *stubProtocol) RevealReasoning(context.Context, string, string, string) (protocol.Reveal, error) {
	return protocol.Reveal{URI: "https://storage.example.dev/0xhash"}, nil
}

func (s *stubProtocol) VerifyReasoning(context.Context, string, any) (protocol.VerifyResult, error) {
	return s.verify, nil
}

func (s *stubProtocol) GetAccountability(context.Context, string) (*float64, error) {
	score := 87.5
	return &score, nil
}

func (s *stubProtocol) GetAgentCommitments(context.Context, string, int) ([]protocol.CommitmentSummary, error) {
	return nil, nil
}

func sampleSubmit(id string) task.SubmitRequest {
	return task.SubmitRequest{
		ID: id,
		Reasoning: reasoning.Reasoning{
			Kind:      reasoning.ActionFeeCollection,
			Rationale: "协议费用超过领取阈值",
			Risk:      reasoning.RiskAssessment{Level: reasoning.RiskLow},
		},
	}
}

func newTestServer(t *testing.T) (*Server, *task.Service) {
	t.Helper()
	store := task.NewMemoryStore()
	svc := task.NewService(store, task.NewMemoryQueue(8), 3)
	server := NewServer(":0", Dependencies{Tasks: svc})
	return server, svc
}

func TestSubmitAndFetchAction(t *testing.T) {
	server, _ := newTestServer(t)
	handler := server.Handler()

	body, err := json.Marshal(sampleSubmit("api-1"))
	if err != nil {
		t.Fatalf("序列化请求失败: %v", err)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/actions", bytes.NewReader(body)))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("提交应返回 202, got %d: %s", rec.Code, rec.Body.String())
	}

	var created task.Task
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("解析响应失败: %v", err)
	}
	if created.ID != "api-1" || created.Status != task.StatusPending {
		t.Fatalf("创建结果不符: %+v", created)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/actions/api-1", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("查询应返回 200, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/actions?status=pending", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "api-1") {
		t.Fatalf("列表查询失败: %d %s", rec.Code, rec.Body.String())
	}
}

func TestSubmitRejectsInvalidReasoning(t *testing.T) {
	server, _ := newTestServer(t)
	handler := server.Handler()

	req := sampleSubmit("api-bad")
	req.Reasoning.Rationale = ""
	body, _ := json.Marshal(req)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/actions", bytes.NewReader(body)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("无效决策依据应返回 400, got %d", rec.Code)
	}
}

func TestActionDetailErrors(t *testing.T) {
	server, _ := newTestServer(t)
	handler := server.Handler()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/actions/api-1", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("应返回 405, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/actions/", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("缺少 ID 应返回 400, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/actions/missing", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("不存在的任务应返回 404, got %d", rec.Code)
	}
}

func TestVerifyEndpoint(t *testing.T) {
	aud := auditor.New(&stubProtocol{verify: protocol.VerifyResult{Valid: false, Message: "哈希不匹配"}}, "treasury-agent")
	server := NewServer(":0", Dependencies{Auditor: aud})
	handler := server.Handler()

	payload := map[string]any{
		"commitment_address": "0xaddr",
		"reasoning": reasoning.Reasoning{
			Kind:      reasoning.ActionTransfer,
			Rationale: "对外支付",
			Risk:      reasoning.RiskAssessment{Level: reasoning.RiskMedium},
		},
	}
	body, _ := json.Marshal(payload)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/verify", bytes.NewReader(body)))
	if rec.Code != http.StatusOK {
		t.Fatalf("验证应返回 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var result struct {
		Valid   bool   `json:"valid"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("解析响应失败: %v", err)
	}
	if result.Valid || result.Message != "哈希不匹配" {
		t.Fatalf("验证结果不符: %+v", result)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/verify", strings.NewReader(`{"reasoning":{}}`)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("缺少承诺地址应返回 400, got %d", rec.Code)
	}
}

func TestReportAndHealth(t *testing.T) {
	aud := auditor.New(&stubProtocol{}, "treasury-agent")
	server := NewServer(":0", Dependencies{Auditor: aud})
	handler := server.Handler()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/report", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "审计报告") {
		t.Fatalf("报告内容不符: %d %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("健康检查应返回 200, got %d", rec.Code)
	}
}

func TestBalancesUnconfigured(t *testing.T) {
	server, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/balances", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("未配置余额服务应返回 503, got %d", rec.Code)
	}
}

func TestArchiveEndpoints(t *testing.T) {
	archive, err := storage.NewJSONLArchive(t.TempDir())
	if err != nil {
		t.Fatalf("创建归档失败: %v", err)
	}
	entry := &storage.ArchiveEntry{
		AgentName:         "treasury-agent",
		Kind:              string(reasoning.ActionRebalance),
		Rationale:         "稳定币占比偏低",
		RiskLevel:         string(reasoning.RiskMedium),
		CommitmentHash:    "0xhash",
		CommitmentAddress: "0xaddr",
	}
	if err := archive.Append(context.Background(), entry); err != nil {
		t.Fatalf("写入归档失败: %v", err)
	}

	server := NewServer(":0", Dependencies{Archive: archive})
	handler := server.Handler()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/archive", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "0xaddr") {
		t.Fatalf("归档列表不符: %d %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/archive/0xaddr", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("归档详情应返回 200, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/archive/0xmissing", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("未命中归档应返回 404, got %d", rec.Code)
	}
}

func TestAuthGuardProtectsAPI(t *testing.T) {
	authSvc, err := auth.NewService(auth.Config{Mode: auth.ModeToken, Secret: "api-test-secret", AccessTTL: 60})
	if err != nil {
		t.Fatalf("创建认证服务失败: %v", err)
	}
	store := task.NewMemoryStore()
	svc := task.NewService(store, task.NewMemoryQueue(8), 3)
	server := NewServer(":0", Dependencies{Tasks: svc, Auth: authSvc})
	handler := server.Handler()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/actions", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("无令牌应返回 401, got %d", rec.Code)
	}

	// 健康检查不受认证保护。
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("健康检查应放行, got %d", rec.Code)
	}

	pair, err := authSvc.IssueToken(&auth.Subject{Name: "ops", Permissions: []string{"actions:read"}})
	if err != nil {
		t.Fatalf("签发令牌失败: %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, "/api/v1/actions", nil)
	req.Header.Set("Authorization", "Bearer "+pair.AccessToken)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("合法令牌应放行, got %d", rec.Code)
	}
}

func TestTokenExchangeEndpoint(t *testing.T) {
	authSvc, err := auth.NewService(auth.Config{
		Mode:      auth.ModeToken,
		Secret:    "api-test-secret",
		AccessTTL: 60,
		Users:     []auth.Credential{{Name: "ops", APIKey: "key-ops", Permissions: []string{"actions:read"}}},
	})
	if err != nil {
		t.Fatalf("创建认证服务失败: %v", err)
	}
	store := task.NewMemoryStore()
	svc := task.NewService(store, task.NewMemoryQueue(8), 3)
	server := NewServer(":0", Dependencies{Tasks: svc, Auth: authSvc})
	handler := server.Handler()

	// 错误的 API Key 返回 401。
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/auth/token",
		strings.NewReader(`{"api_key":"wrong"}`)))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("无效凭据应返回 401, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/auth/token",
		strings.NewReader(`{"api_key":"key-ops"}`)))
	if rec.Code != http.StatusOK {
		t.Fatalf("换取令牌应返回 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var pair auth.TokenPair
	if err := json.Unmarshal(rec.Body.Bytes(), &pair); err != nil {
		t.Fatalf("解析响应失败: %v", err)
	}

	// 换取的令牌可以直接访问受保护接口。
	req := httptest.NewRequest(http.MethodGet, "/api/v1/actions", nil)
	req.Header.Set("Authorization", "Bearer "+pair.AccessToken)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("令牌应放行, got %d", rec.Code)
	}
}

func TestTokenEndpointHiddenWhenDisabled(t *testing.T) {
	server, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/auth/token",
		strings.NewReader(`{"api_key":"key"}`)))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("认证未启用时应返回 404, got %d", rec.Code)
	}
}

func TestFeeClaimRequiresClaimer(t *testing.T) {
	server, _ := newTestServer(t)
	handler := server.Handler()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/fees/claim", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("费用服务未启用应返回 503, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/fees/claim", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET 应返回 405, got %d", rec.Code)
	}
}
