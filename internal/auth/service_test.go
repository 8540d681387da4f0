package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func newTokenService(t *testing.T) *Service {
	t.Helper()
	svc, err := NewService(Config{Mode: ModeToken, Secret: "unit-test-secret", AccessTTL: 60})
	if err != nil {
		t.Fatalf("创建认证服务失败: %v", err)
	}
	return svc
}

func TestIssueAndAuthenticate(t *testing.T) {
	svc := newTokenService(t)

	pair, err := svc.IssueToken(&Subject{Name: "ops", Permissions: []string{"actions:read", "actions:write"}})
	if err != nil {
		t.Fatalf("签发令牌失败: %v", err)
	}
	if pair.TokenType != "Bearer" || pair.ExpiresIn != 60 {
		t.Fatalf("令牌元数据不符: %+v", pair)
	}

	subject, err := svc.AuthenticateRequest("Bearer " + pair.AccessToken)
	if err != nil {
		t.Fatalf("验证令牌失败: %v", err)
	}
	if subject.Name != "ops" || !subject.HasPermission("actions:write") {
		t.Fatalf("主体信息不符: %+v", subject)
	}
	if err := subject.Authorize("actions:read"); err != nil {
		t.Fatalf("授权应通过: %v", err)
	}
	if err := subject.Authorize("admin"); err == nil {
		t.Fatalf("缺少权限应拒绝")
	}
}

func TestAuthenticateRejectsTamperedToken(t *testing.T) {
	svc := newTokenService(t)

	pair, err := svc.IssueToken(&Subject{Name: "ops"})
	if err != nil {
		t.Fatalf("签发令牌失败: %v", err)
	}

	parts := strings.Split(pair.AccessToken, ".")
	tampered := parts[0] + "." + parts[1] + "." + strings.Repeat("A", len(parts[2]))
	if _, err := svc.AuthenticateRequest("Bearer " + tampered); err != ErrInvalidToken {
		t.Fatalf("篡改令牌应被拒绝, got %v", err)
	}
	if _, err := svc.AuthenticateRequest(""); err != ErrMissingToken {
		t.Fatalf("缺少令牌应返回 ErrMissingToken, got %v", err)
	}
}

func TestAuthenticateRejectsExpiredToken(t *testing.T) {
	svc, err := NewService(Config{Mode: ModeToken, Secret: "unit-test-secret", AccessTTL: -1})
	if err != nil {
		t.Fatalf("创建认证服务失败: %v", err)
	}
	// AccessTTL<=0 时回退为默认值，手动构造一个过期的管理器。
	svc.manager.accessTTL = -time.Minute

	pair, err := svc.IssueToken(&Subject{Name: "ops"})
	if err != nil {
		t.Fatalf("签发令牌失败: %v", err)
	}
	if _, err := svc.AuthenticateRequest("Bearer " + pair.AccessToken); err != ErrInvalidToken {
		t.Fatalf("过期令牌应被拒绝, got %v", err)
	}
}

func TestMiddlewareEnforcesPermissions(t *testing.T) {
	svc := newTokenService(t)

	var seen *Subject
	handler := svc.Middleware(MiddlewareConfig{
		RequiredPermissions: map[string][]string{
			http.MethodPost: {"actions:write"},
		},
	})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = SubjectFromContext(r.Context())
		w.WriteHeader(http.StatusAccepted)
	}))

	// 无令牌。
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/actions", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("缺少令牌应返回 401, got %d", rec.Code)
	}

	// 只读令牌调用写接口。
	readonly, err := svc.IssueToken(&Subject{Name: "viewer", Permissions: []string{"actions:read"}})
	if err != nil {
		t.Fatalf("签发令牌失败: %v", err)
	}
	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/actions", nil)
	req.Header.Set("Authorization", "Bearer "+readonly.AccessToken)
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("权限不足应返回 403, got %d", rec.Code)
	}

	// 具备写权限的令牌。
	writer, err := svc.IssueToken(&Subject{Name: "ops", Permissions: []string{"actions:write"}})
	if err != nil {
		t.Fatalf("签发令牌失败: %v", err)
	}
	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/api/v1/actions", nil)
	req.Header.Set("Authorization", "Bearer "+writer.AccessToken)
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("合法请求应放行, got %d", rec.Code)
	}
	if seen == nil || seen.Name != "ops" {
		t.Fatalf("上下文主体未注入: %+v", seen)
	}
}

func TestDisabledModePassesThrough(t *testing.T) {
	svc, err := NewService(Config{Mode: ModeDisabled})
	if err != nil {
		t.Fatalf("创建认证服务失败: %v", err)
	}
	if _, err := svc.IssueToken(&Subject{Name: "ops"}); err != ErrDisabled {
		t.Fatalf("禁用模式不应签发令牌, got %v", err)
	}

	handler := svc.Middleware(MiddlewareConfig{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("禁用模式应放行所有请求, got %d", rec.Code)
	}
}

func TestExchangeAPIKeyIssuesToken(t *testing.T) {
	svc, err := NewService(Config{
		Mode:      ModeToken,
		Secret:    "unit-test-secret",
		AccessTTL: 60,
		Users: []Credential{
			{Name: "ops", APIKey: "key-ops", Permissions: []string{"actions:read", "actions:write"}},
			{Name: "viewer", APIKey: "key-viewer", Permissions: []string{"actions:read"}},
		},
	})
	if err != nil {
		t.Fatalf("创建认证服务失败: %v", err)
	}

	pair, err := svc.ExchangeAPIKey(context.Background(), "key-viewer")
	if err != nil {
		t.Fatalf("换取令牌失败: %v", err)
	}
	subject, err := svc.AuthenticateRequest("Bearer " + pair.AccessToken)
	if err != nil {
		t.Fatalf("验证令牌失败: %v", err)
	}
	if subject.Name != "viewer" || subject.HasPermission("actions:write") {
		t.Fatalf("主体权限不符: %+v", subject)
	}
}

func TestExchangeAPIKeyRejectsUnknownKey(t *testing.T) {
	svc, err := NewService(Config{
		Mode:      ModeToken,
		Secret:    "unit-test-secret",
		AccessTTL: 60,
		Users:     []Credential{{Name: "ops", APIKey: "key-ops"}},
	})
	if err != nil {
		t.Fatalf("创建认证服务失败: %v", err)
	}

	for _, key := range []string{"", "wrong", "KEY-OPS"} {
		if _, err := svc.ExchangeAPIKey(context.Background(), key); !errors.Is(err, ErrInvalidCredential) {
			t.Fatalf("key %q 应被拒绝, got %v", key, err)
		}
	}
}

func TestMemoryStoreDropsIncompleteCredentials(t *testing.T) {
	store := NewMemoryStore([]Credential{
		{Name: "", APIKey: "orphan"},
		{Name: "no-key", APIKey: ""},
		{Name: "ops", APIKey: "key-ops"},
	})
	if _, err := store.LookupByAPIKey(context.Background(), "orphan"); !errors.Is(err, ErrInvalidCredential) {
		t.Fatalf("匿名凭据不应注册: %v", err)
	}
	subject, err := store.LookupByAPIKey(context.Background(), "key-ops")
	if err != nil || subject.Name != "ops" {
		t.Fatalf("查找凭据失败: %v %+v", err, subject)
	}
}
