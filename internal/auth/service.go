package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"ReasonChain/pkg/logger"
)

// 常量定义。
const (
	tokenTypeAccess = "access"
	tokenHeaderJSON = `{"alg":"HS256","typ":"JWT"}`
)

// encodedTokenHeader 是编码后的令牌头部。
var encodedTokenHeader = base64.RawURLEncoding.EncodeToString([]byte(tokenHeaderJSON))

// Service 负责 HTTP 端点的身份验证和授权。
type Service struct {
	mode    Mode
	manager *tokenManager
	store   SubjectStore
	audit   *slog.Logger
}

// TokenPair 包含签发的访问令牌。
type TokenPair struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

// NewService 构造身份认证服务实例。
func NewService(cfg Config) (*Service, error) {
	mode := Mode(strings.ToLower(string(cfg.Mode)))
	svc := &Service{
		mode:  mode,
		audit: logger.Audit(),
	}

	switch mode {
	case "", ModeDisabled:
		svc.mode = ModeDisabled
		return svc, nil
	case ModeToken:
		if strings.TrimSpace(cfg.Secret) == "" {
			return nil, errors.New("token secret must be configured")
		}
		if cfg.AccessTTL <= 0 {
			cfg.AccessTTL = 3600
		}
		svc.manager = &tokenManager{
			secret:    []byte(cfg.Secret),
			accessTTL: time.Duration(cfg.AccessTTL) * time.Second,
		}
		if len(cfg.Users) > 0 {
			svc.store = NewMemoryStore(cfg.Users)
		}
		return svc, nil
	default:
		return nil, fmt.Errorf("unsupported auth mode: %s", cfg.Mode)
	}
}

// Mode 返回当前身份认证服务的工作模式。
func (s *Service) Mode() Mode {
	if s == nil {
		return ModeDisabled
	}
	return s.mode
}

// IssueToken 为指定主体签发访问令牌，用于运维工具接入。
func (s *Service) IssueToken(subject *Subject) (*TokenPair, error) {
	if s == nil || s.mode == ModeDisabled {
		return nil, ErrDisabled
	}
	if s.manager == nil {
		return nil, errors.New("token manager not initialised")
	}
	return s.manager.Generate(subject)
}

// ExchangeAPIKey 校验 API Key 并为对应主体签发访问令牌。
func (s *Service) ExchangeAPIKey(ctx context.Context, apiKey string) (*TokenPair, error) {
	if s == nil || s.mode == ModeDisabled {
		return nil, ErrDisabled
	}
	if s.store == nil {
		return nil, errors.New("credential store not configured")
	}
	subject, err := s.store.LookupByAPIKey(ctx, apiKey)
	if err != nil {
		if s.audit != nil {
			s.audit.Warn("credential_rejected")
		}
		return nil, err
	}
	pair, err := s.IssueToken(subject)
	if err != nil {
		return nil, err
	}
	if s.audit != nil {
		s.audit.Info("token_issued", slog.String("user", subject.Name))
	}
	return pair, nil
}

// AuthenticateRequest 验证传入请求的授权头，并返回相应的主体信息。
func (s *Service) AuthenticateRequest(authorization string) (*Subject, error) {
	if s == nil || s.mode == ModeDisabled {
		return nil, ErrDisabled
	}
	parts := strings.SplitN(strings.TrimSpace(authorization), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return nil, ErrMissingToken
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return nil, ErrMissingToken
	}
	if s.manager == nil {
		return nil, errors.New("token manager not initialised")
	}
	claims, err := s.manager.Verify(token)
	if err != nil {
		return nil, err
	}
	if claims.TokenType != tokenTypeAccess {
		return nil, ErrInvalidToken
	}
	subject := &Subject{Name: claims.Name, Permissions: claims.Permissions}
	subject.normalise()
	return subject, nil
}

// tokenManager 负责令牌的签名和验证。
type tokenManager struct {
	secret    []byte
	accessTTL time.Duration
}

// tokenClaims 定义访问令牌的声明结构。
type tokenClaims struct {
	Name        string   `json:"name"`
	Permissions []string `json:"permissions,omitempty"`
	TokenType   string   `json:"type"`
	IssuedAt    int64    `json:"iat,omitempty"`
	ExpiresAt   int64    `json:"exp,omitempty"`
}

// Generate 生成访问令牌。
func (m *tokenManager) Generate(subject *Subject) (*TokenPair, error) {
	if subject == nil || strings.TrimSpace(subject.Name) == "" {
		return nil, errors.New("subject required")
	}
	subject.normalise()
	now := time.Now().Unix()

	claims := tokenClaims{
		Name:        subject.Name,
		Permissions: append([]string(nil), subject.Permissions...),
		TokenType:   tokenTypeAccess,
		IssuedAt:    now,
		ExpiresAt:   now + int64(m.accessTTL.Seconds()),
	}

	token, err := m.sign(claims)
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}
	return &TokenPair{
		AccessToken: token,
		ExpiresIn:   int64(m.accessTTL.Seconds()),
		TokenType:   "Bearer",
	}, nil
}

// sign 使用 HMAC-SHA256 签名令牌。
func (m *tokenManager) sign(claims tokenClaims) (string, error) {
	payloadBytes, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("encode claims: %w", err)
	}
	payload := base64.RawURLEncoding.EncodeToString(payloadBytes)
	signature := m.signature(encodedTokenHeader, payload)
	return strings.Join([]string{encodedTokenHeader, payload, base64.RawURLEncoding.EncodeToString(signature)}, "."), nil
}

// signature 计算令牌的签名部分。
func (m *tokenManager) signature(header, payload string) []byte {
	mac := hmac.New(sha256.New, m.secret)
	mac.Write([]byte(header))
	mac.Write([]byte("."))
	mac.Write([]byte(payload))
	return mac.Sum(nil)
}

// Verify 验证令牌的有效性并返回其声明。
func (m *tokenManager) Verify(token string) (*tokenClaims, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, ErrInvalidToken
	}
	expected := m.signature(parts[0], parts[1])
	actual, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		return nil, ErrInvalidToken
	}
	if subtle.ConstantTimeCompare(expected, actual) != 1 {
		return nil, ErrInvalidToken
	}

	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, ErrInvalidToken
	}
	var claims tokenClaims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, ErrInvalidToken
	}

	if claims.ExpiresAt != 0 && time.Now().Unix() > claims.ExpiresAt {
		return nil, ErrInvalidToken
	}
	return &claims, nil
}
