package protocol

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"time"
)

// DefaultHTTPTimeout 是未配置超时时协议调用的默认超时时间。
const DefaultHTTPTimeout = 30 * time.Second

// HTTPClient 基于协议服务的 JSON REST 接口实现 Client。
type HTTPClient struct {
	baseURL    *url.URL
	programID  string
	httpClient *http.Client
}

// HTTPConfig 描述协议服务客户端的构造参数。
type HTTPConfig struct {
	BaseURL   string
	ProgramID string
	Timeout   time.Duration
}

// APIError 表示协议服务返回的校验或内部错误。
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("协议服务错误 (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("协议服务错误 (%d): %s", e.StatusCode, e.Message)
}

// NewHTTPClient 构造协议服务客户端。
func NewHTTPClient(cfg HTTPConfig) (*HTTPClient, error) {
	parsed, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("解析协议服务地址失败: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("协议服务地址不完整: %s", cfg.BaseURL)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultHTTPTimeout
	}
	return &HTTPClient{
		baseURL:    parsed,
		programID:  cfg.ProgramID,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// IsAgentRegistered 查询身份是否已在协议中注册。
func (c *HTTPClient) IsAgentRegistered(ctx context.Context, identity string) (bool, error) {
	var out struct {
		Registered bool `json:"registered"`
	}
	endpoint := fmt.Sprintf("/v1/agents/%s", url.PathEscape(identity))
	if err := c.get(ctx, endpoint, &out); err != nil {
		if apiErr, ok := err.(*APIError); ok && apiErr.StatusCode == http.StatusNotFound {
			return false, nil
		}
		return false, err
	}
	return out.Registered, nil
}

// RegisterAgent 将身份注册为协议中的智能体。
func (c *HTTPClient) RegisterAgent(ctx context.Context, identity, name string) error {
	payload := map[string]string{
		"identity":   identity,
		"name":       name,
		"program_id": c.programID,
	}
	return c.post(ctx, "/v1/agents", payload, nil)
}

// CommitReasoning 提交推理轨迹的哈希承诺。
func (c *HTTPClient) CommitReasoning(ctx context.Context, identity string, trace any) (Commitment, error) {
	payload := map[string]any{
		"identity":   identity,
		"program_id": c.programID,
		"trace":      trace,
	}
	var out Commitment
	if err := c.post(ctx, "/v1/commitments", payload, &out); err != nil {
		return Commitment{}, err
	}
	return out, nil
}

// RevealReasoning 为已存在的承诺补充完整推理的披露位置。
func (c *HTTPClient) RevealReasoning(ctx context.Context, identity, commitmentAddress, uri string) (Reveal, error) {
	payload := map[string]any{
		"identity": identity,
		"uri":      uri,
	}
	endpoint := fmt.Sprintf("/v1/commitments/%s/reveal", url.PathEscape(commitmentAddress))
	var out Reveal
	if err := c.post(ctx, endpoint, payload, &out); err != nil {
		return Reveal{}, err
	}
	return out, nil
}

// VerifyReasoning 请求协议服务重算轨迹哈希并与链上承诺比对。
func (c *HTTPClient) VerifyReasoning(ctx context.Context, commitmentAddress string, trace any) (VerifyResult, error) {
	payload := map[string]any{
		"trace": trace,
	}
	endpoint := fmt.Sprintf("/v1/commitments/%s/verify", url.PathEscape(commitmentAddress))
	var out VerifyResult
	if err := c.post(ctx, endpoint, payload, &out); err != nil {
		return VerifyResult{}, err
	}
	return out, nil
}

// GetAccountability 返回身份的问责分值，未产生数据时为 nil。
func (c *HTTPClient) GetAccountability(ctx context.Context, identity string) (*float64, error) {
	var out struct {
		Score *float64 `json:"score"`
	}
	endpoint := fmt.Sprintf("/v1/agents/%s/accountability", url.PathEscape(identity))
	if err := c.get(ctx, endpoint, &out); err != nil {
		return nil, err
	}
	return out.Score, nil
}

// GetAgentCommitments 返回身份最近的承诺概要。
func (c *HTTPClient) GetAgentCommitments(ctx context.Context, identity string, limit int) ([]CommitmentSummary, error) {
	var out struct {
		Commitments []CommitmentSummary `json:"commitments"`
	}
	endpoint := fmt.Sprintf("/v1/agents/%s/commitments?limit=%s",
		url.PathEscape(identity), strconv.Itoa(limit))
	if err := c.get(ctx, endpoint, &out); err != nil {
		return nil, err
	}
	return out.Commitments, nil
}

func (c *HTTPClient) post(ctx context.Context, endpoint string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("序列化请求失败: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *HTTPClient) get(ctx context.Context, endpoint string, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *HTTPClient) newRequest(ctx context.Context, method, endpoint string, body io.Reader) (*http.Request, error) {
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("解析请求路径失败: %w", err)
	}
	rel := &url.URL{Path: path.Join(c.baseURL.Path, parsed.Path), RawQuery: parsed.RawQuery}
	u := c.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("构造请求失败: %w", err)
	}
	return req, nil
}

func (c *HTTPClient) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("请求协议服务失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("读取错误响应失败: %w", err)
		}
		if len(data) > 0 {
			wrapper := struct {
				Error *APIError `json:"error"`
			}{Error: apiErr}
			if err := json.Unmarshal(data, &wrapper); err != nil {
				// 服务端可能直接返回扁平结构
				_ = json.Unmarshal(data, apiErr)
			}
		}
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("解析响应失败: %w", err)
	}
	return nil
}

var _ Client = (*HTTPClient)(nil)
