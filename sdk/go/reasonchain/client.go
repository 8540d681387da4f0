package reasonchain

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"sync"
	"time"
)

// DefaultHTTPTimeout defines the timeout used by clients created without a
// custom http.Client. It is intentionally short to avoid hanging network calls.
const DefaultHTTPTimeout = 15 * time.Second

// Client wraps the HTTP interactions with the ReasonChain REST API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client

	mu          sync.RWMutex
	accessToken string
}

// Reasoning mirrors the decision record attached to every submitted action.
type Reasoning struct {
	Kind            string         `json:"kind"`
	Rationale       string         `json:"rationale"`
	Risk            RiskAssessment `json:"risk"`
	ExpectedOutcome string         `json:"expected_outcome"`
	Constraints     []string       `json:"constraints,omitempty"`
}

// RiskAssessment carries the declared risk level of an action.
type RiskAssessment struct {
	Level   string   `json:"level"`
	Factors []string `json:"factors,omitempty"`
}

// ActionSubmission represents the payload required to create a new action.
type ActionSubmission struct {
	ID        string         `json:"id,omitempty"`
	Reasoning Reasoning      `json:"reasoning"`
	Params    map[string]any `json:"params,omitempty"`
}

// ExecutionResult contains the commit-reveal evidence of a finished action.
type ExecutionResult struct {
	CommitmentHash    string `json:"commitment_hash"`
	CommitmentAddress string `json:"commitment_address"`
	RevealURI         string `json:"reveal_uri"`
	ExplorerURL       string `json:"explorer_url"`
	Output            string `json:"output,omitempty"`
}

// Action contains the full view of a submitted action.
type Action struct {
	ID         string           `json:"id"`
	Reasoning  Reasoning        `json:"reasoning"`
	Params     map[string]any   `json:"params,omitempty"`
	Status     string           `json:"status"`
	Attempts   int              `json:"attempts"`
	MaxRetries int              `json:"max_retries"`
	LastError  string           `json:"last_error,omitempty"`
	ErrorCode  string           `json:"error_code,omitempty"`
	Result     *ExecutionResult `json:"result,omitempty"`
	CreatedAt  int64            `json:"created_at"`
	UpdatedAt  int64            `json:"updated_at"`
}

// VerifyResult is the outcome of re-deriving a commitment hash.
type VerifyResult struct {
	Valid   bool   `json:"valid"`
	Message string `json:"message"`
}

// APIError represents server side validation or internal errors.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("reasonchain api error (%d): %s", e.StatusCode, e.Message)
}

// NewClient instantiates a client for the ReasonChain API. When httpClient is
// nil, a default client with a sensible timeout is used.
func NewClient(rawURL string, httpClient *http.Client) *Client {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		panic(fmt.Sprintf("invalid base url: %v", err))
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}
}

// AccessToken returns the currently stored token string.
func (c *Client) AccessToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.accessToken
}

// SetAccessToken stores the bearer token attached to subsequent calls. Tokens
// are issued out of band by the operator tooling.
func (c *Client) SetAccessToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accessToken = token
}

// SubmitAction queues a new audited action.
func (c *Client) SubmitAction(ctx context.Context, submission ActionSubmission) (Action, error) {
	var created Action
	if err := c.post(ctx, "/api/v1/actions", submission, &created); err != nil {
		return Action{}, err
	}
	return created, nil
}

// GetAction fetches action details by identifier.
func (c *Client) GetAction(ctx context.Context, actionID string) (Action, error) {
	var detail Action
	if err := c.get(ctx, "/api/v1/actions/"+url.PathEscape(actionID), &detail); err != nil {
		return Action{}, err
	}
	return detail, nil
}

// ListActions returns the most recent actions, optionally filtered by status.
func (c *Client) ListActions(ctx context.Context, limit int, statuses ...string) ([]Action, error) {
	query := url.Values{}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	if len(statuses) > 0 {
		query.Set("status", joinStatuses(statuses))
	}
	endpoint := "/api/v1/actions"
	if encoded := query.Encode(); encoded != "" {
		endpoint += "?" + encoded
	}
	var actions []Action
	if err := c.get(ctx, endpoint, &actions); err != nil {
		return nil, err
	}
	return actions, nil
}

// WaitForAction polls until the action reaches a terminal status or the
// context expires.
func (c *Client) WaitForAction(ctx context.Context, actionID string, interval time.Duration) (Action, error) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		detail, err := c.GetAction(ctx, actionID)
		if err != nil {
			return Action{}, err
		}
		if detail.Status == "succeeded" || detail.Status == "failed" {
			return detail, nil
		}
		select {
		case <-ctx.Done():
			return Action{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Verify asks the server to re-derive the commitment hash for the given
// reasoning and compare it against the on-chain commitment.
// TokenPair is returned by the token exchange endpoint.
type TokenPair struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

// Authenticate exchanges an API key for an access token and stores it on the
// client, so subsequent requests carry the bearer header automatically.
func (c *Client) Authenticate(ctx context.Context, apiKey string) (TokenPair, error) {
	var pair TokenPair
	if err := c.post(ctx, "/api/v1/auth/token", map[string]string{"api_key": apiKey}, &pair); err != nil {
		return TokenPair{}, err
	}
	c.SetAccessToken(pair.AccessToken)
	return pair, nil
}

// BalanceSummary mirrors the treasury balances endpoint payload.
type BalanceSummary struct {
	Balances []ChainBalance `json:"balances"`
	TotalWei string         `json:"total_wei"`
}

// ChainBalance is the native balance of one wallet on one chain. Error is set
// when that chain's read failed while others succeeded.
type ChainBalance struct {
	Chain   string `json:"chain"`
	Address string `json:"address"`
	Symbol  string `json:"symbol"`
	Wei     string `json:"wei,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Balances fetches the treasury balances across all configured chains.
func (c *Client) Balances(ctx context.Context) (BalanceSummary, error) {
	var summary BalanceSummary
	if err := c.get(ctx, "/api/v1/balances", &summary); err != nil {
		return BalanceSummary{}, err
	}
	return summary, nil
}

func (c *Client) Verify(ctx context.Context, commitmentAddress string, reasoning Reasoning) (VerifyResult, error) {
	payload := map[string]any{
		"commitment_address": commitmentAddress,
		"reasoning":          reasoning,
	}
	var result VerifyResult
	if err := c.post(ctx, "/api/v1/verify", payload, &result); err != nil {
		return VerifyResult{}, err
	}
	return result, nil
}

// Report fetches the human readable session audit report.
func (c *Client) Report(ctx context.Context) (string, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/v1/report", nil)
	if err != nil {
		return "", err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return "", &APIError{StatusCode: resp.StatusCode, Message: string(bytes.TrimSpace(data))}
	}
	return string(data), nil
}

func (c *Client) post(ctx context.Context, endpoint string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, endpoint string, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body io.Reader) (*http.Request, error) {
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint: %w", err)
	}
	rel := &url.URL{Path: path.Join(c.baseURL.Path, parsed.Path), RawQuery: parsed.RawQuery}
	u := c.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if token := c.AccessToken(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		return &APIError{StatusCode: resp.StatusCode, Message: string(bytes.TrimSpace(data))}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func joinStatuses(statuses []string) string {
	joined := ""
	for i, status := range statuses {
		if i > 0 {
			joined += ","
		}
		joined += status
	}
	return joined
}

var errMissingToken = errors.New("reasonchain: access token is not set")

// RequireToken returns an error when no token is configured. Callers hitting a
// protected deployment can fail fast instead of waiting for a 401.
func (c *Client) RequireToken() error {
	if c.AccessToken() == "" {
		return errMissingToken
	}
	return nil
}
