package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"ReasonChain/internal/auditor"
	"ReasonChain/internal/auth"
	xerrors "ReasonChain/internal/errors"
	"ReasonChain/internal/observability/metrics"
	"ReasonChain/internal/reasoning"
	storage "ReasonChain/internal/storage/mysql"
	"ReasonChain/internal/task"
	"ReasonChain/internal/treasury"
)

// Dependencies 汇总 API 服务依赖的各个业务组件。
type Dependencies struct {
	Tasks    *task.Service
	Auditor  *auditor.Auditor
	Balances *treasury.BalanceService
	Fees     *treasury.FeeClaimer
	Archive  storage.AuditArchive
	Auth     *auth.Service
}

// Server 负责暴露 REST 接口，供外部提交与审查资金动作。
type Server struct {
	addr string
	deps Dependencies
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, deps Dependencies) *Server {
	return &Server{addr: addr, deps: deps}
}

// Handler 构建完整的路由表，便于测试复用。
func (s *Server) Handler() http.Handler {
	guard := func(next http.Handler) http.Handler { return next }
	if s.deps.Auth != nil {
		guard = s.deps.Auth.Middleware(auth.MiddlewareConfig{
			RequiredPermissions: map[string][]string{
				http.MethodGet:  {"actions:read"},
				http.MethodPost: {"actions:write"},
			},
		})
	}

	mux := http.NewServeMux()
	mux.Handle("/healthz", instrument("healthz", http.HandlerFunc(s.handleHealth)))
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/api/v1/actions", guard(instrument("actions", http.HandlerFunc(s.handleActions))))
	mux.Handle("/api/v1/actions/", guard(instrument("action_detail", http.HandlerFunc(s.handleActionDetail))))
	mux.Handle("/api/v1/report", guard(instrument("report", http.HandlerFunc(s.handleReport))))
	mux.Handle("/api/v1/balances", guard(instrument("balances", http.HandlerFunc(s.handleBalances))))
	mux.Handle("/api/v1/fees", guard(instrument("fees", http.HandlerFunc(s.handleFees))))
	mux.Handle("/api/v1/fees/claim", guard(instrument("fees_claim", http.HandlerFunc(s.handleFeeClaim))))
	mux.Handle("/api/v1/auth/token", instrument("auth_token", http.HandlerFunc(s.handleIssueToken)))
	mux.Handle("/api/v1/verify", guard(instrument("verify", http.HandlerFunc(s.handleVerify))))
	mux.Handle("/api/v1/accountability", guard(instrument("accountability", http.HandlerFunc(s.handleAccountability))))
	mux.Handle("/api/v1/commitments", guard(instrument("commitments", http.HandlerFunc(s.handleCommitments))))
	mux.Handle("/api/v1/archive", guard(instrument("archive", http.HandlerFunc(s.handleArchive))))
	mux.Handle("/api/v1/archive/", guard(instrument("archive_detail", http.HandlerFunc(s.handleArchiveDetail))))
	return mux
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"auditor": s.deps.Auditor != nil && s.deps.Auditor.Ready(),
	})
}

func (s *Server) handleActions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleSubmitAction(w, r)
	case http.MethodGet:
		s.handleListActions(w, r)
	default:
		http.Error(w, "仅支持 GET/POST", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleSubmitAction(w http.ResponseWriter, r *http.Request) {
	if s.deps.Tasks == nil {
		http.Error(w, "任务服务未初始化", http.StatusServiceUnavailable)
		return
	}

	var req task.SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "请求体解析失败", http.StatusBadRequest)
		return
	}

	created, err := s.deps.Tasks.Submit(r.Context(), req)
	if err != nil {
		http.Error(w, err.Error(), statusOf(err))
		return
	}
	writeJSON(w, http.StatusAccepted, created)
}

func (s *Server) handleListActions(w http.ResponseWriter, r *http.Request) {
	if s.deps.Tasks == nil {
		http.Error(w, "任务服务未初始化", http.StatusServiceUnavailable)
		return
	}

	query := r.URL.Query()
	opts := []task.ListOption{}
	if raw := query.Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			opts = append(opts, task.WithLimit(parsed))
		}
	}
	if raw := query.Get("offset"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			opts = append(opts, task.WithOffset(parsed))
		}
	}
	if raw := query.Get("status"); raw != "" {
		var statuses []task.Status
		for _, item := range strings.Split(raw, ",") {
			statuses = append(statuses, task.Status(strings.TrimSpace(item)))
		}
		opts = append(opts, task.WithStatuses(statuses...))
	}
	if raw := query.Get("q"); raw != "" {
		opts = append(opts, task.WithQuery(raw))
	}

	if query.Get("stats") == "true" {
		stats, err := s.deps.Tasks.Stats(r.Context(), opts...)
		if err != nil {
			http.Error(w, err.Error(), statusOf(err))
			return
		}
		writeJSON(w, http.StatusOK, stats)
		return
	}

	tasks, err := s.deps.Tasks.List(r.Context(), opts...)
	if err != nil {
		http.Error(w, err.Error(), statusOf(err))
		return
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (s *Server) handleActionDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	if s.deps.Tasks == nil {
		http.Error(w, "任务服务未初始化", http.StatusServiceUnavailable)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/api/v1/actions/")
	if id == "" || strings.Contains(id, "/") {
		http.Error(w, "任务 ID 不能为空", http.StatusBadRequest)
		return
	}
	found, err := s.deps.Tasks.Get(r.Context(), id)
	if err != nil {
		http.Error(w, err.Error(), statusOf(err))
		return
	}
	writeJSON(w, http.StatusOK, found)
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	if s.deps.Auditor == nil {
		http.Error(w, "审计器未初始化", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte(s.deps.Auditor.Ledger().FormatReport()))
}

func (s *Server) handleBalances(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	if s.deps.Balances == nil {
		http.Error(w, "余额服务未初始化", http.StatusServiceUnavailable)
		return
	}
	balances, err := s.deps.Balances.Balances(r.Context())
	if err != nil {
		http.Error(w, err.Error(), statusOf(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"balances":  balances,
		"total_wei": treasury.TotalWei(balances).String(),
	})
}

func (s *Server) handleFees(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	if s.deps.Fees == nil {
		http.Error(w, "费用服务未启用", http.StatusServiceUnavailable)
		return
	}
	owed, err := s.deps.Fees.CheckFees(r.Context())
	if err != nil {
		http.Error(w, err.Error(), statusOf(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"owed_wei": owed.String()})
}

// feeClaimRequest 允许调用方覆盖默认的领取理由。
type feeClaimRequest struct {
	Rationale       string `json:"rationale,omitempty"`
	ExpectedOutcome string `json:"expected_outcome,omitempty"`
}

// handleFeeClaim 将费用领取包装为一次带审计的动作任务，而非直接执行。
func (s *Server) handleFeeClaim(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "仅支持 POST", http.StatusMethodNotAllowed)
		return
	}
	if s.deps.Tasks == nil {
		http.Error(w, "任务服务未初始化", http.StatusServiceUnavailable)
		return
	}
	if s.deps.Fees == nil {
		http.Error(w, "费用服务未启用", http.StatusServiceUnavailable)
		return
	}

	var req feeClaimRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "请求体解析失败", http.StatusBadRequest)
			return
		}
	}
	if req.Rationale == "" {
		req.Rationale = "金库存在未领取的协议费用"
	}
	if req.ExpectedOutcome == "" {
		req.ExpectedOutcome = "费用到账金库钱包"
	}

	created, err := s.deps.Tasks.Submit(r.Context(), task.SubmitRequest{
		Reasoning: reasoning.Reasoning{
			Kind:            reasoning.ActionFeeCollection,
			Rationale:       req.Rationale,
			Risk:            reasoning.RiskAssessment{Level: reasoning.RiskLow, Factors: []string{"固定合约调用"}},
			ExpectedOutcome: req.ExpectedOutcome,
		},
	})
	if err != nil {
		http.Error(w, err.Error(), statusOf(err))
		return
	}
	writeJSON(w, http.StatusAccepted, created)
}

// tokenExchangeRequest 描述 API Key 换取访问令牌的请求。
type tokenExchangeRequest struct {
	APIKey string `json:"api_key"`
}

func (s *Server) handleIssueToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "仅支持 POST", http.StatusMethodNotAllowed)
		return
	}
	if s.deps.Auth == nil || s.deps.Auth.Mode() == auth.ModeDisabled {
		http.Error(w, "身份认证未启用", http.StatusNotFound)
		return
	}

	var req tokenExchangeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "请求体解析失败", http.StatusBadRequest)
		return
	}
	pair, err := s.deps.Auth.ExchangeAPIKey(r.Context(), req.APIKey)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredential) {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}
		http.Error(w, err.Error(), statusOf(err))
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

// verifyRequest 描述重新验证承诺所需的参数。
type verifyRequest struct {
	CommitmentAddress string              `json:"commitment_address"`
	Reasoning         reasoning.Reasoning `json:"reasoning"`
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "仅支持 POST", http.StatusMethodNotAllowed)
		return
	}
	if s.deps.Auditor == nil {
		http.Error(w, "审计器未初始化", http.StatusServiceUnavailable)
		return
	}

	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "请求体解析失败", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.CommitmentAddress) == "" {
		http.Error(w, "承诺地址不能为空", http.StatusBadRequest)
		return
	}

	valid, message, err := s.deps.Auditor.VerifyAction(r.Context(), req.CommitmentAddress, req.Reasoning)
	if err != nil {
		http.Error(w, err.Error(), statusOf(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"valid": valid, "message": message})
}

func (s *Server) handleAccountability(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	if s.deps.Auditor == nil {
		http.Error(w, "审计器未初始化", http.StatusServiceUnavailable)
		return
	}
	score, err := s.deps.Auditor.Accountability(r.Context())
	if err != nil {
		http.Error(w, err.Error(), statusOf(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"score": score})
}

func (s *Server) handleCommitments(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	if s.deps.Auditor == nil {
		http.Error(w, "审计器未初始化", http.StatusServiceUnavailable)
		return
	}
	limit := parseLimit(r, 20)
	history, err := s.deps.Auditor.History(r.Context(), limit)
	if err != nil {
		http.Error(w, err.Error(), statusOf(err))
		return
	}
	writeJSON(w, http.StatusOK, history)
}

func (s *Server) handleArchive(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	if s.deps.Archive == nil {
		http.Error(w, "审计归档未启用", http.StatusServiceUnavailable)
		return
	}
	entries, err := s.deps.Archive.ListLatest(r.Context(), parseLimit(r, 20))
	if err != nil {
		http.Error(w, err.Error(), statusOf(err))
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleArchiveDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	if s.deps.Archive == nil {
		http.Error(w, "审计归档未启用", http.StatusServiceUnavailable)
		return
	}
	address := strings.TrimPrefix(r.URL.Path, "/api/v1/archive/")
	if address == "" || strings.Contains(address, "/") {
		http.Error(w, "承诺地址不能为空", http.StatusBadRequest)
		return
	}
	entry, err := s.deps.Archive.GetByCommitment(r.Context(), address)
	if err != nil {
		if errors.Is(err, storage.ErrEntryNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), statusOf(err))
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func parseLimit(r *http.Request, fallback int) int {
	limit := fallback
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	return limit
}

func statusOf(err error) int {
	if errors.Is(err, task.ErrTaskNotFound) {
		return http.StatusNotFound
	}
	if errors.Is(err, task.ErrTaskConflict) {
		return http.StatusConflict
	}
	switch xerrors.CodeOf(err) {
	case task.CodeTaskValidation, xerrors.CodeInvalidArgument:
		return http.StatusBadRequest
	case xerrors.CodeNotFound:
		return http.StatusNotFound
	case xerrors.CodeConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// instrument 记录每个接口的请求量与时延。
func instrument(name string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)
		metrics.ObserveHTTPRequest(name, r.Method, recorder.status, time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (w *statusRecorder) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "服务已关闭", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
