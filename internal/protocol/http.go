package protocol

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/oklog/ulid/v2"

	"github.com/agentevolution/agentevolution/internal/discovery"
	"github.com/agentevolution/agentevolution/internal/errs"
	"github.com/agentevolution/agentevolution/internal/logging"
	"github.com/agentevolution/agentevolution/internal/registry"
	"github.com/agentevolution/agentevolution/internal/telemetry"
)

// Server exposes a Service as JSON-over-HTTP using chi, mirroring the
// teacher's plain-JSON-dispatch style (decode request struct, call
// service method, encode response or structured error).
type Server struct {
	svc    *Service
	log    *logging.Logger
	router chi.Router
	http   *http.Server
}

// NewServer builds a Server bound to addr, wiring every endpoint in
// spec.md §6 plus a health signal.
func NewServer(addr string, svc *Service, log *logging.Logger) *Server {
	s := &Server{svc: svc, log: log}
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestTimeout(30 * time.Second))

	r.Post("/submit_tool", s.handleSubmitTool)
	r.Post("/fork_tool", s.handleForkTool)
	r.Post("/discover_tool", s.handleDiscoverTool)
	r.Post("/report_usage", s.handleReportUsage)
	r.Post("/get_tool", s.handleGetTool)
	r.Post("/get_provenance", s.handleGetProvenance)
	r.Post("/list_tools", s.handleListTools)
	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", telemetry.Handler())

	s.router = r
	s.http = &http.Server{Addr: addr, Handler: r}
	return s
}

// Router returns the underlying HTTP handler, primarily for tests.
func (s *Server) Router() http.Handler { return s.router }

// ListenAndServe blocks serving the RPC surface until ctx is canceled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.http.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func requestTimeout(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func (s *Server) handleSubmitTool(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req submitToolRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, s.log, "submit_tool", errs.Wrap(err, errs.CodeInvalidInput, "decoding request"))
		return
	}
	outcome, err := s.svc.SubmitTool(r.Context(), SubmitInput{
		Name: req.Name, Description: req.Description, Intent: req.Intent,
		Code: req.Code, TestCase: req.TestCase, InputSchema: req.InputSchema,
		Tags: req.Tags, AuthorAgentID: req.AuthorAgentID,
	})
	observe("submit_tool", start, err)
	if err != nil {
		writeError(w, s.log, "submit_tool", err)
		return
	}
	writeJSON(w, http.StatusOK, toSubmitResponse(outcome))
}

func (s *Server) handleForkTool(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req forkToolRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, s.log, "fork_tool", errs.Wrap(err, errs.CodeInvalidInput, "decoding request"))
		return
	}
	outcome, err := s.svc.ForkTool(r.Context(), ForkInput{
		ParentToolID: req.ParentID,
		Submit: SubmitInput{
			Name: req.Name, Description: req.Description, Intent: req.Intent,
			Code: req.Code, TestCase: req.TestCase, InputSchema: req.InputSchema,
			Tags: req.Tags, AuthorAgentID: req.AuthorAgentID,
		},
	})
	observe("fork_tool", start, err)
	if err != nil {
		writeError(w, s.log, "fork_tool", err)
		return
	}
	writeJSON(w, http.StatusOK, toSubmitResponse(outcome))
}

func (s *Server) handleDiscoverTool(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req discoverToolRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, s.log, "discover_tool", errs.Wrap(err, errs.CodeInvalidInput, "decoding request"))
		return
	}
	var minTrust *registry.TrustLevel
	if req.MinTrust != nil {
		tl := registry.TrustLevel(*req.MinTrust)
		minTrust = &tl
	}
	results, err := s.svc.DiscoverTool(r.Context(), DiscoverInput{
		Intent: req.Intent, K: req.K, MinFitness: req.MinFitness,
		MinTrustLevel: minTrust, IncludeDelisted: req.IncludeDelisted,
		Tags: req.Tags,
	})
	observe("discover_tool", start, err)
	if err != nil {
		writeError(w, s.log, "discover_tool", err)
		return
	}
	writeJSON(w, http.StatusOK, toDiscoverResponse(results))
}

func (s *Server) handleReportUsage(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req reportUsageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, s.log, "report_usage", errs.Wrap(err, errs.CodeInvalidInput, "decoding request"))
		return
	}
	outcome, err := s.svc.ReportUsage(r.Context(), registry.UsageReport{
		ToolID: req.ToolID, AgentID: req.AgentID, Success: req.Success,
		ExecutionTimeMS: req.ExecutionTimeMS, TokensUsed: req.TokensUsed,
		Timestamp: time.Now().UTC(),
	})
	observe("report_usage", start, err)
	if err != nil {
		writeError(w, s.log, "report_usage", err)
		return
	}
	writeJSON(w, http.StatusOK, reportUsageResponse{Fitness: outcome.Fitness, Delisted: outcome.Delisted})
}

func (s *Server) handleGetTool(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req getToolRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, s.log, "get_tool", errs.Wrap(err, errs.CodeInvalidInput, "decoding request"))
		return
	}
	tool, err := s.svc.GetTool(r.Context(), req.ID)
	observe("get_tool", start, err)
	if err != nil {
		writeError(w, s.log, "get_tool", err)
		return
	}
	writeJSON(w, http.StatusOK, toToolJSON(tool))
}

func (s *Server) handleGetProvenance(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req getToolRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, s.log, "get_provenance", errs.Wrap(err, errs.CodeInvalidInput, "decoding request"))
		return
	}
	chain, err := s.svc.GetProvenance(r.Context(), req.ID)
	observe("get_provenance", start, err)
	if err != nil {
		writeError(w, s.log, "get_provenance", err)
		return
	}
	entries := make([]provenanceEntryJSON, len(chain))
	for i, t := range chain {
		entries[i] = provenanceEntryJSON{ID: t.ID, ContentHash: t.ContentHash, Version: t.Version, Signature: t.Signature}
	}
	writeJSON(w, http.StatusOK, getProvenanceResponse{Chain: entries})
}

func (s *Server) handleListTools(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req listToolsRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, s.log, "list_tools", errs.Wrap(err, errs.CodeInvalidInput, "decoding request"))
			return
		}
	}
	filter := registry.ListFilter{
		IncludeDelisted: req.Filter.IncludeDelisted,
		MinFitness:      req.Filter.MinFitness,
		Author:          req.Filter.Author,
		Tag:             req.Filter.Tag,
	}
	if req.Filter.TrustLevel != nil {
		tl := registry.TrustLevel(*req.Filter.TrustLevel)
		filter.MinTrustLevel = &tl
	}
	tools, err := s.svc.ListTools(r.Context(), filter)
	observe("list_tools", start, err)
	if err != nil {
		writeError(w, s.log, "list_tools", err)
		return
	}
	summaries := make([]toolSummaryJSON, len(tools))
	for i, t := range tools {
		summaries[i] = toSummaryJSON(t)
	}
	writeJSON(w, http.StatusOK, listToolsResponse{Tools: summaries})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Healthy: s.svc.Healthy()})
}

func observe(method string, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = string(errs.CodeOf(err))
	}
	telemetry.RPCRequests.WithLabelValues(method, outcome).Inc()
	telemetry.RPCLatency.WithLabelValues(method).Observe(time.Since(start).Seconds())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError converts a structured internal error to the RPC failure
// shape in spec.md §6, never letting an error escape the boundary
// unconverted (§7's propagation policy). Internal faults are logged in
// full and surfaced with an opaque correlation id.
func writeError(w http.ResponseWriter, log *logging.Logger, method string, err error) {
	code := errs.CodeOf(err)
	status, wireCode := httpStatus(code)

	resp := errorResponse{Error: wireCode}
	if ae, ok := err.(*errs.Error); ok {
		resp.Message = ae.Message
	}

	if code == errs.CodeInternal {
		corrID := ulid.Make().String()
		resp.CorrelationID = corrID
		resp.Message = "internal error"
		log.Error(logging.CategoryProtocol, "internal_error", fmt.Sprintf("unhandled fault in %s", method), map[string]any{
			"correlation_id": corrID,
			"error":          err.Error(),
		})
	}

	writeJSON(w, status, resp)
}

func httpStatus(code errs.Code) (int, string) {
	switch code {
	case errs.CodeInvalidInput:
		return http.StatusBadRequest, "invalid_input"
	case errs.CodeDuplicate:
		return http.StatusConflict, "duplicate"
	case errs.CodeRejectedStatic:
		return http.StatusUnprocessableEntity, "rejected_static"
	case errs.CodeRejectedRuntime:
		return http.StatusUnprocessableEntity, "rejected_runtime"
	case errs.CodeParentNotFound:
		return http.StatusNotFound, "parent_not_found"
	case errs.CodeParentDelisted:
		return http.StatusConflict, "parent_delisted"
	case errs.CodeNotFound:
		return http.StatusNotFound, "not_found"
	case errs.CodeOverloaded:
		return http.StatusServiceUnavailable, "overloaded"
	case errs.CodeTimedOut:
		return http.StatusGatewayTimeout, "timed_out"
	case errs.CodeOOM:
		return http.StatusUnprocessableEntity, "oom"
	case errs.CodeStoreUnavailable, errs.CodeStoreCorrupt:
		return http.StatusServiceUnavailable, "store_unavailable"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func toSubmitResponse(outcome *SubmitOutcome) submitToolResponse {
	return submitToolResponse{
		ID:          outcome.Tool.ID,
		ContentHash: outcome.Tool.ContentHash,
		Fitness:     outcome.Tool.FitnessScore,
		TrustLevel:  outcome.Tool.TrustLevel.String(),
		Verdict: verdictJSON{
			Approved:     outcome.Verdict.Approved,
			SecurityScan: outcome.Verdict.SecurityScan,
			ExecMS:       outcome.Verdict.ExecMS,
			MemKB:        outcome.Verdict.MemKB,
			TestPassed:   outcome.Verdict.TestPassed,
			Error:        outcome.Verdict.Error,
		},
	}
}

func toDiscoverResponse(results []discovery.Result) discoverToolResponse {
	out := make([]discoverResultJSON, len(results))
	for i, r := range results {
		out[i] = discoverResultJSON{
			ID:          r.Tool.ID,
			Name:        r.Tool.Name,
			Description: r.Tool.Description,
			Fitness:     r.Tool.FitnessScore,
			TrustLevel:  r.Tool.TrustLevel.String(),
			Similarity:  r.Similarity,
		}
	}
	return discoverToolResponse{Results: out}
}

func toSummaryJSON(t *registry.Tool) toolSummaryJSON {
	return toolSummaryJSON{
		ID: t.ID, Name: t.Name, Description: t.Description, Tags: t.Tags,
		AuthorAgentID: t.AuthorAgentID, Version: t.Version, ParentToolID: t.ParentToolID,
		TrustLevel: t.TrustLevel.String(), FitnessScore: t.FitnessScore,
		TotalUses: t.TotalUses, Delisted: t.Delisted,
	}
}

// toolJSON is the full tool record get_tool returns, per spec.md §3.
type toolJSON struct {
	ID                 string   `json:"id"`
	Name               string   `json:"name"`
	Description        string   `json:"description"`
	Intent             string   `json:"intent"`
	Code               string   `json:"code"`
	TestCase           string   `json:"test_case"`
	InputSchema        string   `json:"input_schema,omitempty"`
	Tags               []string `json:"tags"`
	AuthorAgentID      string   `json:"author_agent_id"`
	Version            int      `json:"version"`
	ParentToolID       string   `json:"parent_tool_id,omitempty"`
	ContentHash        string   `json:"content_hash"`
	Signature          string   `json:"signature"`
	TrustLevel         string   `json:"trust_level"`
	CreatedAt          string   `json:"created_at"`
	TotalUses          int      `json:"total_uses"`
	SuccessfulUses     int      `json:"successful_uses"`
	UniqueAgents       int      `json:"unique_agents"`
	AvgExecutionTimeMS float64  `json:"avg_execution_time_ms"`
	FitnessScore       float64  `json:"fitness_score"`
	Delisted           bool     `json:"delisted"`
	DelistReason       string   `json:"delist_reason,omitempty"`
}

func toToolJSON(t *registry.Tool) toolJSON {
	return toolJSON{
		ID: t.ID, Name: t.Name, Description: t.Description, Intent: t.Intent,
		Code: t.Code, TestCase: t.TestCase, InputSchema: t.InputSchema, Tags: t.Tags,
		AuthorAgentID: t.AuthorAgentID, Version: t.Version, ParentToolID: t.ParentToolID,
		ContentHash: t.ContentHash, Signature: t.Signature, TrustLevel: t.TrustLevel.String(),
		CreatedAt: t.CreatedAt.Format(time.RFC3339Nano), TotalUses: t.TotalUses,
		SuccessfulUses: t.SuccessfulUses, UniqueAgents: t.UniqueAgents,
		AvgExecutionTimeMS: t.AvgExecutionTimeMS, FitnessScore: t.FitnessScore,
		Delisted: t.Delisted, DelistReason: t.DelistReason,
	}
}
