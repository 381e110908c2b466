package protocol

// JSON request/response shapes for the seven RPC endpoints in spec.md §6.
// Field names match the wire contract exactly (snake_case).

type submitToolRequest struct {
	Name          string   `json:"name"`
	Description   string   `json:"description"`
	Intent        string   `json:"intent"`
	Code          string   `json:"code"`
	TestCase      string   `json:"test_case"`
	Tags          []string `json:"tags"`
	InputSchema   string   `json:"input_schema,omitempty"`
	AuthorAgentID string   `json:"author_agent_id"`
}

type forkToolRequest struct {
	ParentID      string   `json:"parent_id"`
	Name          string   `json:"name"`
	Description   string   `json:"description"`
	Intent        string   `json:"intent"`
	Code          string   `json:"code"`
	TestCase      string   `json:"test_case"`
	Tags          []string `json:"tags"`
	InputSchema   string   `json:"input_schema,omitempty"`
	AuthorAgentID string   `json:"author_agent_id"`
}

type verdictJSON struct {
	Approved     bool     `json:"approved"`
	SecurityScan []string `json:"security_scan"`
	ExecMS       int64    `json:"exec_ms"`
	MemKB        int64    `json:"mem_kb"`
	TestPassed   bool     `json:"test_passed"`
	Error        string   `json:"error,omitempty"`
}

type submitToolResponse struct {
	ID          string      `json:"id"`
	ContentHash string      `json:"content_hash"`
	Fitness     float64     `json:"fitness"`
	TrustLevel  string      `json:"trust_level"`
	Verdict     verdictJSON `json:"verdict"`
}

type discoverToolRequest struct {
	Intent          string   `json:"intent"`
	K               int      `json:"k,omitempty"`
	MinFitness      float64  `json:"min_fitness,omitempty"`
	MinTrust        *int     `json:"min_trust,omitempty"`
	IncludeDelisted bool     `json:"include_delisted,omitempty"`
	Tags            []string `json:"tags,omitempty"`
}

type discoverResultJSON struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Fitness     float64 `json:"fitness"`
	TrustLevel  string  `json:"trust_level"`
	Similarity  float64 `json:"similarity"`
}

type discoverToolResponse struct {
	Results []discoverResultJSON `json:"results"`
}

type getToolRequest struct {
	ID string `json:"id"`
}

type provenanceEntryJSON struct {
	ID           string `json:"id"`
	ContentHash  string `json:"content_hash"`
	Version      int    `json:"version"`
	Signature    string `json:"signature"`
}

type getProvenanceResponse struct {
	Chain []provenanceEntryJSON `json:"chain"`
}

type listToolsFilterJSON struct {
	IncludeDelisted bool    `json:"delisted,omitempty"`
	MinFitness      float64 `json:"min_fitness,omitempty"`
	TrustLevel      *int    `json:"trust_level,omitempty"`
	Author          string  `json:"author,omitempty"`
	Tag             string  `json:"tag,omitempty"`
}

type listToolsRequest struct {
	Filter listToolsFilterJSON `json:"filter"`
}

type toolSummaryJSON struct {
	ID                 string   `json:"id"`
	Name               string   `json:"name"`
	Description        string   `json:"description"`
	Tags               []string `json:"tags"`
	AuthorAgentID      string   `json:"author_agent_id"`
	Version            int      `json:"version"`
	ParentToolID       string   `json:"parent_tool_id,omitempty"`
	TrustLevel         string   `json:"trust_level"`
	FitnessScore       float64  `json:"fitness"`
	TotalUses          int      `json:"total_uses"`
	Delisted           bool     `json:"delisted"`
}

type listToolsResponse struct {
	Tools []toolSummaryJSON `json:"tools"`
}

type reportUsageRequest struct {
	ToolID          string `json:"tool_id"`
	AgentID         string `json:"agent_id"`
	Success         bool   `json:"success"`
	ExecutionTimeMS float64 `json:"execution_time_ms"`
	TokensUsed      *int64 `json:"tokens_used,omitempty"`
}

type reportUsageResponse struct {
	Fitness  float64 `json:"fitness"`
	Delisted bool    `json:"delisted,omitempty"`
}

type errorResponse struct {
	Error         string `json:"error"`
	Message       string `json:"message,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

type healthResponse struct {
	Healthy bool `json:"healthy"`
}
