package protocol

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/agentevolution/agentevolution/internal/config"
	"github.com/agentevolution/agentevolution/internal/discovery"
	"github.com/agentevolution/agentevolution/internal/embedindex"
	"github.com/agentevolution/agentevolution/internal/fitness"
	"github.com/agentevolution/agentevolution/internal/gauntlet"
	"github.com/agentevolution/agentevolution/internal/logging"
	"github.com/agentevolution/agentevolution/internal/registry"
	"github.com/agentevolution/agentevolution/internal/sandbox"
	"github.com/agentevolution/agentevolution/internal/screener"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := config.Default()
	store, err := registry.Open(filepath.Join(t.TempDir(), "registry.db"), []byte("test-secret"))
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	log := logging.Discard()
	g := gauntlet.New(screener.New(cfg.Screener), sandbox.New(cfg.Sandbox), log)
	idx := embedindex.New()
	fe := fitness.New(store, cfg.Fitness, log, idx)
	disc := discovery.New(idx, store, log)
	svc := NewService(store, g, idx, fe, disc, log)
	return NewServer("127.0.0.1:0", svc, log)
}

func postJSON(t *testing.T, srv *Server, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	req := httptest.NewRequest("POST", path, bytes.NewReader(data))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	var decoded map[string]any
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &decoded); err != nil {
			t.Fatalf("decode response: %v (body=%s)", err, rec.Body.String())
		}
	}
	return rec, decoded
}

func TestSubmitToolRejectsEmptyName(t *testing.T) {
	srv := newTestServer(t)
	rec, body := postJSON(t, srv, "/submit_tool", submitToolRequest{
		Code: "def add(a,b): return a+b", TestCase: "assert add(2,3)==5", AuthorAgentID: "agent-1",
	})
	if rec.Code != 400 {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if body["error"] != "invalid_input" {
		t.Fatalf("expected invalid_input, got %+v", body)
	}
}

func TestSubmitToolRejectsStaticViolation(t *testing.T) {
	srv := newTestServer(t)
	rec, body := postJSON(t, srv, "/submit_tool", submitToolRequest{
		Name: "evil", Code: "import os\ndef f(): return os.getcwd()", TestCase: "assert f()",
		AuthorAgentID: "agent-1",
	})
	if rec.Code != 422 {
		t.Fatalf("expected 422, got %d (body=%+v)", rec.Code, body)
	}
	if body["error"] != "rejected_static" {
		t.Fatalf("expected rejected_static, got %+v", body)
	}
}

func TestGetToolNotFound(t *testing.T) {
	srv := newTestServer(t)
	rec, body := postJSON(t, srv, "/get_tool", getToolRequest{ID: "nonexistent"})
	if rec.Code != 404 {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if body["error"] != "not_found" {
		t.Fatalf("expected not_found, got %+v", body)
	}
}

func TestListToolsEmptyByDefault(t *testing.T) {
	srv := newTestServer(t)
	rec, body := postJSON(t, srv, "/list_tools", listToolsRequest{})
	if rec.Code != 200 {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	tools, ok := body["tools"].([]any)
	if !ok || len(tools) != 0 {
		t.Fatalf("expected empty tools array, got %+v", body)
	}
}

func TestDiscoverToolRejectsEmptyIntent(t *testing.T) {
	srv := newTestServer(t)
	rec, body := postJSON(t, srv, "/discover_tool", discoverToolRequest{})
	if rec.Code != 400 {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if body["error"] != "invalid_input" {
		t.Fatalf("expected invalid_input, got %+v", body)
	}
}

func TestReportUsageNotFound(t *testing.T) {
	srv := newTestServer(t)
	rec, body := postJSON(t, srv, "/report_usage", reportUsageRequest{
		ToolID: "nonexistent", AgentID: "agent-1", Success: true, ExecutionTimeMS: 10,
	})
	if rec.Code != 404 {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if body["error"] != "not_found" {
		t.Fatalf("expected not_found, got %+v", body)
	}
}

func TestHealthReportsHealthyByDefault(t *testing.T) {
	srv := newTestServer(t)
	req := httptest.NewRequest("GET", "/health", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	if rec.Code != 200 {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body healthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !body.Healthy {
		t.Fatalf("expected healthy service")
	}
}
