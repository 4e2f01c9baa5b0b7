package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/sirouk/clawboard/internal/bus"
	"github.com/sirouk/clawboard/internal/config"
	"github.com/sirouk/clawboard/internal/ingest"
	"github.com/sirouk/clawboard/internal/model"
	"github.com/sirouk/clawboard/internal/reindex"
	"github.com/sirouk/clawboard/internal/search"
	"github.com/sirouk/clawboard/internal/store/sqlite"
)

// newTestServer wires a Server against a real temp-file sqlite store, the
// same way cmd/serve.go composes the process, with the token fixed so
// write-path tests can exercise both the authorized and unauthorized cases.
func newTestServer(t *testing.T, token string) (*httptest.Server, *sqlite.Store) {
	ts, _, st := newTestServerWithConfig(t, token)
	return ts, st
}

func newTestServerWithConfig(t *testing.T, token string) (*httptest.Server, *config.Config, *sqlite.Store) {
	t.Helper()
	st, err := sqlite.Open(filepath.Join(t.TempDir(), "clawboard.db"))
	if err != nil {
		t.Fatalf("sqlite.Open() error = %v", err)
	}
	t.Cleanup(func() { _ = st })

	hub := bus.New(100, 100)
	queue := reindex.New(filepath.Join(t.TempDir(), "reindex.jsonl"))
	ingestSvc := ingest.New(st, hub, queue, ingest.Options{})
	hybrid := search.New(search.Config{}, nil, nil, nil)

	cfg := config.Default()
	cfg.HTTP.Token = token

	srv := New(st, cfg, hub, ingestSvc, hybrid, nil, queue, nil)
	return httptest.NewServer(srv.Handler()), cfg, st
}

func doJSON(t *testing.T, client *http.Client, method, url, token string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode request body: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	var decoded map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

func TestHealth(t *testing.T) {
	ts, _ := newTestServer(t, "")
	defer ts.Close()

	resp, body := doJSON(t, ts.Client(), http.MethodGet, ts.URL+"/api/health", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if body["status"] != "ok" {
		t.Fatalf("body = %v, want status=ok", body)
	}
}

func TestCreateTopic_RequiresToken(t *testing.T) {
	ts, _ := newTestServer(t, "secret")
	defer ts.Close()

	resp, body := doJSON(t, ts.Client(), http.MethodPost, ts.URL+"/api/topics", "", map[string]any{
		"name": "Release planning",
	})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401, body = %v", resp.StatusCode, body)
	}
	if body["kind"] != "auth.unauthorized" {
		t.Fatalf("kind = %v, want auth.unauthorized", body["kind"])
	}
}

func TestCreateTopic_ThenListAndPatch(t *testing.T) {
	ts, _ := newTestServer(t, "secret")
	defer ts.Close()
	client := ts.Client()

	resp, created := doJSON(t, client, http.MethodPost, ts.URL+"/api/topics", "secret", map[string]any{
		"name":     "Release planning",
		"priority": "high",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("create status = %d, body = %v", resp.StatusCode, created)
	}
	topicID, _ := created["id"].(string)
	if topicID == "" {
		t.Fatalf("created topic missing id: %v", created)
	}

	resp, listBody := doJSON(t, client, http.MethodGet, ts.URL+"/api/topics?spaceId="+model.DefaultSpaceID, "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list status = %d", resp.StatusCode)
	}
	_ = listBody // list endpoint returns a top-level array; decoding into a map above yields an empty map, which is fine for the status check

	resp, patched := doJSON(t, client, http.MethodPatch, ts.URL+"/api/topics/"+topicID, "secret", map[string]any{
		"pinned": true,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("patch status = %d, body = %v", resp.StatusCode, patched)
	}
	if patched["pinned"] != true {
		t.Fatalf("patched topic pinned = %v, want true", patched["pinned"])
	}
}

func TestPatchTopic_UnknownIDReturnsNotFound(t *testing.T) {
	ts, _ := newTestServer(t, "secret")
	defer ts.Close()

	resp, body := doJSON(t, ts.Client(), http.MethodPatch, ts.URL+"/api/topics/does-not-exist", "secret", map[string]any{
		"pinned": true,
	})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404, body = %v", resp.StatusCode, body)
	}
}

func TestAppendLog_ThenListBySession(t *testing.T) {
	ts, _ := newTestServer(t, "secret")
	defer ts.Close()
	client := ts.Client()

	resp, entry := doJSON(t, client, http.MethodPost, ts.URL+"/api/log", "secret", map[string]any{
		"type":    "conversation",
		"content": "hello there",
		"source":  map[string]any{"sessionKey": "sess-1"},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("append status = %d, body = %v", resp.StatusCode, entry)
	}
	if entry["id"] == nil {
		t.Fatalf("appended entry missing id: %v", entry)
	}

	resp, _ = doJSON(t, client, http.MethodGet, ts.URL+"/api/log?sessionKey=sess-1", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list logs status = %d", resp.StatusCode)
	}
}

func TestIngest_DirectModeReturnsEntry(t *testing.T) {
	ts, _ := newTestServer(t, "secret")
	defer ts.Close()

	resp, body := doJSON(t, ts.Client(), http.MethodPost, ts.URL+"/api/ingest", "secret", map[string]any{
		"type":    "conversation",
		"content": "direct message",
		"source":  map[string]any{"sessionKey": "sess-2"},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("ingest status = %d, body = %v", resp.StatusCode, body)
	}
	if body["id"] == nil {
		t.Fatalf("direct-mode ingest should return the persisted entry, got %v", body)
	}
}

func TestIngest_QueueModeReturnsQueuedStatus(t *testing.T) {
	ts, cfg, _ := newTestServerWithConfig(t, "secret")
	defer ts.Close()
	cfg.Ingest.QueueMode = true

	resp, body := doJSON(t, ts.Client(), http.MethodPost, ts.URL+"/api/ingest", "secret", map[string]any{
		"type":    "conversation",
		"content": "queued message",
		"source":  map[string]any{"sessionKey": "sess-2"},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("ingest status = %d, body = %v", resp.StatusCode, body)
	}
	if body["status"] != "queued" {
		t.Fatalf("body = %v, want status=queued", body)
	}
}

func TestAuth_ReadAllowedFromLoopbackWithoutToken(t *testing.T) {
	ts, _ := newTestServer(t, "secret")
	defer ts.Close()

	// httptest.NewServer listens on 127.0.0.1, so the client's RemoteAddr as
	// seen by the server is loopback -- reads succeed without a token even
	// though a token is configured for writes.
	resp, _ := doJSON(t, ts.Client(), http.MethodGet, ts.URL+"/api/topics?spaceId="+model.DefaultSpaceID, "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}

func TestAuth_WriteRequiresTokenEvenFromLoopback(t *testing.T) {
	ts, _ := newTestServer(t, "secret")
	defer ts.Close()

	resp, body := doJSON(t, ts.Client(), http.MethodPost, ts.URL+"/api/topics", "wrong-token", map[string]any{
		"name": "x",
	})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401, body = %v", resp.StatusCode, body)
	}
}

func TestAuth_WriteFailsClosedWhenNoTokenConfigured(t *testing.T) {
	ts, _ := newTestServer(t, "")
	defer ts.Close()

	resp, body := doJSON(t, ts.Client(), http.MethodPost, ts.URL+"/api/topics", "", map[string]any{
		"name": "x",
	})
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503, body = %v", resp.StatusCode, body)
	}
	if body["kind"] != "auth.unavailable" {
		t.Fatalf("kind = %v, want auth.unavailable", body["kind"])
	}
}

func TestDraft_PutThenGet(t *testing.T) {
	ts, _ := newTestServer(t, "secret")
	defer ts.Close()
	client := ts.Client()

	resp, put := doJSON(t, client, http.MethodPut, ts.URL+"/api/drafts/space-default:topic-new", "secret", map[string]any{
		"value": `{"content":"wip"}`,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("put status = %d, body = %v", resp.StatusCode, put)
	}

	resp, got := doJSON(t, client, http.MethodGet, ts.URL+"/api/drafts/space-default:topic-new", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get status = %d, body = %v", resp.StatusCode, got)
	}
	if got["value"] != `{"content":"wip"}` {
		t.Fatalf("draft value = %v", got["value"])
	}
}

func TestSpaces_ConnectivityAndAllowed(t *testing.T) {
	ts, _ := newTestServer(t, "secret")
	defer ts.Close()
	client := ts.Client()

	resp, created := doJSON(t, client, http.MethodPost, ts.URL+"/api/spaces", "secret", map[string]any{
		"name": "Personal",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("create space status = %d, body = %v", resp.StatusCode, created)
	}
	spaceID, _ := created["id"].(string)

	resp, _ = doJSON(t, client, http.MethodPatch, ts.URL+"/api/spaces/"+spaceID+"/connectivity", "secret", map[string]any{
		"connectivity": map[string]bool{model.DefaultSpaceID: true},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("set connectivity status = %d", resp.StatusCode)
	}

	resp, allowed := doJSON(t, client, http.MethodGet, ts.URL+"/api/spaces/allowed?spaceId="+spaceID, "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("allowed status = %d, body = %v", resp.StatusCode, allowed)
	}
	list, _ := allowed["allowed"].([]any)
	if len(list) != 2 {
		t.Fatalf("allowed = %v, want 2 entries", allowed)
	}
}

func TestMetrics_ReportsPendingAndVectorCount(t *testing.T) {
	ts, _ := newTestServer(t, "secret")
	defer ts.Close()

	resp, body := doJSON(t, ts.Client(), http.MethodGet, ts.URL+"/api/metrics", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body = %v", resp.StatusCode, body)
	}
	// No vectorindex.Index was wired into this test server, so the handler
	// reports the sentinel -1 rather than a real count.
	if v, ok := body["vectorEntryCount"].(float64); !ok || v != -1 {
		t.Fatalf("vectorEntryCount = %v, want -1", body["vectorEntryCount"])
	}
}

func TestRunClassifierNow_WithoutClassifierConfiguredIsBadRequest(t *testing.T) {
	ts, _ := newTestServer(t, "secret")
	defer ts.Close()

	resp, body := doJSON(t, ts.Client(), http.MethodPost, ts.URL+"/api/admin/run-classifier-now", "secret", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400, body = %v", resp.StatusCode, body)
	}
}

func TestSearch_EmptyCorpusReturnsEmptyMode(t *testing.T) {
	ts, _ := newTestServer(t, "secret")
	defer ts.Close()

	resp, body := doJSON(t, ts.Client(), http.MethodGet, ts.URL+"/api/search?q=a&spaceId="+model.DefaultSpaceID, "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body = %v", resp.StatusCode, body)
	}
	if body["mode"] != "empty" {
		t.Fatalf("mode = %v, want empty for a 1-rune query", body["mode"])
	}
}
