package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// fakeAPI — минимальный сервер, отвечающий в формате Atelier API.
type fakeAPI struct {
	lastPath  string
	lastQuery string
	lastAuth  string
	lastBody  map[string]any
}

func (f *fakeAPI) server(t *testing.T) *httptest.Server {
	t.Helper()

	pipeline := map[string]any{
		"id":            "p-1",
		"order_id":      "ORD-1",
		"current_stage": "RENDERING",
		"status":        "ACTIVE",
		"progress":      40,
		"epoch":         1,
		"in_flight":     map[string]any{"stage": "RENDERING", "attempt": 2, "deadline": "2026-01-01T00:30:00Z"},
		"history": []map[string]any{
			{"stage": "DESIGN_LOCK", "attempt": 1, "outcome": "SUCCEEDED", "resolution": "CALLBACK"},
		},
	}

	mux := http.NewServeMux()
	record := func(r *http.Request) {
		f.lastPath = r.URL.Path
		f.lastQuery = r.URL.RawQuery
		f.lastAuth = r.Header.Get("Authorization")
		f.lastBody = nil
		json.NewDecoder(r.Body).Decode(&f.lastBody)
	}
	writeData := func(w http.ResponseWriter, status int, data any) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(map[string]any{"data": data})
	}

	mux.HandleFunc("GET /api/v1/pipelines", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		json.NewEncoder(w).Encode(map[string]any{"data": []any{pipeline}, "total": 1})
	})
	mux.HandleFunc("GET /api/v1/pipelines/{id}", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		if r.PathValue("id") != "p-1" {
			w.WriteHeader(http.StatusNotFound)
			json.NewEncoder(w).Encode(map[string]any{"error": map[string]string{"code": "NOT_FOUND", "message": "pipeline not found"}})
			return
		}
		writeData(w, http.StatusOK, pipeline)
	})
	mux.HandleFunc("GET /api/v1/orders/{orderId}/pipeline", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		writeData(w, http.StatusOK, pipeline)
	})
	mux.HandleFunc("POST /api/v1/pipelines", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		writeData(w, http.StatusCreated, pipeline)
	})
	mux.HandleFunc("POST /api/v1/orders/{orderId}/trigger", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		writeData(w, http.StatusAccepted, map[string]any{"order_id": r.PathValue("orderId"), "queued": true})
	})
	mux.HandleFunc("POST /api/v1/pipelines/{id}/{action}", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		if f.lastAuth != "Bearer secret" {
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]any{"error": map[string]string{"code": "UNAUTHORIZED", "message": "invalid admin token"}})
			return
		}
		writeData(w, http.StatusOK, pipeline)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

// run выполняет команду pipeline и возвращает stdout и stderr.
func run(t *testing.T, baseURL, token string, jsonMode bool, args ...string) (string, string, error) {
	t.Helper()

	var stdout, stderr bytes.Buffer
	clientFn := func() *Client { return NewClient(baseURL, token) }
	outputFn := func() *Output { return NewOutputTo(jsonMode, &stdout, &stderr) }

	cmd := NewPipelineCmd(clientFn, outputFn)
	cmd.SetArgs(args)
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true

	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

// --- Client Tests ---

func TestClient_ListPipelines(t *testing.T) {
	api := &fakeAPI{}
	srv := api.server(t)

	client := NewClient(srv.URL, "")
	pipelines, err := client.ListPipelines(ListPipelinesOpts{Status: "ACTIVE", Stage: "RENDERING", Limit: 10})
	if err != nil {
		t.Fatalf("ListPipelines: %v", err)
	}
	if len(pipelines) != 1 || pipelines[0].OrderID != "ORD-1" {
		t.Errorf("unexpected pipelines: %+v", pipelines)
	}
	if api.lastQuery != "limit=10&stage=RENDERING&status=ACTIVE" {
		t.Errorf("unexpected query: %s", api.lastQuery)
	}
}

func TestClient_APIError(t *testing.T) {
	srv := (&fakeAPI{}).server(t)

	_, err := NewClient(srv.URL, "").GetPipeline("missing")

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Status != http.StatusNotFound || apiErr.Code != "NOT_FOUND" {
		t.Errorf("unexpected api error: %+v", apiErr)
	}
}

func TestClient_RestageSendsToken(t *testing.T) {
	api := &fakeAPI{}
	srv := api.server(t)

	if _, err := NewClient(srv.URL, "secret").RestagePipeline("p-1", "RENDERING", "reprint"); err != nil {
		t.Fatalf("RestagePipeline: %v", err)
	}
	if api.lastPath != "/api/v1/pipelines/p-1/restage" {
		t.Errorf("unexpected path: %s", api.lastPath)
	}
	if api.lastBody["stage"] != "RENDERING" || api.lastBody["reason"] != "reprint" {
		t.Errorf("unexpected body: %v", api.lastBody)
	}
}

// --- Command Tests ---

func TestPipelineList_Table(t *testing.T) {
	srv := (&fakeAPI{}).server(t)

	stdout, _, err := run(t, srv.URL, "", false, "list")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(stdout, "ORDER") || !strings.Contains(stdout, "ORD-1") || !strings.Contains(stdout, "40%") {
		t.Errorf("unexpected table:\n%s", stdout)
	}
}

func TestPipelineShow_History(t *testing.T) {
	srv := (&fakeAPI{}).server(t)

	stdout, _, err := run(t, srv.URL, "", false, "show", "p-1")
	if err != nil {
		t.Fatalf("show: %v", err)
	}
	if !strings.Contains(stdout, "RENDERING #2") {
		t.Errorf("expected in-flight summary, got:\n%s", stdout)
	}
	if !strings.Contains(stdout, "DESIGN_LOCK") || !strings.Contains(stdout, "CALLBACK") {
		t.Errorf("expected history table, got:\n%s", stdout)
	}
	// Пустые поля не выводятся
	if strings.Contains(stdout, "Pause reason") {
		t.Errorf("empty fields must be skipped:\n%s", stdout)
	}
}

func TestPipelineShow_ByOrder(t *testing.T) {
	api := &fakeAPI{}
	srv := api.server(t)

	if _, _, err := run(t, srv.URL, "", true, "show", "--order", "ORD-1"); err != nil {
		t.Fatalf("show --order: %v", err)
	}
	if api.lastPath != "/api/v1/orders/ORD-1/pipeline" {
		t.Errorf("unexpected path: %s", api.lastPath)
	}
}

func TestPipelineTrigger_JSON(t *testing.T) {
	srv := (&fakeAPI{}).server(t)

	stdout, _, err := run(t, srv.URL, "", true, "trigger", "ORD-9")
	if err != nil {
		t.Fatalf("trigger: %v", err)
	}

	var resp TriggerResponse
	if err := json.Unmarshal([]byte(stdout), &resp); err != nil {
		t.Fatalf("expected JSON output, got %q", stdout)
	}
	if !resp.Queued || resp.OrderID != "ORD-9" {
		t.Errorf("unexpected response: %+v", resp)
	}
}

func TestPipelinePause_RequiresToken(t *testing.T) {
	srv := (&fakeAPI{}).server(t)

	_, _, err := run(t, srv.URL, "", false, "pause", "p-1")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", err)
	}

	_, stderr, err := run(t, srv.URL, "secret", false, "pause", "p-1", "--reason", "paper shortage")
	if err != nil {
		t.Fatalf("pause: %v", err)
	}
	if !strings.Contains(stderr, "Pipeline paused") {
		t.Errorf("unexpected stderr: %s", stderr)
	}
}

func TestPipelineRestage_UppercasesStage(t *testing.T) {
	api := &fakeAPI{}
	srv := api.server(t)

	if _, _, err := run(t, srv.URL, "secret", false, "restage", "p-1", "rendering"); err != nil {
		t.Fatalf("restage: %v", err)
	}
	if api.lastBody["stage"] != "RENDERING" {
		t.Errorf("expected upper-cased stage, got %v", api.lastBody["stage"])
	}
}

func TestPipelineCancel(t *testing.T) {
	api := &fakeAPI{}
	srv := api.server(t)

	_, stderr, err := run(t, srv.URL, "secret", false, "cancel", "p-1", "--reason", "order refunded")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if api.lastPath != "/api/v1/pipelines/p-1/cancel" || api.lastBody["reason"] != "order refunded" {
		t.Errorf("unexpected request %s %v", api.lastPath, api.lastBody)
	}
	if !strings.Contains(stderr, "Pipeline cancelled") {
		t.Errorf("unexpected stderr: %s", stderr)
	}

	// Без причины команда не отправляет запрос
	api.lastPath = ""
	if _, _, err := run(t, srv.URL, "secret", false, "cancel", "p-1"); err == nil {
		t.Error("expected error without --reason")
	}
	if api.lastPath != "" {
		t.Errorf("no request expected, got %s", api.lastPath)
	}
}
