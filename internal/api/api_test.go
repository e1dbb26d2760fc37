package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/atelier/internal/domain"
	"github.com/shaiso/atelier/internal/gateway"
	"github.com/shaiso/atelier/internal/orchestrator"
	"github.com/shaiso/atelier/internal/repo"
	"github.com/shaiso/atelier/internal/retry"
	"github.com/shaiso/atelier/internal/stages"
	"github.com/zoobzio/clockz"
)

const (
	adminToken   = "admin-token"
	designSecret = "design-secret"
)

type nopDispatcher struct{}

func (nopDispatcher) Dispatch(_ context.Context, pid uuid.UUID, stage domain.Stage, attempt int) (domain.Job, error) {
	return domain.Job{PipelineID: pid, Stage: stage, AttemptNumber: attempt, DedupeKey: domain.DedupeKey(pid, stage, attempt)}, nil
}

func (nopDispatcher) ScheduleRetry(context.Context, uuid.UUID, domain.Stage, int, time.Duration) error {
	return nil
}

func (nopDispatcher) Release(context.Context, string) error { return nil }

// fakeTriggers записывает асинхронные триггеры.
type fakeTriggers struct {
	orders []string
	err    error
}

func (f *fakeTriggers) PublishTrigger(_ context.Context, orderID string) error {
	if f.err != nil {
		return f.err
	}
	f.orders = append(f.orders, orderID)
	return nil
}

type testServer struct {
	mux      *http.ServeMux
	exec     *orchestrator.Executor
	store    *repo.MemoryPipelineRepo
	triggers *fakeTriggers
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	registry := stages.NewDefault()
	controller, err := retry.NewController(retry.Config{}, registry)
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}

	store := repo.NewMemoryPipelineRepo()
	exec := orchestrator.NewExecutor(orchestrator.ExecutorConfig{
		Store:      store,
		Registry:   registry,
		Retry:      controller,
		Dispatcher: nopDispatcher{},
		Clock:      clockz.NewFakeClock(),
	})
	gw := gateway.New(gateway.Config{
		Registry: registry,
		Store:    store,
		Executor: exec,
		Authorizer: gateway.NewSourcePolicy(map[string][]domain.Stage{
			"designer": {domain.StageDesignLock},
		}),
	})

	ts := &testServer{
		mux:      http.NewServeMux(),
		exec:     exec,
		store:    store,
		triggers: &fakeTriggers{},
	}
	NewHandler(Config{
		Pipelines: store,
		Service:   exec,
		Callbacks: gw,
		Registry:  registry,
		Publisher: ts.triggers,
		Admin:     BearerToken(adminToken),
		Signer: NewSigner(map[string]string{
			"designer": designSecret,
			"printco":  "printco-secret",
		}),
	}).RegisterRoutes(ts.mux)
	return ts
}

func (ts *testServer) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	ts.mux.ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) create(t *testing.T, orderID string) PipelineResponse {
	t.Helper()
	rec := ts.do(t, http.MethodPost, "/api/v1/pipelines", CreatePipelineRequest{OrderID: orderID}, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d: %s", rec.Code, rec.Body)
	}
	return decodeData[PipelineResponse](t, rec)
}

func (ts *testServer) callback(t *testing.T, source, secret string, req CallbackRequest) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	r := httptest.NewRequest(http.MethodPost, "/api/v1/callbacks", bytes.NewReader(body))
	r.Header.Set(HeaderSource, source)
	r.Header.Set(HeaderSignature, Sign([]byte(secret), body))
	rec := httptest.NewRecorder()
	ts.mux.ServeHTTP(rec, r)
	return rec
}

func decodeData[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var resp struct {
		Data T `json:"data"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp.Data
}

func admin() map[string]string {
	return map[string]string{"Authorization": "Bearer " + adminToken}
}

// --- Pipeline Tests ---

func TestCreatePipeline(t *testing.T) {
	ts := newTestServer(t)

	p := ts.create(t, "ORD-1")
	if p.CurrentStage != domain.StageDesignLock {
		t.Errorf("expected DESIGN_LOCK, got %s", p.CurrentStage)
	}
	if p.Progress != 20 {
		t.Errorf("expected progress 20, got %d", p.Progress)
	}

	// Повторный триггер возвращает тот же pipeline с 200
	rec := ts.do(t, http.MethodPost, "/api/v1/pipelines", CreatePipelineRequest{OrderID: "ORD-1"}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if again := decodeData[PipelineResponse](t, rec); again.ID != p.ID {
		t.Error("expected the same pipeline")
	}
}

func TestCreatePipeline_BadRequest(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/v1/pipelines", CreatePipelineRequest{OrderID: " "}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestGetPipeline(t *testing.T) {
	ts := newTestServer(t)
	p := ts.create(t, "ORD-1")

	rec := ts.do(t, http.MethodGet, "/api/v1/pipelines/"+p.ID.String(), nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	detail := decodeData[PipelineResponse](t, rec)
	if len(detail.History) != 1 || detail.History[0].Stage != domain.StageValidation {
		t.Errorf("expected validation in history, got %+v", detail.History)
	}
	if detail.InFlight == nil || detail.InFlight.Stage != domain.StageDesignLock {
		t.Error("expected design lock in flight")
	}

	tests := []struct {
		name string
		path string
		want int
	}{
		{"invalid id", "/api/v1/pipelines/not-a-uuid", http.StatusBadRequest},
		{"unknown id", "/api/v1/pipelines/" + uuid.NewString(), http.StatusNotFound},
		{"by order", "/api/v1/orders/ORD-1/pipeline", http.StatusOK},
		{"unknown order", "/api/v1/orders/ORD-404/pipeline", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := ts.do(t, http.MethodGet, tt.path, nil, nil); rec.Code != tt.want {
				t.Errorf("expected %d, got %d", tt.want, rec.Code)
			}
		})
	}
}

func TestListPipelines(t *testing.T) {
	ts := newTestServer(t)
	ts.create(t, "ORD-1")
	second := ts.create(t, "ORD-2")

	if rec := ts.do(t, http.MethodPost, "/api/v1/pipelines/"+second.ID.String()+"/pause", PauseRequest{Reason: "hold"}, admin()); rec.Code != http.StatusOK {
		t.Fatalf("pause: %d", rec.Code)
	}

	rec := ts.do(t, http.MethodGet, "/api/v1/pipelines?status=paused", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	list := decodeData[[]PipelineResponse](t, rec)
	if len(list) != 1 || list[0].ID != second.ID {
		t.Errorf("expected only the paused pipeline, got %+v", list)
	}

	if rec := ts.do(t, http.MethodGet, "/api/v1/pipelines?status=sleeping", nil, nil); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad status, got %d", rec.Code)
	}
	if rec := ts.do(t, http.MethodGet, "/api/v1/pipelines?stage=painting", nil, nil); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad stage, got %d", rec.Code)
	}
}

func TestTriggerOrder(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/v1/orders/ORD-9/trigger", nil, nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}
	if len(ts.triggers.orders) != 1 || ts.triggers.orders[0] != "ORD-9" {
		t.Errorf("expected trigger for ORD-9, got %v", ts.triggers.orders)
	}

	ts.triggers.err = errors.New("broker down")
	if rec := ts.do(t, http.MethodPost, "/api/v1/orders/ORD-9/trigger", nil, nil); rec.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", rec.Code)
	}
}

// --- Admin Tests ---

func TestAdmin_RequiresToken(t *testing.T) {
	ts := newTestServer(t)
	p := ts.create(t, "ORD-1")
	path := "/api/v1/pipelines/" + p.ID.String() + "/pause"

	if rec := ts.do(t, http.MethodPost, path, nil, nil); rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without token, got %d", rec.Code)
	}
	if rec := ts.do(t, http.MethodPost, path, nil, map[string]string{"Authorization": "Bearer wrong"}); rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 with wrong token, got %d", rec.Code)
	}
	if rec := ts.do(t, http.MethodPost, path, nil, admin()); rec.Code != http.StatusOK {
		t.Errorf("expected 200 with token, got %d", rec.Code)
	}
}

func TestAdmin_PauseResumeRestage(t *testing.T) {
	ts := newTestServer(t)
	p := ts.create(t, "ORD-1")
	base := "/api/v1/pipelines/" + p.ID.String()

	rec := ts.do(t, http.MethodPost, base+"/pause", PauseRequest{Reason: "customer call"}, admin())
	if rec.Code != http.StatusOK {
		t.Fatalf("pause: %d", rec.Code)
	}
	if got := decodeData[PipelineResponse](t, rec); got.Status != domain.PipelineStatusPaused || got.PauseReason != "customer call" {
		t.Errorf("unexpected paused pipeline: %+v", got)
	}

	rec = ts.do(t, http.MethodPost, base+"/resume", nil, admin())
	if rec.Code != http.StatusOK {
		t.Fatalf("resume: %d", rec.Code)
	}

	rec = ts.do(t, http.MethodPost, base+"/restage", RestageRequest{Stage: "design_lock", Reason: "new artwork"}, admin())
	if rec.Code != http.StatusOK {
		t.Fatalf("restage: %d: %s", rec.Code, rec.Body)
	}
	if got := decodeData[PipelineResponse](t, rec); got.Epoch != 1 {
		t.Errorf("expected epoch 1, got %d", got.Epoch)
	}

	rec = ts.do(t, http.MethodPost, base+"/restage", RestageRequest{Stage: "PAINTING"}, admin())
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for unknown stage, got %d", rec.Code)
	}

	// Перепрыгнуть обязательные стадии нельзя
	rec = ts.do(t, http.MethodPost, base+"/restage", RestageRequest{Stage: "fulfillment", Reason: "skip"}, admin())
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected 422 for forward restage, got %d", rec.Code)
	}
}

func TestAdmin_Cancel(t *testing.T) {
	ts := newTestServer(t)
	p := ts.create(t, "ORD-1")
	path := "/api/v1/pipelines/" + p.ID.String() + "/cancel"

	if rec := ts.do(t, http.MethodPost, path, CancelRequest{Reason: "refund"}, nil); rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without token, got %d", rec.Code)
	}
	if rec := ts.do(t, http.MethodPost, path, CancelRequest{}, admin()); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 without reason, got %d", rec.Code)
	}

	rec := ts.do(t, http.MethodPost, path, CancelRequest{Reason: "refund"}, admin())
	if rec.Code != http.StatusOK {
		t.Fatalf("cancel: %d: %s", rec.Code, rec.Body)
	}
	if got := decodeData[PipelineResponse](t, rec); got.Status != domain.PipelineStatusFailed || got.LastError != "cancelled: refund" {
		t.Errorf("unexpected cancelled pipeline: %+v", got)
	}

	// Callback для отменённого pipeline устарел
	req := CallbackRequest{PipelineID: p.ID, Stage: domain.StageDesignLock, Outcome: domain.CallbackSuccess}
	if rec := ts.callback(t, "designer", designSecret, req); rec.Code != http.StatusConflict {
		t.Errorf("expected 409 for callback after cancel, got %d", rec.Code)
	}

	if rec := ts.do(t, http.MethodPost, "/api/v1/pipelines/"+uuid.NewString()+"/cancel", CancelRequest{Reason: "x"}, admin()); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown pipeline, got %d", rec.Code)
	}
}

// --- Callback Tests ---

func TestCallback_Signed(t *testing.T) {
	ts := newTestServer(t)
	p := ts.create(t, "ORD-1")

	req := CallbackRequest{PipelineID: p.ID, Stage: domain.StageDesignLock, Outcome: domain.CallbackSuccess}

	rec := ts.callback(t, "designer", designSecret, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body)
	}
	if got := decodeData[CallbackResponse](t, rec); got.Result != string(gateway.ResultAccepted) {
		t.Errorf("expected accepted, got %s", got.Result)
	}

	// Повтор — дубликат, тоже 200
	rec = ts.callback(t, "designer", designSecret, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for duplicate, got %d", rec.Code)
	}
	if got := decodeData[CallbackResponse](t, rec); got.Result != string(gateway.ResultDuplicate) {
		t.Errorf("expected duplicate, got %s", got.Result)
	}

	// Ошибка для пройденной стадии — 409
	req.Outcome = domain.CallbackFailure
	if rec := ts.callback(t, "designer", designSecret, req); rec.Code != http.StatusConflict {
		t.Errorf("expected 409 for stale callback, got %d", rec.Code)
	}
}

func TestCallback_SignatureRejected(t *testing.T) {
	ts := newTestServer(t)
	p := ts.create(t, "ORD-1")
	req := CallbackRequest{PipelineID: p.ID, Stage: domain.StageDesignLock, Outcome: domain.CallbackSuccess}

	tests := []struct {
		name   string
		source string
		secret string
	}{
		{"wrong secret", "designer", "guess"},
		{"unknown source", "stranger", designSecret},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := ts.callback(t, tt.source, tt.secret, req); rec.Code != http.StatusUnauthorized {
				t.Errorf("expected 401, got %d", rec.Code)
			}
		})
	}

	stored, err := ts.store.GetByID(context.Background(), p.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if stored.CurrentStage != domain.StageDesignLock {
		t.Error("rejected callback must not advance the pipeline")
	}
}

func TestCallback_SourceNotAllowed(t *testing.T) {
	ts := newTestServer(t)
	p := ts.create(t, "ORD-1")

	// printco подписан верно, но не может сообщать о DESIGN_LOCK
	rec := ts.callback(t, "printco", "printco-secret", CallbackRequest{
		PipelineID: p.ID,
		Stage:      domain.StageDesignLock,
		Outcome:    domain.CallbackSuccess,
	})
	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", rec.Code)
	}
}

func TestCallback_UnknownField(t *testing.T) {
	ts := newTestServer(t)

	body := []byte(`{"pipeline_id":"` + uuid.NewString() + `","stage":"DESIGN_LOCK","outcome":"SUCCESS","extra":1}`)
	r := httptest.NewRequest(http.MethodPost, "/api/v1/callbacks", bytes.NewReader(body))
	r.Header.Set(HeaderSource, "designer")
	r.Header.Set(HeaderSignature, Sign([]byte(designSecret), body))
	rec := httptest.NewRecorder()
	ts.mux.ServeHTTP(rec, r)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

// --- Auth Tests ---

func TestSigner_Verify(t *testing.T) {
	signer := NewSigner(map[string]string{"Designer": "k"})
	body := []byte(`{"a":1}`)

	source, err := signer.Verify(" DESIGNER ", Sign([]byte("k"), body), body)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if source != "designer" {
		t.Errorf("expected normalized source, got %q", source)
	}

	if _, err := signer.Verify("designer", Sign([]byte("k"), []byte(`{"a":2}`)), body); !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("expected ErrInvalidSignature, got %v", err)
	}
	if _, err := signer.Verify("nobody", "", body); !errors.Is(err, ErrUnknownSource) {
		t.Errorf("expected ErrUnknownSource, got %v", err)
	}
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		name   string
		token  BearerToken
		header string
		want   error
	}{
		{"valid", "t", "Bearer t", nil},
		{"missing", "t", "", ErrMissingToken},
		{"basic scheme", "t", "Basic t", ErrMissingToken},
		{"wrong", "t", "Bearer x", ErrInvalidToken},
		{"unconfigured", "", "Bearer x", ErrInvalidToken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			if err := tt.token.AuthorizeAdmin(r); !errors.Is(err, tt.want) {
				t.Errorf("AuthorizeAdmin() = %v, want %v", err, tt.want)
			}
		})
	}
}
