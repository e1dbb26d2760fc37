package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// --- Response types (дублируются из api/dto.go, CLI не импортирует internal/api) ---

// PipelineResponse — pipeline из API.
type PipelineResponse struct {
	ID           string            `json:"id"`
	OrderID      string            `json:"order_id"`
	CurrentStage string            `json:"current_stage"`
	Status       string            `json:"status"`
	Progress     int               `json:"progress"`
	RetryCounts  map[string]int    `json:"retry_counts,omitempty"`
	LastError    string            `json:"last_error,omitempty"`
	InFlight     *InFlightResponse `json:"in_flight,omitempty"`
	RetryAt      string            `json:"retry_at,omitempty"`
	Epoch        int               `json:"epoch"`
	PauseReason  string            `json:"pause_reason,omitempty"`
	Version      int64             `json:"version"`
	CreatedAt    string            `json:"created_at"`
	UpdatedAt    string            `json:"updated_at"`
	CompletedAt  string            `json:"completed_at,omitempty"`

	History []StageRecordResponse `json:"history,omitempty"`
}

// InFlightResponse — стадия, ожидающая результата.
type InFlightResponse struct {
	Stage     string `json:"stage"`
	Attempt   int    `json:"attempt"`
	DedupeKey string `json:"dedupe_key,omitempty"`
	Since     string `json:"since"`
	Deadline  string `json:"deadline"`
}

// StageRecordResponse — запись истории стадии.
type StageRecordResponse struct {
	Stage      string         `json:"stage"`
	Attempt    int            `json:"attempt"`
	Epoch      int            `json:"epoch"`
	EnteredAt  string         `json:"entered_at"`
	ExitedAt   string         `json:"exited_at"`
	Outcome    string         `json:"outcome"`
	Resolution string         `json:"resolution"`
	Error      string         `json:"error,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`
}

// TriggerResponse — ответ на асинхронный триггер.
type TriggerResponse struct {
	OrderID string `json:"order_id"`
	Queued  bool   `json:"queued"`
}

// --- Request types ---

// ListPipelinesOpts — параметры фильтрации pipelines.
type ListPipelinesOpts struct {
	Status string
	Stage  string
	Limit  int
	Offset int
}

type createPipelineRequest struct {
	OrderID string `json:"order_id"`
}

type pauseRequest struct {
	Reason string `json:"reason,omitempty"`
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

type restageRequest struct {
	Stage  string `json:"stage"`
	Reason string `json:"reason,omitempty"`
}

// --- API response wrappers ---

type dataResponse struct {
	Data json.RawMessage `json:"data"`
}

type listResponse struct {
	Data  json.RawMessage `json:"data"`
	Total int             `json:"total"`
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// APIError — ошибка, которую вернул API.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("API error: HTTP %d", e.Status)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// --- Client ---

// Client — HTTP-клиент для Atelier API.
type Client struct {
	baseURL    string
	adminToken string
	httpClient *http.Client
}

// NewClient создаёт клиент для API.
// adminToken нужен только для pause, resume и restage.
func NewClient(baseURL, adminToken string) *Client {
	return &Client{
		baseURL:    baseURL,
		adminToken: adminToken,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// --- Pipelines ---

// ListPipelines возвращает pipelines с фильтрацией.
func (c *Client) ListPipelines(opts ListPipelinesOpts) ([]PipelineResponse, error) {
	params := url.Values{}
	if opts.Status != "" {
		params.Set("status", opts.Status)
	}
	if opts.Stage != "" {
		params.Set("stage", opts.Stage)
	}
	if opts.Limit > 0 {
		params.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Offset > 0 {
		params.Set("offset", strconv.Itoa(opts.Offset))
	}

	var pipelines []PipelineResponse
	err := c.list("/api/v1/pipelines", params, &pipelines)
	return pipelines, err
}

// GetPipeline возвращает pipeline с историей стадий.
func (c *Client) GetPipeline(id string) (*PipelineResponse, error) {
	var p PipelineResponse
	err := c.get("/api/v1/pipelines/"+url.PathEscape(id), &p)
	return &p, err
}

// GetOrderPipeline возвращает текущий pipeline заказа.
func (c *Client) GetOrderPipeline(orderID string) (*PipelineResponse, error) {
	var p PipelineResponse
	err := c.get("/api/v1/orders/"+url.PathEscape(orderID)+"/pipeline", &p)
	return &p, err
}

// CreatePipeline синхронно запускает pipeline для заказа.
func (c *Client) CreatePipeline(orderID string) (*PipelineResponse, error) {
	var p PipelineResponse
	err := c.post("/api/v1/pipelines", createPipelineRequest{OrderID: orderID}, &p)
	return &p, err
}

// TriggerOrder ставит запуск pipeline в очередь.
func (c *Client) TriggerOrder(orderID string) (*TriggerResponse, error) {
	var resp TriggerResponse
	err := c.post("/api/v1/orders/"+url.PathEscape(orderID)+"/trigger", nil, &resp)
	return &resp, err
}

// PausePipeline ставит pipeline на паузу.
func (c *Client) PausePipeline(id, reason string) (*PipelineResponse, error) {
	var p PipelineResponse
	err := c.post("/api/v1/pipelines/"+url.PathEscape(id)+"/pause", pauseRequest{Reason: reason}, &p)
	return &p, err
}

// ResumePipeline снимает паузу.
func (c *Client) ResumePipeline(id string) (*PipelineResponse, error) {
	var p PipelineResponse
	err := c.post("/api/v1/pipelines/"+url.PathEscape(id)+"/resume", nil, &p)
	return &p, err
}

// RestagePipeline переводит pipeline на указанную стадию.
func (c *Client) RestagePipeline(id, stage, reason string) (*PipelineResponse, error) {
	var p PipelineResponse
	err := c.post("/api/v1/pipelines/"+url.PathEscape(id)+"/restage", restageRequest{Stage: stage, Reason: reason}, &p)
	return &p, err
}

// CancelPipeline отменяет pipeline.
func (c *Client) CancelPipeline(id, reason string) (*PipelineResponse, error) {
	var p PipelineResponse
	err := c.post("/api/v1/pipelines/"+url.PathEscape(id)+"/cancel", cancelRequest{Reason: reason}, &p)
	return &p, err
}

// --- HTTP helpers ---

func (c *Client) get(path string, result any) error {
	return c.doData(http.MethodGet, path, nil, result)
}

func (c *Client) post(path string, body any, result any) error {
	return c.doData(http.MethodPost, path, body, result)
}

func (c *Client) list(path string, params url.Values, result any) error {
	if len(params) > 0 {
		path = path + "?" + params.Encode()
	}

	resp, err := c.do(http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	var lr listResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return json.Unmarshal(lr.Data, result)
}

func (c *Client) doData(method, path string, body any, result any) error {
	resp, err := c.do(method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	// 204 No Content
	if resp.StatusCode == http.StatusNoContent {
		return nil
	}

	var dr dataResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	if result != nil {
		return json.Unmarshal(dr.Data, result)
	}
	return nil
}

func (c *Client) do(method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.adminToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.adminToken)
	}

	return c.httpClient.Do(req)
}

func (c *Client) checkError(resp *http.Response) error {
	if resp.StatusCode < 400 {
		return nil
	}

	apiErr := &APIError{Status: resp.StatusCode}
	var er errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err == nil {
		apiErr.Code = er.Error.Code
		apiErr.Message = er.Error.Message
	}
	return apiErr
}
