package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/shaiso/atelier/internal/domain"
)

const defaultHTTPTimeout = 30 * time.Second

// Заголовки запроса к провайдеру.
const (
	HeaderIdempotencyKey = "Idempotency-Key"
	HeaderAttempt        = "X-Atelier-Attempt"
)

// Коды ошибок, которые выставляет воркер.
const (
	CodeTimeout             = "timeout"
	CodeProviderUnreachable = "provider_unreachable"
)

// ProviderExecutor — executor, вызывающий HTTP endpoint провайдера стадии.
//
// Запрос: POST URL с телом job (JSON) и заголовком Idempotency-Key = dedupe key,
// поэтому повторная доставка job не порождает повторной работы у провайдера.
//
// Ответ:
//   - 2xx: тело (JSON object) → payload результата
//   - >= 400: error_code/error_message из тела, иначе "http_<status>"
type ProviderExecutor struct {
	URL     string
	Client  *http.Client
	Timeout time.Duration
}

// providerError — тело ответа провайдера с ошибкой.
type providerError struct {
	ErrorCode    string `json:"error_code"`
	ErrorMessage string `json:"error_message"`
}

// Execute выполняет запрос к провайдеру.
func (e *ProviderExecutor) Execute(ctx context.Context, job domain.Job) (*ExecutionResult, error) {
	if e.URL == "" {
		return nil, fmt.Errorf("%w: url is required", ErrProviderRequest)
	}

	timeout := e.Timeout
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	body, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal job: %v", ErrProviderRequest, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: create request: %v", ErrProviderRequest, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderIdempotencyKey, job.DedupeKey)
	req.Header.Set(HeaderAttempt, strconv.Itoa(job.AttemptNumber))

	client := e.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		// Недоступность провайдера — транзиентная ошибка стадии, а не воркера
		code := CodeProviderUnreachable
		if errors.Is(err, context.DeadlineExceeded) {
			code = CodeTimeout
		}
		return &ExecutionResult{ErrorCode: code, ErrorMessage: err.Error()}, nil
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrProviderRequest, err)
	}

	if resp.StatusCode >= 400 {
		return failureFromResponse(resp.StatusCode, respBody), nil
	}

	return &ExecutionResult{Payload: parsePayload(respBody)}, nil
}

// failureFromResponse формирует логическую ошибку из ответа провайдера.
func failureFromResponse(status int, body []byte) *ExecutionResult {
	var pe providerError
	if err := json.Unmarshal(body, &pe); err == nil && pe.ErrorCode != "" {
		return &ExecutionResult{ErrorCode: pe.ErrorCode, ErrorMessage: pe.ErrorMessage}
	}
	return &ExecutionResult{
		ErrorCode:    fmt.Sprintf("http_%d", status),
		ErrorMessage: truncate(string(body), 200),
	}
}

// parsePayload парсит тело успешного ответа: JSON object или строка.
func parsePayload(body []byte) map[string]any {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return map[string]any{"body": truncate(string(body), 1024)}
	}
	return payload
}

// truncate обрезает строку до указанной длины.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
