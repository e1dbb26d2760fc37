package domain

import "fmt"

// ErrorClass — класс ошибки в таксономии оркестратора.
type ErrorClass string

const (
	// ErrorClassTransient — временная ошибка (таймаут, rate limit, падение воркера).
	ErrorClassTransient ErrorClass = "TRANSIENT"

	// ErrorClassTerminal — провайдер окончательно отклонил работу.
	ErrorClassTerminal ErrorClass = "TERMINAL"

	// ErrorClassProtocol — гонка или дубликат/устаревший сигнал.
	ErrorClassProtocol ErrorClass = "PROTOCOL"

	// ErrorClassConfiguration — ошибка конфигурации, проявляется при старте.
	ErrorClassConfiguration ErrorClass = "CONFIGURATION"
)

// Retryable возвращает true, если ошибку имеет смысл повторять.
func (c ErrorClass) Retryable() bool {
	return c == ErrorClassTransient
}

// ParseErrorClass парсит строку в ErrorClass.
func ParseErrorClass(s string) (ErrorClass, bool) {
	switch ErrorClass(s) {
	case ErrorClassTransient, ErrorClassTerminal, ErrorClassProtocol, ErrorClassConfiguration:
		return ErrorClass(s), true
	default:
		return "", false
	}
}

// StageFailure — описание неудачной попытки стадии.
type StageFailure struct {
	// Class — класс ошибки. Пустой класс классифицируется retry.Classifier.
	Class ErrorClass `json:"class,omitempty"`

	// Code — код ошибки провайдера или воркера.
	Code string `json:"code,omitempty"`

	// Message — человекочитаемое описание.
	Message string `json:"message,omitempty"`

	// Provider — таблица классификации, по которой трактуется Code.
	Provider string `json:"provider,omitempty"`
}

// Reason возвращает строку для lastError и истории.
func (f StageFailure) Reason() string {
	switch {
	case f.Code != "" && f.Message != "":
		return fmt.Sprintf("%s: %s", f.Code, f.Message)
	case f.Code != "":
		return f.Code
	case f.Message != "":
		return f.Message
	default:
		return "unknown failure"
	}
}
