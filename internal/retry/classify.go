package retry

import (
	"maps"
	"strconv"
	"strings"

	"github.com/shaiso/atelier/internal/domain"
)

// CommonTable — таблица кодов, общая для всех провайдеров.
const CommonTable = "*"

// Коды ошибок, которые выставляет сам оркестратор.
const (
	CodeDwellTimeout   = "dwell_timeout"
	CodeDispatchFailed = "dispatch_failed"
)

// DefaultTables возвращает встроенные таблицы классификации ошибок.
//
// Коды сравниваются без учёта регистра. Всё, чего нет в таблицах,
// классифицируется по HTTP-статусу или считается TRANSIENT.
func DefaultTables() map[string]map[string]domain.ErrorClass {
	const (
		transient = domain.ErrorClassTransient
		terminal  = domain.ErrorClassTerminal
	)

	return map[string]map[string]domain.ErrorClass{
		CommonTable: {
			CodeDwellTimeout:   transient,
			CodeDispatchFailed: transient,
			"worker_crashed":   transient,
			"timeout":          transient,
			"rate_limited":     transient,
		},
		"design": {
			"design_rejected": terminal,
			"order_cancelled": terminal,
		},
		"render": {
			"invalid_artwork":    terminal,
			"resolution_too_low": terminal,
			"unsupported_format": terminal,
			"renderer_crashed":   transient,
			"asset_unavailable":  transient,
		},
		"manufacturing": {
			"invalid_product_spec": terminal,
			"payment_declined":     terminal,
			"address_invalid":      terminal,
			"product_discontinued": terminal,
			"duplicate_order":      terminal,
			"provider_unavailable": transient,
			"quota_exceeded":       transient,
		},
		"fulfillment": {
			"address_undeliverable": terminal,
			"shipment_refused":      terminal,
			"carrier_unavailable":   transient,
			"tracking_pending":      transient,
		},
	}
}

// Classifier проставляет класс ошибки по таблицам провайдеров.
type Classifier struct {
	tables map[string]map[string]domain.ErrorClass
}

// NewClassifier создаёт классификатор из встроенных таблиц,
// дополненных (и переопределённых) переданными.
func NewClassifier(overrides map[string]map[string]domain.ErrorClass) *Classifier {
	tables := DefaultTables()
	for provider, codes := range overrides {
		if tables[provider] == nil {
			tables[provider] = make(map[string]domain.ErrorClass, len(codes))
		}
		for code, class := range codes {
			tables[provider][strings.ToLower(code)] = class
		}
	}
	return &Classifier{tables: tables}
}

// Classify возвращает failure с проставленным классом.
//
// Порядок: таблица провайдера → общая таблица → класс из callback →
// HTTP-статус в коде ("429", "http_503") → TRANSIENT.
func (c *Classifier) Classify(f domain.StageFailure) domain.StageFailure {
	code := strings.ToLower(strings.TrimSpace(f.Code))

	if code != "" {
		if class, ok := c.tables[f.Provider][code]; ok {
			f.Class = class
			return f
		}
		if class, ok := c.tables[CommonTable][code]; ok {
			f.Class = class
			return f
		}
	}

	if f.Class != "" {
		return f
	}

	if class, ok := classifyHTTPStatus(code); ok {
		f.Class = class
		return f
	}

	f.Class = domain.ErrorClassTransient
	return f
}

// Tables возвращает копию таблиц (для отладки и API).
func (c *Classifier) Tables() map[string]map[string]domain.ErrorClass {
	out := make(map[string]map[string]domain.ErrorClass, len(c.tables))
	for provider, codes := range c.tables {
		out[provider] = maps.Clone(codes)
	}
	return out
}

// classifyHTTPStatus классифицирует коды вида "503" и "http_503".
func classifyHTTPStatus(code string) (domain.ErrorClass, bool) {
	code = strings.TrimPrefix(code, "http_")
	status, err := strconv.Atoi(code)
	if err != nil || status < 400 || status > 599 {
		return "", false
	}

	switch {
	case status == 408, status == 425, status == 429, status >= 500:
		return domain.ErrorClassTransient, true
	default:
		return domain.ErrorClassTerminal, true
	}
}
