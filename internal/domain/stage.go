package domain

// Stage — стадия производственного pipeline.
//
// Порядок стадий фиксирован и задаётся в stages.Registry;
// здесь только идентификаторы.
type Stage string

const (
	// StageValidation — проверка заказа, выполняется сразу при входе.
	StageValidation Stage = "VALIDATION"

	// StageDesignLock — ожидание подтверждения дизайна (внешнее событие).
	StageDesignLock Stage = "DESIGN_LOCK"

	// StageRendering — рендер печатных файлов воркером.
	StageRendering Stage = "RENDERING"

	// StageProductionSubmission — отправка заказа производственному провайдеру.
	StageProductionSubmission Stage = "PRODUCTION_SUBMISSION"

	// StageFulfillment — ожидание отгрузки и трекинга от провайдера.
	StageFulfillment Stage = "FULFILLMENT"

	// StageCompleted — терминальная стадия.
	StageCompleted Stage = "COMPLETED"
)

// String возвращает строковое представление Stage.
func (s Stage) String() string {
	return string(s)
}
