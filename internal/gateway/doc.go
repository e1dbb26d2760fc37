// Package gateway принимает сигналы о завершении стадий.
//
// Источники: HTTP webhooks провайдеров (через internal/api) и
// результаты воркеров из очереди jobs.completed (через orchestrator).
// Оба пути проходят одни и те же проверки:
//
//	registry → authorizer → pipeline → in-flight стадия → classifier → executor
//
// Повторный успех для уже закрытой через callback стадии поглощается
// (ResultDuplicate). Прочие несовпадения возвращают
// *orchestrator.StaleStageError и pipeline не меняют.
package gateway
