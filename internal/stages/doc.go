// Package stages содержит статический реестр стадий производства.
//
// Реестр задаёт порядок стадий, способ их выполнения (auto-complete,
// ожидание события, dispatch воркеру), потолок ретраев, политику backoff
// и максимальное время in-flight. Состав и порядок стадий фиксированы
// при сборке; конфигурация может менять только параметры стадий.
//
//	registry := stages.NewDefault()
//	def, err := registry.Get(domain.StageRendering)
//	next, err := registry.Next(domain.StageRendering)
package stages
