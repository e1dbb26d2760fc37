// Package dispatch ставит jobs стадий в очереди.
//
// Каждая постановка защищена dedupe ключом "<pipeline>:<stage>:<attempt>":
// ключ захватывается в ledger (Redis SETNX с TTL) до публикации и
// освобождается при ошибке публикации или после завершения стадии.
// Повторная постановка той же попытки возвращает ErrDuplicateJob.
//
// Отложенные ретраи публикуются в очередь задержки с per-message TTL.
package dispatch
