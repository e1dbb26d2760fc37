// Package cli реализует инструмент командной строки Atelier.
//
// # Обзор
//
// CLI — клиентская утилита для оператора производства.
// Работает через HTTP API, не импортирует внутренние пакеты системы.
//
// # Ключевые компоненты
//
// ## Client
//
// HTTP-клиент для Atelier API. Инкапсулирует запросы, парсинг ответов
// (DataResponse, ListResponse, ErrorResponse) и обработку ошибок.
// Админские команды отправляют Authorization: Bearer <token>.
//
//	client := cli.NewClient("http://localhost:8080", token)
//	pipelines, err := client.ListPipelines(cli.ListPipelinesOpts{Status: "PAUSED"})
//
// ## Output
//
// Форматирование вывода: таблицы (text/tabwriter) по умолчанию,
// JSON с флагом --json. Данные выводятся в stdout, сообщения в stderr,
// поэтому работает pipe: atelier pipeline list --json | jq .
//
// ## Commands
//
//   - pipeline: list, show, start, trigger, pause, resume, restage, cancel
package cli
