// Package api содержит HTTP API сервер.
//
// Структура:
//   - handler.go        — Handler с DI (orchestrator, репозитории, logger)
//   - routes.go         — регистрация маршрутов
//   - middleware.go     — middleware (logging, recovery)
//   - response.go       — унифицированные JSON-ответы и обработка ошибок
//   - dto.go            — Data Transfer Objects (request/response)
//   - source_handler.go — обработчики для /sources
//   - run_handler.go    — обработчики для /runs, sync и discovery
//   - stream_handler.go — websocket-поток событий run'а
//
// API предоставляет REST endpoints для управления источниками и runs,
// плюс websocket-stream для наблюдения за активным run'ом.
package api
