// Package mq предоставляет инфраструктуру для работы с RabbitMQ.
//
// Структура:
//   - connection.go — управление соединением с RabbitMQ (reconnect, graceful shutdown)
//   - topology.go   — объявление обменника событий
//   - publisher.go  — публикация lifecycle-событий run'ов
//
// События:
//   - run.started   — sync-run принят и запущен
//   - run.completed — run завершился успешно
//   - run.failed    — run упал или истёк таймаут
//   - run.stopped   — run остановлен пользователем
//
// Публикация — fire-and-forget: отказ брокера не влияет на run.
// Внешние потребители сами заводят очереди и биндятся на conveyor.events.
package mq
