// Package protocol разбирает поток протокольных сообщений extractor'а.
//
// Поток — это байты stdout дочернего процесса, приходящие произвольными
// чанками. Splitter восстанавливает из них дискретные строки, Classify
// определяет тип каждого сообщения (record/schema/checkpoint/opaque).
//
// Пакет классифицирует только вид сообщения — содержимое не валидируется
// и не интерпретируется. Неразбираемые строки не являются ошибками.
package protocol
