package domain

// MessageKind — классификация строки протокола extractor'а.
//
// Extractor пишет в stdout NDJSON-сообщения с полем "type":
// SCHEMA, RECORD или STATE. Всё, что не парсится или имеет неизвестный
// тип, классифицируется как opaque и никогда не является ошибкой.
type MessageKind string

const (
	// KindRecord — запись данных ({"type":"RECORD",...}).
	KindRecord MessageKind = "record"

	// KindSchema — объявление схемы stream'а ({"type":"SCHEMA",...}).
	KindSchema MessageKind = "schema"

	// KindCheckpoint — маркер резюмируемости ({"type":"STATE",...}).
	KindCheckpoint MessageKind = "checkpoint"

	// KindOpaque — любая другая строка (диагностика, мусор, не-JSON).
	KindOpaque MessageKind = "opaque"
)
