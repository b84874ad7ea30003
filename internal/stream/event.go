package stream

// EventType — тип события в канале наблюдения за run'ом.
type EventType string

const (
	// EventLog — одна строка лога.
	EventLog EventType = "log"

	// EventStatus — снапшот счётчиков run'а.
	EventStatus EventType = "status"

	// EventLogHistory — весь накопленный лог, отправляется один раз
	// при подключении подписчика.
	EventLogHistory EventType = "log_history"

	// EventComplete — терминальный снапшот, после него канал закрывается.
	EventComplete EventType = "complete"

	// EventError — фатальное сообщение, отправляется перед complete.
	EventError EventType = "error"
)

// Event — кадр канала наблюдения. Поля заполняются в зависимости от Type.
type Event struct {
	Type EventType `json:"type"`

	// Line — строка лога (для log).
	Line string `json:"line,omitempty"`

	// Lines — накопленный лог (для log_history).
	Lines []string `json:"lines,omitempty"`

	// Status — статус run'а (для status и complete).
	Status string `json:"status,omitempty"`

	// RecordsSynced, StreamsDiscovered — счётчики (для status и complete).
	RecordsSynced     int64 `json:"records_synced,omitempty"`
	StreamsDiscovered int   `json:"streams_discovered,omitempty"`

	// Message — текст ошибки (для error и complete при неуспехе).
	Message string `json:"message,omitempty"`
}
