package supervisor

// EventKind — вид события процесса.
type EventKind int

const (
	// EventChunk — чанк stdout extractor'а (сырые байты протокола).
	EventChunk EventKind = iota

	// EventStderrLine — строка stderr extractor'а (свободная диагностика).
	EventStderrLine

	// EventLoaderStderrLine — строка stderr loader'а.
	EventLoaderStderrLine

	// EventExit — терминальное событие; после него канал закрывается.
	EventExit
)

// Event — одно событие из жизни дочерних процессов run'а.
// События доставляются строго в порядке возникновения внутри каждого
// источника; EventExit всегда последнее.
type Event struct {
	Kind  EventKind
	Chunk []byte
	Line  string
	Exit  Exit
}

// Exit — итог завершения пайплайна.
type Exit struct {
	// Code — код выхода extractor'а. -1, если процесс был убит
	// или завершился вне обычного exit.
	Code int

	// TimedOut — true, если процесс был принудительно завершён
	// по wall-clock таймауту.
	TimedOut bool

	// LoaderCode — код выхода loader'а, если loader был подключён.
	// Наблюдается и логируется, но не влияет на вердикт run'а.
	LoaderCode *int
}

// Spec — описание запускаемого бинарника.
type Spec struct {
	// Binary — имя бинарника (проверяется по allow-list, ищется в PATH).
	Binary string

	// Args — аргументы командной строки.
	Args []string
}
