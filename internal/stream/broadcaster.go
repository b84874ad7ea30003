package stream

import (
	"sync"

	"github.com/shaiso/Conveyor/internal/domain"
)

// subscriberBuffer — ёмкость канала подписчика. Подписчик, не успевающий
// вычитывать события, отбрасывается как отключившийся.
const subscriberBuffer = 256

// Subscriber — подписка на события одного run'а.
type Subscriber struct {
	ch   chan Event
	once sync.Once
}

// Events возвращает канал событий. Канал закрывается после терминального
// события или при отбрасывании подписчика.
func (s *Subscriber) Events() <-chan Event {
	return s.ch
}

func (s *Subscriber) close() {
	s.once.Do(func() { close(s.ch) })
}

// Broadcaster — push-канал одного run'а.
//
// Накапливает ограниченную историю строк лога, реплицирует её новым
// подписчикам (log_history) и раздаёт живые события в порядке публикации.
// После Close новые подписчики получают историю и терминальное событие,
// затем канал сразу закрывается.
type Broadcaster struct {
	mu       sync.Mutex
	history  []string
	subs     map[*Subscriber]struct{}
	closed   bool
	terminal Event
}

// NewBroadcaster создаёт Broadcaster для одного run'а.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subs: make(map[*Subscriber]struct{}),
	}
}

// Subscribe регистрирует подписчика. В его канал сразу кладётся история
// лога; если run уже завершён — следом терминальное событие, и канал
// закрывается без подписки на живые события.
func (b *Broadcaster) Subscribe() *Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &Subscriber{ch: make(chan Event, subscriberBuffer)}

	historyCopy := make([]string, len(b.history))
	copy(historyCopy, b.history)
	sub.ch <- Event{Type: EventLogHistory, Lines: historyCopy}

	if b.closed {
		sub.ch <- b.terminal
		sub.close()
		return sub
	}

	b.subs[sub] = struct{}{}
	return sub
}

// Unsubscribe снимает подписку (явный disconnect клиента).
func (b *Broadcaster) Unsubscribe(sub *Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subs[sub]; ok {
		delete(b.subs, sub)
		sub.close()
	}
}

// Publish раздаёт событие всем подписчикам. Строки лога попадают в
// историю. Подписчик с переполненным буфером молча отбрасывается —
// это disconnect, не ошибка.
func (b *Broadcaster) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}

	if ev.Type == EventLog {
		b.history = append(b.history, ev.Line)
		if len(b.history) > domain.MaxLogLines {
			b.history = b.history[len(b.history)-domain.MaxLogLines:]
		}
	}

	b.fanOut(ev)
}

// Close публикует терминальное событие и закрывает все подписки.
// Повторный Close — no-op.
func (b *Broadcaster) Close(terminal Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	b.terminal = terminal

	b.fanOut(terminal)
	for sub := range b.subs {
		sub.close()
		delete(b.subs, sub)
	}
}

// SubscriberCount возвращает число живых подписчиков.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// fanOut пишет событие в каналы подписчиков. Вызывается под мьютексом.
func (b *Broadcaster) fanOut(ev Event) {
	for sub := range b.subs {
		select {
		case sub.ch <- ev:
		default:
			// Буфер переполнен — подписчик не читает, отбрасываем
			delete(b.subs, sub)
			sub.close()
		}
	}
}
