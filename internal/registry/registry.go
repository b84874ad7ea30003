package registry

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Handle — живое состояние одного run'а. Владеет им оркестратор;
// registry хранит только ссылку для lookup.
type Handle interface {
	RunID() uuid.UUID
	SourceID() uuid.UUID
}

// Registry — единственный gate конкурентности запусков.
//
// Инвариант: на один source id в любой момент не более одного
// нетерминального run'а. Все мутации сериализуются одним мьютексом —
// конкурентные TryAcquire для одного источника не могут выиграть оба.
//
// Registry также хранит одноразовые stream-токены sync-run'ов: токен
// живёт ровно столько, сколько run отслеживается здесь, и не
// персистится.
type Registry struct {
	mu       sync.Mutex
	bySource map[uuid.UUID]uuid.UUID // sourceID → активный runID
	byRun    map[uuid.UUID]Handle
	tokens   map[uuid.UUID]string
}

// New создаёт пустой Registry.
func New() *Registry {
	return &Registry{
		bySource: make(map[uuid.UUID]uuid.UUID),
		byRun:    make(map[uuid.UUID]Handle),
		tokens:   make(map[uuid.UUID]string),
	}
}

// TryAcquire атомарно пытается занять источник под run.
// Если источник уже занят, возвращает (false, id блокирующего run'а),
// чтобы вызывающий мог показать или отменить его вместо слепого ретрая.
func (r *Registry) TryAcquire(h Handle) (bool, uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, busy := r.bySource[h.SourceID()]; busy {
		return false, existing
	}

	r.bySource[h.SourceID()] = h.RunID()
	r.byRun[h.RunID()] = h
	return true, uuid.Nil
}

// Release снимает run с учёта, освобождая источник. Токен run'а
// аннулируется. Вызывается ровно при переходе run'а в терминальный статус.
func (r *Registry) Release(runID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	h, ok := r.byRun[runID]
	if !ok {
		return
	}
	delete(r.byRun, runID)
	delete(r.tokens, runID)
	if r.bySource[h.SourceID()] == runID {
		delete(r.bySource, h.SourceID())
	}
}

// Lookup возвращает живой handle run'а. Для терминальных/исторических
// run'ов возвращает false — вызывающие идут в RunStore.
func (r *Registry) Lookup(runID uuid.UUID) (Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	h, ok := r.byRun[runID]
	return h, ok
}

// ActiveCount возвращает число отслеживаемых run'ов.
func (r *Registry) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byRun)
}

// MintToken выпускает одноразовый секрет для live-подписки на run.
// Run должен быть уже отслеживаемым.
func (r *Registry) MintToken(runID uuid.UUID) (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("mint token: %w", err)
	}
	token := hex.EncodeToString(buf)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byRun[runID]; !ok {
		return "", ErrRunNotTracked
	}
	r.tokens[runID] = token
	return token, nil
}

// ValidateToken проверяет stream-токен run'а. Сравнение за константное
// время; токен неизвестного или уже терминального run'а невалиден.
func (r *Registry) ValidateToken(runID uuid.UUID, token string) bool {
	r.mu.Lock()
	expected, ok := r.tokens[runID]
	r.mu.Unlock()

	if !ok || token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(token)) == 1
}
