package orchestrator

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Ошибки оркестратора.
var (
	// ErrRunNotFound — run не найден ни в registry, ни в БД.
	ErrRunNotFound = errors.New("run not found")

	// ErrSourceNotFound — источник не найден.
	ErrSourceNotFound = errors.New("source not found")

	// ErrNothingToStop — run уже терминален, останавливать нечего.
	ErrNothingToStop = errors.New("nothing to stop")

	// ErrInvalidToken — stream-токен не подходит к run'у.
	ErrInvalidToken = errors.New("invalid stream token")
)

// ConflictError — источник уже занят другим run'ом.
// Несёт id блокирующего run'а, чтобы вызывающий мог посмотреть или
// отменить его вместо слепого ретрая.
type ConflictError struct {
	ExistingRunID uuid.UUID
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("source already has an active run %s", e.ExistingRunID)
}
