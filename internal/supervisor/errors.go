package supervisor

import "errors"

// Ошибки supervisor'а.
var (
	// ErrBinaryNotAllowed — бинарник вне allow-list, запуск отклонён.
	ErrBinaryNotAllowed = errors.New("binary is not in the allow-list")

	// ErrBinaryNotFound — бинарник из allow-list отсутствует на хосте
	// или не является исполняемым.
	ErrBinaryNotFound = errors.New("binary not found or not executable")

	// ErrAlreadyStarted — для run'а уже запущен процесс.
	ErrAlreadyStarted = errors.New("process already started for run")
)
