package registry

import "errors"

// Ошибки registry.
var (
	// ErrRunNotTracked — run не отслеживается (терминален или неизвестен).
	ErrRunNotTracked = errors.New("run is not tracked in registry")
)
