package domain

// RunStatus — статус выполнения run.
//
// Жизненный цикл:
//
//	PENDING → RUNNING     → COMPLETED
//	        ↘ DISCOVERING ↘ FAILED
//	                  (или) → STOPPED (по явному запросу)
//
// Из терминального статуса переходов нет.
type RunStatus string

const (
	// RunStatusPending — run принят, процесс ещё не запущен.
	RunStatusPending RunStatus = "PENDING"

	// RunStatusDiscovering — выполняется discovery (tap с флагом --discover).
	RunStatusDiscovering RunStatus = "DISCOVERING"

	// RunStatusRunning — выполняется sync, поток данных идёт.
	RunStatusRunning RunStatus = "RUNNING"

	// RunStatusCompleted — extractor завершился с кодом 0.
	RunStatusCompleted RunStatus = "COMPLETED"

	// RunStatusFailed — ненулевой код выхода, ошибка запуска или таймаут.
	RunStatusFailed RunStatus = "FAILED"

	// RunStatusStopped — run остановлен пользователем.
	RunStatusStopped RunStatus = "STOPPED"
)

// IsTerminal возвращает true, если статус финальный (run завершён).
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunStatusCompleted, RunStatusFailed, RunStatusStopped:
		return true
	default:
		return false
	}
}

// RunMode — режим запуска пайплайна.
type RunMode string

const (
	// RunModeDiscover — однократный запрос каталога схем.
	RunModeDiscover RunMode = "discover"

	// RunModeSync — потоковая синхронизация данных.
	RunModeSync RunMode = "sync"
)
