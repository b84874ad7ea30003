package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/registry"
	"github.com/shaiso/Conveyor/internal/repo"
	"github.com/shaiso/Conveyor/internal/stream"
	"github.com/shaiso/Conveyor/internal/supervisor"
	"github.com/shaiso/Conveyor/internal/telemetry"
	"github.com/shaiso/Conveyor/internal/workdir"
)

// ProcessSupervisor — запуск и сопровождение дочерних процессов.
// Реализация — supervisor.Supervisor; в тестах подменяется.
type ProcessSupervisor interface {
	Start(runID uuid.UUID, extractor supervisor.Spec, loader *supervisor.Spec) (supervisor.Handle, error)
	Stop(runID uuid.UUID) bool
	Timeout() time.Duration
	Shutdown()
}

// EventPublisher — публикация lifecycle-событий run'ов во внешний мир
// (RabbitMQ). Опционален: nil — события не публикуются.
type EventPublisher interface {
	PublishRunEvent(ctx context.Context, event string, run *domain.Run) error
}

// Orchestrator управляет запуском пайплайнов.
type Orchestrator struct {
	runRepo    *repo.RunRepo
	sourceRepo *repo.SourceRepo
	registry   *registry.Registry
	supervisor ProcessSupervisor
	workdir    *workdir.Materializer
	publisher  EventPublisher
	metrics    *telemetry.Metrics
	logger     *slog.Logger

	wg sync.WaitGroup
}

// Config — конфигурация Orchestrator'а.
type Config struct {
	RunRepo    *repo.RunRepo
	SourceRepo *repo.SourceRepo
	Registry   *registry.Registry
	Supervisor ProcessSupervisor
	Workdir    *workdir.Materializer

	// Publisher — опциональный publisher lifecycle-событий.
	Publisher EventPublisher

	// Metrics — опциональные метрики (nil-safe).
	Metrics *telemetry.Metrics

	Logger *slog.Logger
}

// New создаёт Orchestrator.
func New(cfg Config) *Orchestrator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	reg := cfg.Registry
	if reg == nil {
		reg = registry.New()
	}
	return &Orchestrator{
		runRepo:    cfg.RunRepo,
		sourceRepo: cfg.SourceRepo,
		registry:   reg,
		supervisor: cfg.Supervisor,
		workdir:    cfg.Workdir,
		publisher:  cfg.Publisher,
		metrics:    cfg.Metrics,
		logger:     logger,
	}
}

// StartSync принимает запрос на sync-запуск пайплайна.
//
// Контракт "accept, then start": ответ (run id + stream-токен) уходит
// сразу после гранта registry и durable-вставки; материализация файлов
// и запуск процессов происходят в фоне. За прогрессом наблюдают через
// push-канал.
func (o *Orchestrator) StartSync(ctx context.Context, sourceID uuid.UUID) (*domain.Run, string, error) {
	src, err := o.resolveSource(ctx, sourceID)
	if err != nil {
		return nil, "", err
	}

	run := &domain.Run{
		ID:           uuid.New(),
		SourceID:     src.ID,
		SourceName:   src.Name,
		Mode:         domain.RunModeSync,
		Status:       domain.RunStatusPending,
		StartedAt:    time.Now(),
		LoaderType:   src.LoaderType,
		LoaderConfig: src.LoaderConfig,
	}
	state := NewRunState(run)

	granted, existing := o.registry.TryAcquire(state)
	if !granted {
		return nil, "", &ConflictError{ExistingRunID: existing}
	}

	if err := o.runRepo.Create(ctx, run); err != nil {
		o.registry.Release(run.ID)
		return nil, "", fmt.Errorf("create run: %w", err)
	}

	token, err := o.registry.MintToken(run.ID)
	if err != nil {
		o.registry.Release(run.ID)
		return nil, "", err
	}

	o.metrics.RunStarted()
	logger := telemetry.WithRunID(telemetry.WithSourceID(o.logger, src.ID.String()), run.ID.String())
	logger.Info("sync run accepted", "loader", src.LoaderType)

	snapshot := state.Snapshot()
	o.wg.Add(1)
	go o.runSync(state, src)

	return &snapshot, token, nil
}

// Discover выполняет discovery схем источника. Блокирует до выхода
// extractor'а (ограничено таймаутом supervisor'а) и возвращает run
// с каталогом.
//
// Allow-list проверяется до создания durable-записи: отклонённый
// бинарник не оставляет осиротевшую DISCOVERING-строку.
func (o *Orchestrator) Discover(ctx context.Context, sourceID uuid.UUID) (*domain.Run, error) {
	src, err := o.resolveSource(ctx, sourceID)
	if err != nil {
		return nil, err
	}

	if err := supervisor.ValidateExtractor(src.TapType); err != nil {
		return nil, err
	}

	run := &domain.Run{
		ID:         uuid.New(),
		SourceID:   src.ID,
		SourceName: src.Name,
		Mode:       domain.RunModeDiscover,
		Status:     domain.RunStatusDiscovering,
		StartedAt:  time.Now(),
	}
	state := NewRunState(run)

	granted, existing := o.registry.TryAcquire(state)
	if !granted {
		return nil, &ConflictError{ExistingRunID: existing}
	}

	if err := o.runRepo.Create(ctx, run); err != nil {
		o.registry.Release(run.ID)
		return nil, fmt.Errorf("create run: %w", err)
	}

	o.metrics.RunStarted()
	logger := telemetry.WithRunID(telemetry.WithSourceID(o.logger, src.ID.String()), run.ID.String())
	logger.Info("discovery started")

	cfgPath, err := o.workdir.Write(run.ID, workdir.KindConfig, src.Config)
	if err != nil {
		final := o.finalize(context.WithoutCancel(ctx), state, supervisor.Exit{}, err)
		return &final, nil
	}

	extractor := supervisor.Spec{
		Binary: src.TapType,
		Args:   []string{"--config", cfgPath, "--discover"},
	}
	handle, err := o.supervisor.Start(run.ID, extractor, nil)
	if err != nil {
		final := o.finalize(context.WithoutCancel(ctx), state, supervisor.Exit{}, err)
		return &final, nil
	}

	exit := o.consume(state, handle)
	final := o.finalize(context.WithoutCancel(ctx), state, exit, nil)
	return &final, nil
}

// Stop останавливает run. Идемпотентен: повторный запрос по активному
// run'у — no-op, по терминальному — ErrNothingToStop.
func (o *Orchestrator) Stop(ctx context.Context, runID uuid.UUID) error {
	if h, ok := o.registry.Lookup(runID); ok {
		state := h.(*RunState)
		state.RequestStop()
		o.supervisor.Stop(runID)
		o.logger.Info("stop requested", "run_id", runID)
		return nil
	}

	run, err := o.runRepo.GetByID(ctx, runID)
	if errors.Is(err, repo.ErrNotFound) {
		return ErrRunNotFound
	}
	if err != nil {
		return err
	}
	if run.IsFinished() {
		return ErrNothingToStop
	}

	// Строка нетерминальна, но run не отслеживается — оркестратор
	// перезапускался. Дозакрываем осиротевшую запись.
	run.MarkStopped()
	run.AppendLog(domain.StopMarker)
	if err := o.runRepo.Update(ctx, run); err != nil {
		return fmt.Errorf("finalize orphaned run: %w", err)
	}
	return nil
}

// GetRun возвращает run: живой снапшот для активного, строку БД для
// терминального.
func (o *Orchestrator) GetRun(ctx context.Context, runID uuid.UUID) (*domain.Run, error) {
	if h, ok := o.registry.Lookup(runID); ok {
		snapshot := h.(*RunState).Snapshot()
		return &snapshot, nil
	}
	run, err := o.runRepo.GetByID(ctx, runID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrRunNotFound
	}
	return run, err
}

// ListRuns возвращает runs; для активных подставляются живые счётчики.
func (o *Orchestrator) ListRuns(ctx context.Context, filter repo.RunFilter) ([]domain.Run, error) {
	runs, err := o.runRepo.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	for i := range runs {
		if h, ok := o.registry.Lookup(runs[i].ID); ok {
			runs[i] = h.(*RunState).Snapshot()
		}
	}
	return runs, nil
}

// Subscribe открывает подписку на события run'а.
//
// Живой run требует валидный stream-токен. Терминальный run токена уже
// не имеет (он живёт только пока run отслеживается) — история отдаётся
// из персистентной записи: полный лог и одно терминальное событие.
func (o *Orchestrator) Subscribe(ctx context.Context, runID uuid.UUID, token string) (*stream.Subscriber, error) {
	if h, ok := o.registry.Lookup(runID); ok {
		if !o.registry.ValidateToken(runID, token) {
			return nil, ErrInvalidToken
		}
		return h.(*RunState).Broadcaster().Subscribe(), nil
	}

	run, err := o.runRepo.GetByID(ctx, runID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, err
	}

	b := stream.NewBroadcaster()
	if run.Log != "" {
		for _, line := range strings.Split(run.Log, "\n") {
			b.Publish(stream.Event{Type: stream.EventLog, Line: line})
		}
	}
	if run.Status == domain.RunStatusFailed && run.Error != "" {
		b.Publish(stream.Event{Type: stream.EventError, Message: run.Error})
	}
	b.Close(stream.Event{
		Type:              stream.EventComplete,
		Status:            string(run.Status),
		RecordsSynced:     run.RecordsSynced,
		StreamsDiscovered: run.StreamsDiscovered,
		Message:           run.Error,
	})
	return b.Subscribe(), nil
}

// RecoverOrphans финализирует runs, оставшиеся нетерминальными после
// рестарта хоста. Вызывается один раз при старте, до приёма запросов.
func (o *Orchestrator) RecoverOrphans(ctx context.Context) error {
	runs, err := o.runRepo.ListUnfinished(ctx)
	if err != nil {
		return fmt.Errorf("list unfinished runs: %w", err)
	}
	for i := range runs {
		run := &runs[i]
		run.MarkFailed("orchestrator restarted while run was in progress")
		run.AppendLog("conveyor: orchestrator restarted, run abandoned")
		if err := o.runRepo.Update(ctx, run); err != nil {
			o.logger.Error("failed to finalize orphaned run", "run_id", run.ID, "error", err)
			continue
		}
		o.workdir.Cleanup(run.ID)
		o.logger.Warn("orphaned run marked failed", "run_id", run.ID)
	}
	return nil
}

// Shutdown принудительно завершает все дочерние процессы и дожидается
// финализации всех run'ов. После возврата сирот нет: ни процессов,
// ни временных файлов.
func (o *Orchestrator) Shutdown() {
	o.supervisor.Shutdown()
	o.wg.Wait()
}

// ActiveRunsCount возвращает число активных runs.
func (o *Orchestrator) ActiveRunsCount() int {
	return o.registry.ActiveCount()
}

// --- Внутреннее ---

// runSync — фоновая часть sync-запуска: материализация, запуск,
// потребление событий, финализация.
func (o *Orchestrator) runSync(state *RunState, src *domain.Source) {
	defer o.wg.Done()
	ctx := context.Background()

	extractor, loader, err := o.materializeSync(ctx, state, src)
	if err != nil {
		o.finalize(ctx, state, supervisor.Exit{}, err)
		return
	}

	// Остановили в окне между accept и spawn
	if state.StopRequested() {
		o.finalize(ctx, state, supervisor.Exit{Code: -1}, nil)
		return
	}

	if err := o.runRepo.UpdateStatus(ctx, state.RunID(), domain.RunStatusRunning); err != nil {
		o.logger.Error("failed to mark run running", "run_id", state.RunID(), "error", err)
	}
	state.MarkRunning()
	o.publishEvent(ctx, "started", state.Snapshot())

	handle, err := o.supervisor.Start(state.RunID(), extractor, loader)
	if err != nil {
		o.finalize(ctx, state, supervisor.Exit{}, err)
		return
	}

	// Стоп мог прийти в окне между проверкой и spawn'ом
	if state.StopRequested() {
		o.supervisor.Stop(state.RunID())
	}

	exit := o.consume(state, handle)
	o.finalize(ctx, state, exit, nil)
}

// materializeSync пишет входные документы run'а на диск и собирает
// спецификации процессов. Каталог и чекпоинт предыдущих запусков
// передаются tap'у для инкрементального резюма.
func (o *Orchestrator) materializeSync(ctx context.Context, state *RunState, src *domain.Source) (supervisor.Spec, *supervisor.Spec, error) {
	runID := state.RunID()

	cfgPath, err := o.workdir.Write(runID, workdir.KindConfig, src.Config)
	if err != nil {
		return supervisor.Spec{}, nil, fmt.Errorf("materialize config: %w", err)
	}
	args := []string{"--config", cfgPath}

	catalog, err := o.runRepo.LastCatalog(ctx, src.ID)
	if err != nil {
		return supervisor.Spec{}, nil, err
	}
	if catalog != nil {
		catalogPath, err := o.workdir.Write(runID, workdir.KindCatalog, catalog)
		if err != nil {
			return supervisor.Spec{}, nil, fmt.Errorf("materialize catalog: %w", err)
		}
		args = append(args, "--catalog", catalogPath)
	}

	checkpoint, err := o.runRepo.LastCheckpoint(ctx, src.ID)
	if err != nil {
		return supervisor.Spec{}, nil, err
	}
	if checkpoint != nil {
		statePath, err := o.workdir.Write(runID, workdir.KindState, checkpoint)
		if err != nil {
			return supervisor.Spec{}, nil, fmt.Errorf("materialize state: %w", err)
		}
		args = append(args, "--state", statePath)
	}

	extractor := supervisor.Spec{Binary: src.TapType, Args: args}

	var loader *supervisor.Spec
	if src.LoaderType != "" {
		loaderCfgPath, err := o.workdir.Write(runID, workdir.KindLoaderConfig, src.LoaderConfig)
		if err != nil {
			return supervisor.Spec{}, nil, fmt.Errorf("materialize loader config: %w", err)
		}
		loader = &supervisor.Spec{
			Binary: src.LoaderType,
			Args:   []string{"--config", loaderCfgPath},
		}
	}

	return extractor, loader, nil
}

// consume — единственный потребитель событий процесса: вся мутация
// счётчиков и буферов run'а происходит здесь, в одной горутине.
func (o *Orchestrator) consume(state *RunState, handle supervisor.Handle) supervisor.Exit {
	var exit supervisor.Exit
	for ev := range handle.Events() {
		switch ev.Kind {
		case supervisor.EventChunk:
			state.FeedChunk(ev.Chunk)
		case supervisor.EventStderrLine:
			state.ApplyLine(ev.Line, false)
		case supervisor.EventLoaderStderrLine:
			state.ApplyLine(ev.Line, true)
		case supervisor.EventExit:
			exit = ev.Exit
		}
	}
	state.Flush()
	return exit
}

// finalize выполняется ровно один раз на run: выставляет терминальный
// статус, персистит итог, транслирует терминальное событие, освобождает
// gate и убирает временные файлы. Возвращает финальный снапшот.
func (o *Orchestrator) finalize(ctx context.Context, state *RunState, exit supervisor.Exit, startErr error) domain.Run {
	switch {
	case state.StopRequested():
		state.AppendMarker(domain.StopMarker)
		state.MarkStopped()

	case startErr != nil:
		msg := fmt.Sprintf("failed to start pipeline: %v", startErr)
		state.AppendMarker("conveyor: " + msg)
		state.MarkFailed(msg)

	case exit.TimedOut:
		timeout := o.supervisor.Timeout()
		state.AppendMarker(domain.TimeoutMarker(timeout))
		state.MarkFailed(fmt.Sprintf("run timed out after %s", timeout))

	case exit.Code == 0:
		if state.Snapshot().Mode == domain.RunModeDiscover {
			state.FinalizeCatalog()
		}
		state.MarkCompleted()

	default:
		state.MarkFailed(fmt.Sprintf("extractor exited with code %d", exit.Code))
	}

	snapshot := state.Snapshot()

	if err := o.runRepo.Update(ctx, &snapshot); err != nil {
		o.logger.Error("failed to persist run result", "run_id", snapshot.ID, "error", err)
	}

	// Подписчики упавшего run'а получают error-кадр до терминального
	if snapshot.Status == domain.RunStatusFailed {
		state.Broadcaster().Publish(stream.Event{Type: stream.EventError, Message: snapshot.Error})
	}
	state.Broadcaster().Close(state.TerminalEvent())
	o.registry.Release(snapshot.ID)
	o.workdir.Cleanup(snapshot.ID)

	o.publishEvent(ctx, eventForStatus(snapshot.Status), snapshot)
	o.metrics.RunFinished(string(snapshot.Status), snapshot.Duration(), snapshot.RecordsSynced)

	o.logger.Info("run finalized",
		"run_id", snapshot.ID,
		"status", snapshot.Status,
		"records_synced", snapshot.RecordsSynced,
		"streams_discovered", snapshot.StreamsDiscovered,
		"duration", snapshot.Duration(),
	)
	return snapshot
}

// resolveSource возвращает источник или ErrSourceNotFound.
func (o *Orchestrator) resolveSource(ctx context.Context, sourceID uuid.UUID) (*domain.Source, error) {
	src, err := o.sourceRepo.GetByID(ctx, sourceID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrSourceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("resolve source: %w", err)
	}
	return src, nil
}

// publishEvent публикует lifecycle-событие run'а. Отказ брокера не
// влияет на run — логируется и всё.
func (o *Orchestrator) publishEvent(ctx context.Context, event string, run domain.Run) {
	if o.publisher == nil {
		return
	}
	if err := o.publisher.PublishRunEvent(ctx, event, &run); err != nil {
		o.logger.Warn("failed to publish run event",
			"run_id", run.ID,
			"event", event,
			"error", err,
		)
	}
}

// eventForStatus сопоставляет терминальный статус lifecycle-событию.
func eventForStatus(status domain.RunStatus) string {
	switch status {
	case domain.RunStatusCompleted:
		return "completed"
	case domain.RunStatusStopped:
		return "stopped"
	default:
		return "failed"
	}
}
