package supervisor

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// defaultTimeout — wall-clock лимит на один run по умолчанию.
const defaultTimeout = 15 * time.Minute

// childEnvKeys — переменные окружения, которые наследуют дочерние
// процессы. Всё остальное (включая секреты оркестратора) отсекается.
var childEnvKeys = []string{"PATH", "HOME", "TMPDIR", "LANG", "LC_ALL"}

// Handle — управление одним запущенным пайплайном.
type Handle interface {
	// Events возвращает упорядоченный канал событий процесса.
	// Канал закрывается после EventExit.
	Events() <-chan Event

	// Kill принудительно завершает extractor и loader. Идемпотентно.
	Kill()
}

// Supervisor запускает и сопровождает пары extractor+loader.
type Supervisor struct {
	timeout time.Duration
	logger  *slog.Logger

	mu     sync.Mutex
	active map[uuid.UUID]*handle
}

// Config — конфигурация Supervisor'а.
type Config struct {
	// Timeout — wall-clock лимит на run (default: 15m).
	Timeout time.Duration

	// Logger — логгер.
	Logger *slog.Logger
}

// New создаёт Supervisor.
func New(cfg Config) *Supervisor {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{
		timeout: timeout,
		logger:  logger,
		active:  make(map[uuid.UUID]*handle),
	}
}

// Timeout возвращает действующий wall-clock лимит.
func (s *Supervisor) Timeout() time.Duration {
	return s.timeout
}

// Start проверяет бинарники по allow-list, запускает extractor
// (и loader, если задан) и начинает перекачку вывода в канал событий.
//
// Allow-list и существование бинарника проверяются до запуска: попытка
// запустить что-либо вне списка не создаёт процесс вообще.
func (s *Supervisor) Start(runID uuid.UUID, extractor Spec, loader *Spec) (Handle, error) {
	if err := ValidateExtractor(extractor.Binary); err != nil {
		return nil, err
	}
	if loader != nil {
		if err := ValidateLoader(loader.Binary); err != nil {
			return nil, err
		}
	}

	extractorPath, err := exec.LookPath(extractor.Binary)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrBinaryNotFound, extractor.Binary)
	}
	var loaderPath string
	if loader != nil {
		loaderPath, err = exec.LookPath(loader.Binary)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrBinaryNotFound, loader.Binary)
		}
	}

	s.mu.Lock()
	if _, exists := s.active[runID]; exists {
		s.mu.Unlock()
		return nil, ErrAlreadyStarted
	}
	s.mu.Unlock()

	env := childEnv()

	cmd := exec.Command(extractorPath, extractor.Args...)
	cmd.Env = env

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("extractor stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("extractor stderr pipe: %w", err)
	}

	h := &handle{
		runID:  runID,
		cmd:    cmd,
		events: make(chan Event, 64),
		logger: s.logger,
		sup:    s,
	}

	var loaderStderr io.Reader
	if loader != nil {
		loaderCmd := exec.Command(loaderPath, loader.Args...)
		loaderCmd.Env = env

		h.loaderStdin, err = loaderCmd.StdinPipe()
		if err != nil {
			return nil, fmt.Errorf("loader stdin pipe: %w", err)
		}
		loaderStderr, err = loaderCmd.StderrPipe()
		if err != nil {
			return nil, fmt.Errorf("loader stderr pipe: %w", err)
		}
		h.loaderCmd = loaderCmd
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start extractor %s: %w", extractor.Binary, err)
	}
	if h.loaderCmd != nil {
		if err := h.loaderCmd.Start(); err != nil {
			// Extractor уже жив — убираем, чтобы не остался сиротой
			_ = cmd.Process.Kill()
			_ = cmd.Wait()
			return nil, fmt.Errorf("start loader %s: %w", loader.Binary, err)
		}
	}

	s.mu.Lock()
	s.active[runID] = h
	s.mu.Unlock()

	h.timer = time.AfterFunc(s.timeout, func() {
		s.logger.Warn("run exceeded process timeout, killing",
			"run_id", runID,
			"timeout", s.timeout,
		)
		h.timedOut.Store(true)
		h.Kill()
	})

	go h.pump(stdout, stderr, loaderStderr)

	return h, nil
}

// Stop принудительно завершает процессы run'а.
// Возвращает false, если для run'а нет активного процесса.
func (s *Supervisor) Stop(runID uuid.UUID) bool {
	s.mu.Lock()
	h, ok := s.active[runID]
	s.mu.Unlock()

	if !ok {
		return false
	}
	h.Kill()
	return true
}

// Shutdown принудительно завершает все активные дочерние процессы.
// Вызывается на выходе хоста: ни один ребёнок не должен пережить оркестратор.
func (s *Supervisor) Shutdown() {
	s.mu.Lock()
	handles := make([]*handle, 0, len(s.active))
	for _, h := range s.active {
		handles = append(handles, h)
	}
	s.mu.Unlock()

	for _, h := range handles {
		s.logger.Info("killing child process on shutdown", "run_id", h.runID)
		h.Kill()
	}
}

// ActiveCount возвращает число активных пайплайнов.
func (s *Supervisor) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

func (s *Supervisor) remove(runID uuid.UUID) {
	s.mu.Lock()
	delete(s.active, runID)
	s.mu.Unlock()
}

// --- handle ---

type handle struct {
	runID       uuid.UUID
	cmd         *exec.Cmd
	loaderCmd   *exec.Cmd
	loaderStdin io.WriteCloser
	events      chan Event
	timer       *time.Timer
	timedOut    atomic.Bool
	killOnce    sync.Once
	logger      *slog.Logger
	sup         *Supervisor
}

func (h *handle) Events() <-chan Event {
	return h.events
}

func (h *handle) Kill() {
	h.killOnce.Do(func() {
		if h.cmd.Process != nil {
			_ = h.cmd.Process.Kill()
		}
		// Loader не обязан замечать EOF на своём stdin: без явного kill
		// его Wait держит финализацию run'а навсегда
		if h.loaderCmd != nil && h.loaderCmd.Process != nil {
			_ = h.loaderCmd.Process.Kill()
		}
	})
}

// pump перекачивает вывод детей в канал событий и дожидается завершения.
// Завершается ровно одним EventExit и закрытием канала.
func (h *handle) pump(stdout, stderr io.Reader, loaderStderr io.Reader) {
	var g errgroup.Group

	// stdout extractor'а: байты идут verbatim в stdin loader'а (если он
	// есть) и чанками в канал событий. На EOF stdin loader'а закрывается,
	// чтобы loader мог дописать буферы и выйти.
	g.Go(func() error {
		buf := make([]byte, 32*1024)
		for {
			n, err := stdout.Read(buf)
			if n > 0 {
				chunk := make([]byte, n)
				copy(chunk, buf[:n])
				if h.loaderStdin != nil {
					if _, werr := h.loaderStdin.Write(chunk); werr != nil {
						h.logger.Warn("loader stdin write failed",
							"run_id", h.runID,
							"error", werr,
						)
						// Loader умер — данные дальше не форвардим,
						// но классификацию продолжаем
						h.loaderStdin = nil
					}
				}
				h.events <- Event{Kind: EventChunk, Chunk: chunk}
			}
			if err != nil {
				break
			}
		}
		if h.loaderStdin != nil {
			_ = h.loaderStdin.Close()
		}
		return nil
	})

	g.Go(func() error {
		scanner := bufio.NewScanner(stderr)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			h.events <- Event{Kind: EventStderrLine, Line: scanner.Text()}
		}
		return nil
	})

	if loaderStderr != nil {
		g.Go(func() error {
			scanner := bufio.NewScanner(loaderStderr)
			scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
			for scanner.Scan() {
				h.events <- Event{Kind: EventLoaderStderrLine, Line: scanner.Text()}
			}
			return nil
		})
	}

	_ = g.Wait()

	err := h.cmd.Wait()
	code := exitCode(err)

	var loaderCode *int
	if h.loaderCmd != nil {
		lerr := h.loaderCmd.Wait()
		lc := exitCode(lerr)
		loaderCode = &lc
		h.logger.Info("loader exited", "run_id", h.runID, "exit_code", lc)
	}

	h.timer.Stop()
	h.sup.remove(h.runID)

	h.events <- Event{Kind: EventExit, Exit: Exit{
		Code:       code,
		TimedOut:   h.timedOut.Load(),
		LoaderCode: loaderCode,
	}}
	close(h.events)
}

// exitCode извлекает код выхода из ошибки Wait.
// -1 — процесс убит или завершился вне обычного exit.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		return ee.ExitCode()
	}
	return -1
}

// childEnv собирает минимальное окружение дочернего процесса.
// Явный allow-list переменных; PYTHONUNBUFFERED нужен, чтобы stdout
// tap'ов не буферизовался и строки приходили сразу.
func childEnv() []string {
	env := []string{"PYTHONUNBUFFERED=1"}
	for _, key := range childEnvKeys {
		if v, ok := os.LookupEnv(key); ok {
			env = append(env, key+"="+v)
		}
	}
	return env
}
