package scheduler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"reflect"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"cronradar/internal/monitor"
	"cronradar/internal/shared"
)

// Коды выхода, которые назначает сам планировщик.
const (
	// ExitTimeout задача превысила JobOptions.Timeout.
	ExitTimeout = 124
	// ExitNotStarted команду не удалось запустить.
	ExitNotStarted = 127
)

const waitDelay = 2 * time.Second

var (
	// ErrTaskRunning задача с SkipIfRunning уже выполняется.
	ErrTaskRunning = errors.New("task is already running")
	// ErrUnknownTask задача с таким ID не зарегистрирована.
	ErrUnknownTask = errors.New("unknown task")
	// ErrStopped планировщик остановлен.
	ErrStopped = errors.New("scheduler stopped")
)

// JobFunc представляет функцию задачи планировщика. Если возвращённая ошибка
// реализует ExitCode() int, код выхода берётся из неё, иначе равен 1.
type JobFunc func(ctx context.Context) error

// OverlapPolicy определяет политику обработки перекрывающихся выполнений задач.
type OverlapPolicy int

const (
	// AllowOverlap разрешает параллельное выполнение задач (по умолчанию).
	AllowOverlap OverlapPolicy = iota
	// SkipIfRunning пропускает выполнение, если задача уже запущена.
	SkipIfRunning
	// DelayIfRunning ждет завершения предыдущего выполнения.
	DelayIfRunning
)

func (p OverlapPolicy) String() string {
	switch p {
	case SkipIfRunning:
		return "skip"
	case DelayIfRunning:
		return "delay"
	default:
		return "allow"
	}
}

// ParseOverlapPolicy разбирает "allow", "skip" или "delay".
func ParseOverlapPolicy(s string) (OverlapPolicy, error) {
	switch s {
	case "", "allow":
		return AllowOverlap, nil
	case "skip":
		return SkipIfRunning, nil
	case "delay":
		return DelayIfRunning, nil
	}
	return AllowOverlap, shared.MarkKind(fmt.Errorf("unknown overlap policy %q", s), shared.KindValidation)
}

// JobOptions содержит опции для настройки задач.
type JobOptions struct {
	// ID - идентификатор задачи; по умолчанию порядковый номер.
	ID string
	// Description - человекочитаемое описание, участвует в выводе ключа монитора.
	Description string
	// Timeout - максимальное время выполнения задачи (необязательно).
	Timeout time.Duration
	// OverlapPolicy - политика обработки перекрывающихся выполнений.
	OverlapPolicy OverlapPolicy
}

// cronLogger адаптер для интеграции cron logger с slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.LogAttrs(context.Background(), slog.LevelDebug, msg, attrs(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.LogAttrs(context.Background(), slog.LevelError, msg, append([]slog.Attr{slog.Any("error", err)}, attrs(keysAndValues)...)...)
}

func attrs(keysAndValues []interface{}) []slog.Attr {
	out := make([]slog.Attr, 0, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		key, ok := keysAndValues[i].(string)
		if !ok {
			key = fmt.Sprint(keysAndValues[i])
		}
		out = append(out, slog.Any(key, keysAndValues[i+1]))
	}
	return out
}

// Config содержит конфигурацию планировщика.
type Config struct {
	Logger *slog.Logger
	// Shell запускает командные задачи; по умолчанию /bin/sh -c.
	Shell []string
	// Stdout и Stderr командных задач; по умолчанию вывод процесса.
	Stdout io.Writer
	Stderr io.Writer
}

// Scheduler управляет периодическими задачами и вызывает их хуки
// до и после каждого выполнения.
type Scheduler struct {
	cron   *cron.Cron
	parser cron.Parser
	logger *slog.Logger
	shell  []string
	stdout io.Writer
	stderr io.Writer

	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	tasks []*Task
	byID  map[string]*Task

	stopped   atomic.Bool
	startOnce sync.Once
	stopOnce  sync.Once
}

// New создает новый экземпляр планировщика с background контекстом.
func New(cfg Config) *Scheduler {
	return NewWithContext(context.Background(), cfg)
}

// NewWithContext создает новый экземпляр планировщика с указанным родительским контекстом.
// Расписания принимаются как с полем секунд, так и без него.
func NewWithContext(parentCtx context.Context, cfg Config) *Scheduler {
	ctx, cancel := context.WithCancel(parentCtx)

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	shell := cfg.Shell
	if len(shell) == 0 {
		shell = []string{"/bin/sh", "-c"}
	}
	stdout, stderr := cfg.Stdout, cfg.Stderr
	if stdout == nil {
		stdout = os.Stdout
	}
	if stderr == nil {
		stderr = os.Stderr
	}

	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

	return &Scheduler{
		cron: cron.New(
			cron.WithParser(parser),
			cron.WithLogger(cronLogger{logger: logger.With("component", "cron")}),
		),
		parser: parser,
		logger: logger.With("component", "scheduler"),
		shell:  shell,
		stdout: stdout,
		stderr: stderr,
		ctx:    ctx,
		cancel: cancel,
		byID:   make(map[string]*Task),
	}
}

// AddCommand добавляет задачу, выполняющую команду оболочки.
// Примеры расписаний:
//   - "*/5 * * * *" - каждые 5 минут
//   - "0 30 * * * *" - в 30 секунд каждой минуты
//   - "@hourly" - каждый час
//   - "@every 5m" - каждые 5 минут
func (s *Scheduler) AddCommand(schedule, commandLine string, opts JobOptions) (*Task, error) {
	if commandLine == "" {
		return nil, shared.MarkKind(errors.New("command is empty"), shared.KindValidation)
	}
	return s.add(&Task{schedule: schedule, command: commandLine, options: opts})
}

// AddFunc добавляет задачу-функцию. Без описания ключ монитора выводится из
// имени функции и места её объявления.
func (s *Scheduler) AddFunc(schedule string, job JobFunc, opts JobOptions) (*Task, error) {
	if job == nil {
		return nil, shared.MarkKind(errors.New("job func is nil"), shared.KindValidation)
	}
	return s.add(&Task{schedule: schedule, job: job, callback: funcIdentity(job), options: opts})
}

func (s *Scheduler) add(t *Task) (*Task, error) {
	spec, err := s.parser.Parse(t.schedule)
	if err != nil {
		s.logger.Error("failed to add task", "schedule", t.schedule, "error", err)
		return nil, shared.MarkKind(fmt.Errorf("schedule %q: %w", t.schedule, err), shared.KindValidation)
	}
	if s.stopped.Load() {
		return nil, ErrStopped
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t.id = t.options.ID
	if t.id == "" {
		t.id = strconv.Itoa(len(s.tasks) + 1)
	}
	if _, dup := s.byID[t.id]; dup {
		return nil, shared.MarkKind(fmt.Errorf("task id %q is already used", t.id), shared.KindValidation)
	}

	entryID, err := s.cron.AddJob(t.schedule, cron.FuncJob(func() {
		if _, err := s.run(s.ctx, t); err != nil {
			s.logger.Debug("task run skipped", "task", t.id, "reason", err)
		}
	}))
	if err != nil {
		return nil, shared.MarkKind(err, shared.KindValidation)
	}
	t.entryID = entryID
	t.spec = spec
	t.sched = s

	s.tasks = append(s.tasks, t)
	s.byID[t.id] = t
	s.logger.Info("task added", "task", t.id, "schedule", t.schedule, "name", t.Descriptor().Name(), "overlap_policy", t.options.OverlapPolicy.String())
	return t, nil
}

// Tasks возвращает задачи в порядке добавления.
func (s *Scheduler) Tasks() []monitor.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]monitor.Task, len(s.tasks))
	for i, t := range s.tasks {
		out[i] = t
	}
	return out
}

// Task возвращает задачу по ID.
func (s *Scheduler) Task(id string) (*Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.byID[id]
	return t, ok
}

// RunNow выполняет задачу немедленно вместе с её хуками и возвращает код выхода.
func (s *Scheduler) RunNow(ctx context.Context, id string) (int, error) {
	t, ok := s.Task(id)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownTask, id)
	}
	if s.stopped.Load() {
		return 0, ErrStopped
	}
	return s.run(ctx, t)
}

// Start запускает планировщик.
func (s *Scheduler) Start() {
	s.startOnce.Do(func() {
		s.logger.Info("starting scheduler", "tasks", len(s.Tasks()))
		s.cron.Start()

		// Запускаем горутину для отслеживания контекста
		go func() {
			<-s.ctx.Done()
			s.stopOnce.Do(s.stop)
		}()
	})
}

// Stop останавливает планировщик. Выполняющиеся задачи получают отмену
// контекста; метод ждёт их завершения.
func (s *Scheduler) Stop() {
	if !s.IsRunning() {
		return // Уже остановлен
	}
	s.logger.Info("stopping scheduler")
	s.cancel()
	s.stopOnce.Do(s.stop)
}

// StopContext останавливает планировщик, давая выполняющимся задачам
// завершиться до дедлайна ctx. По истечении дедлайна задачи отменяются,
// метод дожидается их и возвращает ctx.Err().
func (s *Scheduler) StopContext(ctx context.Context) error {
	if !s.IsRunning() {
		return nil // Уже остановлен
	}

	s.logger.Info("stopping scheduler with deadline")
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.stopOnce.Do(s.stop)
	}()

	select {
	case <-done:
		s.cancel()
		s.logger.Info("scheduler stopped gracefully within deadline")
		return nil
	case <-ctx.Done():
		s.logger.Warn("scheduler stop deadline exceeded, canceling running tasks")
		s.cancel()
		<-done
		return ctx.Err()
	}
}

// stop выполняет фактическую остановку.
func (s *Scheduler) stop() {
	s.stopped.Store(true)
	cctx := s.cron.Stop()
	<-cctx.Done()
	s.logger.Info("scheduler stopped")
}

// IsRunning возвращает true, пока планировщик не остановлен.
func (s *Scheduler) IsRunning() bool {
	return !s.stopped.Load() && s.ctx.Err() == nil
}

// run выполняет задачу с учетом её опций. Второй результат ErrTaskRunning,
// если выполнение пропущено политикой перекрытий.
func (s *Scheduler) run(parent context.Context, t *Task) (int, error) {
	switch t.options.OverlapPolicy {
	case SkipIfRunning:
		if !t.busy.TryLock() {
			s.logger.Debug("skipping task execution, already running", "task", t.id)
			return 0, ErrTaskRunning
		}
		defer t.busy.Unlock()
	case DelayIfRunning:
		t.busy.Lock()
		defer t.busy.Unlock()
	}

	hooks := t.snapshotHooks()
	ctx := parent
	for _, h := range hooks {
		ctx = s.before(ctx, t, h)
	}

	start := time.Now()
	code := t.execute(ctx, s)
	duration := time.Since(start)
	t.setExitCode(code)

	if parent.Err() != nil {
		// процесс завершается: исход выполнения не сообщаем
		s.logger.Warn("task interrupted", "task", t.id, "exit_code", code, "duration", duration)
		return code, nil
	}

	if code == 0 {
		s.logger.Debug("task completed successfully", "task", t.id, "duration", duration)
	} else {
		s.logger.Warn("task failed", "task", t.id, "exit_code", code, "duration", duration)
	}

	for i := len(hooks) - 1; i >= 0; i-- {
		s.after(ctx, t, hooks[i], code)
	}
	return code, nil
}

func (s *Scheduler) before(ctx context.Context, t *Task, h monitor.Hooks) (out context.Context) {
	out = ctx
	if h.Before == nil {
		return out
	}
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("before hook panicked", "task", t.id, "panic", r)
			out = ctx
		}
	}()
	if next := h.Before(ctx); next != nil {
		out = next
	}
	return out
}

func (s *Scheduler) after(ctx context.Context, t *Task, h monitor.Hooks, code int) {
	if h.After == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("after hook panicked", "task", t.id, "panic", r)
		}
	}()
	h.After(ctx, code)
}

// funcIdentity возвращает имя функции и место её объявления.
func funcIdentity(fn JobFunc) string {
	pc := reflect.ValueOf(fn).Pointer()
	f := runtime.FuncForPC(pc)
	if f == nil {
		return fmt.Sprintf("func@%#x", pc)
	}
	file, line := f.FileLine(f.Entry())
	return fmt.Sprintf("%s (%s:%d)", f.Name(), filepath.Base(file), line)
}

// Task задача планировщика.
type Task struct {
	id       string
	schedule string
	command  string
	callback string
	job      JobFunc
	options  JobOptions
	spec     cron.Schedule
	entryID  cron.EntryID
	sched    *Scheduler

	busy sync.Mutex // для контроля перекрытий

	mu       sync.Mutex
	hooks    []monitor.Hooks
	exitCode *int
}

var _ monitor.Task = (*Task)(nil)

// ID возвращает идентификатор задачи.
func (t *Task) ID() string { return t.id }

// Descriptor возвращает снимок задачи.
func (t *Task) Descriptor() monitor.TaskDescriptor {
	t.mu.Lock()
	defer t.mu.Unlock()

	d := monitor.TaskDescriptor{
		ID:               t.id,
		CommandLine:      t.command,
		Description:      t.options.Description,
		CallbackIdentity: t.callback,
		Schedule:         t.schedule,
	}
	if t.exitCode != nil {
		code := *t.exitCode
		d.ExitCode = &code
	}
	return d
}

// Use добавляет хуки ко всем будущим выполнениям задачи.
func (t *Task) Use(h monitor.Hooks) {
	t.mu.Lock()
	t.hooks = append(t.hooks, h)
	t.mu.Unlock()
}

// Options возвращает опции задачи.
func (t *Task) Options() JobOptions { return t.options }

// Next возвращает время следующего запуска. До Start оно вычисляется по
// расписанию от текущего момента.
func (t *Task) Next() time.Time {
	if t.sched == nil {
		return time.Time{}
	}
	if next := t.sched.cron.Entry(t.entryID).Next; !next.IsZero() {
		return next
	}
	return t.spec.Next(time.Now())
}

func (t *Task) snapshotHooks() []monitor.Hooks {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]monitor.Hooks(nil), t.hooks...)
}

func (t *Task) setExitCode(code int) {
	t.mu.Lock()
	t.exitCode = &code
	t.mu.Unlock()
}

func (t *Task) execute(ctx context.Context, s *Scheduler) int {
	var cancel context.CancelFunc
	if t.options.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, t.options.Timeout)
		defer cancel()
	}
	if t.job != nil {
		return t.call(ctx, s)
	}
	return t.spawn(ctx, s)
}

type exitCoder interface {
	ExitCode() int
}

func (t *Task) call(ctx context.Context, s *Scheduler) (code int) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("task panicked", "task", t.id, "panic", r)
			code = 1
		}
	}()

	err := t.job(ctx)
	if err == nil {
		return 0
	}
	s.logger.Debug("task returned error", "task", t.id, "error", err)
	var ec exitCoder
	if errors.As(err, &ec) && ec.ExitCode() > 0 {
		return ec.ExitCode()
	}
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() != nil {
		return ExitTimeout
	}
	return 1
}

func (t *Task) spawn(ctx context.Context, s *Scheduler) int {
	args := append(append([]string(nil), s.shell[1:]...), t.command)
	cmd := exec.CommandContext(ctx, s.shell[0], args...)
	cmd.Stdout = s.stdout
	cmd.Stderr = s.stderr
	// дочерние процессы оболочки могут держать вывод открытым после её завершения
	cmd.WaitDelay = waitDelay

	err := cmd.Run()
	if err == nil {
		return 0
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ExitTimeout
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		if code := ee.ExitCode(); code > 0 {
			return code
		}
		return 1
	}
	s.logger.Error("failed to start command", "task", t.id, "error", err)
	return ExitNotStarted
}
