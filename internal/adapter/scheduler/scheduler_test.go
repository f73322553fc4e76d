package scheduler

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cronradar/internal/monitor"
	"cronradar/internal/shared"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestScheduler(t *testing.T) *Scheduler {
	t.Helper()
	s := New(Config{Logger: quietLogger(), Stdout: io.Discard, Stderr: io.Discard})
	t.Cleanup(s.Stop)
	return s
}

func waitForAtLeast(t *testing.T, counter *int64, expected int64, timeout time.Duration) {
	t.Helper()

	require.Eventually(t, func() bool {
		return atomic.LoadInt64(counter) >= expected
	}, timeout, 10*time.Millisecond, "значение счётчика не достигло ожидаемого уровня")
}

type exitErr struct{ code int }

func (e exitErr) Error() string { return "exit" }
func (e exitErr) ExitCode() int { return e.code }

func TestScheduler_New(t *testing.T) {
	s := New(Config{})

	assert.NotNil(t, s)
	assert.NotNil(t, s.cron)
	assert.NotNil(t, s.logger)
	assert.Equal(t, []string{"/bin/sh", "-c"}, s.shell)
	assert.True(t, s.IsRunning())
}

func TestScheduler_AddValidation(t *testing.T) {
	s := newTestScheduler(t)

	_, err := s.AddCommand("invalid schedule", "true", JobOptions{})
	require.Error(t, err)
	assert.True(t, shared.IsValidation(err))

	_, err = s.AddCommand("* * * * *", "", JobOptions{})
	assert.True(t, shared.IsValidation(err))

	_, err = s.AddFunc("* * * * *", nil, JobOptions{})
	assert.True(t, shared.IsValidation(err))

	_, err = s.AddCommand("* * * * *", "true", JobOptions{ID: "dup"})
	require.NoError(t, err)
	_, err = s.AddCommand("* * * * *", "true", JobOptions{ID: "dup"})
	assert.True(t, shared.IsValidation(err), "повторный ID должен отклоняться")
}

func TestScheduler_ScheduleFormats(t *testing.T) {
	s := newTestScheduler(t)

	for _, spec := range []string{"* * * * *", "30 * * * * *", "@hourly", "@every 5m", "0 3 * * 1-5"} {
		_, err := s.AddCommand(spec, "true", JobOptions{})
		assert.NoError(t, err, spec)
	}
}

func TestScheduler_TasksOrderAndIDs(t *testing.T) {
	s := newTestScheduler(t)

	a, err := s.AddCommand("@hourly", "echo a", JobOptions{})
	require.NoError(t, err)
	b, err := s.AddCommand("@hourly", "echo b", JobOptions{ID: "named"})
	require.NoError(t, err)
	c, err := s.AddCommand("@hourly", "echo c", JobOptions{})
	require.NoError(t, err)

	assert.Equal(t, "1", a.ID())
	assert.Equal(t, "named", b.ID())
	assert.Equal(t, "3", c.ID())

	tasks := s.Tasks()
	require.Len(t, tasks, 3)
	assert.Equal(t, "echo a", tasks[0].Descriptor().CommandLine)
	assert.Equal(t, "echo c", tasks[2].Descriptor().CommandLine)

	got, ok := s.Task("named")
	require.True(t, ok)
	assert.Same(t, b, got)
}

func TestTask_Next(t *testing.T) {
	s := newTestScheduler(t)

	hourly, err := s.AddCommand("@hourly", "true", JobOptions{})
	require.NoError(t, err)

	before := time.Now()
	next := hourly.Next()
	require.False(t, next.IsZero(), "до Start время вычисляется по расписанию")
	assert.True(t, next.After(before))
	assert.Zero(t, next.Minute())
	assert.Zero(t, next.Second())

	s.Start()
	require.Eventually(t, func() bool { return !hourly.Next().IsZero() }, time.Second, 10*time.Millisecond)
	assert.True(t, hourly.Next().After(before))
}

func TestScheduler_CronExecution(t *testing.T) {
	s := newTestScheduler(t)

	var counter int64
	_, err := s.AddFunc("@every 1s", func(ctx context.Context) error {
		atomic.AddInt64(&counter, 1)
		return nil
	}, JobOptions{})
	require.NoError(t, err)

	s.Start()

	waitForAtLeast(t, &counter, 1, 3*time.Second)
}

func TestScheduler_CommandExitCodes(t *testing.T) {
	tests := []struct {
		name    string
		command string
		timeout time.Duration
		want    int
	}{
		{"success", "exit 0", 0, 0},
		{"failure", "exit 3", 0, 3},
		{"command not found", "definitely-not-a-command-xyz", 0, 127},
		{"timeout", "sleep 5", 50 * time.Millisecond, ExitTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestScheduler(t)
			task, err := s.AddCommand("@hourly", tt.command, JobOptions{Timeout: tt.timeout})
			require.NoError(t, err)

			code, err := s.RunNow(context.Background(), task.ID())
			require.NoError(t, err)
			assert.Equal(t, tt.want, code)
		})
	}
}

func TestScheduler_ShellNotStarted(t *testing.T) {
	s := New(Config{Logger: quietLogger(), Shell: []string{"/nonexistent/shell", "-c"}})
	defer s.Stop()

	task, err := s.AddCommand("@hourly", "true", JobOptions{})
	require.NoError(t, err)

	code, err := s.RunNow(context.Background(), task.ID())
	require.NoError(t, err)
	assert.Equal(t, ExitNotStarted, code)
}

func TestScheduler_CommandOutput(t *testing.T) {
	var out bytes.Buffer
	s := New(Config{Logger: quietLogger(), Stdout: &out, Stderr: io.Discard})
	defer s.Stop()

	task, err := s.AddCommand("@hourly", "echo hello", JobOptions{})
	require.NoError(t, err)

	_, err = s.RunNow(context.Background(), task.ID())
	require.NoError(t, err)
	assert.Equal(t, "hello\n", out.String())
}

func TestScheduler_FuncExitCodes(t *testing.T) {
	tests := []struct {
		name    string
		job     JobFunc
		timeout time.Duration
		want    int
	}{
		{"nil error", func(context.Context) error { return nil }, 0, 0},
		{"plain error", func(context.Context) error { return errors.New("boom") }, 0, 1},
		{"error with exit code", func(context.Context) error { return exitErr{code: 5} }, 0, 5},
		{"wrapped exit code", func(context.Context) error { return shared.Wrap(exitErr{code: 7}, "job") }, 0, 7},
		{"panic", func(context.Context) error { panic("oops") }, 0, 1},
		{"timeout", func(ctx context.Context) error { <-ctx.Done(); return ctx.Err() }, 20 * time.Millisecond, ExitTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestScheduler(t)
			task, err := s.AddFunc("@hourly", tt.job, JobOptions{Timeout: tt.timeout})
			require.NoError(t, err)

			code, err := s.RunNow(context.Background(), task.ID())
			require.NoError(t, err)
			assert.Equal(t, tt.want, code)
		})
	}
}

type ctxKey struct{}

func TestScheduler_HooksOrder(t *testing.T) {
	s := newTestScheduler(t)
	task, err := s.AddCommand("@hourly", "exit 2", JobOptions{})
	require.NoError(t, err)

	var mu sync.Mutex
	var events []string
	record := func(e string) {
		mu.Lock()
		events = append(events, e)
		mu.Unlock()
	}

	for _, name := range []string{"a", "b"} {
		task.Use(monitor.Hooks{
			Before: func(ctx context.Context) context.Context {
				record("before " + name)
				return context.WithValue(ctx, ctxKey{}, name)
			},
			After: func(ctx context.Context, exitCode int) {
				record("after " + name)
				assert.Equal(t, 2, exitCode)
				// последний Before задал значение контекста
				assert.Equal(t, "b", ctx.Value(ctxKey{}))
			},
		})
	}

	code, err := s.RunNow(context.Background(), task.ID())
	require.NoError(t, err)
	assert.Equal(t, 2, code)
	assert.Equal(t, []string{"before a", "before b", "after b", "after a"}, events)
}

func TestScheduler_HookPanicContained(t *testing.T) {
	s := newTestScheduler(t)

	var ran, afterCalled atomic.Bool
	task, err := s.AddFunc("@hourly", func(context.Context) error {
		ran.Store(true)
		return nil
	}, JobOptions{})
	require.NoError(t, err)

	task.Use(monitor.Hooks{
		Before: func(context.Context) context.Context { panic("before") },
		After:  func(context.Context, int) { panic("after") },
	})
	task.Use(monitor.Hooks{After: func(context.Context, int) { afterCalled.Store(true) }})

	var code int
	require.NotPanics(t, func() {
		code, err = s.RunNow(context.Background(), task.ID())
	})
	require.NoError(t, err)
	assert.Zero(t, code)
	assert.True(t, ran.Load(), "паника в хуке не должна мешать задаче")
	assert.True(t, afterCalled.Load())
}

func TestScheduler_InterruptedSkipsAfterHooks(t *testing.T) {
	s := newTestScheduler(t)

	started := make(chan struct{})
	task, err := s.AddFunc("@hourly", func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}, JobOptions{})
	require.NoError(t, err)

	var after atomic.Bool
	task.Use(monitor.Hooks{After: func(context.Context, int) { after.Store(true) }})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	_, err = s.RunNow(ctx, task.ID())
	require.NoError(t, err)
	assert.False(t, after.Load(), "после отмены исход не сообщается")
}

func TestScheduler_DescriptorSnapshot(t *testing.T) {
	s := newTestScheduler(t)

	task, err := s.AddFunc("0 */5 * * * *", func(context.Context) error { return errors.New("x") }, JobOptions{Description: "Refresh cache"})
	require.NoError(t, err)

	d := task.Descriptor()
	assert.Equal(t, "Refresh cache", d.Description)
	assert.Equal(t, "0 */5 * * * *", d.Schedule)
	assert.Empty(t, d.CommandLine)
	assert.Contains(t, d.CallbackIdentity, "scheduler_test.go:")
	assert.Contains(t, d.CallbackIdentity, "TestScheduler_DescriptorSnapshot")
	assert.Nil(t, d.ExitCode, "код выхода отсутствует до первого запуска")

	_, err = s.RunNow(context.Background(), task.ID())
	require.NoError(t, err)

	d = task.Descriptor()
	require.NotNil(t, d.ExitCode)
	assert.Equal(t, 1, *d.ExitCode)
}

func TestScheduler_SkipIfRunning(t *testing.T) {
	s := newTestScheduler(t)

	release := make(chan struct{})
	started := make(chan struct{})
	var once sync.Once
	task, err := s.AddFunc("@hourly", func(context.Context) error {
		once.Do(func() { close(started) })
		<-release
		return nil
	}, JobOptions{OverlapPolicy: SkipIfRunning})
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = s.RunNow(context.Background(), task.ID())
	}()
	<-started

	_, err = s.RunNow(context.Background(), task.ID())
	assert.ErrorIs(t, err, ErrTaskRunning)

	close(release)
	<-done
}

func TestScheduler_DelayIfRunning(t *testing.T) {
	s := newTestScheduler(t)

	var active, maxActive int64
	task, err := s.AddFunc("@hourly", func(context.Context) error {
		n := atomic.AddInt64(&active, 1)
		for {
			m := atomic.LoadInt64(&maxActive)
			if n <= m || atomic.CompareAndSwapInt64(&maxActive, m, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt64(&active, -1)
		return nil
	}, JobOptions{OverlapPolicy: DelayIfRunning})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for range 3 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.RunNow(context.Background(), task.ID())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), atomic.LoadInt64(&maxActive), "выполнения не должны перекрываться")
}

func TestScheduler_RunNowErrors(t *testing.T) {
	s := New(Config{Logger: quietLogger()})

	_, err := s.RunNow(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrUnknownTask)

	task, err := s.AddCommand("@hourly", "true", JobOptions{})
	require.NoError(t, err)

	s.Stop()
	_, err = s.RunNow(context.Background(), task.ID())
	assert.ErrorIs(t, err, ErrStopped)

	_, err = s.AddCommand("@hourly", "true", JobOptions{})
	assert.ErrorIs(t, err, ErrStopped)
}

func TestScheduler_StopIdempotent(t *testing.T) {
	s := New(Config{Logger: quietLogger()})
	s.Start()

	s.Stop()
	s.Stop()
	assert.False(t, s.IsRunning())
	assert.NoError(t, s.StopContext(context.Background()))
}

func TestScheduler_StopContextWaitsForTask(t *testing.T) {
	s := New(Config{Logger: quietLogger()})

	var finished int64
	_, err := s.AddFunc("@every 1s", func(ctx context.Context) error {
		select {
		case <-time.After(100 * time.Millisecond):
			atomic.StoreInt64(&finished, 1)
		case <-ctx.Done():
		}
		return nil
	}, JobOptions{})
	require.NoError(t, err)
	s.Start()

	// ждём начала первого запуска
	time.Sleep(1100 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.StopContext(ctx))
	assert.Equal(t, int64(1), atomic.LoadInt64(&finished), "задача должна завершиться до остановки")
	assert.False(t, s.IsRunning())
}

func TestOverlapPolicy_Parse(t *testing.T) {
	for in, want := range map[string]OverlapPolicy{"": AllowOverlap, "allow": AllowOverlap, "skip": SkipIfRunning, "delay": DelayIfRunning} {
		got, err := ParseOverlapPolicy(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
		if in != "" {
			assert.Equal(t, in, got.String())
		}
	}

	_, err := ParseOverlapPolicy("sometimes")
	assert.True(t, shared.IsValidation(err))
}
