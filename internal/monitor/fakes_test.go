package monitor

import (
	"context"
	"fmt"
	"sync"
)

type fakeTask struct {
	desc TaskDescriptor

	mu    sync.Mutex
	hooks []Hooks
}

func newFakeTask(id, command string) *fakeTask {
	return &fakeTask{desc: TaskDescriptor{ID: id, CommandLine: command, Schedule: "* * * * *"}}
}

func (t *fakeTask) Descriptor() TaskDescriptor { return t.desc }

func (t *fakeTask) Use(h Hooks) {
	t.mu.Lock()
	t.hooks = append(t.hooks, h)
	t.mu.Unlock()
}

func (t *fakeTask) hookCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.hooks)
}

// run исполняет задачу так же, как это делает планировщик.
func (t *fakeTask) run(ctx context.Context, exitCode int) {
	t.mu.Lock()
	hooks := append([]Hooks(nil), t.hooks...)
	t.mu.Unlock()

	for _, h := range hooks {
		if h.Before != nil {
			ctx = h.Before(ctx)
		}
	}
	for i := len(hooks) - 1; i >= 0; i-- {
		if hooks[i].After != nil {
			hooks[i].After(ctx, exitCode)
		}
	}
}

type recordingClient struct {
	mu    sync.Mutex
	calls []string
	specs []MonitorSpec

	// failSync возвращает ошибку для SyncMonitor с этими ключами.
	failSync map[string]error
	// err возвращается всеми методами, кроме SyncMonitor.
	err     error
	panicOn string
	blockCh chan struct{}
}

func (c *recordingClient) record(op, key string) {
	c.mu.Lock()
	c.calls = append(c.calls, op+":"+key)
	c.mu.Unlock()
	if c.panicOn == op {
		panic(fmt.Sprintf("%s exploded", op))
	}
	if c.blockCh != nil {
		<-c.blockCh
	}
}

func (c *recordingClient) Ping(_ context.Context, key string) error {
	c.record(OpPing, key)
	return c.err
}

func (c *recordingClient) SyncMonitor(_ context.Context, spec MonitorSpec) error {
	c.mu.Lock()
	c.specs = append(c.specs, spec)
	c.mu.Unlock()
	c.record(OpSync, spec.Key)
	return c.failSync[spec.Key]
}

func (c *recordingClient) StartJob(_ context.Context, key string) error {
	c.record(OpStart, key)
	return c.err
}

func (c *recordingClient) CompleteJob(_ context.Context, key string) error {
	c.record(OpComplete, key)
	return c.err
}

func (c *recordingClient) FailJob(_ context.Context, key, reason string) error {
	c.record(OpFail, key+"("+reason+")")
	return c.err
}

func (c *recordingClient) Calls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.calls...)
}

func (c *recordingClient) Specs() []MonitorSpec {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]MonitorSpec(nil), c.specs...)
}

func (c *recordingClient) count(prefix string) int {
	n := 0
	for _, call := range c.Calls() {
		if len(call) >= len(prefix) && call[:len(prefix)] == prefix {
			n++
		}
	}
	return n
}
