package service

import (
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"picocontrol/models"
)

var (
	// ErrQueueFull is returned when the task queue cannot take more work.
	ErrQueueFull = errors.New("task queue full")
	// ErrTaskNotRunning is returned when no live task carries the label.
	ErrTaskNotRunning = errors.New("task not running")
)

const maxFinishedRuns = 100

// process is one submitted task and the shell that runs it.
type process struct {
	mu        sync.Mutex
	run       models.TaskRun
	cmd       *exec.Cmd
	cancelled bool
	done      chan struct{}
}

func (p *process) snapshot() models.TaskRun {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.run
}

func (p *process) exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// TaskRunner runs shell tasks. Tasks are started one at a time from a queue
// and tracked by label, so a label always resolves to its newest run.
type TaskRunner struct {
	queue  chan *process
	logger *slog.Logger
	shell  string

	mu       sync.RWMutex
	byLabel  map[string]*process
	byID     map[string]*process
	finished []string
}

// NewTaskRunner starts the queue processor.
func NewTaskRunner(logger *slog.Logger) *TaskRunner {
	if logger == nil {
		logger = slog.Default()
	}
	r := &TaskRunner{
		queue:   make(chan *process, 100),
		logger:  logger.With("component", "tasks"),
		shell:   "sh",
		byLabel: make(map[string]*process),
		byID:    make(map[string]*process),
	}

	// Start task queue processor
	go r.ProcessQueue()

	return r
}

// Submit queues a task for execution.
func (r *TaskRunner) Submit(spec models.TaskSpec) (*models.TaskRun, error) {
	p := &process{
		run: models.TaskRun{
			ID:      uuid.NewString(),
			Label:   spec.Label,
			Command: spec.Command,
			Cwd:     spec.Cwd,
			Status:  models.TaskPending,
		},
		done: make(chan struct{}),
	}

	r.mu.Lock()
	r.byLabel[spec.Label] = p
	r.byID[p.run.ID] = p
	r.mu.Unlock()

	select {
	case r.queue <- p:
		run := p.snapshot()
		return &run, nil
	default:
		r.mu.Lock()
		delete(r.byID, p.run.ID)
		if r.byLabel[spec.Label] == p {
			delete(r.byLabel, spec.Label)
		}
		r.mu.Unlock()
		return nil, ErrQueueFull
	}
}

// ProcessQueue starts queued tasks in order.
func (r *TaskRunner) ProcessQueue() {
	for p := range r.queue {
		r.start(p)
	}
}

func (r *TaskRunner) start(p *process) {
	p.mu.Lock()
	if p.cancelled {
		p.run.Status = models.TaskTerminated
		p.run.FinishedAt = time.Now().Unix()
		p.mu.Unlock()
		r.finish(p)
		return
	}

	out := &tailBuffer{limit: 4096}
	cmd := exec.Command(r.shell, "-c", p.run.Command)
	cmd.Dir = p.run.Cwd
	cmd.Stdout = out
	cmd.Stderr = out
	setProcessGroup(cmd)

	if err := cmd.Start(); err != nil {
		p.run.Status = models.TaskFailed
		p.run.Result = err.Error()
		p.run.FinishedAt = time.Now().Unix()
		p.mu.Unlock()
		r.logger.Error("task failed to start", "label", p.run.Label, "error", err)
		r.finish(p)
		return
	}
	p.cmd = cmd
	p.run.Status = models.TaskRunning
	p.run.PID = cmd.Process.Pid
	p.run.StartedAt = time.Now().Unix()
	label := p.run.Label
	p.mu.Unlock()
	r.logger.Info("task started", "label", label, "pid", cmd.Process.Pid)

	go func() {
		err := cmd.Wait()
		p.mu.Lock()
		p.run.FinishedAt = time.Now().Unix()
		switch {
		case p.cancelled:
			p.run.Status = models.TaskTerminated
			p.run.Result = out.String()
		case err != nil:
			p.run.Status = models.TaskFailed
			p.run.Result = fmt.Sprintf("%v: %s", err, out.String())
		default:
			p.run.Status = models.TaskDone
			p.run.Result = out.String()
		}
		status := p.run.Status
		p.mu.Unlock()
		r.logger.Info("task finished", "label", label, "status", status)
		r.finish(p)
	}()
}

// finish closes the run and trims the history of finished runs.
func (r *TaskRunner) finish(p *process) {
	close(p.done)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finished = append(r.finished, p.run.ID)
	for len(r.finished) > maxFinishedRuns {
		delete(r.byID, r.finished[0])
		r.finished = r.finished[1:]
	}
}

// Lookup returns the live task carrying label. The process state is checked
// on every call and exited tasks are dropped from the registry.
func (r *TaskRunner) Lookup(label string) (*models.TaskRun, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.byLabel[label]
	if !ok {
		return nil, false
	}
	if p.exited() {
		delete(r.byLabel, label)
		return nil, false
	}
	run := p.snapshot()
	return &run, true
}

// Get returns a run by id, including recently finished ones.
func (r *TaskRunner) Get(id string) (*models.TaskRun, bool) {
	r.mu.RLock()
	p, ok := r.byID[id]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}
	run := p.snapshot()
	return &run, true
}

// Running lists the live tasks sorted by label.
func (r *TaskRunner) Running() []models.TaskRun {
	r.mu.Lock()
	defer r.mu.Unlock()
	runs := []models.TaskRun{}
	for label, p := range r.byLabel {
		if p.exited() {
			delete(r.byLabel, label)
			continue
		}
		runs = append(runs, p.snapshot())
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].Label < runs[j].Label })
	return runs
}

// Terminate stops the live task carrying label.
func (r *TaskRunner) Terminate(label string) error {
	r.mu.RLock()
	p, ok := r.byLabel[label]
	r.mu.RUnlock()
	if !ok || p.exited() {
		return fmt.Errorf("%w: %s", ErrTaskNotRunning, label)
	}

	p.mu.Lock()
	p.cancelled = true
	cmd := p.cmd
	p.mu.Unlock()
	if cmd != nil {
		if err := terminateProcess(cmd); err != nil {
			return fmt.Errorf("terminate %s: %w", label, err)
		}
	}
	r.logger.Info("task terminated", "label", label)
	return nil
}

// Wait blocks until the run with id finishes or timeout elapses.
func (r *TaskRunner) Wait(id string, timeout time.Duration) (*models.TaskRun, bool) {
	r.mu.RLock()
	p, ok := r.byID[id]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}
	select {
	case <-p.done:
	case <-time.After(timeout):
	}
	run := p.snapshot()
	return &run, run.Finished()
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	mu    sync.Mutex
	limit int
	buf   []byte
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.limit; over > 0 {
		b.buf = b.buf[over:]
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}
