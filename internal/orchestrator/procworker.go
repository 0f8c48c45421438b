package orchestrator

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/ternarybob/arbor"
	"golang.org/x/sync/errgroup"

	"github.com/mitto-dev/mitto/internal/models"
)

const (
	terminateJoinTimeout = 5 * time.Second
	killJoinTimeout      = 2 * time.Second
	readyPollInterval    = 100 * time.Millisecond
	unresponsiveWindow   = 5 * time.Minute
)

// workerStatus is the supervisor's view of one worker process.
type workerStatus struct {
	Ready      bool
	LastResult time.Time
	Restarts   int
}

// workerProc is one spawned worker process and its stdio plumbing. Tasks go
// down stdin as newline JSON; results come back up stdout the same way.
type workerProc struct {
	id     int
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	enc    *json.Encoder
	encMu  sync.Mutex
	exited chan struct{}
}

// send writes one task envelope to the worker's stdin.
func (w *workerProc) send(t *models.TaskEnvelope) error {
	w.encMu.Lock()
	defer w.encMu.Unlock()
	return w.enc.Encode(t)
}

func (w *workerProc) alive() bool {
	select {
	case <-w.exited:
		return false
	default:
		return true
	}
}

// ProcessPool spawns and supervises N worker OS processes. Crash isolation
// is the point: a browser wedging or a worker panicking takes down only its
// own process, and the pool restarts it.
type ProcessPool struct {
	workers      int
	configPath   string
	startupWait  time.Duration
	resultQueue  *ResultQueue
	locks        *orderedLocks
	logger       arbor.ILogger
	spawnCommand func(id int) *exec.Cmd

	procs      map[int]*workerProc
	status     map[int]*workerStatus
	nextWorker int

	readyCh chan int
}

// NewProcessPool creates the supervisor. configPath is forwarded to worker
// processes so they load the same configuration.
func NewProcessPool(workers int, configPath string, startupWait time.Duration, resultQueue *ResultQueue, locks *orderedLocks, logger arbor.ILogger) *ProcessPool {
	if startupWait <= 0 {
		startupWait = 60 * time.Second
	}
	p := &ProcessPool{
		workers:     workers,
		configPath:  configPath,
		startupWait: startupWait,
		resultQueue: resultQueue,
		locks:       locks,
		logger:      logger,
		procs:       make(map[int]*workerProc),
		status:      make(map[int]*workerStatus),
		readyCh:     make(chan int, workers*2),
	}
	p.spawnCommand = p.defaultCommand
	return p
}

// defaultCommand re-executes this binary in worker mode.
func (p *ProcessPool) defaultCommand(id int) *exec.Cmd {
	exe, err := os.Executable()
	if err != nil {
		exe = os.Args[0]
	}
	args := []string{"worker", "--worker-id", fmt.Sprintf("%d", id)}
	if p.configPath != "" {
		args = append(args, "--config", p.configPath)
	}
	cmd := exec.Command(exe, args...)
	cmd.Env = append(os.Environ(), fmt.Sprintf("FORM_SENDER_WORKER_ID=%d", id))
	cmd.Stderr = os.Stderr
	return cmd
}

// Start spawns all workers and blocks until every one has published
// WORKER_READY, or fails hard when the deadline passes.
func (p *ProcessPool) Start(ctx context.Context) error {
	for id := 0; id < p.workers; id++ {
		if err := p.spawn(ctx, id); err != nil {
			p.Shutdown(10 * time.Second)
			return fmt.Errorf("spawn worker %d: %w", id, err)
		}
	}

	deadline := time.After(p.startupWait)
	ready := map[int]bool{}
	for len(ready) < p.workers {
		select {
		case id := <-p.readyCh:
			ready[id] = true
			p.logger.Info().Int("worker_id", id).Int("ready", len(ready)).Int("total", p.workers).Msg("Worker ready")
		case <-deadline:
			p.Shutdown(10 * time.Second)
			return fmt.Errorf("only %d/%d workers ready within %s", len(ready), p.workers, p.startupWait)
		case <-ctx.Done():
			p.Shutdown(10 * time.Second)
			return ctx.Err()
		}
	}
	return nil
}

// spawn starts one worker process and wires its stdio.
func (p *ProcessPool) spawn(ctx context.Context, id int) error {
	cmd := p.spawnCommand(id)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start process: %w", err)
	}

	proc := &workerProc{
		id:     id,
		cmd:    cmd,
		stdin:  stdin,
		enc:    json.NewEncoder(stdin),
		exited: make(chan struct{}),
	}

	release := p.locks.acquireOrdered(lockSet{process: true, status: true})
	p.procs[id] = proc
	p.status[id] = &workerStatus{LastResult: time.Now()}
	release()

	// Reap the process so it never zombies.
	go func() {
		cmd.Wait()
		close(proc.exited)
	}()

	go p.readResults(ctx, proc, stdout)

	p.logger.Info().Int("worker_id", id).Int("pid", cmd.Process.Pid).Msg("Worker process spawned")
	return nil
}

// readResults decodes result envelopes from the worker's stdout and fans
// them into the shared result queue.
func (p *ProcessPool) readResults(ctx context.Context, proc *workerProc, stdout io.Reader) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var r models.ResultEnvelope
		if err := json.Unmarshal(line, &r); err != nil {
			p.logger.Warn().Err(err).Int("worker_id", proc.id).Msg("Unparseable worker output line")
			continue
		}
		r.WorkerID = proc.id

		p.locks.status.Lock()
		if st, ok := p.status[proc.id]; ok {
			st.LastResult = time.Now()
			if r.Status == models.StatusWorkerReady {
				st.Ready = true
			}
		}
		p.locks.status.Unlock()

		if r.Status == models.StatusWorkerReady {
			select {
			case p.readyCh <- proc.id:
			default:
			}
			continue
		}
		if r.Status == models.StatusWorkerShutdown {
			p.logger.Debug().Int("worker_id", proc.id).Msg("Worker announced shutdown")
			continue
		}
		if err := p.resultQueue.Enqueue(ctx, &r); err != nil {
			p.logger.Error().Err(err).Int("worker_id", proc.id).Int64("record_id", r.RecordID).
				Msg("Result queue overflow, result dropped to caller")
		}
	}
}

// Dispatch sends a task to the next live worker, round-robin.
func (p *ProcessPool) Dispatch(t *models.TaskEnvelope) error {
	p.locks.process.Lock()
	defer p.locks.process.Unlock()
	var lastErr error
	for i := 0; i < p.workers; i++ {
		id := (p.nextWorker + i) % p.workers
		proc, ok := p.procs[id]
		if !ok || !proc.alive() {
			continue
		}
		if err := proc.send(t); err != nil {
			lastErr = err
			continue
		}
		p.nextWorker = (id + 1) % p.workers
		return nil
	}
	if lastErr != nil {
		return fmt.Errorf("no worker accepted task: %w", lastErr)
	}
	return fmt.Errorf("no live workers")
}

// DispatchTo sends a task to one specific worker.
func (p *ProcessPool) DispatchTo(id int, t *models.TaskEnvelope) error {
	p.locks.process.Lock()
	proc, ok := p.procs[id]
	p.locks.process.Unlock()
	if !ok || !proc.alive() {
		return fmt.Errorf("worker %d not running", id)
	}
	return proc.send(t)
}

// DeadWorkers returns the ids of workers whose process has exited or that
// have gone silent with work outstanding.
func (p *ProcessPool) DeadWorkers(tasksOutstanding bool) []int {
	release := p.locks.acquireOrdered(lockSet{process: true, status: true})
	defer release()

	var dead []int
	for id, proc := range p.procs {
		if !proc.alive() {
			dead = append(dead, id)
			continue
		}
		st := p.status[id]
		if tasksOutstanding && st != nil && st.Ready && time.Since(st.LastResult) > unresponsiveWindow {
			dead = append(dead, id)
		}
	}
	return dead
}

// RestartWorkers restarts the given workers in parallel: terminate, join 5 s,
// kill, join 2 s, respawn, wait for ready.
func (p *ProcessPool) RestartWorkers(ctx context.Context, ids []int) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, id := range ids {
		id := id
		g.Go(func() error { return p.restartOne(gctx, id) })
	}
	return g.Wait()
}

func (p *ProcessPool) restartOne(ctx context.Context, id int) error {
	p.locks.process.Lock()
	proc := p.procs[id]
	p.locks.process.Unlock()

	if proc != nil {
		p.stopProc(proc)
	}

	p.locks.status.Lock()
	if st := p.status[id]; st != nil {
		st.Ready = false
		st.Restarts++
	}
	p.locks.status.Unlock()

	if err := p.spawn(ctx, id); err != nil {
		return fmt.Errorf("respawn worker %d: %w", id, err)
	}

	deadline := time.After(p.startupWait)
	for {
		select {
		case readyID := <-p.readyCh:
			if readyID == id {
				p.logger.Info().Int("worker_id", id).Msg("Worker restarted")
				return nil
			}
		case <-deadline:
			return fmt.Errorf("worker %d not ready after restart", id)
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(readyPollInterval):
			p.locks.status.Lock()
			ready := p.status[id] != nil && p.status[id].Ready
			p.locks.status.Unlock()
			if ready {
				return nil
			}
		}
	}
}

// stopProc escalates: SIGTERM, join 5 s, SIGKILL, join 2 s.
func (p *ProcessPool) stopProc(proc *workerProc) {
	proc.stdin.Close()
	if proc.cmd.Process != nil {
		proc.cmd.Process.Signal(syscall.SIGTERM)
	}
	select {
	case <-proc.exited:
		return
	case <-time.After(terminateJoinTimeout):
	}
	if proc.cmd.Process != nil {
		proc.cmd.Process.Kill()
	}
	select {
	case <-proc.exited:
	case <-time.After(killJoinTimeout):
		p.logger.Warn().Int("worker_id", proc.id).Msg("Worker process did not exit after kill")
	}
}

// Shutdown sends every worker a shutdown task, waits up to timeout for
// voluntary exits, then escalates to terminate/kill.
func (p *ProcessPool) Shutdown(timeout time.Duration) {
	p.locks.process.Lock()
	procs := make([]*workerProc, 0, len(p.procs))
	for _, proc := range p.procs {
		procs = append(procs, proc)
	}
	p.locks.process.Unlock()

	shutdown := &models.TaskEnvelope{TaskType: models.TaskTypeShutdown}
	for _, proc := range procs {
		if proc.alive() {
			proc.send(shutdown)
		}
	}

	deadline := time.After(timeout)
	for _, proc := range procs {
		select {
		case <-proc.exited:
			continue
		case <-deadline:
		}
		p.stopProc(proc)
	}

	release := p.locks.acquireOrdered(lockSet{process: true, status: true})
	p.procs = make(map[int]*workerProc)
	release()
	p.logger.Info().Int("workers", len(procs)).Msg("Worker pool shut down")
}

// LiveWorkers returns how many worker processes are currently running.
func (p *ProcessPool) LiveWorkers() int {
	p.locks.process.Lock()
	defer p.locks.process.Unlock()
	n := 0
	for _, proc := range p.procs {
		if proc.alive() {
			n++
		}
	}
	return n
}
