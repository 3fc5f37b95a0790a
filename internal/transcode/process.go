package transcode

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"

	"novelverse/internal/logging"
	"novelverse/internal/metrics"
	"novelverse/internal/services"
)

var commandContext = exec.CommandContext

// State tracks a Process through its lifetime.
type State int

const (
	StateIdle State = iota
	StateRunning
	StateDone
	StateError
	StateKilled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateDone:
		return "done"
	case StateError:
		return "error"
	case StateKilled:
		return "killed"
	default:
		return "unknown"
	}
}

// Transcoder starts ffmpeg processes bounded by a Pool.
type Transcoder struct {
	binary  string
	builder CommandBuilder
	pool    *Pool
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// New returns a Transcoder running binary (default "ffmpeg").
func New(binary string, pool *Pool, logger *slog.Logger, m *metrics.Metrics) *Transcoder {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		binary = "ffmpeg"
	}
	return &Transcoder{
		binary:  binary,
		pool:    pool,
		logger:  logging.NewComponentLogger(logger, "transcoder"),
		metrics: m,
	}
}

// Pool returns the concurrency pool backing t.
func (t *Transcoder) Pool() *Pool { return t.pool }

// Transcode starts ffmpeg reading input and returns a Process whose Read
// yields the encoded output. The caller must Close the process on every
// path; Close kills ffmpeg if it is still running and frees the pool slot.
func (t *Transcoder) Transcode(ctx context.Context, input io.Reader, profile Profile) (*Process, error) {
	release := func() {}
	if t.pool != nil {
		r, err := t.pool.Acquire(ctx)
		if err != nil {
			return nil, err
		}
		release = r
	}

	procCtx, cancel := context.WithCancel(ctx)
	cmd := commandContext(procCtx, t.binary, t.builder.Args(profile)...)
	cmd.SysProcAttr = &unix.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return unix.Kill(-cmd.Process.Pid, unix.SIGKILL)
	}

	p := &Process{
		ctx:     procCtx,
		cmd:     cmd,
		cancel:  cancel,
		release: release,
		stderr:  &tailBuffer{limit: 4096},
		logger:  t.logger,
		metrics: t.metrics,
		done:    make(chan struct{}),
	}
	cmd.Stderr = p.stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		p.abort()
		return nil, services.Wrap(services.ErrTranscode, "transcode", "stdin pipe", "", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		p.abort()
		return nil, services.Wrap(services.ErrTranscode, "transcode", "stdout pipe", "", err)
	}
	p.stdout = stdout

	if err := cmd.Start(); err != nil {
		p.abort()
		return nil, services.Wrap(services.ErrTranscode, "transcode", "start ffmpeg", t.binary, err)
	}
	p.setState(StateRunning)
	t.logger.Debug("ffmpeg started",
		logging.Int("pid", cmd.Process.Pid),
		logging.String("codec", profile.Codec),
		logging.Int("bitrate_kbps", profile.BitrateKbps),
	)

	go p.feed(stdin, input)
	return p, nil
}

// Start is Transcode returning the process as an io.ReadCloser.
func (t *Transcoder) Start(ctx context.Context, input io.Reader, profile Profile) (io.ReadCloser, error) {
	proc, err := t.Transcode(ctx, input, profile)
	if err != nil {
		return nil, err
	}
	return proc, nil
}

// Process is one running ffmpeg invocation.
type Process struct {
	ctx     context.Context
	cmd     *exec.Cmd
	cancel  context.CancelFunc
	release func()
	stdout  io.ReadCloser
	stderr  *tailBuffer
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu       sync.RWMutex
	state    State
	killed   bool
	inputErr error
	err      error

	waitOnce sync.Once
	done     chan struct{}
}

// Read returns encoded output. When ffmpeg closes its output, Read waits for
// the exit status and returns the failure in place of io.EOF.
func (p *Process) Read(buf []byte) (int, error) {
	n, err := p.stdout.Read(buf)
	if errors.Is(err, io.EOF) {
		if waitErr := p.Wait(); waitErr != nil {
			return n, waitErr
		}
	} else if err != nil && p.Killed() {
		return n, context.Canceled
	}
	return n, err
}

// Kill sends SIGKILL to the ffmpeg process group. Partial output is discarded.
func (p *Process) Kill() {
	p.mu.Lock()
	if p.state == StateRunning {
		p.killed = true
	}
	p.mu.Unlock()
	p.cancel()
}

// Killed reports whether Kill stopped a running process.
func (p *Process) Killed() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.killed
}

// Wait blocks until ffmpeg exits and returns its failure, if any. A process
// stopped by Kill is not a failure.
func (p *Process) Wait() error {
	p.waitOnce.Do(func() {
		defer close(p.done)
		defer p.release()
		defer p.cancel()

		waitErr := p.cmd.Wait()

		p.mu.Lock()
		defer p.mu.Unlock()
		switch {
		case p.killed:
			p.state = StateKilled
		case p.inputErr != nil:
			p.state = StateError
			p.err = fmt.Errorf("read transcode input: %w", p.inputErr)
		case p.ctx.Err() != nil:
			p.state = StateKilled
			p.err = p.ctx.Err()
		case waitErr != nil:
			p.state = StateError
			p.err = services.Wrap(services.ErrTranscode, "transcode", "ffmpeg", p.stderr.String(), waitErr)
			p.metrics.RecordTranscodeFailure()
		default:
			p.state = StateDone
		}
		if p.err != nil {
			p.logger.Debug("ffmpeg exited with error", logging.Error(p.err))
		}
	})
	<-p.done
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.err
}

// Close kills ffmpeg if it is still running and waits for it to exit.
func (p *Process) Close() error {
	select {
	case <-p.done:
	default:
		p.Kill()
	}
	return p.Wait()
}

// State returns the current lifecycle state.
func (p *Process) State() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// PID returns the operating system process id, or 0 before start.
func (p *Process) PID() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

func (p *Process) feed(stdin io.WriteCloser, input io.Reader) {
	_, err := io.Copy(stdin, input)
	_ = stdin.Close()
	if err == nil {
		return
	}
	if errors.Is(err, syscall.EPIPE) || errors.Is(err, io.ErrClosedPipe) || errors.Is(err, os.ErrClosed) {
		// ffmpeg stopped reading: it either failed or was killed, Wait reports which.
		return
	}
	p.mu.Lock()
	if !p.killed {
		p.inputErr = err
	}
	p.mu.Unlock()
	p.cancel()
}

func (p *Process) abort() {
	p.cancel()
	p.release()
	p.setState(StateError)
	close(p.done)
	p.waitOnce.Do(func() {})
}

func (p *Process) setState(state State) {
	p.mu.Lock()
	p.state = state
	p.mu.Unlock()
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	mu    sync.Mutex
	limit int
	buf   []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.limit; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.TrimSpace(string(t.buf))
}
