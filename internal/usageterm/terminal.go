// Package usageterm drives one long-lived interactive claude process over
// a pty and scrapes rate-limit figures from its /usage output. Slash
// commands are typed with fixed keystroke delays; this is timing-fragile
// by nature and fenced off behind generous timeouts.
package usageterm

import (
	"context"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/creack/pty"
	"github.com/stomrex77/claude-web/schema"
	"pkt.systems/pslog"
)

// State is the lifecycle phase of the scrape terminal.
type State string

const (
	// StateStarting means the process was spawned and the ready hint is awaited.
	StateStarting State = "starting"
	// StateIdle means the prompt is ready and no command is running.
	StateIdle State = "idle"
	// StateBusy means a queued command is executing.
	StateBusy State = "busy"
	// StateExited means the process is gone and no respawn is scheduled.
	StateExited State = "exited"
	// StateRestarting means the process died and a respawn is pending.
	StateRestarting State = "restarting"
)

// Config controls the scrape terminal.
type Config struct {
	BinaryPath     string
	Args           []string
	WorkingDir     string
	ReadyHint      string
	StartupTimeout time.Duration
	CommandTimeout time.Duration
	UsageTimeout   time.Duration
	RespawnDelay   time.Duration
	TabDelay       time.Duration
	EnterDelay     time.Duration
	SettleDelay    time.Duration
}

const (
	defaultReadyHint      = "? for shortcuts"
	defaultStartupTimeout = 30 * time.Second
	defaultCommandTimeout = 15 * time.Second
	defaultUsageTimeout   = 10 * time.Second
	defaultRespawnDelay   = 5 * time.Second
	defaultTabDelay       = 300 * time.Millisecond
	defaultEnterDelay     = 200 * time.Millisecond
	defaultSettleDelay    = time.Second

	// maxBuffer bounds accumulated pty output; the tail is kept.
	maxBuffer = 512 * 1024
)

func normalizeConfig(cfg Config) Config {
	if cfg.BinaryPath == "" {
		cfg.BinaryPath = "claude"
	}
	if cfg.ReadyHint == "" {
		cfg.ReadyHint = defaultReadyHint
	}
	if cfg.StartupTimeout <= 0 {
		cfg.StartupTimeout = defaultStartupTimeout
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = defaultCommandTimeout
	}
	if cfg.UsageTimeout <= 0 {
		cfg.UsageTimeout = defaultUsageTimeout
	}
	if cfg.RespawnDelay <= 0 {
		cfg.RespawnDelay = defaultRespawnDelay
	}
	if cfg.TabDelay <= 0 {
		cfg.TabDelay = defaultTabDelay
	}
	if cfg.EnterDelay <= 0 {
		cfg.EnterDelay = defaultEnterDelay
	}
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = defaultSettleDelay
	}
	return cfg
}

// proc abstracts the spawned pty process so tests can script one.
type proc interface {
	io.ReadWriteCloser
	Wait() error
}

type ptyProc struct {
	ptmx *os.File
	cmd  *exec.Cmd
}

func startClaude(cfg Config) (proc, error) {
	cmd := exec.Command(cfg.BinaryPath, cfg.Args...)
	if cfg.WorkingDir != "" {
		cmd.Dir = cfg.WorkingDir
	}
	cmd.Env = append(os.Environ(), "TERM=xterm-256color")
	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: 40, Cols: 120})
	if err != nil {
		return nil, err
	}
	return &ptyProc{ptmx: ptmx, cmd: cmd}, nil
}

func (p *ptyProc) Read(b []byte) (int, error)  { return p.ptmx.Read(b) }
func (p *ptyProc) Write(b []byte) (int, error) { return p.ptmx.Write(b) }

func (p *ptyProc) Close() error {
	_ = p.ptmx.Close()
	if p.cmd.Process != nil {
		_ = p.cmd.Process.Kill()
	}
	return nil
}

func (p *ptyProc) Wait() error { return p.cmd.Wait() }

type command struct {
	text    string
	timeout time.Duration
	done    func(string) bool
	result  chan commandResult
}

type commandResult struct {
	output string
	err    error
}

// Terminal serializes slash commands through one persistent pty.
type Terminal struct {
	cfg       Config
	log       pslog.Logger
	startProc func(Config) (proc, error)
	commands  chan *command

	mu      sync.Mutex
	state   State
	stopped bool

	cancel context.CancelFunc
	doneCh chan struct{}
}

// New constructs a Terminal. Start must be called before Run or Scrape.
func New(cfg Config, logger pslog.Logger) *Terminal {
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &Terminal{
		cfg:       normalizeConfig(cfg),
		log:       logger,
		startProc: startClaude,
		commands:  make(chan *command, 16),
		state:     StateExited,
		doneCh:    make(chan struct{}),
	}
}

// Start spawns the pty loop. The loop respawns the process after crashes
// until Stop is called or ctx is done.
func (t *Terminal) Start(ctx context.Context) {
	loopCtx, cancel := context.WithCancel(ctx)
	t.mu.Lock()
	t.cancel = cancel
	t.mu.Unlock()
	go t.loop(loopCtx)
}

// Stop kills the process and rejects queued commands.
func (t *Terminal) Stop() {
	t.mu.Lock()
	t.stopped = true
	cancel := t.cancel
	t.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-t.doneCh
}

// State reports the current lifecycle phase.
func (t *Terminal) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Scrape runs /usage and parses the modal output. Callers cache the
// result; every call types into the live terminal.
func (t *Terminal) Scrape(ctx context.Context) (schema.RateLimits, error) {
	output, err := t.Run(ctx, "/usage", t.cfg.UsageTimeout, usageComplete)
	if err != nil {
		return schema.RateLimits{}, err
	}
	limits := ParseUsageOutput(output)
	limits.FetchedAt = time.Now().UTC()
	return limits, nil
}

// Run queues a slash command and waits for output satisfying done. The
// queue is global FIFO; only one command types at a time.
func (t *Terminal) Run(ctx context.Context, text string, timeout time.Duration, done func(string) bool) (string, error) {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return "", schema.ErrTerminalExited
	}
	t.mu.Unlock()
	if timeout <= 0 {
		timeout = t.cfg.CommandTimeout
	}
	cmd := &command{
		text:    text,
		timeout: timeout,
		done:    done,
		result:  make(chan commandResult, 1),
	}
	select {
	case t.commands <- cmd:
	case <-t.doneCh:
		return "", schema.ErrTerminalExited
	case <-ctx.Done():
		return "", ctx.Err()
	}
	select {
	case res := <-cmd.result:
		return res.output, res.err
	case <-t.doneCh:
		// The loop may have resolved the command just before exiting.
		select {
		case res := <-cmd.result:
			return res.output, res.err
		default:
			return "", schema.ErrTerminalExited
		}
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (t *Terminal) setState(next State) {
	t.mu.Lock()
	prev := t.state
	t.state = next
	t.mu.Unlock()
	if prev != next {
		t.log.Debug("usage terminal state", "from", prev, "to", next)
	}
}

func (t *Terminal) loop(ctx context.Context) {
	defer close(t.doneCh)
	for {
		if ctx.Err() != nil {
			t.shutdown()
			return
		}
		t.setState(StateStarting)
		p, err := t.startProc(t.cfg)
		if err != nil {
			t.log.Warn("usage terminal spawn failed", "err", err)
			t.rejectPending()
			if !t.sleep(ctx, t.cfg.RespawnDelay, StateRestarting) {
				t.shutdown()
				return
			}
			continue
		}
		output := make(chan []byte, 64)
		go readProc(p, output)

		if !t.awaitReady(ctx, output) {
			_ = p.Close()
			drain(output)
			_ = p.Wait()
			t.rejectPending()
			if ctx.Err() != nil {
				t.shutdown()
				return
			}
			if !t.sleep(ctx, t.cfg.RespawnDelay, StateRestarting) {
				t.shutdown()
				return
			}
			continue
		}

		alive := t.serve(ctx, p, output)
		_ = p.Close()
		drain(output)
		_ = p.Wait()
		t.rejectPending()
		if !alive || ctx.Err() != nil {
			t.shutdown()
			return
		}
		t.log.Warn("usage terminal exited, respawning", "delay", t.cfg.RespawnDelay)
		if !t.sleep(ctx, t.cfg.RespawnDelay, StateRestarting) {
			t.shutdown()
			return
		}
	}
}

func (t *Terminal) shutdown() {
	t.setState(StateExited)
	t.rejectPending()
}

// awaitReady buffers output until the ready hint appears. A startup
// timeout treats the spawn as failed.
func (t *Terminal) awaitReady(ctx context.Context, output <-chan []byte) bool {
	deadline := time.NewTimer(t.cfg.StartupTimeout)
	defer deadline.Stop()
	var buf []byte
	for {
		select {
		case <-ctx.Done():
			return false
		case <-deadline.C:
			t.log.Warn("usage terminal startup timeout", "timeout", t.cfg.StartupTimeout)
			return false
		case chunk, ok := <-output:
			if !ok {
				t.log.Warn("usage terminal exited during startup")
				return false
			}
			buf = appendBounded(buf, chunk)
			if strings.Contains(stripANSI(string(buf)), t.cfg.ReadyHint) {
				t.log.Debug("usage terminal ready")
				return true
			}
		}
	}
}

// serve runs queued commands until the process dies or ctx is done.
// It returns false when the loop should stop for good.
func (t *Terminal) serve(ctx context.Context, p proc, output <-chan []byte) bool {
	t.setState(StateIdle)
	for {
		select {
		case <-ctx.Done():
			return false
		case _, ok := <-output:
			if !ok {
				return true
			}
			// Idle output (spinner redraws, notifications) is dropped.
		case cmd := <-t.commands:
			t.setState(StateBusy)
			exited := t.execute(ctx, p, output, cmd)
			if exited {
				return true
			}
			if ctx.Err() != nil {
				return false
			}
			t.setState(StateIdle)
		}
	}
}

// execute types one command and collects output until its completion
// predicate holds. Returns true when the process exited underneath it.
func (t *Terminal) execute(ctx context.Context, p proc, output <-chan []byte, cmd *command) bool {
	fail := func(err error) {
		cmd.result <- commandResult{err: err}
	}
	if _, err := io.WriteString(p, cmd.text); err != nil {
		fail(schema.ErrTerminalExited)
		return true
	}
	// Tab accepts the slash-command autocomplete, Enter submits.
	if exited := t.pause(ctx, output, t.cfg.TabDelay, nil); exited {
		fail(schema.ErrTerminalExited)
		return true
	}
	if _, err := io.WriteString(p, "\t"); err != nil {
		fail(schema.ErrTerminalExited)
		return true
	}
	if exited := t.pause(ctx, output, t.cfg.EnterDelay, nil); exited {
		fail(schema.ErrTerminalExited)
		return true
	}
	var buf []byte
	collect := func(chunk []byte) {
		buf = appendBounded(buf, chunk)
	}
	if _, err := io.WriteString(p, "\r"); err != nil {
		fail(schema.ErrTerminalExited)
		return true
	}

	deadline := time.NewTimer(cmd.timeout)
	defer deadline.Stop()
	for {
		select {
		case <-ctx.Done():
			fail(ctx.Err())
			return false
		case <-deadline.C:
			fail(schema.ErrCommandTimeout)
			return false
		case chunk, ok := <-output:
			if !ok {
				fail(schema.ErrTerminalExited)
				return true
			}
			collect(chunk)
			if cmd.done == nil || cmd.done(string(buf)) {
				// Let trailing redraws land before dismissing the modal.
				if exited := t.pause(ctx, output, t.cfg.SettleDelay, collect); exited {
					fail(schema.ErrTerminalExited)
					return true
				}
				_, _ = io.WriteString(p, "\x1b")
				cmd.result <- commandResult{output: string(buf)}
				return false
			}
		}
	}
}

// pause waits for d while keeping the output channel drained. Returns
// true when the process exited during the pause.
func (t *Terminal) pause(ctx context.Context, output <-chan []byte, d time.Duration, collect func([]byte)) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return false
		case <-timer.C:
			return false
		case chunk, ok := <-output:
			if !ok {
				return true
			}
			if collect != nil {
				collect(chunk)
			}
		}
	}
}

// sleep waits for d in the given state. Returns false when ctx ended.
func (t *Terminal) sleep(ctx context.Context, d time.Duration, state State) bool {
	t.setState(state)
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (t *Terminal) rejectPending() {
	for {
		select {
		case cmd := <-t.commands:
			cmd.result <- commandResult{err: schema.ErrTerminalExited}
		default:
			return
		}
	}
}

func readProc(p proc, output chan<- []byte) {
	defer close(output)
	buf := make([]byte, 8*1024)
	for {
		n, err := p.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			output <- chunk
		}
		if err != nil {
			return
		}
	}
}

func drain(output <-chan []byte) {
	for range output {
	}
}

func appendBounded(buf, chunk []byte) []byte {
	buf = append(buf, chunk...)
	if len(buf) > maxBuffer {
		buf = buf[len(buf)-maxBuffer/2:]
	}
	return buf
}
