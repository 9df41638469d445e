// Package terminal manages interactive shell PTYs for browser and SSH
// clients. One live pty per terminal id; lookups return booleans instead
// of errors so transports can relay failure without unwrapping.
package terminal

import (
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"
	"github.com/google/uuid"
	"github.com/stomrex77/claude-web/schema"
	"pkt.systems/pslog"
)

const (
	defaultCols uint16 = 80
	defaultRows uint16 = 24
)

// Config controls how shells are spawned.
type Config struct {
	Shell string
	Env   []string
}

// CreateOptions describes one terminal session. ID is minted when empty.
// OnOutput receives raw pty output chunks; OnExit fires once with the
// process exit code after the session is removed from the manager.
type CreateOptions struct {
	ID       schema.TerminalID
	Cwd      string
	Cols     uint16
	Rows     uint16
	OnOutput func([]byte)
	OnExit   func(code int)
}

type startOptions struct {
	shell string
	env   []string
	cwd   string
	cols  uint16
	rows  uint16
}

// ptySession abstracts the spawned pty so tests can fake it.
type ptySession interface {
	io.ReadWriteCloser
	Resize(cols, rows uint16) error
	Wait() (int, error)
}

type starter func(startOptions) (ptySession, error)

type session struct {
	id        schema.TerminalID
	cwd       string
	createdAt time.Time
	pty       ptySession
	onOutput  func([]byte)
	onExit    func(int)
	closeOnce sync.Once
}

func (s *session) close() {
	s.closeOnce.Do(func() { _ = s.pty.Close() })
}

// Manager owns the id→pty map.
type Manager struct {
	cfg   Config
	log   pslog.Logger
	start starter

	mu       sync.Mutex
	sessions map[schema.TerminalID]*session
}

// NewManager constructs a Manager spawning cfg.Shell (falling back to
// $SHELL, then /bin/bash).
func NewManager(cfg Config, logger pslog.Logger) *Manager {
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &Manager{
		cfg:      cfg,
		log:      logger,
		start:    startShell,
		sessions: make(map[schema.TerminalID]*session),
	}
}

// Create spawns a shell pty for the session. Any live pty under the same
// id is killed first so at most one process exists per id. A cwd that
// does not exist falls back to the user home directory.
func (m *Manager) Create(opts CreateOptions) (schema.TerminalSnapshot, error) {
	id := opts.ID
	if id == "" {
		id = schema.TerminalID(uuid.NewString())
	}
	if m.Kill(id) {
		m.log.Debug("terminal replaced", "terminal_id", id)
	}

	cwd := resolveCwd(opts.Cwd)
	cols, rows := opts.Cols, opts.Rows
	if cols == 0 {
		cols = defaultCols
	}
	if rows == 0 {
		rows = defaultRows
	}
	p, err := m.start(startOptions{
		shell: m.shell(),
		env:   m.cfg.Env,
		cwd:   cwd,
		cols:  cols,
		rows:  rows,
	})
	if err != nil {
		m.log.Error("terminal spawn failed", "terminal_id", id, "cwd", cwd, "err", err)
		return schema.TerminalSnapshot{}, err
	}

	s := &session{
		id:        id,
		cwd:       cwd,
		createdAt: time.Now().UTC(),
		pty:       p,
		onOutput:  opts.OnOutput,
		onExit:    opts.OnExit,
	}
	m.mu.Lock()
	if old, ok := m.sessions[id]; ok {
		old.close()
	}
	m.sessions[id] = s
	m.mu.Unlock()
	go m.pump(s)

	m.log.Info("terminal created", "terminal_id", id, "cwd", cwd, "shell", m.shell())
	return schema.TerminalSnapshot{ID: id, Cwd: cwd, CreatedAt: s.createdAt}, nil
}

// Write sends input to the session's pty. False when the id is unknown
// or the pty rejected the write.
func (m *Manager) Write(id schema.TerminalID, data []byte) bool {
	s := m.get(id)
	if s == nil {
		return false
	}
	if _, err := s.pty.Write(data); err != nil {
		m.log.Debug("terminal write failed", "terminal_id", id, "err", err)
		return false
	}
	return true
}

// Resize adjusts the pty window. False when the id is unknown.
func (m *Manager) Resize(id schema.TerminalID, cols, rows uint16) bool {
	s := m.get(id)
	if s == nil {
		return false
	}
	if err := s.pty.Resize(cols, rows); err != nil {
		m.log.Debug("terminal resize failed", "terminal_id", id, "err", err)
		return false
	}
	return true
}

// Kill removes the session and terminates its process. False when the
// id is unknown. The exit callback still fires from the reader goroutine
// once the process is reaped.
func (m *Manager) Kill(id schema.TerminalID) bool {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()
	if !ok {
		return false
	}
	s.close()
	return true
}

// CloseAll kills every live session. Used at shutdown.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	sessions := make([]*session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.sessions = make(map[schema.TerminalID]*session)
	m.mu.Unlock()
	for _, s := range sessions {
		s.close()
	}
}

func (m *Manager) get(id schema.TerminalID) *session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[id]
}

func (m *Manager) shell() string {
	if m.cfg.Shell != "" {
		return m.cfg.Shell
	}
	if shell := os.Getenv("SHELL"); shell != "" {
		return shell
	}
	return "/bin/bash"
}

// pump relays pty output until the process exits, then removes the
// session and fires the exit callback.
func (m *Manager) pump(s *session) {
	buf := make([]byte, 32*1024)
	for {
		n, err := s.pty.Read(buf)
		if n > 0 && s.onOutput != nil {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			s.onOutput(chunk)
		}
		if err != nil {
			break
		}
	}
	s.close()
	code, err := s.pty.Wait()
	if err != nil {
		m.log.Debug("terminal wait failed", "terminal_id", s.id, "err", err)
	}
	m.removeSession(s)
	m.log.Info("terminal exited", "terminal_id", s.id, "code", code)
	if s.onExit != nil {
		s.onExit(code)
	}
}

// removeSession deletes the entry only when it still points at s, so a
// replacement created under the same id is left alone.
func (m *Manager) removeSession(s *session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.sessions[s.id]; ok && cur == s {
		delete(m.sessions, s.id)
	}
}

func resolveCwd(cwd string) string {
	if cwd != "" {
		if info, err := os.Stat(cwd); err == nil && info.IsDir() {
			return cwd
		}
	}
	if home, err := os.UserHomeDir(); err == nil {
		return home
	}
	return "/"
}

type osPty struct {
	ptmx *os.File
	cmd  *exec.Cmd
}

func startShell(opts startOptions) (ptySession, error) {
	cmd := exec.Command(opts.shell)
	cmd.Dir = opts.cwd
	cmd.Env = append(os.Environ(), append([]string{"TERM=xterm-256color"}, opts.env...)...)
	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: opts.rows, Cols: opts.cols})
	if err != nil {
		return nil, err
	}
	return &osPty{ptmx: ptmx, cmd: cmd}, nil
}

func (p *osPty) Read(b []byte) (int, error)  { return p.ptmx.Read(b) }
func (p *osPty) Write(b []byte) (int, error) { return p.ptmx.Write(b) }

func (p *osPty) Resize(cols, rows uint16) error {
	return pty.Setsize(p.ptmx, &pty.Winsize{Rows: rows, Cols: cols})
}

func (p *osPty) Close() error {
	_ = p.ptmx.Close()
	if p.cmd.Process != nil {
		_ = p.cmd.Process.Kill()
	}
	return nil
}

func (p *osPty) Wait() (int, error) {
	err := p.cmd.Wait()
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
			return 128 + int(status.Signal()), nil
		}
		return exitErr.ExitCode(), nil
	}
	return -1, err
}
