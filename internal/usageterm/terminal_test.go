package usageterm

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stomrex77/claude-web/schema"
)

const readyBanner = "\x1b[2J Welcome back  ? for shortcuts "

type procMode int

const (
	procHealthy procMode = iota
	procDieAfterBanner
	procDieOnCommand
)

// scriptedProc fakes the interactive CLI: it prints a ready banner, then
// answers every submitted command with payload. The die modes close the
// output stream at the named point instead.
type scriptedProc struct {
	outR *io.PipeReader
	outW *io.PipeWriter
	inR  *io.PipeReader
	inW  *io.PipeWriter

	waitCh    chan struct{}
	closeOnce sync.Once
}

func newScriptedProc(payload string, mode procMode) *scriptedProc {
	p := &scriptedProc{waitCh: make(chan struct{})}
	p.outR, p.outW = io.Pipe()
	p.inR, p.inW = io.Pipe()
	go p.run(payload, mode)
	return p
}

func (p *scriptedProc) run(payload string, mode procMode) {
	_, _ = io.WriteString(p.outW, readyBanner)
	if mode == procDieAfterBanner {
		_ = p.outW.Close()
		return
	}
	buf := make([]byte, 256)
	var typed []byte
	for {
		n, err := p.inR.Read(buf)
		if n > 0 {
			typed = append(typed, buf[:n]...)
			if bytes.Contains(typed, []byte("\r")) {
				typed = nil
				if mode == procDieOnCommand {
					_ = p.outW.Close()
					return
				}
				_, _ = io.WriteString(p.outW, payload)
			}
		}
		if err != nil {
			_ = p.outW.Close()
			return
		}
	}
}

func (p *scriptedProc) Read(b []byte) (int, error)  { return p.outR.Read(b) }
func (p *scriptedProc) Write(b []byte) (int, error) { return p.inW.Write(b) }

func (p *scriptedProc) Close() error {
	p.closeOnce.Do(func() {
		_ = p.inR.Close()
		_ = p.outR.Close()
		close(p.waitCh)
	})
	return nil
}

func (p *scriptedProc) Wait() error {
	<-p.waitCh
	return nil
}

// silentProc never prints a ready banner.
type silentProc struct {
	closed chan struct{}
	once   sync.Once
}

func newSilentProc() *silentProc { return &silentProc{closed: make(chan struct{})} }

func (p *silentProc) Read(b []byte) (int, error) {
	<-p.closed
	return 0, io.EOF
}

func (p *silentProc) Write(b []byte) (int, error) { return len(b), nil }

func (p *silentProc) Close() error {
	p.once.Do(func() { close(p.closed) })
	return nil
}

func (p *silentProc) Wait() error {
	<-p.closed
	return nil
}

func testConfig() Config {
	return Config{
		StartupTimeout: time.Second,
		CommandTimeout: time.Second,
		UsageTimeout:   time.Second,
		RespawnDelay:   50 * time.Millisecond,
		TabDelay:       5 * time.Millisecond,
		EnterDelay:     5 * time.Millisecond,
		SettleDelay:    5 * time.Millisecond,
	}
}

func waitForState(t *testing.T, term *Terminal, want State) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if term.State() == want {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("terminal never reached state %q (now %q)", want, term.State())
}

func TestScrapeParsesUsageModal(t *testing.T) {
	term := New(testConfig(), nil)
	term.startProc = func(Config) (proc, error) {
		return newScriptedProc(usageModal, procHealthy), nil
	}
	term.Start(context.Background())
	defer term.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	limits, err := term.Scrape(ctx)
	if err != nil {
		t.Fatalf("Scrape: %v", err)
	}
	if limits.Session == nil || limits.Session.PercentUsed != 42 {
		t.Fatalf("session window = %+v", limits.Session)
	}
	if limits.WeekAllModels == nil || limits.WeekAllModels.PercentUsed != 11 {
		t.Fatalf("weekly window = %+v", limits.WeekAllModels)
	}
	if limits.FetchedAt.IsZero() {
		t.Errorf("FetchedAt not stamped")
	}
}

func TestRunAfterStopFails(t *testing.T) {
	term := New(testConfig(), nil)
	term.startProc = func(Config) (proc, error) {
		return newScriptedProc(usageModal, procHealthy), nil
	}
	term.Start(context.Background())
	term.Stop()

	if _, err := term.Run(context.Background(), "/usage", 0, usageComplete); !errors.Is(err, schema.ErrTerminalExited) {
		t.Fatalf("err = %v, want ErrTerminalExited", err)
	}
	if got := term.State(); got != StateExited {
		t.Errorf("state = %q, want %q", got, StateExited)
	}
}

func TestCommandRejectedWhenProcessDies(t *testing.T) {
	var mu sync.Mutex
	spawns := 0
	term := New(testConfig(), nil)
	term.startProc = func(Config) (proc, error) {
		mu.Lock()
		defer mu.Unlock()
		spawns++
		if spawns == 1 {
			return newScriptedProc("", procDieOnCommand), nil
		}
		return newScriptedProc(usageModal, procHealthy), nil
	}
	term.Start(context.Background())
	defer term.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := term.Run(ctx, "/usage", time.Second, usageComplete); !errors.Is(err, schema.ErrTerminalExited) {
		t.Fatalf("err = %v, want ErrTerminalExited", err)
	}
}

func TestRespawnAfterExit(t *testing.T) {
	var mu sync.Mutex
	spawns := 0
	term := New(testConfig(), nil)
	term.startProc = func(Config) (proc, error) {
		mu.Lock()
		defer mu.Unlock()
		spawns++
		if spawns == 1 {
			return newScriptedProc("", procDieAfterBanner), nil
		}
		return newScriptedProc(usageModal, procHealthy), nil
	}
	term.Start(context.Background())
	defer term.Stop()

	waitForState(t, term, StateRestarting)
	waitForState(t, term, StateIdle)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	limits, err := term.Scrape(ctx)
	if err != nil {
		t.Fatalf("Scrape after respawn: %v", err)
	}
	if limits.Session == nil {
		t.Fatalf("no session window after respawn")
	}
	mu.Lock()
	n := spawns
	mu.Unlock()
	if n < 2 {
		t.Errorf("spawns = %d, want at least 2", n)
	}
}

func TestCommandTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.UsageTimeout = 40 * time.Millisecond
	term := New(cfg, nil)
	term.startProc = func(Config) (proc, error) {
		return newScriptedProc("still thinking", procHealthy), nil
	}
	term.Start(context.Background())
	defer term.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := term.Scrape(ctx); !errors.Is(err, schema.ErrCommandTimeout) {
		t.Fatalf("err = %v, want ErrCommandTimeout", err)
	}
	waitForState(t, term, StateIdle)
}

func TestStartupTimeoutTriggersRespawn(t *testing.T) {
	cfg := testConfig()
	cfg.StartupTimeout = 30 * time.Millisecond
	cfg.RespawnDelay = 200 * time.Millisecond
	term := New(cfg, nil)
	term.startProc = func(Config) (proc, error) { return newSilentProc(), nil }
	term.Start(context.Background())
	defer term.Stop()

	waitForState(t, term, StateRestarting)
}
