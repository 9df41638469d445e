// Package sshserver attaches SSH clients to the same shell ptys the
// browser terminal uses. Sessions must request a PTY; input, output and
// window changes are relayed raw between the SSH channel and the pty.
package sshserver

import (
	"context"
	"errors"
	"io"
	"net"

	gliderssh "github.com/gliderlabs/ssh"
	"golang.org/x/crypto/ssh"

	"github.com/stomrex77/claude-web/internal/terminal"
	"github.com/stomrex77/claude-web/schema"
	"pkt.systems/pslog"
)

// TerminalManager is the pty surface an SSH session attaches to.
type TerminalManager interface {
	Create(opts terminal.CreateOptions) (schema.TerminalSnapshot, error)
	Write(id schema.TerminalID, data []byte) bool
	Resize(id schema.TerminalID, cols, rows uint16) bool
	Kill(id schema.TerminalID) bool
}

// Server exposes a shell over SSH.
type Server struct {
	Addr               string
	HostKeyPath        string
	AuthorizedKeysPath string
	Listener           net.Listener
	Terminals          TerminalManager
	logger             pslog.Logger
}

// ListenAndServe starts the SSH server and shuts down on context
// cancellation. When AuthorizedKeysPath is set, clients authenticate by
// public key against that file; when it is empty every connection is
// accepted, which only makes sense on a loopback listener.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if s.logger == nil {
		s.logger = pslog.Ctx(ctx)
	}
	if s.Terminals == nil {
		return errors.New("terminal manager is required for SSH")
	}

	signer, err := EnsureHostKey(s.HostKeyPath)
	if err != nil {
		return err
	}

	server := &gliderssh.Server{
		Addr:    s.Addr,
		Handler: s.handleSession,
	}
	server.AddHostKey(signer)

	if s.AuthorizedKeysPath != "" {
		authorized, err := loadAuthorizedKeys(s.AuthorizedKeysPath)
		if err != nil {
			return err
		}
		server.PublicKeyHandler = func(ctx gliderssh.Context, key gliderssh.PublicKey) bool {
			return s.handlePublicKey(ctx, key, authorized)
		}
		s.logger.Info("ssh pubkey auth enabled", "authorized_keys", s.AuthorizedKeysPath, "keys", len(authorized))
	} else {
		s.logger.Warn("ssh auth disabled", "reason", "no authorized_keys configured")
	}

	errCh := make(chan error, 1)
	go func() {
		if s.Listener != nil {
			errCh <- server.Serve(s.Listener)
			return
		}
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		_ = server.Close()
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Server) handlePublicKey(ctx gliderssh.Context, key gliderssh.PublicKey, authorized []ssh.PublicKey) bool {
	log := s.logger
	if log == nil {
		log = pslog.Ctx(ctx)
	}
	log = log.With("user", ctx.User(), "remote", remoteAddr(ctx), "fingerprint", ssh.FingerprintSHA256(key))
	for _, candidate := range authorized {
		if gliderssh.KeysEqual(key, candidate) {
			log.Info("ssh pubkey accepted")
			return true
		}
	}
	log.Warn("ssh pubkey rejected", "reason", "no matching key")
	return false
}

func remoteAddr(ctx gliderssh.Context) string {
	if ctx == nil || ctx.RemoteAddr() == nil {
		return ""
	}
	return ctx.RemoteAddr().String()
}

func (s *Server) handleSession(sess gliderssh.Session) {
	log := s.logger
	if log == nil {
		log = pslog.Ctx(sess.Context())
	}
	log = log.With("user", sess.User(), "remote", sess.RemoteAddr().String())
	if id := sess.Context().SessionID(); id != "" {
		log = log.With("ssh_session", id)
	}

	pty, winCh, ok := sess.Pty()
	if !ok {
		log.Info("ssh session rejected", "reason", "pty required")
		_, _ = io.WriteString(sess, "pty required\n")
		_ = sess.Exit(1)
		return
	}

	exited := make(chan int, 1)
	snap, err := s.Terminals.Create(terminal.CreateOptions{
		Cols: uint16(pty.Window.Width),
		Rows: uint16(pty.Window.Height),
		OnOutput: func(chunk []byte) {
			_, _ = sess.Write(chunk)
		},
		OnExit: func(code int) {
			exited <- code
		},
	})
	if err != nil {
		log.Warn("ssh session rejected", "reason", "shell spawn failed", "err", err)
		_, _ = io.WriteString(sess, "shell unavailable\n")
		_ = sess.Exit(1)
		return
	}
	log = log.With("terminal_id", snap.ID)
	log.Info("ssh session opened", "term", pty.Term)

	go func() {
		for win := range winCh {
			s.Terminals.Resize(snap.ID, uint16(win.Width), uint16(win.Height))
		}
	}()

	go func() {
		buf := make([]byte, 4096)
		for {
			n, err := sess.Read(buf)
			if n > 0 {
				if !s.Terminals.Write(snap.ID, buf[:n]) {
					return
				}
			}
			if err != nil {
				s.Terminals.Kill(snap.ID)
				return
			}
		}
	}()

	select {
	case code := <-exited:
		log.Info("ssh session closed", "code", code)
		_ = sess.Exit(code)
	case <-sess.Context().Done():
		s.Terminals.Kill(snap.ID)
		log.Info("ssh session closed", "reason", "disconnected")
	}
}
