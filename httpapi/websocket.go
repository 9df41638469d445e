package httpapi

import (
	"errors"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/stomrex77/claude-web/internal/terminal"
	"github.com/stomrex77/claude-web/schema"
	"pkt.systems/pslog"
)

// TerminalManager is what the websocket bridge needs from the pty
// manager.
type TerminalManager interface {
	Create(opts terminal.CreateOptions) (schema.TerminalSnapshot, error)
	Write(id schema.TerminalID, data []byte) bool
	Resize(id schema.TerminalID, cols, rows uint16) bool
	Kill(id schema.TerminalID) bool
}

// terminalUpgrader accepts any origin. The server binds to localhost
// for a single user; the origin header proves nothing there.
var terminalUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

type terminalClientFrame struct {
	Type string `json:"type"`
	Data string `json:"data,omitempty"`
	Cols int    `json:"cols,omitempty"`
	Rows int    `json:"rows,omitempty"`
}

type terminalServerFrame struct {
	Type      string            `json:"type"`
	SessionID schema.TerminalID `json:"sessionId,omitempty"`
	Cwd       string            `json:"cwd,omitempty"`
	Data      string            `json:"data,omitempty"`
	Code      *int              `json:"code,omitempty"`
	Message   string            `json:"message,omitempty"`
}

// handleTerminal attaches a websocket to a shell pty. The socket owns
// the pty: closing one side tears down the other.
func (s *Server) handleTerminal(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.terminals == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("terminal not configured"))
		return
	}
	log := pslog.Ctx(r.Context()).With("remote", clientIP(r))
	conn, err := terminalUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("http terminal upgrade failed", "err", err)
		return
	}

	query := r.URL.Query()
	bridge := newTerminalBridge(conn)
	snap, err := s.terminals.Create(terminal.CreateOptions{
		ID:  schema.TerminalID(query.Get("sessionId")),
		Cwd: query.Get("cwd"),
		OnOutput: func(chunk []byte) {
			bridge.send(terminalServerFrame{Type: "output", Data: string(chunk)})
		},
		OnExit: func(code int) {
			exit := code
			bridge.send(terminalServerFrame{Type: "exit", Code: &exit})
			bridge.shutdown()
		},
	})
	if err != nil {
		bridge.send(terminalServerFrame{Type: "error", Message: err.Error()})
		bridge.shutdown()
		return
	}
	bridge.send(terminalServerFrame{Type: "connected", SessionID: snap.ID, Cwd: snap.Cwd})
	log = log.With("terminal_id", snap.ID)
	log.Info("http terminal attached", "cwd", snap.Cwd)

	for {
		var frame terminalClientFrame
		if err := conn.ReadJSON(&frame); err != nil {
			break
		}
		switch frame.Type {
		case "input":
			s.terminals.Write(snap.ID, []byte(frame.Data))
		case "resize":
			s.terminals.Resize(snap.ID, uint16(frame.Cols), uint16(frame.Rows))
		default:
			log.Debug("http terminal unknown frame", "type", frame.Type)
		}
	}
	s.terminals.Kill(snap.ID)
	bridge.shutdown()
	log.Info("http terminal detached")
}

// terminalBridge owns the websocket write side. gorilla permits one
// concurrent writer, so pty output and exit frames funnel through a
// channel into a single loop.
type terminalBridge struct {
	conn   *websocket.Conn
	out    chan terminalServerFrame
	closed chan struct{}
	once   sync.Once
}

func newTerminalBridge(conn *websocket.Conn) *terminalBridge {
	b := &terminalBridge{
		conn:   conn,
		out:    make(chan terminalServerFrame, 256),
		closed: make(chan struct{}),
	}
	go b.writeLoop()
	return b
}

func (b *terminalBridge) writeLoop() {
	defer func() { _ = b.conn.Close() }()
	for {
		select {
		case frame := <-b.out:
			if err := b.conn.WriteJSON(frame); err != nil {
				b.shutdown()
				return
			}
		case <-b.closed:
			// Flush what is already queued, then close the socket.
			for {
				select {
				case frame := <-b.out:
					if err := b.conn.WriteJSON(frame); err != nil {
						return
					}
				default:
					return
				}
			}
		}
	}
}

// send queues a frame. Frames are dropped once the bridge shuts down so
// pty callbacks never block on a dead socket.
func (b *terminalBridge) send(frame terminalServerFrame) {
	select {
	case b.out <- frame:
	case <-b.closed:
	}
}

func (b *terminalBridge) shutdown() {
	b.once.Do(func() { close(b.closed) })
}
