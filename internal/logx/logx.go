package logx

import (
	"context"

	"github.com/stomrex77/claude-web/schema"
	"pkt.systems/pslog"
)

type contextKey int

const (
	sessionKey contextKey = iota
	terminalKey
)

// Ctx returns the logger bound to the provided context.
func Ctx(ctx context.Context) pslog.Logger {
	return pslog.Ctx(ctx)
}

// WithSession annotates the logger with the session id if present.
func WithSession(ctx context.Context, sessionID schema.SessionID) pslog.Logger {
	log := pslog.Ctx(ctx)
	if sessionID != "" {
		if current, ok := ctx.Value(sessionKey).(schema.SessionID); ok && current == sessionID {
			return log
		}
		log = log.With("session_id", sessionID)
	}
	return log
}

// WithTerminal annotates the logger with the terminal id if present.
func WithTerminal(ctx context.Context, terminalID schema.TerminalID) pslog.Logger {
	log := pslog.Ctx(ctx)
	if terminalID != "" {
		if current, ok := ctx.Value(terminalKey).(schema.TerminalID); ok && current == terminalID {
			return log
		}
		log = log.With("terminal_id", terminalID)
	}
	return log
}

// ContextWithSession stores the session marker on the context for log de-duplication.
func ContextWithSession(ctx context.Context, sessionID schema.SessionID) context.Context {
	if ctx == nil || sessionID == "" {
		return ctx
	}
	return context.WithValue(ctx, sessionKey, sessionID)
}

// ContextWithTerminal stores the terminal marker on the context for log de-duplication.
func ContextWithTerminal(ctx context.Context, terminalID schema.TerminalID) context.Context {
	if ctx == nil || terminalID == "" {
		return ctx
	}
	return context.WithValue(ctx, terminalKey, terminalID)
}

// ContextWithSessionLogger attaches the logger and session marker to the context.
func ContextWithSessionLogger(ctx context.Context, log pslog.Logger, sessionID schema.SessionID) context.Context {
	ctx = pslog.ContextWithLogger(ctx, log)
	return ContextWithSession(ctx, sessionID)
}

// CopyContextFields copies session/terminal markers from src to dst.
func CopyContextFields(dst context.Context, src context.Context) context.Context {
	if src == nil {
		return dst
	}
	if session, ok := src.Value(sessionKey).(schema.SessionID); ok && session != "" {
		dst = ContextWithSession(dst, session)
	}
	if terminal, ok := src.Value(terminalKey).(schema.TerminalID); ok && terminal != "" {
		dst = ContextWithTerminal(dst, terminal)
	}
	return dst
}
