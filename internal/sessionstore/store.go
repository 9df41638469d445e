// Package sessionstore persists the server's own session records. The
// in-memory map is authoritative while the process runs; disk failures are
// logged and swallowed so a broken state file never takes requests down.
package sessionstore

import (
	"context"
	"sync"
	"time"

	"github.com/stomrex77/claude-web/internal/persist"
	"github.com/stomrex77/claude-web/schema"
	"pkt.systems/pslog"
)

// Store tracks sessions created through this server.
type Store struct {
	mu       sync.Mutex
	sessions map[schema.SessionID]*schema.Session
	persist  *persist.Store
	titleMax int
	log      pslog.Logger
	now      func() time.Time
}

// New loads existing records from statePath. A missing or corrupt state
// file starts the store empty.
func New(statePath string, titleMax int, logger pslog.Logger) (*Store, error) {
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	if titleMax <= 0 {
		titleMax = schema.DefaultTitleMax
	}
	ps, err := persist.NewStoreWithLogger(statePath, logger)
	if err != nil {
		return nil, err
	}
	s := &Store{
		sessions: make(map[schema.SessionID]*schema.Session),
		persist:  ps,
		titleMax: titleMax,
		log:      logger,
		now:      time.Now,
	}
	var records []schema.Session
	if ok, err := ps.Load(&records); err != nil {
		logger.Warn("session state unreadable, starting empty", "err", err)
	} else if ok {
		for i := range records {
			record := records[i]
			record.Source = schema.SourceLocal
			s.sessions[record.ID] = &record
		}
	}
	return s, nil
}

// Upsert records a new turn for id, creating the session when unseen. The
// title derives from the first prompt only; later prompts never rename.
func (s *Store) Upsert(id schema.SessionID, firstPrompt, directory string) schema.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.timestamp()
	session, ok := s.sessions[id]
	if !ok {
		session = &schema.Session{
			ID:           id,
			Title:        schema.NormalizeTitle(firstPrompt, s.titleMax),
			Directory:    directory,
			MessageCount: 1,
			CreatedAt:    now,
			LastActivity: now,
			Source:       schema.SourceLocal,
		}
		s.sessions[id] = session
	} else {
		session.MessageCount++
		session.LastActivity = now
		if session.Directory == "" {
			session.Directory = directory
		}
	}
	s.saveLocked()
	return *session
}

// UpdateUsage accumulates usage onto an existing session. Unknown ids are
// dropped silently; usage events may arrive after a session was cleared.
func (s *Store) UpdateUsage(id schema.SessionID, input, output int, costUSD float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	if !ok {
		return
	}
	session.Tokens.Input += input
	session.Tokens.Output += output
	session.CostUSD += costUSD
	session.LastActivity = s.timestamp()
	s.saveLocked()
}

// Get returns one session by id.
func (s *Store) Get(id schema.SessionID) (schema.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	if !ok {
		return schema.Session{}, false
	}
	return *session, true
}

// ListAll returns all sessions ordered by last activity, newest first.
func (s *Store) ListAll() []schema.Session {
	s.mu.Lock()
	records := s.snapshotLocked()
	s.mu.Unlock()
	schema.SortByActivity(records)
	return records
}

// Remove drops the local record. The CLI's own transcript stays on disk.
func (s *Store) Remove(id schema.SessionID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		return false
	}
	delete(s.sessions, id)
	s.saveLocked()
	return true
}

// TotalUsage sums usage across all locally tracked sessions. Callers
// that have a stats cache file prefer it over this.
func (s *Store) TotalUsage() schema.UsageTotals {
	s.mu.Lock()
	defer s.mu.Unlock()
	var totals schema.UsageTotals
	for _, session := range s.sessions {
		totals.Input += session.Tokens.Input
		totals.Output += session.Tokens.Output
		totals.CostUSD += session.CostUSD
	}
	return totals
}

func (s *Store) timestamp() string {
	return s.now().UTC().Format(time.RFC3339)
}

func (s *Store) snapshotLocked() []schema.Session {
	records := make([]schema.Session, 0, len(s.sessions))
	for _, session := range s.sessions {
		records = append(records, *session)
	}
	return records
}

// saveLocked rewrites the whole state file. Save errors are already logged
// by the persist layer; the in-memory map stays authoritative.
func (s *Store) saveLocked() {
	records := s.snapshotLocked()
	schema.SortByActivity(records)
	_ = s.persist.Save(records)
}
