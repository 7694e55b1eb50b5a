package session

import (
	"errors"
	"sync"
	"time"

	"archaeo-rag/internal/extract"
	"archaeo-rag/internal/helper"
	"archaeo-rag/internal/models"

	"github.com/rs/zerolog/log"
)

var ErrSessionNotFound = errors.New("session not found")

const DefaultTTL = 2 * time.Hour

// Session is one user's conversation. Lock serialises interactions within the session.
type Session struct {
	ID        string
	CreatedAt time.Time

	mu         sync.Mutex
	mode       string
	history    []models.Turn
	extraction *extract.Result
	lastUsed   time.Time
}

func (s *Session) Lock()   { s.mu.Lock() }
func (s *Session) Unlock() { s.mu.Unlock() }

// The accessors below expect the caller to hold the session lock.

func (s *Session) Mode() string { return s.mode }

func (s *Session) SetMode(mode string) { s.mode = mode }

func (s *Session) AddTurn(t models.Turn) {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	s.history = append(s.history, t)
}

// History returns a copy of the conversation so far.
func (s *Session) History() []models.Turn {
	out := make([]models.Turn, len(s.history))
	copy(out, s.history)
	return out
}

func (s *Session) Extraction() *extract.Result { return s.extraction }

func (s *Session) SetExtraction(r *extract.Result) { s.extraction = r }

// Store keeps sessions in memory; nothing is persisted.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	ttl      time.Duration
	now      func() time.Time
}

func NewStore(ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{sessions: make(map[string]*Session), ttl: ttl, now: time.Now}
}

func (st *Store) Create() (*Session, error) {
	id, err := helper.GenerateUUID()
	if err != nil {
		return nil, err
	}
	now := st.now()
	s := &Session{ID: id, CreatedAt: now, lastUsed: now, mode: models.ModeGeneral}

	st.mu.Lock()
	st.sessions[id] = s
	st.mu.Unlock()

	log.Debug().Str("session", id).Msg("Session created")
	return s, nil
}

// Get returns the session and marks it used. Expired sessions are removed and reported as
// not found.
func (st *Store) Get(id string) (*Session, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	s, ok := st.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	now := st.now()
	if now.Sub(s.lastUsed) > st.ttl {
		delete(st.sessions, id)
		return nil, ErrSessionNotFound
	}
	s.lastUsed = now
	return s, nil
}

func (st *Store) Close(id string) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	if _, ok := st.sessions[id]; !ok {
		return ErrSessionNotFound
	}
	delete(st.sessions, id)
	log.Debug().Str("session", id).Msg("Session closed")
	return nil
}

func (st *Store) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}

// Sweep drops sessions idle for longer than the TTL and returns how many were removed.
func (st *Store) Sweep() int {
	st.mu.Lock()
	defer st.mu.Unlock()

	now := st.now()
	removed := 0
	for id, s := range st.sessions {
		if now.Sub(s.lastUsed) > st.ttl {
			delete(st.sessions, id)
			removed++
		}
	}
	if removed > 0 {
		log.Info().Int("removed", removed).Msg("Expired sessions swept")
	}
	return removed
}

// Janitor sweeps expired sessions every interval until stop is closed.
func (st *Store) Janitor(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			st.Sweep()
		case <-stop:
			return
		}
	}
}
