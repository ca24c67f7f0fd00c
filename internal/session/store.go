package session

import (
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/convorag/backend/internal/conversation"
	"github.com/convorag/backend/pkg/logger"
)

// Session is everything the server remembers about one conversation:
// tracked state, turn memory, the relaxation stage offset and the adaptive
// confidence adjustment. It never survives a process restart.
//
// The embedded mutex serializes whole turns for the same session id;
// different sessions never contend.
type Session struct {
	mu sync.Mutex

	ID          string
	State       *conversation.State
	Turns       *conversation.TurnMemory
	StageOffset int

	ThresholdAdjustment float64
	FeedbackCount       int

	CreatedAt time.Time
}

// Lock serializes a full turn for this session. Two concurrent requests for
// the same session id execute one after the other; last writer wins on any
// state either of them touches afterwards.
func (s *Session) Lock()   { s.mu.Lock() }
func (s *Session) Unlock() { s.mu.Unlock() }

// Store owns every live session, keyed by session id.
type Store interface {
	// Get returns the session if it exists, refreshing its idle timer.
	Get(id string) (*Session, bool)
	// GetOrCreate returns the session, creating it on first reference.
	GetOrCreate(id string, turnCapacity int) *Session
	// Evict removes the session immediately.
	Evict(id string)
	// Len reports the number of live sessions.
	Len() int
}

type memoryStore struct {
	cache *gocache.Cache
	// guards the create path so two concurrent first requests for the same
	// id observe a single session
	createMu sync.Mutex
	idleTTL  time.Duration
}

// NewStore builds an in-memory store with idle eviction. Sessions expire
// after idleTTL without access; the janitor runs every cleanupInterval.
func NewStore(idleTTL, cleanupInterval time.Duration) Store {
	c := gocache.New(idleTTL, cleanupInterval)
	c.OnEvicted(func(id string, _ interface{}) {
		logger.Debug("Session evicted", zap.String("session_id", id))
	})
	return &memoryStore{
		cache:   c,
		idleTTL: idleTTL,
	}
}

func (s *memoryStore) Get(id string) (*Session, bool) {
	v, ok := s.cache.Get(id)
	if !ok {
		return nil, false
	}
	sess := v.(*Session)
	// touch: sliding idle window
	s.cache.Set(id, sess, s.idleTTL)
	return sess, true
}

func (s *memoryStore) GetOrCreate(id string, turnCapacity int) *Session {
	if sess, ok := s.Get(id); ok {
		return sess
	}

	s.createMu.Lock()
	defer s.createMu.Unlock()

	if v, ok := s.cache.Get(id); ok {
		return v.(*Session)
	}

	sess := &Session{
		ID:        id,
		State:     conversation.NewState(),
		Turns:     conversation.NewTurnMemory(turnCapacity),
		CreatedAt: time.Now(),
	}
	s.cache.Set(id, sess, s.idleTTL)

	logger.Debug("Session created", zap.String("session_id", id))
	return sess
}

func (s *memoryStore) Evict(id string) {
	s.cache.Delete(id)
}

func (s *memoryStore) Len() int {
	return s.cache.ItemCount()
}
