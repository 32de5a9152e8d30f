package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"genascope/pkg/requestcontext"
)

type memoryEntry struct {
	token     string
	identity  []byte // serialized like the authUser entry; may be corrupt
	savedAt   time.Time
	expiresAt time.Time
}

// InMemoryStore keeps sessions in process memory for dev and single-replica
// deployments. The change feed fans out to in-process subscribers only.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*memoryEntry

	subMu  sync.Mutex
	subs   map[int]chan Change
	nextID int

	logger   *slog.Logger
	grace    time.Duration
	fallback time.Duration
}

type MemoryOption func(*InMemoryStore)

func WithMemoryLogger(logger *slog.Logger) MemoryOption {
	return func(s *InMemoryStore) {
		s.logger = logger
	}
}

// WithMemoryRetention sets the grace kept past token expiry and the lifetime
// used for tokens without exp.
func WithMemoryRetention(grace, fallback time.Duration) MemoryOption {
	return func(s *InMemoryStore) {
		if grace >= 0 {
			s.grace = grace
		}
		if fallback > 0 {
			s.fallback = fallback
		}
	}
}

// NewInMemory constructs an empty in-memory session store.
func NewInMemory(opts ...MemoryOption) *InMemoryStore {
	s := &InMemoryStore{
		sessions: make(map[string]*memoryEntry),
		subs:     make(map[int]chan Change),
		logger:   slog.Default(),
		grace:    defaultRetentionGrace,
		fallback: defaultTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *InMemoryStore) Save(ctx context.Context, sessionID, rawToken string, identity Identity) error {
	data, err := json.Marshal(identity)
	if err != nil {
		return fmt.Errorf("marshal identity: %w", err)
	}
	now := requestcontext.Now(ctx)

	s.mu.Lock()
	s.sessions[sessionID] = &memoryEntry{
		token:     rawToken,
		identity:  data,
		savedAt:   now,
		expiresAt: now.Add(retention(rawToken, now, s.grace, s.fallback)),
	}
	s.mu.Unlock()

	s.publish(Change{SessionID: sessionID, Kind: ChangeSaved, At: now})
	return nil
}

func (s *InMemoryStore) Load(ctx context.Context, sessionID string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.sessions[sessionID]
	if !ok || e.token == "" || e.identity == nil {
		return nil, fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}

	var identity Identity
	if err := json.Unmarshal(e.identity, &identity); err != nil {
		// Drop only the corrupt identity; the token stays for diagnosis.
		e.identity = nil
		s.logger.WarnContext(ctx, "session identity corrupt",
			"session_id", sessionID,
			"error", err,
			"request_id", requestcontext.RequestID(ctx),
		)
		return nil, fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}

	return &Record{
		SessionID: sessionID,
		Token:     e.token,
		Identity:  identity,
		SavedAt:   e.savedAt,
	}, nil
}

func (s *InMemoryStore) UpdateIdentity(ctx context.Context, sessionID, expectedToken string, identity Identity) error {
	data, err := json.Marshal(identity)
	if err != nil {
		return fmt.Errorf("marshal identity: %w", err)
	}

	s.mu.Lock()
	e, ok := s.sessions[sessionID]
	if !ok || e.token != expectedToken {
		s.mu.Unlock()
		return fmt.Errorf("session %s: %w", sessionID, ErrStale)
	}
	e.identity = data
	s.mu.Unlock()

	s.publish(Change{SessionID: sessionID, Kind: ChangeIdentity, At: requestcontext.Now(ctx)})
	return nil
}

func (s *InMemoryStore) Clear(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	_, existed := s.sessions[sessionID]
	delete(s.sessions, sessionID)
	s.mu.Unlock()

	if existed {
		s.publish(Change{SessionID: sessionID, Kind: ChangeCleared, At: requestcontext.Now(ctx)})
	}
	return nil
}

// Watch subscribes to the change feed until ctx is cancelled. A subscriber
// that falls behind misses events rather than blocking writers.
func (s *InMemoryStore) Watch(ctx context.Context) (<-chan Change, error) {
	ch := make(chan Change, subscriberBuffer)

	s.subMu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = ch
	s.subMu.Unlock()

	go func() {
		<-ctx.Done()
		s.subMu.Lock()
		delete(s.subs, id)
		close(ch)
		s.subMu.Unlock()
	}()
	return ch, nil
}

func (s *InMemoryStore) publish(c Change) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- c:
		default:
		}
	}
}

// DeleteExpired drops records whose housekeeping lifetime has elapsed.
func (s *InMemoryStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	var removed []string
	for sid, e := range s.sessions {
		if !e.expiresAt.After(now) {
			delete(s.sessions, sid)
			removed = append(removed, sid)
		}
	}
	s.mu.Unlock()

	for _, sid := range removed {
		s.publish(Change{SessionID: sid, Kind: ChangeCleared, At: now})
	}
	return len(removed), nil
}

// Len reports the number of stored sessions.
func (s *InMemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

var _ Store = (*InMemoryStore)(nil)
