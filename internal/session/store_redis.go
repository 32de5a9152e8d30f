package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"genascope/pkg/requestcontext"
)

const (
	defaultKeyPrefix      = "genascope:session:"
	defaultChangesChannel = "genascope:session:changes"
)

// RedisStore persists sessions in Redis so every replica sees the same state.
// Each session has two keys mirroring the browser entries, and every write is
// announced on a pub/sub channel.
type RedisStore struct {
	client   *redis.Client
	logger   *slog.Logger
	prefix   string
	channel  string
	grace    time.Duration
	fallback time.Duration
}

type RedisOption func(*RedisStore)

func WithRedisLogger(logger *slog.Logger) RedisOption {
	return func(s *RedisStore) {
		s.logger = logger
	}
}

func WithRedisKeys(prefix, channel string) RedisOption {
	return func(s *RedisStore) {
		if prefix != "" {
			s.prefix = prefix
		}
		if channel != "" {
			s.channel = channel
		}
	}
}

func WithRedisRetention(grace, fallback time.Duration) RedisOption {
	return func(s *RedisStore) {
		if grace >= 0 {
			s.grace = grace
		}
		if fallback > 0 {
			s.fallback = fallback
		}
	}
}

// NewRedis constructs a Redis-backed session store.
func NewRedis(client *redis.Client, opts ...RedisOption) *RedisStore {
	s := &RedisStore{
		client:   client,
		logger:   slog.Default(),
		prefix:   defaultKeyPrefix,
		channel:  defaultChangesChannel,
		grace:    defaultRetentionGrace,
		fallback: defaultTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStore) tokenKey(sessionID string) string {
	return s.prefix + sessionID + ":" + EntryToken
}

func (s *RedisStore) identityKey(sessionID string) string {
	return s.prefix + sessionID + ":" + EntryIdentity
}

func (s *RedisStore) savedAtKey(sessionID string) string {
	return s.prefix + sessionID + ":saved_at"
}

func (s *RedisStore) Save(ctx context.Context, sessionID, rawToken string, identity Identity) error {
	data, err := json.Marshal(identity)
	if err != nil {
		return fmt.Errorf("marshal identity: %w", err)
	}
	now := requestcontext.Now(ctx)
	ttl := retention(rawToken, now, s.grace, s.fallback)

	// MULTI/EXEC so both entries land together.
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.tokenKey(sessionID), rawToken, ttl)
		pipe.Set(ctx, s.identityKey(sessionID), data, ttl)
		pipe.Set(ctx, s.savedAtKey(sessionID), now.UnixNano(), ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}

	s.publish(ctx, Change{SessionID: sessionID, Kind: ChangeSaved, At: now})
	return nil
}

func (s *RedisStore) Load(ctx context.Context, sessionID string) (*Record, error) {
	vals, err := s.client.MGet(ctx, s.tokenKey(sessionID), s.identityKey(sessionID), s.savedAtKey(sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}

	rawToken, _ := vals[0].(string)
	rawIdentity, _ := vals[1].(string)
	if rawToken == "" || rawIdentity == "" {
		return nil, fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}

	var identity Identity
	if err := json.Unmarshal([]byte(rawIdentity), &identity); err != nil {
		s.logger.WarnContext(ctx, "session identity corrupt",
			"session_id", sessionID,
			"error", err,
			"request_id", requestcontext.RequestID(ctx),
		)
		if delErr := s.client.Del(ctx, s.identityKey(sessionID)).Err(); delErr != nil {
			s.logger.ErrorContext(ctx, "failed to drop corrupt identity",
				"session_id", sessionID,
				"error", delErr,
			)
		}
		return nil, fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}

	rec := &Record{SessionID: sessionID, Token: rawToken, Identity: identity}
	if raw, ok := vals[2].(string); ok {
		var nanos int64
		if _, err := fmt.Sscan(raw, &nanos); err == nil {
			rec.SavedAt = time.Unix(0, nanos)
		}
	}
	return rec, nil
}

// UpdateIdentity rewrites the identity only while the token key still holds
// expectedToken. WATCH aborts the transaction if another writer got there first.
func (s *RedisStore) UpdateIdentity(ctx context.Context, sessionID, expectedToken string, identity Identity) error {
	data, err := json.Marshal(identity)
	if err != nil {
		return fmt.Errorf("marshal identity: %w", err)
	}
	tokenKey := s.tokenKey(sessionID)

	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, tokenKey).Result()
		if errors.Is(err, redis.Nil) {
			return ErrStale
		}
		if err != nil {
			return fmt.Errorf("get token for update: %w", err)
		}
		if current != expectedToken {
			return ErrStale
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, s.identityKey(sessionID), data, redis.KeepTTL)
			return nil
		})
		return err
	}, tokenKey)

	switch {
	case errors.Is(err, ErrStale), errors.Is(err, redis.TxFailedErr):
		return fmt.Errorf("session %s: %w", sessionID, ErrStale)
	case err != nil:
		return fmt.Errorf("update identity: %w", err)
	}

	s.publish(ctx, Change{SessionID: sessionID, Kind: ChangeIdentity, At: requestcontext.Now(ctx)})
	return nil
}

func (s *RedisStore) Clear(ctx context.Context, sessionID string) error {
	n, err := s.client.Del(ctx, s.tokenKey(sessionID), s.identityKey(sessionID), s.savedAtKey(sessionID)).Result()
	if err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	if n > 0 {
		s.publish(ctx, Change{SessionID: sessionID, Kind: ChangeCleared, At: requestcontext.Now(ctx)})
	}
	return nil
}

// Watch subscribes to the changes channel. The returned channel closes when
// ctx is cancelled.
func (s *RedisStore) Watch(ctx context.Context) (<-chan Change, error) {
	pubsub := s.client.Subscribe(ctx, s.channel)
	// Wait for the subscription to be confirmed so no change is missed after return.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close() //nolint:errcheck // best-effort cleanup on subscribe failure
		return nil, fmt.Errorf("subscribe %s: %w", s.channel, err)
	}

	out := make(chan Change, subscriberBuffer)
	go func() {
		defer close(out)
		defer pubsub.Close() //nolint:errcheck // closing on shutdown
		msgs := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var c Change
				if err := json.Unmarshal([]byte(msg.Payload), &c); err != nil {
					s.logger.Warn("discarding malformed session change", "error", err)
					continue
				}
				select {
				case out <- c:
				default:
				}
			}
		}
	}()
	return out, nil
}

func (s *RedisStore) publish(ctx context.Context, c Change) {
	payload, err := json.Marshal(c)
	if err != nil {
		return
	}
	// The feed is best-effort; a failed publish never fails the write.
	if err := s.client.Publish(ctx, s.channel, payload).Err(); err != nil {
		s.logger.WarnContext(ctx, "failed to publish session change",
			"session_id", c.SessionID,
			"kind", c.Kind,
			"error", err,
		)
	}
}

// DeleteExpired is a no-op: Redis expires keys via TTL.
func (s *RedisStore) DeleteExpired(context.Context, time.Time) (int, error) {
	return 0, nil
}

// Ping reports store reachability for readiness checks.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

var _ Store = (*RedisStore)(nil)
