package bot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/barberdesk/barberdesk/services/booking-service/internal/calendar"
	"github.com/redis/go-redis/v9"
)

type Step string

const (
	StepStart   Step = ""
	StepService Step = "service"
	StepStaff   Step = "staff"
	StepDate    Step = "date"
	StepTime    Step = "time"
	StepName    Step = "name"
	StepConfirm Step = "confirm"
)

// Session is one customer's dialog state, keyed by their WhatsApp address.
type Session struct {
	ID          string        `json:"id"`
	Step        Step          `json:"step"`
	ServiceID   string        `json:"service_id,omitempty"`
	ServiceName string        `json:"service_name,omitempty"`
	StaffID     string        `json:"staff_id,omitempty"`
	StaffName   string        `json:"staff_name,omitempty"`
	Date        calendar.Date `json:"date,omitzero"`
	StartMinute int           `json:"start_minute,omitempty"`
	Name        string        `json:"name,omitempty"`
	// Options are the ids or start minutes offered in the last numbered menu.
	Options []string `json:"options,omitempty"`
}

type SessionStore interface {
	Load(ctx context.Context, key string) (Session, bool, error)
	Save(ctx context.Context, key string, s Session) error
	Delete(ctx context.Context, key string) error
}

// RedisSessionStore keeps sessions as JSON strings that expire after ttl of
// inactivity.
type RedisSessionStore struct {
	rdb    redis.Cmdable
	ttl    time.Duration
	prefix string
}

func NewRedisSessionStore(rdb redis.Cmdable, ttl time.Duration, prefix string) *RedisSessionStore {
	if prefix == "" {
		prefix = "bot:session:"
	}
	return &RedisSessionStore{rdb: rdb, ttl: ttl, prefix: prefix}
}

func (s *RedisSessionStore) Load(ctx context.Context, key string) (Session, bool, error) {
	raw, err := s.rdb.Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Session{}, false, nil
	}
	if err != nil {
		return Session{}, false, fmt.Errorf("load session: %w", err)
	}
	var sess Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return Session{}, false, fmt.Errorf("decode session: %w", err)
	}
	return sess, true, nil
}

func (s *RedisSessionStore) Save(ctx context.Context, key string, sess Session) error {
	raw, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	if err := s.rdb.Set(ctx, s.prefix+key, raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (s *RedisSessionStore) Delete(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, s.prefix+key).Err()
}

// MemorySessionStore is the single-process fallback used when Redis is not
// configured.
type MemorySessionStore struct {
	ttl time.Duration
	now func() time.Time

	mu       sync.Mutex
	sessions map[string]memorySession
}

type memorySession struct {
	session   Session
	expiresAt time.Time
}

func NewMemorySessionStore(ttl time.Duration) *MemorySessionStore {
	return &MemorySessionStore{ttl: ttl, now: time.Now, sessions: map[string]memorySession{}}
}

func (s *MemorySessionStore) Load(_ context.Context, key string) (Session, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.sessions[key]
	if !ok {
		return Session{}, false, nil
	}
	if s.now().After(m.expiresAt) {
		delete(s.sessions, key)
		return Session{}, false, nil
	}
	return m.session, true, nil
}

func (s *MemorySessionStore) Save(_ context.Context, key string, sess Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[key] = memorySession{session: sess, expiresAt: s.now().Add(s.ttl)}
	return nil
}

func (s *MemorySessionStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, key)
	return nil
}
