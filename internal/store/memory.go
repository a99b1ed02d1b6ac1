package store

import (
	"context"
	"path"
	"sort"
	"strconv"
	"sync"
	"time"
)

type memValue struct {
	value     string
	expiresAt time.Time // zero means no expiry
}

// MemoryStore is an in-process Store. Commands are atomic under a single mutex.
// It is intended for tests and single-instance development servers.
type MemoryStore struct {
	mu     sync.Mutex
	now    func() time.Time
	values map[string]memValue
	sets   map[string]map[string]struct{}
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty MemoryStore. now may be nil.
func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{
		now:    now,
		values: make(map[string]memValue),
		sets:   make(map[string]map[string]struct{}),
	}
}

// lookup returns the live value for key, evicting it if expired. Lock must be held.
func (s *MemoryStore) lookup(key string) (memValue, bool) {
	v, ok := s.values[key]
	if !ok {
		return memValue{}, false
	}
	if !v.expiresAt.IsZero() && !s.now().Before(v.expiresAt) {
		delete(s.values, key)
		return memValue{}, false
	}
	return v, true
}

func (s *MemoryStore) Incr(ctx context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, n, err := s.incr(key)
	if err != nil {
		return 0, err
	}
	s.values[key] = v
	return n, nil
}

func (s *MemoryStore) IncrExpire(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, n, err := s.incr(key)
	if err != nil {
		return 0, err
	}
	if n == 1 {
		v.expiresAt = s.now().Add(ttl)
	}
	s.values[key] = v
	return n, nil
}

// incr computes the incremented value of key. Lock must be held.
func (s *MemoryStore) incr(key string) (memValue, int64, error) {
	v, _ := s.lookup(key)
	n := int64(0)
	if v.value != "" {
		parsed, err := strconv.ParseInt(v.value, 10, 64)
		if err != nil {
			return v, 0, &CommandError{Cmd: "INCR", Key: key, Msg: "value is not an integer"}
		}
		n = parsed
	}
	n++
	v.value = strconv.FormatInt(n, 10)
	return v, n, nil
}

func (s *MemoryStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.lookup(key)
	if !ok {
		return nil
	}
	v.expiresAt = s.now().Add(ttl)
	s.values[key] = v
	return nil
}

func (s *MemoryStore) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.lookup(key); ok {
		return false, nil
	}
	s.values[key] = s.newValue(value, ttl)
	return true, nil
}

func (s *MemoryStore) Get(ctx context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.lookup(key)
	return v.value, ok, nil
}

func (s *MemoryStore) SetEx(ctx context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.values[key] = s.newValue(value, ttl)
	return nil
}

func (s *MemoryStore) newValue(value string, ttl time.Duration) memValue {
	v := memValue{value: value}
	if ttl > 0 {
		v.expiresAt = s.now().Add(ttl)
	}
	return v
}

func (s *MemoryStore) SIsMember(ctx context.Context, set, member string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.sets[set][member]
	return ok, nil
}

func (s *MemoryStore) SAdd(ctx context.Context, set, member string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	members, ok := s.sets[set]
	if !ok {
		members = make(map[string]struct{})
		s.sets[set] = members
	}
	if _, exists := members[member]; exists {
		return 0, nil
	}
	members[member] = struct{}{}
	return 1, nil
}

func (s *MemoryStore) SRem(ctx context.Context, set, member string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	members, ok := s.sets[set]
	if !ok {
		return 0, nil
	}
	if _, exists := members[member]; !exists {
		return 0, nil
	}
	delete(members, member)
	return 1, nil
}

func (s *MemoryStore) SMembers(ctx context.Context, set string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]string, 0, len(s.sets[set]))
	for m := range s.sets[set] {
		out = append(out, m)
	}
	sort.Strings(out)
	return out, nil
}

func (s *MemoryStore) Scan(ctx context.Context, match string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var keys []string
	for key := range s.values {
		if _, ok := s.lookup(key); !ok {
			continue
		}
		if matched, _ := path.Match(match, key); matched {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }

// TTL returns the remaining lifetime of key, or -1 if it has no expiry and
// -2 if it does not exist. Mirrors the Redis TTL reply for tests.
func (s *MemoryStore) TTL(key string) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.lookup(key)
	if !ok {
		return -2
	}
	if v.expiresAt.IsZero() {
		return -1
	}
	return v.expiresAt.Sub(s.now())
}

// CommandError reports a command applied to a value of the wrong kind.
type CommandError struct {
	Cmd string
	Key string
	Msg string
}

func (e *CommandError) Error() string {
	return e.Cmd + " " + e.Key + ": " + e.Msg
}
