package gatekeeper

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/jackzampolin/tabula/internal/providers"
	"github.com/jackzampolin/tabula/internal/store"
)

// CacheKey returns the store key for prompt and its parts. The key is
// prompt-exact: any character difference, including whitespace, yields a
// different key. Without parts it is the SHA-256 of the prompt alone.
func CacheKey(prompt string, parts ...providers.Part) string {
	h := sha256.New()
	h.Write([]byte(prompt))
	for _, p := range parts {
		switch p := p.(type) {
		case providers.TextPart:
			fmt.Fprintf(h, "\x00text:%d:%s", len(p.Text), p.Text)
		case providers.InlinePart:
			fmt.Fprintf(h, "\x00inline:%s:%d:%s", p.MIMEType, len(p.Data), p.Data)
		}
	}
	return store.CachePrefix + hex.EncodeToString(h.Sum(nil))
}

type memoEntry struct {
	text      string
	expiresAt time.Time
}

// memo is a small in-process front for the store-backed response cache.
// It is best effort: the store is authoritative.
type memo struct {
	mu         sync.Mutex
	ttl        time.Duration
	maxEntries int
	now        func() time.Time
	entries    map[string]memoEntry
}

func newMemo(ttl time.Duration, maxEntries int, now func() time.Time) *memo {
	return &memo{
		ttl:        ttl,
		maxEntries: maxEntries,
		now:        now,
		entries:    make(map[string]memoEntry),
	}
}

func (m *memo) get(key string) (string, bool) {
	if m == nil || m.ttl <= 0 {
		return "", false
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		return "", false
	}
	if !m.now().Before(e.expiresAt) {
		delete(m.entries, key)
		return "", false
	}
	return e.text, true
}

func (m *memo) put(key, text string) {
	if m == nil || m.ttl <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if len(m.entries) >= m.maxEntries {
		for k, e := range m.entries {
			if !now.Before(e.expiresAt) {
				delete(m.entries, k)
			}
		}
		if len(m.entries) >= m.maxEntries {
			// Still full of live entries: start over.
			m.entries = make(map[string]memoEntry)
		}
	}
	m.entries[key] = memoEntry{text: text, expiresAt: now.Add(m.ttl)}
}

func (m *memo) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
