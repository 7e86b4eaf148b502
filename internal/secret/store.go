// Package secret looks up credentials for database sources.
package secret

import (
	"errors"
	"os"
	"strings"
)

// ErrNotFound is returned when no store holds the key.
var ErrNotFound = errors.New("secret: not found")

// Store provides a pluggable lookup for sensitive values such as database
// passwords. Get returns ErrNotFound for unknown keys.
type Store interface {
	Get(key string) ([]byte, error)
}

// ── EnvStore ───────────────────────────────────────────────

// EnvStore reads secrets from environment variables named Prefix + KEY,
// with the key upper-cased and every non-alphanumeric rune replaced by '_'.
type EnvStore struct {
	Prefix string
	lookup func(string) (string, bool)
}

// NewEnvStore returns an EnvStore over the process environment.
func NewEnvStore(prefix string) *EnvStore {
	return &EnvStore{Prefix: prefix, lookup: os.LookupEnv}
}

// Var returns the environment variable consulted for key.
func (s *EnvStore) Var(key string) string {
	return s.Prefix + strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r - 'a' + 'A'
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		}
		return '_'
	}, key)
}

func (s *EnvStore) Get(key string) ([]byte, error) {
	lookup := s.lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	v, ok := lookup(s.Var(key))
	if !ok {
		return nil, ErrNotFound
	}
	return []byte(v), nil
}

// ── Chain ──────────────────────────────────────────────────

// Chain asks each store in turn and returns the first hit.
type Chain []Store

func (c Chain) Get(key string) ([]byte, error) {
	for _, s := range c {
		v, err := s.Get(key)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		return v, err
	}
	return nil, ErrNotFound
}

// Map is an in-memory store, mostly for tests and one-off CLI runs.
type Map map[string]string

func (m Map) Get(key string) ([]byte, error) {
	v, ok := m[key]
	if !ok {
		return nil, ErrNotFound
	}
	return []byte(v), nil
}
