// ABOUTME: Tests for session persistence semantics across every backend
// ABOUTME: Covers round-trip, overwrite, missing sessions, and component filtering

package store

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-runtime/internal/config"
	"github.com/2389/coven-runtime/internal/message"
)

func backends(t *testing.T) map[string]func(t *testing.T) *Sessions {
	t.Helper()
	return map[string]func(t *testing.T) *Sessions{
		"memory": func(t *testing.T) *Sessions {
			return NewSessions(NewMemoryBackend(), nil)
		},
		"file": func(t *testing.T) *Sessions {
			s, err := New(config.SessionConfig{Backend: config.BackendJSON, SaveDir: t.TempDir()}, nil)
			require.NoError(t, err)
			return s
		},
		"sqlite": func(t *testing.T) *Sessions {
			url := "sqlite://" + filepath.Join(t.TempDir(), "sessions.db")
			s, err := New(config.SessionConfig{Backend: config.BackendDatabase, URL: url, Table: "sessions"}, nil)
			require.NoError(t, err)
			return s
		},
		"generic-sql": func(t *testing.T) *Sessions {
			b, err := NewSQLBackend(filepath.Join(t.TempDir(), "generic.db"), "sqlite", "sessions", nil)
			require.NoError(t, err)
			b.dialect = dialectGeneric
			return NewSessions(b, nil)
		},
		"redis": func(t *testing.T) *Sessions {
			mr := miniredis.RunT(t)
			s, err := New(config.SessionConfig{
				Backend: config.BackendRedis,
				URL:     "redis://" + mr.Addr(),
				Prefix:  "test:session:",
			}, nil)
			require.NoError(t, err)
			return s
		},
	}
}

func TestSessions_RoundTrip(t *testing.T) {
	for name, mk := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := mk(t)
			defer s.Close()
			ctx := context.Background()

			mem := NewMemory()
			mem.Add(message.New("user", message.RoleUser, "hello"))
			prefs := NewValues()
			prefs.Set("lang", "en")

			require.NoError(t, s.Save(ctx, "s1", map[string]Component{"memory": mem, "prefs": prefs}))

			ok, err := s.Exists(ctx, "s1")
			require.NoError(t, err)
			assert.True(t, ok)

			mem2, prefs2 := NewMemory(), NewValues()
			require.NoError(t, s.Load(ctx, "s1", false, map[string]Component{"memory": mem2, "prefs": prefs2}))

			require.Equal(t, 1, mem2.Len())
			assert.Equal(t, "hello", mem2.Messages()[0].Text())
			lang, _ := prefs2.Get("lang")
			assert.Equal(t, "en", lang)
		})
	}
}

func TestSessions_SaveOverwrites(t *testing.T) {
	for name, mk := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := mk(t)
			defer s.Close()
			ctx := context.Background()

			a, b := NewValues(), NewValues()
			a.Set("v", "first")
			b.Set("v", "b-only")
			require.NoError(t, s.Save(ctx, "s1", map[string]Component{"a": a, "b": b}))

			a.Set("v", "second")
			require.NoError(t, s.Save(ctx, "s1", map[string]Component{"a": a}))

			a2, b2 := NewValues(), NewValues()
			b2.Set("v", "untouched")
			require.NoError(t, s.Load(ctx, "s1", false, map[string]Component{"a": a2, "b": b2}))

			v, _ := a2.Get("v")
			assert.Equal(t, "second", v)
			v, _ = b2.Get("v")
			assert.Equal(t, "untouched", v, "component dropped by the overwrite must not be restored")
		})
	}
}

func TestSessions_MissingSession(t *testing.T) {
	for name, mk := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := mk(t)
			defer s.Close()
			ctx := context.Background()

			v := NewValues()
			v.Set("keep", true)
			require.NoError(t, s.Load(ctx, "nope", true, map[string]Component{"v": v}))
			got, _ := v.Get("keep")
			assert.Equal(t, true, got)

			err := s.Load(ctx, "nope", false, map[string]Component{"v": v})
			assert.True(t, errors.Is(err, ErrSessionNotFound), "got %v", err)

			ok, err := s.Exists(ctx, "nope")
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestSessions_Delete(t *testing.T) {
	for name, mk := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := mk(t)
			defer s.Close()
			ctx := context.Background()

			require.NoError(t, s.Save(ctx, "s1", map[string]Component{"v": NewValues()}))
			require.NoError(t, s.Delete(ctx, "s1"))
			require.NoError(t, s.Delete(ctx, "s1"))

			ok, err := s.Exists(ctx, "s1")
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestSessions_IgnoresUnknownSavedComponents(t *testing.T) {
	backend := NewMemoryBackend()
	s := NewSessions(backend, nil)
	ctx := context.Background()

	require.NoError(t, backend.Put(ctx, "s1", []byte(`{"ghost":{"x":1},"v":{"k":"saved"}}`)))

	v := NewValues()
	require.NoError(t, s.Load(ctx, "s1", false, map[string]Component{"v": v}))
	got, _ := v.Get("k")
	assert.Equal(t, "saved", got)
}

func TestSessions_EmptyID(t *testing.T) {
	s := NewSessions(NewMemoryBackend(), nil)
	err := s.Save(context.Background(), "", nil)
	assert.True(t, errors.Is(err, ErrInvalidSessionID))
}

type failingComponent struct{}

func (failingComponent) StateDict() (any, error)               { return nil, errors.New("boom") }
func (failingComponent) LoadStateDict(json.RawMessage) error { return errors.New("boom") }

func TestSessions_ComponentErrors(t *testing.T) {
	backend := NewMemoryBackend()
	s := NewSessions(backend, nil)
	ctx := context.Background()

	err := s.Save(ctx, "s1", map[string]Component{"bad": failingComponent{}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"bad"`)

	ok, _ := backend.Exists(ctx, "s1")
	assert.False(t, ok, "nothing should be written when a snapshot fails")
}

func TestNew_UnknownBackend(t *testing.T) {
	_, err := New(config.SessionConfig{Backend: "s3"}, nil)
	assert.True(t, errors.Is(err, ErrUnknownBackend))
}
