package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPutGetEvict(t *testing.T) {
	s := New(0)

	_, ok := s.Get("accounts", "1")
	require.False(t, ok)

	s.Put("accounts", "1", "ann")
	v, ok := s.Get("accounts", "1")
	require.True(t, ok)
	require.Equal(t, "ann", v)

	// overwrite is unconditional
	s.Put("accounts", "1", "lee")
	v, _ = s.Get("accounts", "1")
	require.Equal(t, "lee", v)

	s.Evict("accounts", "1")
	_, ok = s.Get("accounts", "1")
	require.False(t, ok)
}

func TestNamespaceIsolation(t *testing.T) {
	s := New(0)
	s.Put("accounts", "1", "account-one")
	s.Put("instruments", "1", "instrument-one")

	v, ok := s.Get("accounts", "1")
	require.True(t, ok)
	require.Equal(t, "account-one", v)

	s.Evict("accounts", "1")
	_, ok = s.Get("accounts", "1")
	require.False(t, ok)
	v, ok = s.Get("instruments", "1")
	require.True(t, ok)
	require.Equal(t, "instrument-one", v)
}

func TestClearDropsOnlyNamespace(t *testing.T) {
	s := New(0)
	s.Put("accounts", "1", 1)
	s.Put("accounts", "2", 2)
	s.Put("instruments", "1", 3)

	s.Clear("accounts")

	_, ok := s.Get("accounts", "1")
	require.False(t, ok)
	_, ok = s.Get("accounts", "2")
	require.False(t, ok)
	_, ok = s.Get("instruments", "1")
	require.True(t, ok)
}

func TestTTLExpiry(t *testing.T) {
	s := New(10 * time.Millisecond)
	s.Put("accounts", "1", "v")

	_, ok := s.Get("accounts", "1")
	require.True(t, ok)

	require.Eventually(t, func() bool {
		_, ok := s.Get("accounts", "1")
		return !ok
	}, time.Second, 5*time.Millisecond)
}
