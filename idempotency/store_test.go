package idempotency

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, ttl time.Duration) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "data", "idem.db"), ttl)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestReserveCompleteReplay(t *testing.T) {
	s := newTestStore(t, time.Hour)

	replay, err := s.Reserve("k1", "POST /api/endorsements")
	require.NoError(t, err)
	assert.Nil(t, replay, "first reservation runs the request")

	_, err = s.Reserve("k1", "POST /api/endorsements")
	require.ErrorIs(t, err, ErrInFlight)

	require.NoError(t, s.Complete("k1", 201, "application/json", []byte(`{"ok":true}`)))

	replay, err = s.Reserve("k1", "POST /api/endorsements")
	require.NoError(t, err)
	require.NotNil(t, replay)
	assert.Equal(t, 201, replay.Status)
	assert.Equal(t, "application/json", replay.ContentType)
	assert.JSONEq(t, `{"ok":true}`, string(replay.Body))
}

func TestReserveRejectsDifferentRequest(t *testing.T) {
	s := newTestStore(t, time.Hour)

	_, err := s.Reserve("k1", "POST /api/endorsements")
	require.NoError(t, err)
	_, err = s.Reserve("k1", "POST /api/validators")
	require.ErrorIs(t, err, ErrKeyReused)
}

func TestReleaseAllowsRetry(t *testing.T) {
	s := newTestStore(t, time.Hour)

	_, err := s.Reserve("k1", "fp")
	require.NoError(t, err)
	require.NoError(t, s.Release("k1"))
	require.NoError(t, s.Release("k1"), "releasing twice is a no-op")

	replay, err := s.Reserve("k1", "fp")
	require.NoError(t, err)
	assert.Nil(t, replay)
}

func TestCompleteRequiresReservation(t *testing.T) {
	s := newTestStore(t, time.Hour)
	require.ErrorIs(t, s.Complete("nope", 200, "", nil), ErrNotReserved)
}

func TestExpiry(t *testing.T) {
	s := newTestStore(t, time.Minute)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	_, err := s.Reserve("old", "fp")
	require.NoError(t, err)
	require.NoError(t, s.Complete("old", 200, "application/json", []byte(`{}`)))
	_, err = s.Reserve("stuck", "fp")
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)

	_, err = s.Reserve("fresh", "fp")
	require.NoError(t, err)

	replay, err := s.Reserve("stuck", "other")
	require.NoError(t, err, "an expired reservation can be reclaimed")
	assert.Nil(t, replay)

	removed, err := s.Purge()
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	r, err := s.Get("old")
	require.NoError(t, err)
	assert.Nil(t, r)

	r, err = s.Get("fresh")
	require.NoError(t, err)
	require.NotNil(t, r)
	assert.False(t, r.Complete)
}

func TestStorePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "idem.db")
	s, err := Open(path, time.Hour)
	require.NoError(t, err)
	_, err = s.Reserve("k1", "fp")
	require.NoError(t, err)
	require.NoError(t, s.Complete("k1", 200, "application/json", []byte(`[]`)))
	require.NoError(t, s.Close())

	s, err = Open(path, time.Hour)
	require.NoError(t, err)
	defer s.Close()
	r, err := s.Get("k1")
	require.NoError(t, err)
	require.NotNil(t, r)
	assert.True(t, r.Complete)
}
