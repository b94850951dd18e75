package session

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager() (*Manager, *MemoryStore) {
	store := NewMemoryStore()
	return NewManager(store, Config{Secret: "test-secret", TTL: time.Hour}), store
}

// roundTrip saves s and returns a request carrying the issued cookie.
func roundTrip(t *testing.T, m *Manager, s *Session) *http.Request {
	t.Helper()
	rec := httptest.NewRecorder()
	require.NoError(t, m.Save(context.Background(), rec, s))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	for _, c := range rec.Result().Cookies() {
		req.AddCookie(c)
	}
	return req
}

func TestManager_Load_NoCookie(t *testing.T) {
	m, _ := newTestManager()

	s, err := m.Load(context.Background(), httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	assert.Zero(t, s.UserID())
	assert.Nil(t, s.PopFlash())
}

func TestManager_SaveAndLoad(t *testing.T) {
	m, _ := newTestManager()
	ctx := context.Background()

	s, err := m.Load(ctx, httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	s.SetUserID(7)
	s.SetFlash(FlashSuccess, "You are now logged in as Admin, Ada.")

	loaded, err := m.Load(ctx, roundTrip(t, m, s))
	require.NoError(t, err)
	assert.EqualValues(t, 7, loaded.UserID())

	flash := loaded.PopFlash()
	require.NotNil(t, flash)
	assert.Equal(t, FlashSuccess, flash.Kind)
	assert.Nil(t, loaded.PopFlash())

	again, err := m.Load(ctx, roundTrip(t, m, loaded))
	require.NoError(t, err)
	assert.Nil(t, again.PopFlash(), "flash is shown once")
	assert.EqualValues(t, 7, again.UserID())
}

func TestManager_Save_UnchangedWritesNothing(t *testing.T) {
	m, _ := newTestManager()

	s, err := m.Load(context.Background(), httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	require.NoError(t, m.Save(context.Background(), rec, s))
	assert.Empty(t, rec.Result().Cookies())
}

func TestManager_Renew(t *testing.T) {
	m, store := newTestManager()
	ctx := context.Background()

	s, err := m.Load(ctx, httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	s.SetUserID(3)
	s.SetFlash(FlashInfo, "stale")
	oldReq := roundTrip(t, m, s)
	oldID := s.id

	m.Renew(s)
	assert.NotEqual(t, oldID, s.id)
	assert.Zero(t, s.UserID())
	assert.Nil(t, s.data.Flash)
	s.SetUserID(4)
	roundTrip(t, m, s)

	_, err = store.Load(ctx, oldID)
	assert.ErrorIs(t, err, ErrSessionNotFound)

	stale, err := m.Load(ctx, oldReq)
	require.NoError(t, err)
	assert.Zero(t, stale.UserID(), "the old cookie no longer signs anyone in")
}

func TestManager_Load_TamperedCookie(t *testing.T) {
	m, _ := newTestManager()
	other := NewManager(NewMemoryStore(), Config{Secret: "other-secret", TTL: time.Hour})

	s := other.fresh()
	s.SetUserID(1)
	req := roundTrip(t, other, s)

	loaded, err := m.Load(context.Background(), req)
	require.NoError(t, err)
	assert.Zero(t, loaded.UserID())
}

func TestManager_Load_ExpiredToken(t *testing.T) {
	m, _ := newTestManager()
	s := m.fresh()
	s.SetUserID(1)
	req := roundTrip(t, m, s)

	m.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	loaded, err := m.Load(context.Background(), req)
	require.NoError(t, err)
	assert.Zero(t, loaded.UserID())
}

func TestMemoryStore_Expiry(t *testing.T) {
	store := NewMemoryStore()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "a", Data{UserID: 1}, time.Minute))
	data, err := store.Load(ctx, "a")
	require.NoError(t, err)
	assert.EqualValues(t, 1, data.UserID)

	now = now.Add(time.Minute)
	_, err = store.Load(ctx, "a")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}
