package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roadwatch/roadwatch/internal/backend"
)

func TestStoreCreateAndGet(t *testing.T) {
	store := NewStore(time.Minute)

	sess := store.Create("bearer-abc", backend.User{ID: "u1", Name: "Dispatch"})
	require.NotEmpty(t, sess.ID)

	got := store.Get(sess.ID)
	require.NotNil(t, got)
	assert.Equal(t, "bearer-abc", got.Token)
	assert.Equal(t, "Dispatch", got.User.Name)

	assert.Nil(t, store.Get("nope"))
	assert.Nil(t, store.Get(""))
}

func TestStoreExpiry(t *testing.T) {
	store := NewStore(time.Minute)
	current := time.Date(2026, 8, 21, 9, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return current }

	sess := store.Create("bearer-abc", backend.User{ID: "u1"})

	current = current.Add(30 * time.Second)
	require.NotNil(t, store.Get(sess.ID), "session should survive within TTL")

	// Get extended the expiry, so another 50s keeps it alive.
	current = current.Add(50 * time.Second)
	require.NotNil(t, store.Get(sess.ID))

	current = current.Add(2 * time.Minute)
	assert.Nil(t, store.Get(sess.ID), "session should expire after TTL of inactivity")
	assert.Zero(t, store.Len())
}

func TestStoreDelete(t *testing.T) {
	store := NewStore(time.Minute)
	sess := store.Create("bearer-abc", backend.User{ID: "u1"})

	store.Delete(sess.ID)
	assert.Nil(t, store.Get(sess.ID))

	store.Delete("unknown")
}

func TestStoreCookieRoundTrip(t *testing.T) {
	store := NewStore(time.Minute)
	sess := store.Create("bearer-abc", backend.User{ID: "u1", Name: "Dispatch"})

	cookie := store.Cookie(sess)
	assert.Equal(t, CookieName, cookie.Name)
	assert.Equal(t, sess.ID, cookie.Value)
	assert.True(t, cookie.HttpOnly)

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.AddCookie(cookie)

	got := store.FromRequest(r)
	require.NotNil(t, got)
	assert.Equal(t, "u1", got.User.ID)

	bare := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Nil(t, store.FromRequest(bare))
}

func TestStoreClearingCookie(t *testing.T) {
	store := NewStore(time.Minute)

	cookie := store.Cookie(nil)
	assert.Equal(t, CookieName, cookie.Name)
	assert.Empty(t, cookie.Value)
	assert.Equal(t, -1, cookie.MaxAge)
}
