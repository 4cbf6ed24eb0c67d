package trust

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newStore(clock *fakeClock) *Store {
	return New(Config{GracePeriod: time.Hour, Clock: clock.Now})
}

func TestAddTrust(t *testing.T) {
	clock := newFakeClock()
	s := newStore(clock)

	rec, err := s.AddTrust("abc", "s3cr3t")
	require.NoError(t, err)
	assert.Equal(t, StateActive, rec.State)
	assert.Equal(t, clock.Now(), rec.AddedAt)
	assert.True(t, s.IsTrusted("abc"))

	// Same pair is idempotent and keeps the original timestamp.
	clock.Advance(time.Minute)
	again, err := s.AddTrust("abc", "s3cr3t")
	require.NoError(t, err)
	assert.Equal(t, rec, again)
	assert.Len(t, s.List(), 1)

	_, err = s.AddTrust("abc", "other")
	require.Error(t, err)
	assert.True(t, IsCode(err, ErrTrustConflict))

	got, ok := s.Lookup("abc")
	require.True(t, ok)
	assert.Equal(t, "s3cr3t", got.Secret)
}

func TestAddTrust_InvalidArguments(t *testing.T) {
	s := newStore(newFakeClock())

	_, err := s.AddTrust("", "x")
	assert.True(t, IsCode(err, ErrInvalidArgument))
	_, err = s.AddTrust("abc", "")
	assert.True(t, IsCode(err, ErrInvalidArgument))
	_, err = s.AddTrustedServer("  ", "x")
	assert.True(t, IsCode(err, ErrInvalidArgument))
}

func TestAddTrust_ReplacesRevoked(t *testing.T) {
	clock := newFakeClock()
	s := newStore(clock)

	_, err := s.AddTrust("abc", "old")
	require.NoError(t, err)
	_, err = s.Revoke("abc")
	require.NoError(t, err)
	assert.False(t, s.IsTrusted("abc"))

	clock.Advance(time.Minute)
	rec, err := s.AddTrust("abc", "new")
	require.NoError(t, err)
	assert.Equal(t, StateActive, rec.State)
	assert.Equal(t, "new", rec.Secret)
	assert.True(t, rec.RevokedAt.IsZero())
	assert.Equal(t, clock.Now(), rec.AddedAt)
	assert.True(t, s.IsTrusted("abc"))
}

func TestAddTrustedServer(t *testing.T) {
	s := newStore(newFakeClock())

	rec, err := s.AddTrustedServer("https://Cloud.Example.com/index.php/", "k")
	require.NoError(t, err)
	assert.Equal(t, "cloud.example.com", rec.URL)
	assert.Equal(t, HashURL("cloud.example.com"), rec.URLHash)
	assert.True(t, s.IsTrusted(HashURL("http://cloud.example.com")))

	// Adding the same server by hash first, then by URL, fills in the URL.
	hash := HashURL("https://peer.example.org")
	_, err = s.AddTrust(hash, "p")
	require.NoError(t, err)
	rec, err = s.AddTrustedServer("peer.example.org/", "p")
	require.NoError(t, err)
	assert.Equal(t, "peer.example.org", rec.URL)
}

func TestAddTrustedServer_HashMatchesHashURL(t *testing.T) {
	tests := []struct {
		url     string
		wantURL string
	}{
		{url: "https://cloud.example.com", wantURL: "cloud.example.com"},
		// Only one trailing /index.php is stripped.
		{url: "https://x.example.com/index.php/index.php", wantURL: "x.example.com/index.php"},
		{url: "https://y.example.com/index.php/index.php/", wantURL: "y.example.com/index.php"},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			s := newStore(newFakeClock())

			rec, err := s.AddTrustedServer(tt.url, "k")
			require.NoError(t, err)
			assert.Equal(t, tt.wantURL, rec.URL)
			assert.Equal(t, HashURL(tt.url), rec.URLHash)
			assert.True(t, s.IsTrusted(HashURL(tt.url)))
		})
	}
}

func TestHashURL(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{url: "https://cloud.example.com", want: "cloud.example.com"},
		{url: "HTTP://cloud.example.com/", want: "cloud.example.com"},
		{url: " cloud.example.com/index.php ", want: "cloud.example.com"},
		{url: "https://example.com/nextcloud/", want: "example.com/nextcloud"},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeURL(tt.url))
			assert.Equal(t, HashURL(tt.want), HashURL(tt.url))
		})
	}

	// sha1("cloud.example.com") in hex
	assert.Len(t, HashURL("cloud.example.com"), 40)
	assert.NotEqual(t, HashURL("a.example.com"), HashURL("b.example.com"))
}

func TestRevoke(t *testing.T) {
	clock := newFakeClock()
	s := newStore(clock)

	_, err := s.Revoke("missing")
	assert.True(t, IsCode(err, ErrNotFound))

	_, err = s.AddTrust("abc", "s")
	require.NoError(t, err)

	rec, err := s.Revoke("abc")
	require.NoError(t, err)
	assert.Equal(t, StateRevoked, rec.State)
	revokedAt := rec.RevokedAt
	assert.Equal(t, clock.Now(), revokedAt)

	// A second revoke does not reset the grace timer.
	clock.Advance(30 * time.Minute)
	rec, err = s.Revoke("abc")
	require.NoError(t, err)
	assert.Equal(t, revokedAt, rec.RevokedAt)

	got, ok := s.Lookup("abc")
	require.True(t, ok)
	assert.Equal(t, StateRevoked, got.State)
	assert.False(t, s.IsTrusted("abc"))
}

func TestRotateSecret(t *testing.T) {
	s := newStore(newFakeClock())

	_, err := s.RotateSecret("abc", "x")
	assert.True(t, IsCode(err, ErrNotFound))

	_, err = s.AddTrust("abc", "one")
	require.NoError(t, err)

	_, err = s.RotateSecret("abc", "")
	assert.True(t, IsCode(err, ErrInvalidArgument))

	rec, err := s.RotateSecret("abc", "two")
	require.NoError(t, err)
	assert.Equal(t, "two", rec.Secret)

	_, err = s.AddTrust("abc", "two")
	assert.NoError(t, err)

	_, err = s.Revoke("abc")
	require.NoError(t, err)
	_, err = s.RotateSecret("abc", "three")
	assert.True(t, IsCode(err, ErrPreconditionFailed))
}

func TestPurgeExpired(t *testing.T) {
	clock := newFakeClock()
	s := newStore(clock)

	for _, h := range []string{"a", "b", "c"} {
		_, err := s.AddTrust(h, "s")
		require.NoError(t, err)
	}
	_, err := s.Revoke("a")
	require.NoError(t, err)
	clock.Advance(10 * time.Minute)
	_, err = s.Revoke("b")
	require.NoError(t, err)
	revokedB := clock.Now()

	// Nothing has expired yet.
	assert.Empty(t, s.PurgeExpired(clock.Now().Add(45*time.Minute)))

	// Exactly at the boundary the record is kept.
	aExpiry := revokedB.Add(-10 * time.Minute).Add(time.Hour)
	assert.Empty(t, s.PurgeExpired(aExpiry))

	assert.Equal(t, []string{"a"}, s.PurgeExpired(aExpiry.Add(time.Nanosecond)))
	_, ok := s.Lookup("a")
	assert.False(t, ok)

	assert.Equal(t, []string{"b"}, s.PurgeExpired(revokedB.Add(2*time.Hour)))

	// ACTIVE records are never purged.
	assert.Empty(t, s.PurgeExpired(revokedB.Add(1000*time.Hour)))
	assert.True(t, s.IsTrusted("c"))
}

func TestListAndRestore(t *testing.T) {
	clock := newFakeClock()
	s := newStore(clock)

	_, err := s.AddTrust("b", "2")
	require.NoError(t, err)
	_, err = s.AddTrust("a", "1")
	require.NoError(t, err)
	_, err = s.Revoke("b")
	require.NoError(t, err)

	list := s.List()
	require.Len(t, list, 2)
	assert.Equal(t, "a", list[0].URLHash)
	assert.Equal(t, "b", list[1].URLHash)

	restored := newStore(clock)
	require.NoError(t, restored.Restore(list))
	assert.Equal(t, list, restored.List())
	assert.True(t, restored.IsTrusted("a"))
	assert.False(t, restored.IsTrusted("b"))

	err = restored.Restore([]Server{{URLHash: "x"}})
	assert.True(t, IsCode(err, ErrInvalidArgument))
}

func TestConcurrentLookupsDuringPurge(t *testing.T) {
	clock := newFakeClock()
	s := newStore(clock)

	const servers = 50
	for i := 0; i < servers; i++ {
		_, err := s.AddTrust(fmt.Sprintf("srv-%d", i), "s")
		require.NoError(t, err)
	}

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				for i := 0; i < servers; i += 2 {
					// Even servers are revoked below and must never appear
					// trusted once their revocation has been published.
					_ = s.IsTrusted(fmt.Sprintf("srv-%d", i))
				}
			}
		}()
	}

	for i := 0; i < servers; i += 2 {
		_, err := s.Revoke(fmt.Sprintf("srv-%d", i))
		require.NoError(t, err)
	}
	for i := 0; i < servers; i += 2 {
		assert.False(t, s.IsTrusted(fmt.Sprintf("srv-%d", i)))
	}

	purged := s.PurgeExpired(clock.Now().Add(2 * time.Hour))
	assert.Len(t, purged, servers/2)

	close(stop)
	wg.Wait()

	for i := 1; i < servers; i += 2 {
		assert.True(t, s.IsTrusted(fmt.Sprintf("srv-%d", i)))
	}
	assert.Len(t, s.List(), servers/2)
}

func TestDefaultGracePeriod(t *testing.T) {
	assert.Equal(t, 24*time.Hour, New(Config{}).GracePeriod())
}
