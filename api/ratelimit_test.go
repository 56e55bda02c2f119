package api

import (
	"net/http"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLimiter(now *time.Time) *signatureLimiter {
	rl := newSignatureLimiter()
	rl.now = func() time.Time { return *now }
	return rl
}

func TestSignatureLimiter_AllowsBeforeThreshold(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	rl := newTestLimiter(&now)

	for i := 0; i < sigMaxFailures-1; i++ {
		rl.recordFailure("203.0.113.5")
		blocked, _ := rl.check("203.0.113.5")
		assert.False(t, blocked, "should not block before reaching the threshold")
	}
}

func TestSignatureLimiter_BlocksAfterThreshold(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	rl := newTestLimiter(&now)

	for i := 0; i < sigMaxFailures; i++ {
		rl.recordFailure("203.0.113.5")
	}
	blocked, retryAfter := rl.check("203.0.113.5")
	require.True(t, blocked)
	assert.Equal(t, sigBaseLockout, retryAfter)

	// Lockout lapses with time.
	now = now.Add(sigBaseLockout + time.Second)
	blocked, _ = rl.check("203.0.113.5")
	assert.False(t, blocked)
}

func TestSignatureLimiter_ExponentialBackoffCapped(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	rl := newTestLimiter(&now)

	for i := 0; i < sigMaxFailures+1; i++ {
		rl.recordFailure("203.0.113.5")
	}
	_, second := rl.check("203.0.113.5")
	assert.Equal(t, 2*sigBaseLockout, second)

	for i := 0; i < 20; i++ {
		rl.recordFailure("203.0.113.5")
	}
	_, capped := rl.check("203.0.113.5")
	assert.Equal(t, sigMaxLockout, capped)
}

func TestSignatureLimiter_SuccessClearsAndIsolates(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	rl := newTestLimiter(&now)

	for i := 0; i < sigMaxFailures; i++ {
		rl.recordFailure("203.0.113.5")
	}
	blocked, _ := rl.check("198.51.100.1")
	assert.False(t, blocked, "other sources are unaffected")

	rl.recordSuccess("203.0.113.5")
	blocked, _ = rl.check("203.0.113.5")
	assert.False(t, blocked)
}

func TestSignatureLimiter_SweepRemovesExpired(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	rl := newTestLimiter(&now)

	rl.recordFailure("203.0.113.5")
	now = now.Add(attemptExpiry + time.Minute)
	rl.recordFailure("198.51.100.1")
	rl.sweep()

	rl.mu.Lock()
	defer rl.mu.Unlock()
	assert.NotContains(t, rl.attempts, "203.0.113.5")
	assert.Contains(t, rl.attempts, "198.51.100.1")
}

func TestRetryAfterString(t *testing.T) {
	assert.Equal(t, "1", retryAfterString(200*time.Millisecond))
	assert.Equal(t, "90", retryAfterString(90*time.Second))
}

func TestExtractClientIPWithTrustedProxies(t *testing.T) {
	trustedCIDR := netip.MustParsePrefix("10.0.0.0/8")

	tests := []struct {
		name           string
		remoteAddr     string
		headers        map[string]string
		trustedProxies []netip.Prefix
		want           string
	}{
		{
			name:       "remote ipv4",
			remoteAddr: "192.168.1.1:12345",
			want:       "192.168.1.1",
		},
		{
			name:       "remote ipv6",
			remoteAddr: "[::1]:8080",
			want:       "::1",
		},
		{
			name:       "no trusted proxies ignores XFF",
			remoteAddr: "192.168.1.1:80",
			headers:    map[string]string{"X-Forwarded-For": "198.51.100.25"},
			want:       "192.168.1.1",
		},
		{
			name:           "trusted proxy honors XFF",
			remoteAddr:     "10.0.0.1:80",
			headers:        map[string]string{"X-Forwarded-For": "unknown, 198.51.100.25, 203.0.113.9"},
			trustedProxies: []netip.Prefix{trustedCIDR},
			want:           "198.51.100.25",
		},
		{
			name:           "trusted proxy honors Forwarded",
			remoteAddr:     "10.0.0.1:80",
			headers:        map[string]string{"Forwarded": `for="[2001:db8::1]:4711";proto=https`},
			trustedProxies: []netip.Prefix{trustedCIDR},
			want:           "2001:db8::1",
		},
		{
			name:           "trusted proxy honors X-Real-IP",
			remoteAddr:     "10.0.0.1:80",
			headers:        map[string]string{"X-Real-IP": "203.0.113.11"},
			trustedProxies: []netip.Prefix{trustedCIDR},
			want:           "203.0.113.11",
		},
		{
			name:           "untrusted peer ignores headers",
			remoteAddr:     "192.168.1.1:80",
			headers:        map[string]string{"X-Forwarded-For": "198.51.100.25", "X-Real-IP": "198.51.100.26"},
			trustedProxies: []netip.Prefix{trustedCIDR},
			want:           "192.168.1.1",
		},
		{
			name:           "trusted proxy with no headers falls back to remote",
			remoteAddr:     "10.0.0.1:80",
			trustedProxies: []netip.Prefix{trustedCIDR},
			want:           "10.0.0.1",
		},
		{
			name:       "empty when nothing parseable",
			remoteAddr: "not-a-hostport",
			want:       "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &http.Request{RemoteAddr: tt.remoteAddr, Header: make(http.Header)}
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, extractClientIPWithProxies(r, tt.trustedProxies))
		})
	}
}

func TestWithTrustedProxies(t *testing.T) {
	t.Run("valid CIDRs and bare IPs", func(t *testing.T) {
		opt, err := WithTrustedProxies([]string{"10.0.0.0/8", "172.16.0.1", "::1"})
		require.NoError(t, err)
		a := &API{}
		opt(a)
		require.Len(t, a.trustedProxies, 3)
		assert.Equal(t, 32, a.trustedProxies[1].Bits())
		assert.Equal(t, 128, a.trustedProxies[2].Bits())
	})

	t.Run("invalid entry returns error", func(t *testing.T) {
		_, err := WithTrustedProxies([]string{"10.0.0.0/8", "garbage"})
		require.Error(t, err)
	})
}
