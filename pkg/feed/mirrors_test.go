package feed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/chirprelay/chirprelay/pkg/throttle"
)

const testRSS = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
	<channel>
		<title>acct / @acct</title>
		<link>https://nitter.example/acct</link>
		<item>
			<title>hello world</title>
			<link>https://nitter.example/acct/status/1001#m</link>
			<description>&lt;p&gt;hello world&lt;/p&gt;</description>
			<pubDate>Mon, 02 Jan 2006 15:04:05 -0700</pubDate>
		</item>
	</channel>
</rss>`

func testThrottle() *throttle.Throttle {
	return throttle.New(rate.Inf, 1)
}

func TestPool_Select(t *testing.T) {
	t.Run("first working mirror wins", func(t *testing.T) {
		good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/acct/rss", r.URL.Path)
			w.Header().Set("Content-Type", "application/rss+xml")
			w.Write([]byte(testRSS))
		}))
		defer good.Close()

		pool := NewPool([]string{good.URL}, &http.Client{Timeout: time.Second}, testThrottle(), "test-agent")
		mirror, doc := pool.Select(context.Background(), "acct")
		assert.Equal(t, good.URL, mirror)
		require.NotNil(t, doc)
		assert.Len(t, doc.Items, 1)
	})

	t.Run("falls back past dead mirror and stops at first success", func(t *testing.T) {
		dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer dead.Close()

		good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Write([]byte(testRSS))
		}))
		defer good.Close()

		var beyondCalled atomic.Int32
		beyond := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			beyondCalled.Add(1)
			w.Write([]byte(testRSS))
		}))
		defer beyond.Close()

		pool := NewPool([]string{dead.URL, good.URL, beyond.URL}, &http.Client{Timeout: time.Second}, testThrottle(), "test-agent")
		mirror, doc := pool.Select(context.Background(), "acct")
		assert.Equal(t, good.URL, mirror)
		require.NotNil(t, doc)
		assert.Equal(t, int32(0), beyondCalled.Load(), "no mirror beyond the first success may be probed")
	})

	t.Run("html error page with 200 status rejected", func(t *testing.T) {
		fake := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "text/html")
			w.Write([]byte("<html><body>Instance has been rate limited.</body></html>"))
		}))
		defer fake.Close()

		good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Write([]byte(testRSS))
		}))
		defer good.Close()

		pool := NewPool([]string{fake.URL, good.URL}, &http.Client{Timeout: time.Second}, testThrottle(), "test-agent")
		mirror, doc := pool.Select(context.Background(), "acct")
		assert.Equal(t, good.URL, mirror)
		require.NotNil(t, doc)
	})

	t.Run("all mirrors failing yields none", func(t *testing.T) {
		dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer dead.Close()

		pool := NewPool([]string{dead.URL, "http://127.0.0.1:1"}, &http.Client{Timeout: time.Second}, testThrottle(), "test-agent")
		mirror, doc := pool.Select(context.Background(), "acct")
		assert.Empty(t, mirror)
		assert.Nil(t, doc)
	})

	t.Run("last known good tried first next time", func(t *testing.T) {
		var firstCalls, secondCalls atomic.Int32
		first := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			if firstCalls.Add(1) == 1 {
				w.WriteHeader(http.StatusBadGateway)
				return
			}
			w.Write([]byte(testRSS))
		}))
		defer first.Close()

		second := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			secondCalls.Add(1)
			w.Write([]byte(testRSS))
		}))
		defer second.Close()

		pool := NewPool([]string{first.URL, second.URL}, &http.Client{Timeout: time.Second}, testThrottle(), "test-agent")

		mirror, _ := pool.Select(context.Background(), "acct")
		assert.Equal(t, second.URL, mirror)

		// second call goes straight to the remembered mirror
		mirror, _ = pool.Select(context.Background(), "acct")
		assert.Equal(t, second.URL, mirror)
		assert.Equal(t, int32(1), firstCalls.Load())
		assert.Equal(t, int32(2), secondCalls.Load())
	})
}

func TestPool_Hosts(t *testing.T) {
	pool := NewPool([]string{"https://nitter.net", "https://nitter.poast.org/"}, http.DefaultClient, testThrottle(), "ua")
	assert.Equal(t, []string{"nitter.net", "nitter.poast.org"}, pool.Hosts())
	assert.Equal(t, []string{"https://nitter.net", "https://nitter.poast.org"}, pool.Mirrors())
}
