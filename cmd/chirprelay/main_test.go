package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chirprelay/chirprelay/pkg/config"
)

func TestRun_ServerStartStop(t *testing.T) {
	// mirror that never serves a feed, the sweep just logs and moves on
	mirror := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer mirror.Close()

	port := 41000 + time.Now().Nanosecond()%10000

	cfg := &config.Config{
		Mirrors: []string{mirror.URL},
		Destinations: []config.DestinationConfig{
			{Name: "team", Webhook: "https://discord.com/api/webhooks/1/test", Accounts: []string{"alice"}},
		},
	}
	cfg.Server.Enabled = true
	cfg.Server.Listen = fmt.Sprintf("127.0.0.1:%d", port)
	cfg.Server.Timeout = 5 * time.Second
	cfg.Poll.Interval = time.Minute
	cfg.Poll.Timeout = time.Second
	cfg.Media.Timeout = time.Second
	cfg.Ledger.Dir = t.TempDir()

	ctx, cancel := context.WithCancel(context.Background())
	serverErr := make(chan error, 1)
	go func() { serverErr <- run(ctx, cfg, false) }()

	// wait for the status server to come up
	var resp *http.Response
	var err error
	for i := 0; i < 100; i++ {
		resp, err = http.Get(fmt.Sprintf("http://127.0.0.1:%d/ping", port))
		if err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "pong", string(body))

	cancel()
	select {
	case err := <-serverErr:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Error("shutdown timeout")
	}
}

func TestRun_BadLedgerDir(t *testing.T) {
	cfg := &config.Config{
		Mirrors: []string{"https://nitter.example"},
		Destinations: []config.DestinationConfig{
			{Name: "team", Webhook: "https://discord.com/api/webhooks/1/test", Accounts: []string{"alice"}},
		},
	}
	cfg.Ledger.Dir = "/proc/no-such-place/ledger"

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	err := run(ctx, cfg, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "init ledger")
}

func TestSetupLog(t *testing.T) {
	t.Run("debug mode enabled", func(t *testing.T) {
		setupLog(true)
	})

	t.Run("debug mode disabled", func(t *testing.T) {
		setupLog(false)
	})

	t.Run("with secrets", func(t *testing.T) {
		setupLog(true, "https://discord.com/api/webhooks/1/secret")
	})
}
