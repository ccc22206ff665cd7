package httpserver

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wealthcheck/internal/platform/config"
)

func TestNew_AppliesWriteTimeout(t *testing.T) {
	srv := New(config.Server{Addr: ":0", WriteTimeout: time.Minute}, http.NotFoundHandler())
	assert.Equal(t, time.Minute, srv.WriteTimeout)

	srv = New(config.Server{Addr: ":0"}, http.NotFoundHandler())
	assert.Equal(t, 5*time.Minute, srv.WriteTimeout)
}

func TestServe_StopsOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	srv := New(config.Server{Addr: addr}, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Serve(ctx, srv, time.Second, slog.New(slog.DiscardHandler)) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr)
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusNoContent
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestServe_ReturnsListenError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	srv := New(config.Server{Addr: ln.Addr().String()}, http.NotFoundHandler())
	err = Serve(context.Background(), srv, time.Second, slog.New(slog.DiscardHandler))
	assert.Error(t, err)
}
