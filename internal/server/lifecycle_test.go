package server

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jackzampolin/tabula/internal/store"
	"github.com/jackzampolin/tabula/internal/testutil"
)

func TestServerLifecycle(t *testing.T) {
	port, err := testutil.FindFreePort()
	require.NoError(t, err)

	srv, err := New(Config{
		Host:     "127.0.0.1",
		Port:     port,
		Settings: testSettings(),
		Store:    store.NewMemoryStore(nil),
		Logger:   testutil.Logger(t),
	})
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:"+port, srv.Addr())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- srv.Start(ctx) }()

	url := "http://" + srv.Addr()
	require.NoError(t, testutil.WaitForReady(ctx, url, 10*time.Second))
	assert.True(t, srv.IsRunning())
	assert.NotNil(t, srv.Services())

	resp, err := http.Get(url + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	require.NoError(t, testutil.WaitForShutdown(done, 10*time.Second))
	assert.False(t, srv.IsRunning())
	assert.Nil(t, srv.Services())
}

func TestServerStart_Twice(t *testing.T) {
	port, err := testutil.FindFreePort()
	require.NoError(t, err)

	srv, err := New(Config{Port: port, Settings: testSettings(), Store: store.NewMemoryStore(nil), Logger: testutil.Logger(t)})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- srv.Start(ctx) }()
	require.NoError(t, testutil.WaitForReady(ctx, "http://"+srv.Addr(), 10*time.Second))

	assert.Error(t, srv.Start(ctx))

	cancel()
	require.NoError(t, testutil.WaitForShutdown(done, 10*time.Second))
}
