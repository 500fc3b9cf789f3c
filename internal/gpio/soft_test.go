package gpio_test

import (
	"context"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"codeberg.org/mutker/thermobeacon/internal/gpio"
	"codeberg.org/mutker/thermobeacon/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogIndicator(t *testing.T) {
	var ind gpio.Indicator = gpio.NewLogIndicator("activity", logger.Nop())

	assert.NoError(t, ind.Set(true))
	assert.NoError(t, ind.Set(true))
	assert.NoError(t, ind.Set(false))
	assert.NoError(t, ind.Close())
}

func TestSignalButton(t *testing.T) {
	var src gpio.EdgeSource = gpio.NewSignalButton(syscall.SIGUSR1)
	defer src.Close()

	var edges atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- src.Watch(ctx, func() { edges.Add(1) })
	}()

	require.NoError(t, syscall.Kill(syscall.Getpid(), syscall.SIGUSR1))
	require.Eventually(t, func() bool { return edges.Load() == 1 }, time.Second, time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Watch did not return")
	}
}
