package transcoder

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryShutdown(t *testing.T) {
	registry := NewRegistry(100 * time.Millisecond)

	handles := []*fakeHandle{
		newFakeHandle(true),
		newFakeHandle(true),
		newFakeHandle(false), // never exits cooperatively
	}
	for _, h := range handles {
		require.NoError(t, registry.Add(h))
	}
	require.Equal(t, 3, registry.Len())

	done := make(chan error, 1)
	go func() {
		done <- registry.Shutdown()
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("shutdown did not complete")
	}

	// every process must be accounted for
	for i, h := range handles {
		select {
		case <-h.Done():
		default:
			t.Errorf("process %d still running after shutdown", i)
		}
	}

	_, kills := handles[2].counts()
	assert.Equal(t, 1, kills)
	assert.Equal(t, 0, registry.Len())
}

func TestRegistryShutdownIsConcurrent(t *testing.T) {
	registry := NewRegistry(200 * time.Millisecond)

	for i := 0; i < 5; i++ {
		require.NoError(t, registry.Add(newFakeHandle(false)))
	}

	start := time.Now()
	require.NoError(t, registry.Shutdown())

	// sequential sweep would take at least 5 grace periods
	assert.Less(t, time.Since(start), time.Second)
}

func TestRegistryAddAfterShutdown(t *testing.T) {
	registry := NewRegistry(time.Second)
	require.NoError(t, registry.Shutdown())

	h := newFakeHandle(false)
	err := registry.Add(h)
	assert.True(t, errors.Is(err, ErrRegistryClosed))

	select {
	case <-h.Done():
	default:
		t.Error("process registered after shutdown must be killed")
	}
	assert.Equal(t, 0, registry.Len())
}

func TestRegistryRemove(t *testing.T) {
	registry := NewRegistry(time.Second)

	h := newFakeHandle(true)
	require.NoError(t, registry.Add(h))
	registry.Remove(h)
	registry.Remove(h)

	assert.Equal(t, 0, registry.Len())

	stops, _ := h.counts()
	require.NoError(t, registry.Shutdown())
	stopsAfter, _ := h.counts()
	assert.Equal(t, stops, stopsAfter, "removed process must not be swept")
}
