package blobfs

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReactor_RunsMessagesInOrder(t *testing.T) {
	r := NewReactor("test")
	r.Start()

	var got []int
	var wg sync.WaitGroup
	wg.Add(100)
	for i := 0; i < 100; i++ {
		require.NoError(t, r.Send(func() {
			got = append(got, i)
			wg.Done()
		}))
	}
	wg.Wait()

	for i, v := range got {
		assert.Equal(t, i, v)
	}

	require.NoError(t, r.Send(r.Stop))
	r.Wait()
}

func TestReactor_StopDiscardsQueued(t *testing.T) {
	r := NewReactor("test")

	ran := 0
	require.NoError(t, r.Send(func() { ran++ }))
	require.NoError(t, r.Send(r.Stop))
	require.NoError(t, r.Send(func() { ran++ }))
	r.Start()

	select {
	case <-r.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("reactor did not stop")
	}

	assert.Equal(t, 1, ran)
	assert.Equal(t, int64(1), r.Dropped())
	assert.ErrorIs(t, r.Send(func() {}), ErrReactorStopped)
}

func TestReactor_SendFromReactor(t *testing.T) {
	r := NewReactor("test")
	r.Start()

	done := make(chan struct{})
	require.NoError(t, r.Send(func() {
		// A message may queue follow-up work on its own reactor.
		_ = r.Send(func() { close(done) })
	}))

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("follow-up message did not run")
	}

	require.NoError(t, r.Send(r.Stop))
	r.Wait()
}
