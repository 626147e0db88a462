package workerpool

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kittclouds/dice/internal/dicelog"
)

func TestSubmitRunsTasksForSameContextInOrder(t *testing.T) {
	p, err := New(4, dicelog.NewNop())
	require.NoError(t, err)
	defer p.Release()

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	wg.Add(5)
	for i := 0; i < 5; i++ {
		i := i
		err := p.Submit("ctx-1", func() {
			time.Sleep(time.Millisecond)
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			wg.Done()
		})
		require.NoError(t, err)
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestSubmitRunsDifferentContextsConcurrently(t *testing.T) {
	p, err := New(4, dicelog.NewNop())
	require.NoError(t, err)
	defer p.Release()

	var wg sync.WaitGroup
	wg.Add(2)
	started := make(chan struct{}, 2)
	release := make(chan struct{})

	err = p.Submit("ctx-a", func() {
		started <- struct{}{}
		<-release
		wg.Done()
	})
	require.NoError(t, err)
	err = p.Submit("ctx-b", func() {
		started <- struct{}{}
		<-release
		wg.Done()
	})
	require.NoError(t, err)

	<-started
	<-started
	close(release)
	wg.Wait()
}

func TestSubmitRecoversPanickingTask(t *testing.T) {
	p, err := New(2, dicelog.NewNop())
	require.NoError(t, err)
	defer p.Release()

	var wg sync.WaitGroup
	wg.Add(2)
	var ran bool
	err = p.Submit("ctx-1", func() {
		defer wg.Done()
		panic("boom")
	})
	require.NoError(t, err)
	err = p.Submit("ctx-1", func() {
		defer wg.Done()
		ran = true
	})
	require.NoError(t, err)
	wg.Wait()
	assert.True(t, ran)
}
