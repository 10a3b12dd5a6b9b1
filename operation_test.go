//go:build linux

package unio

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOperationQueueFIFO(t *testing.T) {
	queue := operationQueue{}
	ops := make([]*Operation, 5)
	for i := range ops {
		ops[i] = &Operation{}
		queue.pushBack(ops[i])
	}
	for i := range ops {
		require.False(t, queue.empty())
		require.Same(t, ops[i], queue.popFront())
	}
	require.True(t, queue.empty())
}

func TestOperationQueuePushFront(t *testing.T) {
	queue := operationQueue{}
	first := &Operation{}
	second := &Operation{}
	queue.pushBack(first)
	queue.pushFront(second)
	require.Same(t, second, queue.popFront())
	require.Same(t, first, queue.popFront())
}

func TestOperationQueueAppend(t *testing.T) {
	left := operationQueue{}
	right := operationQueue{}
	a, b, c := &Operation{}, &Operation{}, &Operation{}
	left.pushBack(a)
	right.pushBack(b)
	right.pushBack(c)
	left.append(right)
	require.Same(t, a, left.popFront())
	require.Same(t, b, left.popFront())
	require.Same(t, c, left.popFront())
	require.True(t, left.empty())
}

func TestMakeReversed(t *testing.T) {
	// Build a LIFO chain the way producers push: last in at the head.
	ops := make([]*Operation, 4)
	var head *Operation
	for i := range ops {
		ops[i] = &Operation{}
		ops[i].next = head
		head = ops[i]
	}
	queue := makeReversed(head)
	for i := range ops {
		require.Same(t, ops[i], queue.popFront())
	}
	require.True(t, queue.empty())
}

func TestRemoteQueueInactiveSentinel(t *testing.T) {
	queue := remoteQueue{}

	require.True(t, queue.markInactive())
	require.False(t, queue.markInactive())

	first := &Operation{}
	second := &Operation{}
	require.True(t, queue.enqueue(first), "first enqueue against a parked consumer must report it")
	require.False(t, queue.enqueue(second))

	drained := queue.dequeueAll()
	require.Same(t, first, drained.popFront())
	require.Same(t, second, drained.popFront())
	require.True(t, drained.empty())
}

func TestRemoteQueueMarkInactiveOrDequeueAll(t *testing.T) {
	queue := remoteQueue{}

	drained := queue.markInactiveOrDequeueAll()
	require.True(t, drained.empty())

	op := &Operation{}
	require.True(t, queue.enqueue(op))

	drained = queue.markInactiveOrDequeueAll()
	require.Same(t, op, drained.popFront())
	require.True(t, drained.empty())
}

func TestRemoteQueueConcurrentProducers(t *testing.T) {
	queue := remoteQueue{}

	const producers = 32
	wg := new(sync.WaitGroup)
	for i := 0; i < producers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			queue.enqueue(&Operation{})
		}()
	}
	wg.Wait()

	count := 0
	drained := queue.dequeueAll()
	for !drained.empty() {
		drained.popFront()
		count++
	}
	require.Equal(t, producers, count)
}
