//go:build linux

package unio_test

import (
	"runtime"
	"sync/atomic"
	"testing"
	"time"

	"github.com/brickingsoft/unio"
	"github.com/brickingsoft/unio/pkg/stop"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

// startContext runs a context on its own goroutine and returns it with a
// cleanup that stops the loop and closes the context.
func startContext(t *testing.T, options ...unio.Option) (*unio.Context, func()) {
	t.Helper()
	c, err := unio.New(options...)
	require.NoError(t, err)

	source := stop.NewSource()
	done := make(chan error, 1)
	go func() {
		done <- c.Run(source.Token())
	}()

	cleanup := func() {
		source.RequestStop()
		select {
		case runErr := <-done:
			require.NoError(t, runErr)
		case <-time.After(5 * time.Second):
			t.Fatal("loop did not stop")
		}
		require.NoError(t, c.Close())
	}
	return c, cleanup
}

func testGoroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	var id uint64
	for i := len("goroutine "); i < n; i++ {
		if buf[i] < '0' || buf[i] > '9' {
			break
		}
		id = id*10 + uint64(buf[i]-'0')
	}
	return id
}

func TestRunStops(t *testing.T) {
	c, err := unio.New()
	require.NoError(t, err)

	source := stop.NewSource()
	done := make(chan error, 1)
	go func() {
		done <- c.Run(source.Token())
	}()

	time.Sleep(20 * time.Millisecond)
	source.RequestStop()

	select {
	case runErr := <-done:
		require.NoError(t, runErr)
	case <-time.After(5 * time.Second):
		t.Fatal("loop did not observe stop")
	}
	require.NoError(t, c.Close())
}

func TestRunWithStopAlreadyRequested(t *testing.T) {
	c, err := unio.New()
	require.NoError(t, err)

	source := stop.NewSource()
	source.RequestStop()

	done := make(chan error, 1)
	go func() {
		done <- c.Run(source.Token())
	}()

	select {
	case runErr := <-done:
		require.NoError(t, runErr)
	case <-time.After(5 * time.Second):
		t.Fatal("loop did not observe a pre-requested stop")
	}
	require.NoError(t, c.Close())
}

func TestPostRunsOnLoopGoroutine(t *testing.T) {
	c, cleanup := startContext(t)
	defer cleanup()

	testID := testGoroutineID()

	type capture struct {
		id    uint64
		count int
	}
	captured := make(chan capture, 1)
	count := 0
	unio.Post(c, func() {
		count++
		captured <- capture{id: testGoroutineID(), count: count}
	})

	select {
	case got := <-captured:
		require.NotEqual(t, testID, got.id, "post must run on the loop goroutine")
		require.Equal(t, 1, got.count)
	case <-time.After(5 * time.Second):
		t.Fatal("posted callable never ran")
	}

	// A second post from the loop itself lands on the same goroutine.
	second := make(chan uint64, 1)
	unio.Post(c, func() {
		loopID := testGoroutineID()
		unio.Post(c, func() {
			second <- testGoroutineID() - loopID
		})
	})
	select {
	case diff := <-second:
		require.Zero(t, diff)
	case <-time.After(5 * time.Second):
		t.Fatal("chained post never ran")
	}
}

func TestRingFullBackpressure(t *testing.T) {
	c, cleanup := startContext(t)
	defer cleanup()

	file, err := unio.OpenRandomAccessFile(c, "/dev/null", unix.O_WRONLY, 0)
	require.NoError(t, err)
	defer file.Close()

	// More concurrent operations than the completion ring holds; overflow
	// operations park on the pending-IO queue and complete later.
	const total = 600
	payload := []byte("x")
	done := make(chan struct{})
	var completed atomic.Int64
	for i := 0; i < total; i++ {
		unio.AsyncWriteSomeAt(file, 0, payload, func(err error, n int) {
			require.NoError(t, err)
			if completed.Add(1) == total {
				close(done)
			}
		})
	}

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatalf("only %d of %d operations completed", completed.Load(), total)
	}
}
