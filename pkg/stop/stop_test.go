package stop_test

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/brickingsoft/unio/pkg/stop"
	"github.com/stretchr/testify/require"
)

func TestRequestStopDeliversOnce(t *testing.T) {
	source := stop.NewSource()
	token := source.Token()

	fired := 0
	callback := stop.NewCallback(token, func() {
		fired++
	})
	defer callback.Unregister()

	require.False(t, source.RequestStop())
	require.Equal(t, 1, fired)
	require.True(t, source.StopRequested())
	require.True(t, token.StopRequested())

	require.True(t, source.RequestStop())
	require.Equal(t, 1, fired)
}

func TestRegisterAfterStopFiresSynchronously(t *testing.T) {
	source := stop.NewSource()
	source.RequestStop()

	fired := false
	callback := stop.NewCallback(source.Token(), func() {
		fired = true
	})
	require.True(t, fired)
	callback.Unregister()
}

func TestSelfUnregisterInsideCallback(t *testing.T) {
	source := stop.NewSource()

	fired := 0
	var callback *stop.Callback
	callback = stop.NewCallback(source.Token(), func() {
		fired++
		callback.Unregister()
	})

	done := make(chan struct{})
	go func() {
		source.RequestStop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("request stop deadlocked on self-unregistering callback")
	}
	require.Equal(t, 1, fired)
}

func TestConcurrentUnregisterWaitsForCallback(t *testing.T) {
	source := stop.NewSource()

	started := make(chan struct{})
	release := make(chan struct{})
	var finished atomic.Bool

	callback := stop.NewCallback(source.Token(), func() {
		close(started)
		<-release
		finished.Store(true)
	})

	go source.RequestStop()
	<-started

	unregistered := make(chan struct{})
	go func() {
		callback.Unregister()
		close(unregistered)
	}()

	select {
	case <-unregistered:
		t.Fatal("unregister returned while the callback was still running")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case <-unregistered:
	case <-time.After(2 * time.Second):
		t.Fatal("unregister never returned")
	}
	require.True(t, finished.Load())
}

func TestUnregisterBeforeStop(t *testing.T) {
	source := stop.NewSource()

	fired := false
	callback := stop.NewCallback(source.Token(), func() {
		fired = true
	})
	callback.Unregister()

	source.RequestStop()
	require.False(t, fired)
}

func TestManyRegistrants(t *testing.T) {
	source := stop.NewSource()

	var fired atomic.Int64
	wg := new(sync.WaitGroup)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			stop.NewCallback(source.Token(), func() {
				fired.Add(1)
			})
		}()
	}
	wg.Wait()

	source.RequestStop()
	require.Equal(t, int64(16), fired.Load())
}
