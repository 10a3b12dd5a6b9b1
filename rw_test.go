//go:build linux

package unio_test

import (
	"bytes"
	"crypto/rand"
	"testing"
	"time"

	"github.com/brickingsoft/unio"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func streamPair(t *testing.T, c *unio.Context) (reader *unio.AsyncFile, writerFd int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	require.NoError(t, err)
	reader = unio.NewAsyncFile(c, fds[0])
	writerFd = fds[1]
	return
}

func TestFullyReadReassemblesPartials(t *testing.T) {
	c, cleanup := startContext(t)
	defer cleanup()

	reader, writerFd := streamPair(t, c)
	defer reader.Close()

	const total = 64 * 1024
	const chunk = 1024
	payload := make([]byte, total)
	_, err := rand.Read(payload)
	require.NoError(t, err)

	go func() {
		for sent := 0; sent < total; {
			n, writeErr := unix.Write(writerFd, payload[sent:sent+chunk])
			if writeErr == unix.EAGAIN {
				time.Sleep(time.Millisecond)
				continue
			}
			if writeErr != nil {
				return
			}
			sent += n
			time.Sleep(time.Millisecond)
		}
		_ = unix.Close(writerFd)
	}()

	got := make([]byte, total)
	done := make(chan struct{})
	unio.AsyncRead(reader, got, func(err error, n int) {
		require.NoError(t, err)
		require.Equal(t, total, n)
		close(done)
	})

	select {
	case <-done:
		require.True(t, bytes.Equal(payload, got))
	case <-time.After(30 * time.Second):
		t.Fatal("fully read never completed")
	}
}

func TestFullyReadOnClosedPeerReportsNoMessage(t *testing.T) {
	c, cleanup := startContext(t)
	defer cleanup()

	reader, writerFd := streamPair(t, c)
	defer reader.Close()
	require.NoError(t, unix.Close(writerFd))

	done := make(chan struct{})
	buf := make([]byte, 512)
	unio.AsyncRead(reader, buf, func(err error, n int) {
		require.True(t, unio.IsNoMessage(err))
		require.Zero(t, n)
		close(done)
	})

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("end of stream never reported")
	}
}

func TestReadSomeReturnsAvailable(t *testing.T) {
	c, cleanup := startContext(t)
	defer cleanup()

	reader, writerFd := streamPair(t, c)
	defer reader.Close()

	_, err := unix.Write(writerFd, []byte("abc"))
	require.NoError(t, err)

	done := make(chan int, 1)
	buf := make([]byte, 512)
	unio.AsyncReadSome(reader, buf, func(err error, n int) {
		require.NoError(t, err)
		done <- n
	})

	select {
	case n := <-done:
		require.Equal(t, 3, n)
		require.Equal(t, "abc", string(buf[:3]))
	case <-time.After(5 * time.Second):
		t.Fatal("read some never completed")
	}
	require.NoError(t, unix.Close(writerFd))
}

func TestFullyWriteDeliversAll(t *testing.T) {
	c, cleanup := startContext(t)
	defer cleanup()

	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	require.NoError(t, err)
	writer := unio.NewAsyncFile(c, fds[0])
	defer writer.Close()

	const total = 256 * 1024
	payload := make([]byte, total)
	_, err = rand.Read(payload)
	require.NoError(t, err)

	done := make(chan struct{})
	unio.AsyncWrite(writer, payload, func(err error, n int) {
		require.NoError(t, err)
		require.Equal(t, total, n)
		close(done)
	})

	got := make([]byte, 0, total)
	buf := make([]byte, 8192)
	for len(got) < total {
		n, readErr := unix.Read(fds[1], buf)
		if readErr == unix.EAGAIN {
			time.Sleep(time.Millisecond)
			continue
		}
		require.NoError(t, readErr)
		got = append(got, buf[:n]...)
	}

	select {
	case <-done:
	case <-time.After(30 * time.Second):
		t.Fatal("fully write never completed")
	}
	require.True(t, bytes.Equal(payload, got))
	require.NoError(t, unix.Close(fds[1]))
}
