//go:build linux

package liburing_test

import (
	"testing"

	"github.com/brickingsoft/unio/pkg/liburing"
	"github.com/stretchr/testify/require"
)

func TestSetup(t *testing.T) {
	ring, err := liburing.Setup(8)
	require.NoError(t, err)
	defer ring.Close()

	require.GreaterOrEqual(t, ring.SQEntries(), uint32(8))
	require.GreaterOrEqual(t, ring.CQEntries(), ring.SQEntries())
	require.Greater(t, ring.Fd(), 0)
}

func TestNopRoundTrip(t *testing.T) {
	ring, err := liburing.Setup(8)
	require.NoError(t, err)
	defer ring.Close()

	sqe := ring.AcquireSQE()
	require.NotNil(t, sqe)
	sqe.OpCode = liburing.IORING_OP_NOP
	sqe.SetData64(42)
	ring.CommitSQE()

	submitted, err := ring.Enter(1, 1, liburing.IORING_ENTER_GETEVENTS)
	require.NoError(t, err)
	require.Equal(t, uint32(1), submitted)

	head := ring.CQHead()
	tail := ring.CQTail()
	require.Equal(t, uint32(1), tail-head)

	cqe := ring.CQE(head)
	require.Equal(t, uint64(42), cqe.UserData)
	require.GreaterOrEqual(t, cqe.Res, int32(0))
	ring.CQAdvanceTo(tail)
}

func TestAcquireUntilFull(t *testing.T) {
	ring, err := liburing.Setup(8)
	require.NoError(t, err)
	defer ring.Close()

	entries := ring.SQEntries()
	for i := uint32(0); i < entries; i++ {
		sqe := ring.AcquireSQE()
		require.NotNil(t, sqe)
		sqe.OpCode = liburing.IORING_OP_NOP
		ring.CommitSQE()
	}
	require.Nil(t, ring.AcquireSQE())

	submitted, err := ring.Enter(entries, entries, liburing.IORING_ENTER_GETEVENTS)
	require.NoError(t, err)
	require.Equal(t, entries, submitted)
	require.NotNil(t, ring.AcquireSQE())
}
