//go:build linux

package kernel_test

import (
	"testing"

	"github.com/brickingsoft/unio/pkg/kernel"
	"github.com/stretchr/testify/require"
)

func TestGet(t *testing.T) {
	v := kernel.Get()
	require.True(t, v.Valid())
	require.Greater(t, v.Major, 0)
	t.Log(v)
}

func TestGTE(t *testing.T) {
	v := kernel.Version{Major: 5, Minor: 19}
	require.True(t, v.GTE(5, 19))
	require.True(t, v.GTE(5, 18))
	require.True(t, v.GTE(4, 20))
	require.False(t, v.GTE(5, 20))
	require.False(t, v.GTE(6, 0))
}
