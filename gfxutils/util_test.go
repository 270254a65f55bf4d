package gfxutils

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCheckPow2(t *testing.T) {
	require.NoError(t, CheckPow2(256, "alignment"))
	require.NoError(t, CheckPow2(1, "alignment"))

	err := CheckPow2(48, "alignment")
	require.Error(t, err)
	require.ErrorIs(t, err, PowerOfTwoError)
}

func TestAlignUp(t *testing.T) {
	require.Equal(t, 256, AlignUp(80, 256))
	require.Equal(t, 256, AlignUp(256, 256))
	require.Equal(t, 512, AlignUp(257, 256))
	require.Equal(t, 0, AlignUp(0, 256))
}

func TestAlignDown(t *testing.T) {
	require.Equal(t, 0, AlignDown(80, 256))
	require.Equal(t, 256, AlignDown(257, 256))
	require.Equal(t, 256, AlignDown(256, 256))
}

func TestNextPow2(t *testing.T) {
	require.Equal(t, 1, NextPow2(0))
	require.Equal(t, 1, NextPow2(1))
	require.Equal(t, 2, NextPow2(2))
	require.Equal(t, 4, NextPow2(3))
	require.Equal(t, 1024, NextPow2(1000))
	require.Equal(t, 131072, NextPow2(65537))
}
