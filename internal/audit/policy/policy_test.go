package policy

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExtractLegacy(t *testing.T) {
	idx, err := Extract("objects")
	require.NoError(t, err)
	require.Equal(t, 0, idx)
}

func TestExtractIndexed(t *testing.T) {
	idx, err := Extract("objects-3")
	require.NoError(t, err)
	require.Equal(t, 3, idx)
}

func TestExtractRejectsBadNames(t *testing.T) {
	cases := []string{"objects-", "objects-0", "objects-01", "objects-x", "foo", "Objects-1"}
	for _, c := range cases {
		_, err := Extract(c)
		require.Error(t, err, c)
	}
}

func TestDirNameRoundTrip(t *testing.T) {
	require.Equal(t, "objects", DirName(0))
	require.Equal(t, "objects-5", DirName(5))
	idx, err := Extract(DirName(7))
	require.NoError(t, err)
	require.Equal(t, 7, idx)
}

func TestRegistryKnown(t *testing.T) {
	r := NewRegistry([]int{1, 2})
	require.True(t, r.IsKnown(0))
	require.True(t, r.IsKnown(1))
	require.False(t, r.IsKnown(3))
}
