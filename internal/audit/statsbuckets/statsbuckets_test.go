package statsbuckets

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseThresholds(t *testing.T) {
	got, err := ParseThresholds(" 100, 1000,10000 ")
	require.NoError(t, err)
	require.Equal(t, []int64{100, 1000, 10000}, got)

	got, err = ParseThresholds("")
	require.NoError(t, err)
	require.Nil(t, got)

	_, err = ParseThresholds("100,nope")
	require.Error(t, err)
}

func TestRecordSmallestGE(t *testing.T) {
	b := New([]int64{100, 1000, 10000})
	require.True(t, b.Enabled())

	b.Record(50)     // -> 100 bucket
	b.Record(100)    // -> 100 bucket (size <= threshold)
	b.Record(500)    // -> 1000 bucket
	b.Record(20000)  // -> overflow
	b.Record(10000)  // -> 10000 bucket (boundary)

	snap := b.Snapshot()
	require.Equal(t, "100: 2, 1000: 1, 10000: 1, over: 1", snap)
}

func TestResetPreservesThresholds(t *testing.T) {
	b := New([]int64{10})
	b.Record(5)
	b.Reset()
	require.Equal(t, "10: 0, over: 0", b.Snapshot())
}

func TestDisabledWhenEmpty(t *testing.T) {
	b := New(nil)
	require.False(t, b.Enabled())
	b.Record(123) // must not panic
	require.Equal(t, "", b.Snapshot())
}
