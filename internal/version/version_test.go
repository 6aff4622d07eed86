package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	v, err := Parse("v2.10.3")
	require.NoError(t, err)
	assert.Equal(t, New(2, 10, 3), v)
	assert.Equal(t, "v2.10.3", v.String())

	v, err = Parse("WIP")
	require.NoError(t, err)
	assert.True(t, v.IsWIP)
	assert.Equal(t, "WIP", v.String())

	for _, bad := range []string{"", "2.0.0", "v2.0", "v2.0.0.0", "vx.y.z", "v-1.0.0", "v01.0.0", "wip"} {
		_, err := Parse(bad)
		assert.Error(t, err, bad)
	}
}

func TestCompare(t *testing.T) {
	assert.Equal(t, -1, New(1, 9, 9).Compare(New(2, 0, 0)))
	assert.Equal(t, 1, New(2, 0, 1).Compare(New(2, 0, 0)))
	assert.Equal(t, 0, New(2, 0, 0).Compare(New(2, 0, 0)))
	// WIP sorts after every numbered version.
	assert.Equal(t, 1, WIP().Compare(New(999, 0, 0)))
	assert.Equal(t, -1, New(0, 1, 0).Compare(WIP()))
	assert.Equal(t, 0, WIP().Compare(WIP()))
}

func TestPadded(t *testing.T) {
	assert.Equal(t, "v00002.00000.00013", New(2, 0, 13).Padded())
	assert.Equal(t, "WIP", WIP().Padded())
	// Lexicographic order over padded numbered versions agrees with numeric.
	assert.Less(t, New(2, 0, 9).Padded(), New(2, 0, 10).Padded())

	v, err := ParsePadded("v00002.00000.00013")
	require.NoError(t, err)
	assert.Equal(t, New(2, 0, 13), v)
}

func TestMajorString(t *testing.T) {
	assert.Equal(t, "2", New(2, 1, 0).MajorString())
	assert.Equal(t, WIPTag, WIP().MajorString())

	m, err := MajorOf("7")
	require.NoError(t, err)
	assert.Equal(t, 7, m)
	m, err = MajorOf(WIPTag)
	require.NoError(t, err)
	assert.Equal(t, Infinity, m)
}

func TestMajorIncrementFrom(t *testing.T) {
	assert.Equal(t, 1, New(2, 0, 0).MajorIncrementFrom(New(1, 4, 2)))
	assert.Equal(t, 0, New(1, 5, 0).MajorIncrementFrom(New(1, 4, 2)))
	assert.Equal(t, 0, WIP().MajorIncrementFrom(New(1, 0, 0)))
	assert.True(t, New(0, 3, 1).IsMajorZero())
	assert.False(t, WIP().IsMajorZero())
}
