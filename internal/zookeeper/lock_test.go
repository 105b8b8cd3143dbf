package zookeeper

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPredecessorOrdersBySequenceNotName(t *testing.T) {
	children := []string{
		"_c_ffff-lock-0000000003",
		"_c_0000-lock-0000000007",
		"_c_aaaa-lock-0000000005",
	}

	prev, first, err := predecessor(children, "_c_0000-lock-0000000007")
	require.NoError(t, err)
	assert.False(t, first)
	assert.Equal(t, "_c_aaaa-lock-0000000005", prev)

	_, first, err = predecessor(children, "_c_ffff-lock-0000000003")
	require.NoError(t, err)
	assert.True(t, first)
}

func TestPredecessorMissingSelf(t *testing.T) {
	_, _, err := predecessor([]string{"_c_a-lock-0000000001"}, "_c_b-lock-0000000002")
	assert.Error(t, err)
}

func TestSequenceOf(t *testing.T) {
	assert.Equal(t, int64(42), sequenceOf("_c_x-lock-0000000042"))
	assert.Equal(t, int64(-1), sequenceOf("short"))
}
