package typeutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSet(t *testing.T) {
	set := NewSet[uint64](1, 2)
	set.Insert(2, 3)

	assert.Equal(t, 3, set.Len())
	assert.True(t, set.Contain(1, 2, 3))
	assert.False(t, set.Contain(1, 4))

	assert.True(t, set.TryRemove(2))
	assert.False(t, set.TryRemove(2))

	set.Remove(1, 9)
	assert.ElementsMatch(t, []uint64{3}, set.Collect())
}
