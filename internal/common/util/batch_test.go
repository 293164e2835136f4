package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBatch(t *testing.T) {
	assert.Equal(t, [][]int{{1, 2}, {3, 4}, {5}}, Batch([]int{1, 2, 3, 4, 5}, 2))
	assert.Equal(t, [][]int{{1, 2}, {3, 4}}, Batch([]int{1, 2, 3, 4}, 2))
	assert.Equal(t, [][]string{{"a", "b"}}, Batch([]string{"a", "b"}, 10))
	assert.Empty(t, Batch([]int{}, 3))
	assert.Nil(t, Batch[int](nil, 0))
	assert.Nil(t, Batch([]int{}, -1))
	assert.Equal(t, [][]int{{1, 2, 3}}, Batch([]int{1, 2, 3}, 0))
}
