package parallel

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParallelizeCoversEveryItemOnce(t *testing.T) {
	for _, items := range []int{1, 2, 7, 64, 1001} {
		hits := make([]int32, items)
		Parallelize(items, func(start, end int) {
			for i := start; i < end; i++ {
				atomic.AddInt32(&hits[i], 1)
			}
		})
		for i, h := range hits {
			assert.Equal(t, int32(1), h, "items=%d index=%d", items, i)
		}
	}
}

func TestParallelizeZeroItems(t *testing.T) {
	called := false
	Parallelize(0, func(start, end int) { called = true })
	assert.False(t, called)
}

func TestParallelizeWithThresholdRunsInline(t *testing.T) {
	var calls int32
	ParallelizeWithThreshold(3, 4, func(start, end int) {
		atomic.AddInt32(&calls, 1)
		assert.Equal(t, 0, start)
		assert.Equal(t, 3, end)
	})
	assert.Equal(t, int32(1), calls)
}

func TestSetMaxWorkers(t *testing.T) {
	defer SetMaxWorkers(0)

	SetMaxWorkers(2)
	assert.Equal(t, 2, Workers())

	var ranges int32
	Parallelize(10, func(start, end int) { atomic.AddInt32(&ranges, 1) })
	assert.Equal(t, int32(2), ranges)

	SetMaxWorkers(-3)
	assert.Greater(t, Workers(), 0)
}
