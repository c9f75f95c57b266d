package generator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlanBatches(t *testing.T) {
	tests := []struct {
		name    string
		total   int
		size    int
		sizes   []int
		offsets []int
	}{
		{"single partial", 31, 40, []int{31}, []int{1}},
		{"remainder", 70, 40, []int{40, 30}, []int{1, 41}},
		{"exact", 80, 40, []int{40, 40}, []int{1, 41}},
		{"one row", 1, 40, []int{1}, []int{1}},
		{"small batches", 52, 10, []int{10, 10, 10, 10, 10, 2}, []int{1, 11, 21, 31, 41, 51}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan := PlanBatches(tt.total, tt.size)
			require.Len(t, plan, len(tt.sizes))
			for i, b := range plan {
				assert.Equal(t, i, b.Index)
				assert.Equal(t, len(tt.sizes), b.Count)
				assert.Equal(t, tt.sizes[i], b.Size, "batch %d size", i)
				assert.Equal(t, tt.offsets[i], b.StartOffset, "batch %d offset", i)
			}
		})
	}
}

func TestPlanBatches_Properties(t *testing.T) {
	for total := 1; total <= 130; total++ {
		for _, size := range []int{1, 7, 40, 200} {
			plan := PlanBatches(total, size)
			require.Len(t, plan, (total+size-1)/size)
			sum := 0
			for i, b := range plan {
				sum += b.Size
				assert.Equal(t, i*size+1, b.StartOffset)
				if i < len(plan)-1 {
					assert.Equal(t, size, b.Size)
				}
			}
			assert.Equal(t, total, sum, "total=%d size=%d", total, size)
		}
	}
}

func TestPlanBatches_Degenerate(t *testing.T) {
	assert.Empty(t, PlanBatches(0, 40))
	assert.Empty(t, PlanBatches(-3, 40))
	plan := PlanBatches(41, 0)
	require.Len(t, plan, 2)
	assert.Equal(t, DefaultBatchSize, plan[0].Size)
}
