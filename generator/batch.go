package generator

import "time"

const (
	// DefaultBatchSize is the number of rows requested per oracle call.
	DefaultBatchSize = 40
	// DefaultBatchPause is the wait between consecutive batches.
	DefaultBatchPause = 2 * time.Second
)

// Batch is one request/response cycle over a contiguous slice of rows.
type Batch struct {
	Index       int // 0-based
	Count       int // total batches in the plan
	Size        int
	StartOffset int // 1-based offset of the first row
}

// PlanBatches splits total rows into ceil(total/size) batches; the last one
// carries the remainder.
func PlanBatches(total, size int) []Batch {
	if total <= 0 {
		return nil
	}
	if size <= 0 {
		size = DefaultBatchSize
	}
	count := (total + size - 1) / size
	plan := make([]Batch, 0, count)
	for i, done := 0, 0; i < count; i++ {
		n := min(size, total-done)
		plan = append(plan, Batch{
			Index:       i,
			Count:       count,
			Size:        n,
			StartOffset: i*size + 1,
		})
		done += n
	}
	return plan
}
