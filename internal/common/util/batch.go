package util

// Batch splits elements into consecutive slices of at most batchSize elements.
// The returned slices share the backing array of elements.
func Batch[T any](elements []T, batchSize int) [][]T {
	if len(elements) == 0 {
		return nil
	}
	if batchSize <= 0 {
		batchSize = len(elements)
	}
	batches := make([][]T, 0, (len(elements)+batchSize-1)/batchSize)
	for start := 0; start < len(elements); start += batchSize {
		end := start + batchSize
		if end > len(elements) {
			end = len(elements)
		}
		batches = append(batches, elements[start:end])
	}
	return batches
}
