package batch

// Chunk splits items into consecutive chunks of at most size elements.
// Order is preserved and every element lands in exactly one chunk. The
// chunks alias items; each is capped so appending to one cannot overwrite
// its neighbour.
//
// Chunk panics if size < 1. Configs are validated long before chunking, so
// a bad size here is a programming error.
func Chunk[T any](items []T, size int) [][]T {
	if size < 1 {
		panic("batch: chunk size must be >= 1")
	}
	if len(items) == 0 {
		return nil
	}

	out := make([][]T, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		out = append(out, items[start:end:end])
	}
	return out
}
