// Package slice holds the few generic helpers package slices lacks.
package slice

// Map returns fn applied to every element. A nil input gives an empty, non-nil slice,
// so JSON encodes it as [].
func Map[T any, U any](input []T, fn func(T) U) []U {
	result := make([]U, len(input))
	for i, v := range input {
		result[i] = fn(v)
	}
	return result
}

func Count[T any](input []T, pred func(T) bool) int {
	n := 0
	for _, v := range input {
		if pred(v) {
			n++
		}
	}
	return n
}
