package types

// SliceOf converts a slice of type F to a slice of type T using the provided
// conversion function. It returns a new slice of type T with the converted
// values.
func SliceOf[F, T any](from []F, conv func(F) T) []T {
	to := make([]T, len(from))
	for i, v := range from {
		to[i] = conv(v)
	}
	return to
}

// Matrix converts a two-dimensional slice of type F into one of type T,
// applying conv to every element.
func Matrix[F, T any](from [][]F, conv func(F) T) [][]T {
	to := make([][]T, len(from))
	for i, row := range from {
		to[i] = SliceOf(row, conv)
	}
	return to
}
