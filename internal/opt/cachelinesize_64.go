//go:build shfllock_cachelinesize_64

package opt

const cacheLineSizeTag uintptr = 64
