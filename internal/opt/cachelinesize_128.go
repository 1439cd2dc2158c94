//go:build shfllock_cachelinesize_128 && !shfllock_cachelinesize_64

package opt

const cacheLineSizeTag uintptr = 128
