//go:build shfllock_cachelinesize_64 || shfllock_cachelinesize_128

package opt

// CacheLineSize_ forced by build tag, for cross-compiling to machines whose
// line size differs from what x/sys/cpu reports for the target arch.
const CacheLineSize_ = cacheLineSizeTag
