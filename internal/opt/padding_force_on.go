//go:build shfllock_enable_padding && !shfllock_disable_padding

package opt

import (
	"unsafe"
)

// CounterStripe_ is one per-CPU reader marker.
// Padding is force-enabled via the shfllock_enable_padding build tag.
// Use: go build -tags=shfllock_enable_padding
type CounterStripe_ struct {
	C int64 // Marker value, accessed atomically
	_ [(CacheLineSize_ - unsafe.Sizeof(struct {
		C int64
	}{})%CacheLineSize_) % CacheLineSize_]byte
}
