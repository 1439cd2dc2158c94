//go:build !(386 || arm || mips || mipsle || wasm) && !shfllock_disable_padding && !shfllock_enable_padding

package opt

import (
	"unsafe"
)

// CounterStripe_ is one per-CPU reader marker.
// Padding is enabled for every 64-bit architecture: a distributed reader
// lock only pays off when each CPU writes its own cache line.
type CounterStripe_ struct {
	C int64 // Marker value, accessed atomically
	_ [(CacheLineSize_ - unsafe.Sizeof(struct {
		C int64
	}{})%CacheLineSize_) % CacheLineSize_]byte
}
