//go:build (386 || arm || mips || mipsle || wasm) && !shfllock_disable_padding && !shfllock_enable_padding

package opt

// CounterStripe_ is one per-CPU reader marker.
// Padding is disabled by default on 32-bit architectures (386, arm, mips,
// mipsle, wasm), which rarely come in multi-socket configurations.
type CounterStripe_ struct {
	C int64 // Marker value, accessed atomically
}
