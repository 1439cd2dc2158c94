//go:build shfllock_disable_padding

package opt

// CounterStripe_ is one per-CPU reader marker.
// Padding is force-disabled via the shfllock_disable_padding build tag.
// Use: go build -tags=shfllock_disable_padding
type CounterStripe_ struct {
	C int64 // Marker value, accessed atomically
}
