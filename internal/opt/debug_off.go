//go:build !shfllock_debug

package opt

// Debug_ is false in regular builds; hot paths skip contract assertions.
const Debug_ = false
