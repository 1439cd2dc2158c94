//go:build shfllock_debug

package opt

// Debug_ enables contract assertions on the lock hot paths
// (unlock of an unheld lock, node reuse while queued).
// Use: go build -tags=shfllock_debug
const Debug_ = true
