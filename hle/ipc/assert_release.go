//go:build !hledebug

package ipc

// DebugAssertions reports whether host defects panic instead of being
// recorded as errors.
const DebugAssertions = false
