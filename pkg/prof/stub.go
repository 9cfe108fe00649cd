//go:build !profile

package prof

import "errors"

// ErrCPUProfileActive indicates CPU profiling is already active. Stubs never
// return it.
var ErrCPUProfileActive = errors.New("cpu profile already active")

// Enabled reports whether profiling is compiled in.
func Enabled() bool {
	return false
}

// StartCPU is a no-op when built without the "profile" tag.
func StartCPU(_ string) (stop func() error, err error) {
	return func() error { return nil }, nil
}

// WriteHeap is a no-op when built without the "profile" tag.
func WriteHeap(_ string) error {
	return nil
}
