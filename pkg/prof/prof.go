//go:build profile

package prof

import (
	"errors"
	"os"
	"runtime"
	"runtime/pprof"
	"sync"
)

// ErrCPUProfileActive indicates CPU profiling is already active.
var ErrCPUProfileActive = errors.New("cpu profile already active")

var (
	// cpuMutex protects cpuActive.
	cpuMutex  sync.Mutex
	cpuActive bool
)

// Enabled reports whether profiling is compiled in.
func Enabled() bool {
	return true
}

// StartCPU starts CPU profiling into the file at path. The returned function
// stops profiling and closes the file; it may be called more than once.
func StartCPU(path string) (stop func() error, err error) {
	cpuMutex.Lock()
	defer cpuMutex.Unlock()

	if cpuActive {
		return nil, ErrCPUProfileActive
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	if err := pprof.StartCPUProfile(f); err != nil {
		f.Close()
		return nil, err
	}
	cpuActive = true

	var once sync.Once
	return func() error {
		var closeErr error
		once.Do(func() {
			cpuMutex.Lock()
			defer cpuMutex.Unlock()
			pprof.StopCPUProfile()
			cpuActive = false
			closeErr = f.Close()
		})
		return closeErr
	}, nil
}

// WriteHeap writes a heap profile of live objects to the file at path.
func WriteHeap(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	runtime.GC()
	if err := pprof.WriteHeapProfile(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
