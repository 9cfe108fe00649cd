// Package prof collects CPU and heap profiles of host-side tools such as the
// simulated card example.
//
// Profiling is compiled in only with the "profile" build tag:
//
//	go run -tags profile ./examples/sim-card -cpuprofile cpu.prof -dump 0
//
// Without the tag every function is a no-op and [Enabled] reports false, so
// call sites stay in place at no cost.
//
// # CPU Profiling
//
//	stop, err := prof.StartCPU("cpu.prof")
//	if err != nil {
//	    // ...
//	}
//	defer stop()
//
// Only one CPU profile can run at a time; a second [StartCPU] returns
// [ErrCPUProfileActive].
//
// # Heap Profiling
//
// [WriteHeap] forces a garbage collection and writes the live heap, which
// shows what a large sparse [github.com/ardnew/softsd/spi/sim.MemoryMedia]
// actually retains.
package prof
