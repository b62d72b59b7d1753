package asan_test

import (
	"fmt"

	"github.com/kolkov/heapguard/asan"
)

// Example demonstrates diagnosing an access one byte past the end of an
// allocation.
func Example() {
	rt, err := asan.NewRuntime()
	if err != nil {
		panic(err)
	}

	addr, _ := rt.Allocate(100)

	report, ok := rt.Diagnose(addr + 100)
	if ok {
		fmt.Println(report.ErrorType)
	}

	// Output:
	// heap-buffer-overflow
}

// Example_useAfterFree demonstrates that freed blocks keep diagnosing
// correctly because they are quarantined, not recycled.
func Example_useAfterFree() {
	rt, err := asan.NewRuntime()
	if err != nil {
		panic(err)
	}

	addr, _ := rt.Allocate(64)
	rt.Free(addr)

	report, ok := rt.Diagnose(addr)
	if ok {
		fmt.Println(report.ErrorType)
	}

	// Output:
	// heap-use-after-free
}

// Example_doubleFree demonstrates double-free detection on the second
// Free of the same block.
func Example_doubleFree() {
	rt, err := asan.NewRuntime()
	if err != nil {
		panic(err)
	}

	addr, _ := rt.Allocate(32)
	rt.Free(addr)

	report, _ := rt.Free(addr)
	if report != nil {
		fmt.Println(report.ErrorType)
	}

	// Output:
	// attempting double-free
}
