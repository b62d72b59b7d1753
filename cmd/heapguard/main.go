// Package main implements the heapguard CLI tool.
//
// The heapguard tool runs self-contained demonstrations of the heap
// diagnosis engine: each scenario builds a small arena, provokes one
// class of heap error against it, and prints the full crash report the
// engine produces.
//
// Usage:
//
//	heapguard overflow        # diagnose an access past the end of a block
//	heapguard underflow       # diagnose an access before the start of a block
//	heapguard use-after-free  # diagnose an access to a quarantined block
//	heapguard double-free     # free the same block twice
//	heapguard corrupt         # damage a header and run the heap checker
//	heapguard version         # show version information
//
// The reports are the same indented value trees the library hands to
// crash processors, so the tool doubles as a reference for the report
// format.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kolkov/heapguard/asan"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "heapguard",
		Short: "Demonstrate heap corruption diagnosis",
		Long: `heapguard runs self-contained heap error scenarios and prints the
crash report the diagnosis engine produces for each one.`,
		SilenceUsage: true,
	}

	var arenaSize uint64
	root.PersistentFlags().Uint64Var(&arenaSize, "arena", 1<<20,
		"arena size in bytes")

	root.AddCommand(
		newOverflowCmd(&arenaSize),
		newUnderflowCmd(&arenaSize),
		newUseAfterFreeCmd(&arenaSize),
		newDoubleFreeCmd(&arenaSize),
		newCorruptCmd(&arenaSize),
		newVersionCmd(),
	)
	return root
}

func newRuntime(arenaSize uint64) (*asan.Runtime, error) {
	return asan.NewRuntime(asan.WithArenaSize(arenaSize))
}

func newOverflowCmd(arenaSize *uint64) *cobra.Command {
	var size uint64
	cmd := &cobra.Command{
		Use:   "overflow",
		Short: "Diagnose an access one byte past the end of a block",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(*arenaSize)
			if err != nil {
				return err
			}
			addr, err := rt.Allocate(size)
			if err != nil {
				return err
			}
			return printDiagnosis(rt, addr+uintptr(size))
		},
	}
	cmd.Flags().Uint64Var(&size, "size", 100, "allocation size in bytes")
	return cmd
}

func newUnderflowCmd(arenaSize *uint64) *cobra.Command {
	var size uint64
	cmd := &cobra.Command{
		Use:   "underflow",
		Short: "Diagnose an access one byte before the start of a block",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(*arenaSize)
			if err != nil {
				return err
			}
			addr, err := rt.Allocate(size)
			if err != nil {
				return err
			}
			return printDiagnosis(rt, addr-1)
		},
	}
	cmd.Flags().Uint64Var(&size, "size", 100, "allocation size in bytes")
	return cmd
}

func newUseAfterFreeCmd(arenaSize *uint64) *cobra.Command {
	var size uint64
	cmd := &cobra.Command{
		Use:   "use-after-free",
		Short: "Diagnose an access to a freed block",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(*arenaSize)
			if err != nil {
				return err
			}
			addr, err := rt.Allocate(size)
			if err != nil {
				return err
			}
			if _, err := rt.Free(addr); err != nil {
				return err
			}
			return printDiagnosis(rt, addr)
		},
	}
	cmd.Flags().Uint64Var(&size, "size", 100, "allocation size in bytes")
	return cmd
}

func newDoubleFreeCmd(arenaSize *uint64) *cobra.Command {
	return &cobra.Command{
		Use:   "double-free",
		Short: "Free the same block twice and print the diagnosis",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(*arenaSize)
			if err != nil {
				return err
			}
			addr, err := rt.Allocate(64)
			if err != nil {
				return err
			}
			if _, err := rt.Free(addr); err != nil {
				return err
			}
			report, err := rt.Free(addr)
			if err != nil {
				return err
			}
			if report == nil {
				return fmt.Errorf("second free was not flagged")
			}
			printReport(report)
			return nil
		},
	}
}

func newCorruptCmd(arenaSize *uint64) *cobra.Command {
	return &cobra.Command{
		Use:   "corrupt",
		Short: "Damage a block header and run the heap checker",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(*arenaSize)
			if err != nil {
				return err
			}
			addr, err := rt.Allocate(64)
			if err != nil {
				return err
			}
			if _, err := rt.Allocate(64); err != nil {
				return err
			}
			if err := rt.CorruptBlockHeader(addr); err != nil {
				return err
			}
			report := rt.CheckHeap()
			if report == nil {
				return fmt.Errorf("corruption was not flagged")
			}
			printReport(report)
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			info := asan.GetInfo()
			fmt.Printf("heapguard %s (%s)\n", info.Version, info.Model)
		},
	}
}

func printDiagnosis(rt *asan.Runtime, location uintptr) error {
	report, ok := rt.Diagnose(location)
	if !ok {
		return fmt.Errorf("address %#x did not resolve to a tracked block", location)
	}
	printReport(report)
	return nil
}

func printReport(r *asan.Report) {
	fmt.Printf("error-type: %s\n", r.ErrorType)
	fmt.Printf("location:   %#x\n\n", r.Location)
	fmt.Println(r.Text)
}
