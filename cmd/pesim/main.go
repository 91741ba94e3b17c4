// This file is part of pe.
//
// pe is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// pe is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with pe.  If not, see <https://www.gnu.org/licenses/>.

// Command pesim is a minimal harness that drives a pe.Pe over a flat
// memory image loaded from a file: reset, then step until WFI/lockup/
// max-cycles, echoing a memory-mapped UART register through the host
// terminal. It exists to exercise the core end to end, not as a
// reference debug probe.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/term"

	"github.com/armsim/pe/logger"
	"github.com/armsim/pe/pe"
)

var (
	traceFile   = flag.String("trace", "", "write a per-step PC/exit-cause trace to file")
	maxCycles   = flag.Uint64("max-cycles", 0, "stop after N steps (0 = unlimited)")
	memSize     = flag.Int("mem-size", 1<<20, "flat memory size in bytes")
	showVersion = flag.Bool("version", false, "show version and exit")
)

const version = "0.1.0"

var savedTermState *term.State

// setupTerminal puts stdin into raw mode so the simulated UART can
// forward keystrokes to the guest one byte at a time, mirroring how a
// real debug-probe console session behaves. It is a no-op when stdin is
// not a terminal (e.g. piped input in CI).
func setupTerminal() error {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return nil
	}
	state, err := term.GetState(int(os.Stdin.Fd()))
	if err != nil {
		return fmt.Errorf("failed to get terminal state: %w", err)
	}
	savedTermState = state
	if _, err := term.MakeRaw(int(os.Stdin.Fd())); err != nil {
		return fmt.Errorf("failed to set raw mode: %w", err)
	}
	return nil
}

func restoreTerminal() {
	if savedTermState != nil && term.IsTerminal(int(os.Stdin.Fd())) {
		term.Restore(int(os.Stdin.Fd()), savedTermState)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, "usage: pesim [flags] <image-file>\n\n")
	flag.PrintDefaults()
}

func main() {
	flag.Usage = usage
	flag.Parse()

	if *showVersion {
		fmt.Printf("pesim v%s\n", version)
		return
	}

	args := flag.Args()
	if len(args) != 1 {
		usage()
		os.Exit(1)
	}

	data, err := os.ReadFile(args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "error reading image: %v\n", err)
		os.Exit(1)
	}

	dev := newFlatDevice(*memSize, os.Stdout, os.Stdin)
	if err := dev.loadImage(data); err != nil {
		fmt.Fprintf(os.Stderr, "error loading image: %v\n", err)
		os.Exit(1)
	}

	var trace *os.File
	if *traceFile != "" {
		trace, err = os.Create(*traceFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error creating trace file: %v\n", err)
			os.Exit(1)
		}
		defer trace.Close()
		fmt.Fprintf(trace, "pesim trace v%s\nimage: %s\n\n", version, args[0])
	}

	cfg := pe.DefaultConfig()
	proc, err := pe.New(cfg, dev, nil, 0)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error constructing Pe: %v\n", err)
		os.Exit(1)
	}

	if err := setupTerminal(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: %v\n", err)
	}
	defer restoreTerminal()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		restoreTerminal()
		os.Exit(130)
	}()

	run(proc, trace, *maxCycles)
}

// run steps proc until it hits WFI/debug lockup or the configured cycle
// budget, logging each step's PC and exit cause to trace when present.
func run(proc *pe.Pe, trace *os.File, maxCycles uint64) {
	var cycles uint64
	for {
		pc := proc.State().PC
		cause := proc.Step()
		cycles++

		if trace != nil {
			fmt.Fprintf(trace, "%08d pc=%#010x cause=%#x\n", cycles, pc, cause)
		}

		if cause&pe.ExitDebug != 0 {
			fmt.Fprintln(os.Stderr, "\npesim: halted (lockup or debug event)")
			break
		}
		if cause&pe.ExitWFI != 0 && !proc.IsExceptionPending(true) {
			fmt.Fprintln(os.Stderr, "\npesim: WFI with no pending interrupt, exiting")
			break
		}
		if maxCycles != 0 && cycles >= maxCycles {
			fmt.Fprintln(os.Stderr, "\npesim: max-cycles reached")
			break
		}
	}

	logger.Write(os.Stderr)
}
