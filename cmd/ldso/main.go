// Command ldso is this runtime's dynamic linker entry point: invoked as
// `ldso <executable> [args...]`, it loads the named ELF executable and its
// full DT_NEEDED graph, relocates everything, runs constructors, prints
// the resolved entry address and exits 0. It does not transfer control to
// the program's entry point, so the program itself never runs and its exit
// status is not propagated -- see the comment in run for where a real
// ld.so's asm stub would jump instead.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/xyproto/ldrt/config"
	"github.com/xyproto/ldrt/spawn"
)

func main() {
	os.Exit(run(os.Args))
}

func run(args []string) int {
	if len(args) < 2 {
		fmt.Fprintln(os.Stderr, "ldso: usage: ldso <executable> [args...]")
		return 1
	}

	cfg := config.Load()
	logger := newLogger(cfg)

	path := args[1]
	progArgs := args[2:]

	logger.Debug("loading program", "path", path, "arch", cfg.Arch)

	result, err := spawn.Load(path, cfg.LDLibraryPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ldso: failed to load %q: %v\n", path, err)
		return 1
	}

	logger.Debug("entry resolved", "path", path, "entry", fmt.Sprintf("%#x", result.Entry))
	logger.Info("program ready to run", "path", path, "argc", len(progArgs))

	// A real ld.so's asm stub pops its own frame and jumps to result.Entry
	// with the kernel-built stack still in place; this runtime has no
	// equivalent of that indirect jump available from Go, so it reports
	// the resolved entry point and relocation success instead of
	// attempting to transfer control into the mapped image.
	fmt.Printf("ldso: resolved entry for %s at %#x\n", path, result.Entry)
	return 0
}

func newLogger(cfg config.Config) *slog.Logger {
	level := slog.LevelInfo
	if cfg.LDDebug || cfg.Verbose {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	return slog.New(handler)
}
