// Package config reads the environment variables a dynamic linker consults
// at startup, the way the reference runtime's getenv-based configuration
// does, using github.com/xyproto/env/v2's typed accessors instead of raw
// os.Getenv/strconv.
package config

import (
	"strings"

	"github.com/xyproto/env/v2"

	"github.com/xyproto/ldrt/internal/engine"
)

// Config holds every environment-derived knob this runtime's loader and
// CLI consult.
type Config struct {
	Arch engine.Arch

	// LDLibraryPath is LD_LIBRARY_PATH split on ':', searched after the
	// importing object's DT_RUNPATH/DT_RPATH and before the default /lib,
	// /usr/lib.
	LDLibraryPath []string

	// LDBindNow records whether LD_BIND_NOW is set. Nothing in this module
	// reads it: PLT relocations are always bound eagerly.
	LDBindNow bool

	// LDDebug turns on verbose relocation/symbol-resolution logging,
	// mirroring LD_DEBUG (any non-empty value enables "all" in this
	// runtime; the reference linker's comma-separated category list is
	// not implemented).
	LDDebug bool

	// Verbose is a general CLI verbosity toggle, independent of LD_DEBUG.
	Verbose bool
}

// Load reads Config from the process environment.
func Load() Config {
	var paths []string
	if raw := env.Str("LD_LIBRARY_PATH"); raw != "" {
		for _, p := range strings.Split(raw, ":") {
			if p != "" {
				paths = append(paths, p)
			}
		}
	}

	return Config{
		Arch:          engine.Current(),
		LDLibraryPath: paths,
		LDBindNow:     env.Bool("LD_BIND_NOW"),
		LDDebug:       env.Str("LD_DEBUG") != "",
		Verbose:       env.Bool("LDRT_VERBOSE"),
	}
}
