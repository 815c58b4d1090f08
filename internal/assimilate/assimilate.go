// Package assimilate snapshots an existing shell environment as a literal
// program, for bootstrapping a new .shadowenv.d from variables a user
// already has set some other way (spec SUPPLEMENTED FEATURES #3, grounded
// on original_source/src/assimilate.rs's convert_direnv, which emits the
// same (env/set "KEY" "value") line shape for each variable).
//
// This is pure data transformation, not a command: the core's
// non-goals place subcommand glue out of scope, so nothing here reads
// stdin, shells out to another tool, or prints anything itself.
package assimilate

import (
	"sort"
	"strconv"
	"strings"
)

// Snapshot renders env as a sequence of (env/set "NAME" "value") forms,
// one per line, sorted by name for a deterministic result. Names in
// exclude are dropped entirely.
func Snapshot(env map[string]string, exclude []string) string {
	skip := make(map[string]bool, len(exclude))
	for _, name := range exclude {
		skip[name] = true
	}

	names := make([]string, 0, len(env))
	for name := range env {
		if !skip[name] {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	var sb strings.Builder
	for _, name := range names {
		sb.WriteString("(env/set ")
		sb.WriteString(strconv.Quote(name))
		sb.WriteString(" ")
		sb.WriteString(strconv.Quote(env[name]))
		sb.WriteString(")\n")
	}
	return sb.String()
}
