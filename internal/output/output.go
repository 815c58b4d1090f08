// Package output renders a hook invocation's exports into the syntax the
// calling shell expects (spec §4.H). Every format also carries the
// serialized undo record as the synthetic __shadowenv_data entry, so the
// shell's next invocation has something to diff against.
package output

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Format selects one of the five output syntaxes.
type Format int

const (
	Posix Format = iota
	Fish
	Porcelain
	JSON
	PrettyJSON
)

const dataVarName = "__shadowenv_data"

// Porcelain framing bytes, matching original_source/src/hook.rs exactly:
// an opcode, then a field separator before *every* field (including the
// name), terminated by a record separator.
const (
	opcodeSet   = 0x02
	opcodeUnset = 0x03
	fieldSep    = 0x1F
	recordSep   = 0x1E
)

// Render produces the shell-ready text for one hook invocation. exports
// maps variable name to either a value to export or nil to unset; record
// is the new __shadowenv_data value, always emitted regardless of format.
func Render(format Format, exports map[string]*string, record string) (string, error) {
	all := make(map[string]*string, len(exports)+1)
	for k, v := range exports {
		all[k] = v
	}
	r := record
	all[dataVarName] = &r

	switch format {
	case Posix:
		return renderPosix(all), nil
	case Fish:
		return renderFish(all), nil
	case Porcelain:
		return renderPorcelain(all), nil
	case JSON:
		return renderJSON(all, false)
	case PrettyJSON:
		return renderJSON(all, true)
	default:
		return "", fmt.Errorf("shadowenv: unknown output format %d", format)
	}
}

func sortedNames(all map[string]*string) []string {
	names := make([]string, 0, len(all))
	for name := range all {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func renderPosix(all map[string]*string) string {
	var sb strings.Builder
	for _, name := range sortedNames(all) {
		v := all[name]
		if v == nil {
			fmt.Fprintf(&sb, "unset %s\n", name)
			continue
		}
		fmt.Fprintf(&sb, "export %s=%s\n", name, shellEscapePosix(*v))
	}
	return sb.String()
}

func renderFish(all map[string]*string) string {
	var sb strings.Builder
	for _, name := range sortedNames(all) {
		v := all[name]
		if v == nil {
			fmt.Fprintf(&sb, "set -e %s\n", name)
			continue
		}
		if name == "PATH" {
			fmt.Fprintf(&sb, "set -gx PATH %s\n", fishPathTokens(*v))
			continue
		}
		fmt.Fprintf(&sb, "set -gx %s %s\n", name, shellEscapePosix(*v))
	}
	return sb.String()
}

func fishPathTokens(path string) string {
	parts := strings.Split(path, ":")
	escaped := make([]string, len(parts))
	for i, p := range parts {
		escaped[i] = shellEscapePosix(p)
	}
	return strings.Join(escaped, " ")
}

func renderPorcelain(all map[string]*string) string {
	var sb strings.Builder
	for _, name := range sortedNames(all) {
		v := all[name]
		if v == nil {
			fmt.Fprintf(&sb, "%c%c%s%c%c", opcodeUnset, fieldSep, name, fieldSep, recordSep)
			continue
		}
		fmt.Fprintf(&sb, "%c%c%s%c%s%c", opcodeSet, fieldSep, name, fieldSep, *v, recordSep)
	}
	return sb.String()
}

type document struct {
	Schema     string             `json:"schema"`
	Exported   map[string]*string `json:"exported"`
	Unexported map[string]*string `json:"unexported"`
}

func renderJSON(all map[string]*string, pretty bool) (string, error) {
	doc := document{Schema: "v2", Exported: all, Unexported: map[string]*string{}}
	var (
		body []byte
		err  error
	)
	if pretty {
		body, err = json.MarshalIndent(doc, "", "  ")
	} else {
		body, err = json.Marshal(doc)
	}
	if err != nil {
		return "", fmt.Errorf("shadowenv: encoding output document: %w", err)
	}
	return string(body) + "\n", nil
}

// shellEscapePosix wraps value in single quotes, the one escaping style
// that is correct for every POSIX shell regardless of the value's
// contents.
func shellEscapePosix(value string) string {
	return "'" + strings.ReplaceAll(value, "'", `'\''`) + "'"
}
