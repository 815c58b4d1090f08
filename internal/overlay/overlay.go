// Package overlay implements the reversible environment overlay that sits
// between the process's real environment and the shell (spec §4.C).
//
// Three environments are in play, named as spec §3 names them: E (the
// process's actual environment at invocation time, never mutated), U (the
// reconstructed environment as if no shadowenv activation had ever
// happened), and W (the working environment a Lisp program mutates). The
// overlay reconstructs U from E and the incoming undo record, runs the
// program against a copy of U, and on request re-diffs W against both U and
// E to produce the new undo record and the set of exports.
package overlay

import (
	"sort"
	"strings"

	"golang.org/x/mod/semver"

	"github.com/Shopify/shadowenv/internal/undo"
)

// Feature is a (name, version) pair a program declared active via
// (provide ...). Two features with the same name but different versions
// are distinct entries (spec §9, carried from original_source/src/features.rs).
type Feature struct {
	Name    string
	Version *string
	// VersionLooksLikeSemver is advisory only: a program is free to
	// (provide "name" "whatever-string") and the overlay never rejects
	// it. It exists so a renderer can flag an unusual version string,
	// not to gate AddFeature.
	VersionLooksLikeSemver bool
}

// Overlay holds the three environments and the bookkeeping needed to
// compute a new undo record once a chain has finished evaluating.
type Overlay struct {
	initial   map[string]string // E: untouched process environment
	outer     map[string]string // U: reconstructed pre-shadowenv environment
	env       map[string]string // W: working environment, mutated by programs
	lists     map[string]bool   // names this invocation touched via a pathlist primitive
	noClobber map[string]bool   // names the engine must never write again
	features  []Feature
}

// New reconstructs U from the process environment and the prior undo
// record, and seeds W as a copy of U.
//
// For each scalar entry in the record: if the process environment still
// holds the value the overlay last wrote (Current), the variable is
// unshadowed back to Original. If it holds anything else, a human (or
// another tool) edited it after the overlay ran; the engine marks it
// no_clobber and never writes to it again (spec invariant 2). Entries
// already marked no_clobber in the record stay that way unconditionally.
//
// For each list entry, undo is applied in two passes: first the additions
// are removed from the list (as it stands in the process environment),
// then the deletions are restored by prepending them back. This mirrors
// original_source/src/shadowenv.rs's Shadowenv::unshadow.
func New(processEnv map[string]string, record undo.Data) *Overlay {
	initial := cloneMap(processEnv)
	outer := cloneMap(processEnv)
	noClobber := map[string]bool{}

	for _, s := range record.Scalars {
		if s.NoClobber {
			noClobber[s.Name] = true
			continue
		}
		if ptrEqual(getPtr(outer, s.Name), s.Current) {
			setPtr(outer, s.Name, s.Original)
		} else {
			noClobber[s.Name] = true
		}
	}

	for _, l := range record.Lists {
		for _, added := range l.Additions {
			removeOneRaw(outer, l.Name, added)
		}
		for _, deleted := range l.Deletions {
			prependRaw(outer, l.Name, deleted)
		}
	}

	return &Overlay{
		initial:   initial,
		outer:     outer,
		env:       cloneMap(outer),
		lists:     map[string]bool{},
		noClobber: noClobber,
		features:  nil,
	}
}

// Get reads a scalar from the working environment.
func (o *Overlay) Get(name string) (string, bool) {
	v, ok := o.env[name]
	return v, ok
}

// Set writes (or, with a nil value, unsets) a scalar in the working
// environment. A no-op on a name already marked no_clobber: the engine
// has ceded control of that variable (spec invariant 2).
func (o *Overlay) Set(name string, value *string) {
	if o.noClobber[name] {
		return
	}
	if value == nil {
		delete(o.env, name)
	} else {
		o.env[name] = *value
	}
}

// AppendToPathList adds elem to the end of the colon-separated list at
// name.
func (o *Overlay) AppendToPathList(name, elem string) {
	if o.noClobber[name] {
		return
	}
	o.lists[name] = true
	items := append(splitList(o.env[name]), elem)
	o.env[name] = joinList(items)
}

// PrependToPathList adds elem to the front of the colon-separated list at
// name.
func (o *Overlay) PrependToPathList(name, elem string) {
	if o.noClobber[name] {
		return
	}
	o.lists[name] = true
	items := append([]string{elem}, splitList(o.env[name])...)
	o.env[name] = joinList(items)
}

// RemoveFromPathList removes the first occurrence of elem from the
// colon-separated list at name. If the list becomes empty, the variable is
// unset entirely rather than left as an empty string (spec §4.C).
func (o *Overlay) RemoveFromPathList(name, elem string) {
	if o.noClobber[name] {
		return
	}
	o.lists[name] = true
	items := splitList(o.env[name])
	if idx := indexOf(items, elem); idx >= 0 {
		items = append(items[:idx], items[idx+1:]...)
	}
	if len(items) == 0 {
		delete(o.env, name)
		return
	}
	o.env[name] = joinList(items)
}

// RemoveFromPathListContaining drops the leading run of list elements that
// contain substring, stopping at the first element that does not. This is
// deliberately asymmetric with RemoveFromPathList: it is a skip_while over
// the list, not a filter, and must not be "fixed" into removing every
// matching element wherever it appears (spec §9). Unlike
// RemoveFromPathList, an empty result is left as an empty string rather
// than unset, matching original_source/src/shadowenv.rs's
// env_remove_from_pathlist_containing.
func (o *Overlay) RemoveFromPathListContaining(name, substring string) {
	if o.noClobber[name] {
		return
	}
	o.lists[name] = true
	items := splitList(o.env[name])
	i := 0
	for i < len(items) && strings.Contains(items[i], substring) {
		i++
	}
	o.env[name] = joinList(items[i:])
}

// AddFeature records that a program declared itself active. Duplicate
// (name, version) pairs are collapsed; the same name with a different
// version is a distinct entry. The version string is never validated
// against semver beyond the advisory flag stored alongside it: a
// non-semver version is still recorded as declared.
func (o *Overlay) AddFeature(name string, version *string) {
	for _, f := range o.features {
		if f.Name == name && ptrEqual(f.Version, version) {
			return
		}
	}
	o.features = append(o.features, Feature{
		Name:                   name,
		Version:                version,
		VersionLooksLikeSemver: looksLikeSemver(version),
	})
}

// looksLikeSemver reports whether version parses as a semver string once
// canonicalized with a leading "v" (golang.org/x/mod/semver requires the
// "v" prefix that (provide ...) callers never supply themselves). A nil
// version has nothing to validate and is treated as valid.
func looksLikeSemver(version *string) bool {
	if version == nil {
		return true
	}
	v := *version
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	return semver.IsValid(v)
}

// Features returns the features declared this invocation, in declaration
// order.
func (o *Overlay) Features() []Feature {
	out := make([]Feature, len(o.features))
	copy(out, o.features)
	return out
}

// UndoData computes the new undo record from the difference between U and
// W. Scalars whose original equals current are omitted; lists whose
// additions and deletions are both empty are omitted. A name already
// marked no_clobber is carried forward unconditionally, since the engine
// must keep refusing to write it on every future invocation too.
func (o *Overlay) UndoData() undo.Data {
	data := undo.New()
	for _, name := range o.sortedRelevantNames() {
		if o.noClobber[name] {
			data.AddScalar(name, getPtr(o.outer, name), getPtr(o.outer, name), true)
			continue
		}

		if o.lists[name] {
			origParts := splitList(o.outer[name])
			finalParts := splitList(o.env[name])
			additions, deletions := diffParts(origParts, finalParts)
			if len(additions) == 0 && len(deletions) == 0 {
				continue
			}
			data.AddList(name, additions, deletions)
			continue
		}

		orig := getPtr(o.outer, name)
		cur := getPtr(o.env, name)
		if ptrEqual(orig, cur) {
			continue
		}
		data.AddScalar(name, orig, cur, false)
	}
	return data
}

// Exports returns every variable whose working value differs from the
// process's original value: the set the hook must actually export to the
// shell. A nil value means the shell must unset the variable.
func (o *Overlay) Exports() map[string]*string {
	exports := map[string]*string{}
	for _, name := range o.sortedRelevantNames() {
		if o.noClobber[name] {
			continue
		}
		cur := getPtr(o.env, name)
		init := getPtr(o.initial, name)
		if !ptrEqual(cur, init) {
			exports[name] = cur
		}
	}
	return exports
}

func (o *Overlay) sortedRelevantNames() []string {
	seen := map[string]bool{}
	for name := range o.env {
		seen[name] = true
	}
	for name := range o.outer {
		seen[name] = true
	}
	for name := range o.initial {
		seen[name] = true
	}
	for name := range o.noClobber {
		seen[name] = true
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func diffParts(oldParts, newParts []string) (additions, deletions []string) {
	oldSet := map[string]bool{}
	for _, v := range oldParts {
		oldSet[v] = true
	}
	newSet := map[string]bool{}
	for _, v := range newParts {
		newSet[v] = true
	}
	for _, v := range oldParts {
		if !newSet[v] {
			deletions = append(deletions, v)
		}
	}
	for _, v := range newParts {
		if !oldSet[v] {
			additions = append(additions, v)
		}
	}
	return additions, deletions
}

// removeOneRaw and prependRaw operate directly on a plain map during undo
// reconstruction, before any Overlay exists to track which names are
// pathlists. They must not mark anything in o.lists: that set reflects only
// what *this* invocation's program touches, not history.
func removeOneRaw(env map[string]string, name, elem string) {
	items := splitList(env[name])
	if idx := indexOf(items, elem); idx >= 0 {
		items = append(items[:idx], items[idx+1:]...)
	}
	if len(items) == 0 {
		delete(env, name)
		return
	}
	env[name] = joinList(items)
}

func prependRaw(env map[string]string, name, elem string) {
	items := append([]string{elem}, splitList(env[name])...)
	env[name] = joinList(items)
}

func splitList(v string) []string {
	if v == "" {
		return []string{}
	}
	return strings.Split(v, ":")
}

func joinList(items []string) string {
	return strings.Join(items, ":")
}

func indexOf(items []string, target string) int {
	for i, v := range items {
		if v == target {
			return i
		}
	}
	return -1
}

func cloneMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func getPtr(m map[string]string, name string) *string {
	if v, ok := m[name]; ok {
		return &v
	}
	return nil
}

func setPtr(m map[string]string, name string, value *string) {
	if value == nil {
		delete(m, name)
	} else {
		m[name] = *value
	}
}

func ptrEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
