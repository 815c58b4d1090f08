// Package chain discovers and loads the ordered sequence of .shadowenv.d
// program directories that apply to a working directory (spec §4.D).
//
// Discovery starts at the closest .shadowenv.d and walks outward through
// `parent` symlinks, which let one project opt into an ancestor's
// environment even when intervening directories have none of their own.
// Grounded on original_source/src/loader.rs for the single-directory file
// read, and on spec §4.D for the parent-link resolution original_source
// predates.
package chain

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/Shopify/shadowenv/internal/digest"
)

const (
	rootDirName    = ".shadowenv.d"
	parentLinkName = "parent"
	programExt     = ".lisp"
)

// TraversalErrorKind classifies why a `parent` link could not be followed.
type TraversalErrorKind int

const (
	NotASymlink TraversalErrorKind = iota
	InvalidLinkTarget
	SelfReferential
	NotAnAncestor
	ResolveError
)

func (k TraversalErrorKind) String() string {
	switch k {
	case NotASymlink:
		return "not_a_symlink"
	case InvalidLinkTarget:
		return "invalid_link_target"
	case SelfReferential:
		return "self_referential"
	case NotAnAncestor:
		return "not_an_ancestor"
	case ResolveError:
		return "resolve_error"
	default:
		return "unknown"
	}
}

// TraversalError reports an invalid or malformed `parent` link.
type TraversalError struct {
	Kind TraversalErrorKind
	Root string // the .shadowenv.d directory whose parent link is bad
	Err  error  // underlying cause, if any (e.g. a filesystem error)
}

func (e *TraversalError) Error() string {
	msg := fmt.Sprintf("shadowenv: %s: invalid parent link (%s)", e.Root, e.Kind)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *TraversalError) Unwrap() error { return e.Err }

// Root is one .shadowenv.d directory in a resolved chain.
type Root struct {
	Dir string // absolute path to the .shadowenv.d directory itself
}

// Find walks start and its ancestors for the closest .shadowenv.d, then
// follows parent links outward, returning roots ordered outermost-first.
// Returns a nil slice, not an error, when no .shadowenv.d exists anywhere
// above start: an absent chain is a normal state (spec §7 "NoChain ...
// silent in the hook"), not a traversal failure.
func Find(start string) ([]Root, error) {
	start, err := filepath.Abs(start)
	if err != nil {
		return nil, fmt.Errorf("shadowenv: resolving %q: %w", start, err)
	}

	closest := findClosestRoot(start)
	if closest == "" {
		return nil, nil
	}

	// Collect innermost-first by following `parent` links, then reverse.
	var roots []string
	seen := map[string]bool{}
	curr := closest
	for {
		if seen[curr] {
			return nil, &TraversalError{Kind: SelfReferential, Root: curr}
		}
		seen[curr] = true
		roots = append(roots, curr)

		next, ok, err := resolveParent(curr)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		curr = next
	}

	out := make([]Root, len(roots))
	for i, r := range roots {
		out[len(roots)-1-i] = Root{Dir: r}
	}
	return out, nil
}

// findClosestRoot walks dir and each ancestor (including dir itself)
// looking for a child directory named .shadowenv.d. Returns "" if none is
// found before reaching the filesystem root.
func findClosestRoot(dir string) string {
	curr := dir
	for {
		candidate := filepath.Join(curr, rootDirName)
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return candidate
		}
		parent := filepath.Dir(curr)
		if parent == curr {
			return ""
		}
		curr = parent
	}
}

// resolveParent looks for a symlink named `parent` inside root (a
// .shadowenv.d directory) and, if present, validates and resolves it to
// another .shadowenv.d directory that must be a strict ancestor of root.
func resolveParent(root string) (target string, ok bool, err error) {
	linkPath := filepath.Join(root, parentLinkName)

	info, statErr := os.Lstat(linkPath)
	if statErr != nil {
		if os.IsNotExist(statErr) {
			return "", false, nil
		}
		return "", false, &TraversalError{Kind: ResolveError, Root: root, Err: statErr}
	}
	if info.Mode()&os.ModeSymlink == 0 {
		return "", false, &TraversalError{Kind: NotASymlink, Root: root}
	}

	resolved, err := filepath.EvalSymlinks(linkPath)
	if err != nil {
		return "", false, &TraversalError{Kind: ResolveError, Root: root, Err: err}
	}

	if filepath.Base(resolved) != rootDirName {
		return "", false, &TraversalError{Kind: InvalidLinkTarget, Root: root}
	}
	if resolved == root {
		return "", false, &TraversalError{Kind: SelfReferential, Root: root}
	}
	if !isStrictAncestorDir(resolved, root) {
		return "", false, &TraversalError{Kind: NotAnAncestor, Root: root}
	}
	return resolved, true, nil
}

// isStrictAncestorDir reports whether ancestorRoot (a .shadowenv.d
// directory) sits above descendantRoot (another .shadowenv.d directory) in
// the filesystem tree, comparing the directories each lives inside rather
// than the .shadowenv.d paths themselves.
func isStrictAncestorDir(ancestorRoot, descendantRoot string) bool {
	ancestorParent := filepath.Dir(ancestorRoot)
	descendantParent := filepath.Dir(descendantRoot)
	if ancestorParent == descendantParent {
		return false
	}
	rel, err := filepath.Rel(ancestorParent, descendantParent)
	if err != nil {
		return false
	}
	return rel != "." && !strings.HasPrefix(rel, "..")
}

// Load reads every *.lisp file directly inside a .shadowenv.d directory
// (non-recursive) and returns a digest.Source. ok is false when the
// directory contains no program files at all, mirroring
// original_source/src/loader.rs's `load` returning None.
func Load(root Root) (src digest.Source, ok bool, err error) {
	entries, err := os.ReadDir(root.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return digest.Source{}, false, nil
		}
		return digest.Source{}, false, fmt.Errorf("shadowenv: reading %s: %w", root.Dir, err)
	}

	var files []digest.ProgramFile
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), programExt) {
			continue
		}
		path := filepath.Join(root.Dir, entry.Name())
		contents, err := os.ReadFile(path)
		if err != nil {
			return digest.Source{}, false, fmt.Errorf("shadowenv: reading %s: %w", path, err)
		}
		files = append(files, digest.ProgramFile{Name: entry.Name(), Contents: string(contents)})
	}
	if len(files) == 0 {
		return digest.Source{}, false, nil
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	return digest.Source{Dir: root.Dir, Files: files}, true, nil
}

// LoadAll loads every root in a chain, in order, skipping directories that
// contain no program files.
func LoadAll(roots []Root) ([]digest.Source, error) {
	var sources []digest.Source
	for _, root := range roots {
		src, ok, err := Load(root)
		if err != nil {
			return nil, err
		}
		if ok {
			sources = append(sources, src)
		}
	}
	return sources, nil
}
