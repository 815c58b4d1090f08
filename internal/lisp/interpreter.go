package lisp

import (
	"fmt"
	"os"

	"github.com/Shopify/shadowenv/internal/digest"
	"github.com/Shopify/shadowenv/internal/overlay"
)

// Interpreter ties a program chain's evaluation to a single shared
// overlay handle. The overlay is owned by the caller (the hook driver),
// never by interpreter values, so nothing here can form the
// overlay-interpreter reference cycle spec §9 warns against: the
// interpreter only ever holds a plain pointer passed in at construction.
type Interpreter struct {
	overlay     *overlay.Overlay
	global      *Env
	currentFile string
}

// New builds an interpreter bound to ov's primitives.
func New(ov *overlay.Overlay) *Interpreter {
	global := newEnv(nil)
	bindPrimitives(global, ov)
	return &Interpreter{overlay: ov, global: global}
}

// EvaluateChain evaluates every file in every source, in order: sources
// outermost-ancestor first (as chain.LoadAll produces them), files within
// a source already sorted lexicographically by name. Each file runs in a
// fresh top-level scope chained to the shared primitive scope, and with
// the process working directory temporarily switched to the program's own
// directory (spec §4.F), restored unconditionally afterward even on
// error.
func (i *Interpreter) EvaluateChain(sources []digest.Source) error {
	for _, src := range sources {
		for _, f := range src.Files {
			err := runInDir(src.Dir, func() error {
				return i.evalProgram(f.Name, f.Contents)
			})
			if err != nil {
				return err
			}
		}
	}
	return nil
}

// evalProgram parses and evaluates one file's top-level forms in a fresh
// scope. The thunk name __shadowenv__<basename> the original embedding
// used to isolate one file's top-level defines from the next is reproduced
// here as a fresh child Env rather than a named function value: the
// isolation is what matters, and a literal thunk object would only be
// inspectable by code nothing in this sandbox is given the means to write.
func (i *Interpreter) evalProgram(basename, contents string) error {
	i.currentFile = basename
	forms, err := Parse(contents)
	if err != nil {
		return &EvaluationError{File: basename, Message: err.Error()}
	}

	scope := newEnv(i.global)
	_, err = i.evalSequence(forms, scope, 0)
	return err
}

// runInDir temporarily chdirs into dir for the duration of fn, restoring
// the previous working directory unconditionally: a scoped-acquisition
// helper so a program's own evaluation error can never leave the process
// parked in the wrong directory (spec §9 "Global mutable state at the
// boundary").
func runInDir(dir string, fn func() error) error {
	prev, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("shadowenv: getting working directory: %w", err)
	}
	if err := os.Chdir(dir); err != nil {
		return fmt.Errorf("shadowenv: entering %s: %w", dir, err)
	}
	defer os.Chdir(prev)
	return fn()
}
