// Package hook implements the driver that ties every other component
// together into a single hook invocation (spec §4.G): parse the incoming
// undo record, find the chain, fast-path on an unchanged hash, verify
// trust, evaluate, and hand the result to the output formatter.
package hook

import (
	"errors"
	"fmt"
	"os"

	"github.com/Shopify/shadowenv/internal/chain"
	"github.com/Shopify/shadowenv/internal/digest"
	"github.com/Shopify/shadowenv/internal/lisp"
	"github.com/Shopify/shadowenv/internal/output"
	"github.com/Shopify/shadowenv/internal/overlay"
	"github.com/Shopify/shadowenv/internal/trust"
	"github.com/Shopify/shadowenv/internal/undo"
)

// Options are the hook's inputs (spec §4.G).
type Options struct {
	Dir        string // the caller's current directory
	PrevRecord string // the incoming __shadowenv_data value
	Force      bool
	Silent     bool
	ShellPID   uint32 // 0 means "use the real parent process id"
	Format     output.Format
	HomeDir    string // $HOME, for locating the signing key
	ProcessEnv map[string]string
}

// Result is what the hook produced. NoOp is true for both the empty-chain
// and the unchanged-hash fast paths; callers must exit 0 and emit nothing
// in that case.
type Result struct {
	NoOp     bool
	Rendered string
	Banner   string
}

// Diagnosed is the error kind wrapping every failure the hook driver's own
// top-level error formatter surfaces to the terminal, whether or not this
// particular failure happened to be cooled down (spec §7 propagation
// policy: "the hook driver catches at the top level, delegates to the
// formatter, and exits 1 without emitting any exports").
type Diagnosed struct {
	Hint       string // a human-facing line the CLI should print, empty when cooled down
	Suppressed bool   // true when this exact failure was already reported recently
	Underlying error
}

func (e *Diagnosed) Error() string { return e.Underlying.Error() }
func (e *Diagnosed) Unwrap() error { return e.Underlying }

// Run executes one hook invocation end to end. When opts.Silent is set,
// any Diagnosed error returned has its Hint cleared: a silent hook always
// exits 1 with no output (spec §7).
func Run(opts Options) (*Result, error) {
	result, err := run(opts)
	if err != nil && opts.Silent {
		var diagnosed *Diagnosed
		if errors.As(err, &diagnosed) {
			diagnosed.Hint = ""
		}
	}
	return result, err
}

func run(opts Options) (*Result, error) {
	prevHash, data, err := undo.ParseRecord(opts.PrevRecord)
	if err != nil {
		return nil, &Diagnosed{Hint: fmt.Sprintf("failure: %v", err), Underlying: err}
	}

	roots, err := chain.Find(opts.Dir)
	if err != nil {
		return nil, diagnoseTraversal(err, opts)
	}

	if len(roots) == 0 && prevHash == undo.ZeroHash {
		return &Result{NoOp: true}, nil
	}

	sources, err := chain.LoadAll(roots)
	if err != nil {
		return nil, &Diagnosed{Hint: fmt.Sprintf("failure: %v", err), Underlying: err}
	}

	targetHash := digest.Format(digest.Hash(sources))
	if prevHash == targetHash && !opts.Force {
		return &Result{NoOp: true}, nil
	}

	if len(roots) > 0 {
		if diag := checkTrust(roots, opts); diag != nil {
			return nil, diag
		}
		gcStaleSentinels(closestRoot(roots).Dir)
	}

	ov := overlay.New(opts.ProcessEnv, data)
	interp := lisp.New(ov)
	if err := interp.EvaluateChain(sources); err != nil {
		// The bridge's own diagnostic is the message; the host prints it
		// verbatim before propagating (spec §4.F).
		return nil, &Diagnosed{Hint: err.Error(), Underlying: err}
	}

	record, err := undo.Format(targetHash, ov.UndoData())
	if err != nil {
		return nil, &Diagnosed{Hint: fmt.Sprintf("failure: %v", err), Underlying: err}
	}

	rendered, err := output.Render(opts.Format, ov.Exports(), record)
	if err != nil {
		return nil, &Diagnosed{Hint: fmt.Sprintf("failure: %v", err), Underlying: err}
	}

	result := &Result{Rendered: rendered}
	if output.ShouldShowBanner(os.Stderr.Fd(), opts.ProcessEnv["SHADOWENV_SILENT"]) {
		result.Banner = output.RenderBanner(toFeatureDisplay(ov.Features()))
	}
	return result, nil
}

func toFeatureDisplay(features []overlay.Feature) []output.FeatureDisplay {
	out := make([]output.FeatureDisplay, len(features))
	for i, f := range features {
		out[i] = output.FeatureDisplay{
			Name:            f.Name,
			Version:         f.Version,
			VersionLooksOdd: !f.VersionLooksLikeSemver,
		}
	}
	return out
}

func closestRoot(roots []chain.Root) chain.Root {
	return roots[len(roots)-1]
}

func resolveShellPID(opts Options) uint32 {
	if opts.ShellPID != 0 {
		return opts.ShellPID
	}
	return uint32(os.Getppid())
}

// checkTrust verifies every root in the chain, applying the per-PID
// cooldown to a repeat NotTrusted failure so an interactive prompt isn't
// spammed on every keystroke.
func checkTrust(roots []chain.Root, opts Options) *Diagnosed {
	homeDir := opts.HomeDir
	if homeDir == "" {
		var err error
		homeDir, err = os.UserHomeDir()
		if err != nil {
			return &Diagnosed{Hint: "failure: cannot locate home directory for the trust signing key", Underlying: err}
		}
	}

	priv, err := trust.LoadOrGenerateSigner(homeDir)
	if err != nil {
		return &Diagnosed{Hint: fmt.Sprintf("failure: %v", err), Underlying: err}
	}

	dirs := make([]string, len(roots))
	for i, r := range roots {
		dirs[i] = r.Dir
	}

	err = trust.EnsureTreeTrusted(dirs, priv)
	if err == nil {
		return nil
	}

	var notTrusted *trust.NotTrustedError
	if !errors.As(err, &notTrusted) {
		return &Diagnosed{Hint: fmt.Sprintf("failure: %v", err), Underlying: err}
	}

	root := closestRoot(roots).Dir
	pid := resolveShellPID(opts)
	if recentlyReported(root, kindNotTrusted, pid) {
		return &Diagnosed{Suppressed: true, Underlying: notTrusted}
	}
	markReported(root, kindNotTrusted, pid)

	return &Diagnosed{
		Hint:       fmt.Sprintf("failure: directory %v contains untrusted shadowenv program: `shadowenv trust` to approve it", notTrusted.Dirs),
		Underlying: notTrusted,
	}
}

func diagnoseTraversal(err error, opts Options) *Diagnosed {
	var traversalErr *chain.TraversalError
	if !errors.As(err, &traversalErr) {
		return &Diagnosed{Hint: fmt.Sprintf("failure: %v", err), Underlying: err}
	}

	pid := resolveShellPID(opts)
	if recentlyReported(traversalErr.Root, kindTraversal, pid) {
		return &Diagnosed{Suppressed: true, Underlying: traversalErr}
	}
	markReported(traversalErr.Root, kindTraversal, pid)

	return &Diagnosed{
		Hint:       fmt.Sprintf("failure: %v", traversalErr),
		Underlying: traversalErr,
	}
}

// EnvMap converts os.Environ()'s KEY=VALUE slice into a map, the shape
// every other component in this engine expects the process environment
// in.
func EnvMap(environ []string) map[string]string {
	out := make(map[string]string, len(environ))
	for _, kv := range environ {
		for i := 0; i < len(kv); i++ {
			if kv[i] == '=' {
				out[kv[:i]] = kv[i+1:]
				break
			}
		}
	}
	return out
}
