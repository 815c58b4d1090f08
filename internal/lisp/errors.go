package lisp

import (
	"fmt"
	"sort"

	"github.com/lithammer/fuzzysearch/fuzzy"
)

// EvaluationError is the diagnostic an evaluation failure surfaces to the
// hook driver, which prints it to stderr verbatim before propagating the
// generic EvaluationError error kind (spec §4.F, §7).
type EvaluationError struct {
	File       string
	Message    string
	Suggestion string
}

func (e *EvaluationError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.File, e.Message)
	if e.Suggestion != "" {
		msg += fmt.Sprintf(" (did you mean %q?)", e.Suggestion)
	}
	return msg
}

// evalErr builds an EvaluationError for the file currently being
// evaluated.
func (i *Interpreter) evalErr(format string, args ...interface{}) error {
	return &EvaluationError{File: i.currentFile, Message: fmt.Sprintf(format, args...)}
}

// unboundErr reports a reference to a name nothing in scope defines,
// suggesting the closest-spelled candidate among bound primitives and
// local bindings.
func (i *Interpreter) unboundErr(name string, env *Env) error {
	candidates := append(env.names(), primitiveNames()...)
	return &EvaluationError{
		File:       i.currentFile,
		Message:    fmt.Sprintf("unbound reference: %s", name),
		Suggestion: suggest(name, candidates),
	}
}

func suggest(name string, candidates []string) string {
	if len(candidates) == 0 {
		return ""
	}
	ranks := fuzzy.RankFindNormalizedFold(name, candidates)
	if len(ranks) > 0 {
		sort.Sort(ranks)
		return ranks[0].Target
	}
	// No candidate contains name's characters in order (e.g. a typo with an
	// extra letter): fall back to the smallest edit distance.
	sorted := append([]string(nil), candidates...)
	sort.Strings(sorted)
	best, bestDist := "", -1
	for _, c := range sorted {
		if d := fuzzy.LevenshteinDistance(name, c); bestDist < 0 || d < bestDist {
			best, bestDist = c, d
		}
	}
	return best
}
