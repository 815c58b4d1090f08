package lisp

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Shopify/shadowenv/internal/digest"
	"github.com/Shopify/shadowenv/internal/overlay"
	"github.com/Shopify/shadowenv/internal/undo"
)

func TestEnvSetAndGet(t *testing.T) {
	ov := overlay.New(map[string]string{}, undo.New())
	i := New(ov)

	err := i.evalProgram("00.lisp", `(env/set "FOO" "bar")`)
	require.NoError(t, err)

	v, ok := ov.Get("FOO")
	require.True(t, ok)
	require.Equal(t, "bar", v)
}

func TestEnvSetUnsetsWithUnit(t *testing.T) {
	ov := overlay.New(map[string]string{"FOO": "bar"}, undo.New())
	i := New(ov)

	require.NoError(t, i.evalProgram("00.lisp", `(env/set "FOO" (env/get "MISSING"))`))

	_, ok := ov.Get("FOO")
	require.False(t, ok)
}

func TestWhenLetBindsOnPresence(t *testing.T) {
	ov := overlay.New(map[string]string{"FOO": "bar"}, undo.New())
	i := New(ov)

	err := i.evalProgram("00.lisp", `
		(when-let ((v (env/get "FOO")))
		  (env/set "BAZ" v))
	`)
	require.NoError(t, err)

	v, ok := ov.Get("BAZ")
	require.True(t, ok)
	require.Equal(t, "bar", v)
}

func TestWhenLetSkipsOnAbsence(t *testing.T) {
	ov := overlay.New(map[string]string{}, undo.New())
	i := New(ov)

	err := i.evalProgram("00.lisp", `
		(when-let ((v (env/get "MISSING")))
		  (env/set "BAZ" v))
	`)
	require.NoError(t, err)

	_, ok := ov.Get("BAZ")
	require.False(t, ok)
}

func TestPathlistPrimitives(t *testing.T) {
	ov := overlay.New(map[string]string{"PATH": "/usr/bin"}, undo.New())
	i := New(ov)

	err := i.evalProgram("00.lisp", `
		(env/prepend-to-pathlist "PATH" "/shadowenv/bin")
		(env/append-to-pathlist "PATH" "/opt/bin")
	`)
	require.NoError(t, err)

	v, _ := ov.Get("PATH")
	require.Equal(t, "/shadowenv/bin:/usr/bin:/opt/bin", v)
}

func TestProvideRecordsFeature(t *testing.T) {
	ov := overlay.New(map[string]string{}, undo.New())
	i := New(ov)

	require.NoError(t, i.evalProgram("00.lisp", `(provide "ruby" "3.2.0")`))

	features := ov.Features()
	require.Len(t, features, 1)
	require.Equal(t, "ruby", features[0].Name)
	require.Equal(t, "3.2.0", *features[0].Version)
}

func TestUnboundReferenceReportsEvaluationError(t *testing.T) {
	ov := overlay.New(map[string]string{}, undo.New())
	i := New(ov)

	err := i.evalProgram("00.lisp", `(env/set "FOO" (env/gett "FOO"))`)
	require.Error(t, err)

	var evalErr *EvaluationError
	require.ErrorAs(t, err, &evalErr)
	require.Equal(t, "env/get", evalErr.Suggestion)
}

func TestLetAndDefineFunction(t *testing.T) {
	ov := overlay.New(map[string]string{}, undo.New())
	i := New(ov)

	err := i.evalProgram("00.lisp", `
		(define (greeting name) (path-concat "hello" name))
		(let ((who "world"))
		  (env/set "GREETING" (greeting who)))
	`)
	require.NoError(t, err)

	v, ok := ov.Get("GREETING")
	require.True(t, ok)
	require.Equal(t, "hello/world", v)
}

func TestEvaluateChainOrdersOutermostFirstAndRestoresWorkingDirectory(t *testing.T) {
	ov := overlay.New(map[string]string{}, undo.New())
	i := New(ov)

	before, err := os.Getwd()
	require.NoError(t, err)

	sources := []digest.Source{
		{Dir: t.TempDir(), Files: []digest.ProgramFile{{Name: "00.lisp", Contents: `(env/set "K" "1")`}}},
		{Dir: t.TempDir(), Files: []digest.ProgramFile{{Name: "00.lisp", Contents: `(env/set "K" "2")`}}},
	}

	require.NoError(t, i.EvaluateChain(sources))

	v, ok := ov.Get("K")
	require.True(t, ok)
	require.Equal(t, "2", v, "the innermost (last) source must win")

	after, err := os.Getwd()
	require.NoError(t, err)
	require.Equal(t, before, after)
}
