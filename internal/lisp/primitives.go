package lisp

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/Shopify/shadowenv/internal/overlay"
)

// primitiveNames lists every bound primitive, used as "did you mean"
// candidates when a program references an unbound symbol.
func primitiveNames() []string {
	names := make([]string, 0, len(builtinTable))
	for name := range builtinTable {
		names = append(names, name)
	}
	return names
}

var builtinTable map[string]func(*overlay.Overlay, *Interpreter, []Value) (Value, error)

func init() {
	builtinTable = map[string]func(*overlay.Overlay, *Interpreter, []Value) (Value, error){
		"env/get":                             primEnvGet,
		"env/set":                             primEnvSet,
		"env/append-to-pathlist":              primAppend,
		"env/prepend-to-pathlist":             primPrepend,
		"env/remove-from-pathlist":            primRemove,
		"env/remove-from-pathlist-containing": primRemoveContaining,
		"provide":                             primProvide,
		"expand-path":                         primExpandPath,
		"path-concat":                         primPathConcat,
	}
}

// bindPrimitives installs every primitive above, closed over ov, into env.
func bindPrimitives(env *Env, ov *overlay.Overlay) {
	for name, fn := range builtinTable {
		fn := fn
		env.define(name, Value{Kind: KindBuiltin, Builtin: &Builtin{
			Name: name,
			Fn: func(interp *Interpreter, args []Value) (Value, error) {
				return fn(ov, interp, args)
			},
		}})
	}
}

func argString(interp *Interpreter, args []Value, idx int, who string) (string, error) {
	if idx >= len(args) {
		return "", interp.evalErr("%s: missing argument %d", who, idx+1)
	}
	s, ok := args[idx].AsString()
	if !ok {
		return "", interp.evalErr("%s: argument %d must be a string, got %s", who, idx+1, args[idx].String())
	}
	return s, nil
}

func primEnvGet(ov *overlay.Overlay, interp *Interpreter, args []Value) (Value, error) {
	name, err := argString(interp, args, 0, "env/get")
	if err != nil {
		return Value{}, err
	}
	v, ok := ov.Get(name)
	if !ok {
		return Unit, nil
	}
	return Str(v), nil
}

func primEnvSet(ov *overlay.Overlay, interp *Interpreter, args []Value) (Value, error) {
	if len(args) != 2 {
		return Value{}, interp.evalErr("env/set: expected 2 arguments, got %d", len(args))
	}
	name, err := argString(interp, args, 0, "env/set")
	if err != nil {
		return Value{}, err
	}
	if args[1].Kind == KindUnit {
		ov.Set(name, nil)
		return Unit, nil
	}
	val, ok := args[1].AsString()
	if !ok {
		return Value{}, interp.evalErr("env/set: value must be a string or unit, got %s", args[1].String())
	}
	ov.Set(name, &val)
	return Unit, nil
}

func twoStringArgs(interp *Interpreter, args []Value, who string) (string, string, error) {
	if len(args) != 2 {
		return "", "", interp.evalErr("%s: expected 2 arguments, got %d", who, len(args))
	}
	name, err := argString(interp, args, 0, who)
	if err != nil {
		return "", "", err
	}
	val, err := argString(interp, args, 1, who)
	if err != nil {
		return "", "", err
	}
	return name, val, nil
}

func primAppend(ov *overlay.Overlay, interp *Interpreter, args []Value) (Value, error) {
	name, elem, err := twoStringArgs(interp, args, "env/append-to-pathlist")
	if err != nil {
		return Value{}, err
	}
	ov.AppendToPathList(name, elem)
	return Unit, nil
}

func primPrepend(ov *overlay.Overlay, interp *Interpreter, args []Value) (Value, error) {
	name, elem, err := twoStringArgs(interp, args, "env/prepend-to-pathlist")
	if err != nil {
		return Value{}, err
	}
	ov.PrependToPathList(name, elem)
	return Unit, nil
}

func primRemove(ov *overlay.Overlay, interp *Interpreter, args []Value) (Value, error) {
	name, elem, err := twoStringArgs(interp, args, "env/remove-from-pathlist")
	if err != nil {
		return Value{}, err
	}
	ov.RemoveFromPathList(name, elem)
	return Unit, nil
}

func primRemoveContaining(ov *overlay.Overlay, interp *Interpreter, args []Value) (Value, error) {
	name, substr, err := twoStringArgs(interp, args, "env/remove-from-pathlist-containing")
	if err != nil {
		return Value{}, err
	}
	ov.RemoveFromPathListContaining(name, substr)
	return Unit, nil
}

func primProvide(ov *overlay.Overlay, interp *Interpreter, args []Value) (Value, error) {
	if len(args) != 1 && len(args) != 2 {
		return Value{}, interp.evalErr("provide: expected 1 or 2 arguments, got %d", len(args))
	}
	name, err := argString(interp, args, 0, "provide")
	if err != nil {
		return Value{}, err
	}
	var version *string
	if len(args) == 2 {
		v, err := argString(interp, args, 1, "provide")
		if err != nil {
			return Value{}, err
		}
		version = &v
	}
	ov.AddFeature(name, version)
	return Unit, nil
}

// primExpandPath tilde-expands then canonicalizes a path, failing if the
// result does not exist on disk (spec §4.F).
func primExpandPath(_ *overlay.Overlay, interp *Interpreter, args []Value) (Value, error) {
	raw, err := argString(interp, args, 0, "expand-path")
	if err != nil {
		return Value{}, err
	}

	expanded := raw
	if raw == "~" || strings.HasPrefix(raw, "~/") {
		home, herr := os.UserHomeDir()
		if herr != nil {
			return Value{}, interp.evalErr("expand-path: cannot resolve home directory: %v", herr)
		}
		expanded = filepath.Join(home, strings.TrimPrefix(raw, "~"))
	}

	abs, err := filepath.Abs(expanded)
	if err != nil {
		return Value{}, interp.evalErr("expand-path: %v", err)
	}
	if _, err := os.Stat(abs); err != nil {
		return Value{}, interp.evalErr("expand-path: %s does not exist", abs)
	}
	canon, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return Value{}, interp.evalErr("expand-path: %v", err)
	}
	return Str(canon), nil
}

func primPathConcat(_ *overlay.Overlay, interp *Interpreter, args []Value) (Value, error) {
	parts := make([]string, len(args))
	for idx, a := range args {
		s, ok := a.AsString()
		if !ok {
			return Value{}, interp.evalErr("path-concat: argument %d must be a string, got %s", idx+1, a.String())
		}
		parts[idx] = s
	}
	return Str(filepath.Join(parts...)), nil
}
