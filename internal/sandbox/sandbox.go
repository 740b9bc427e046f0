// Package sandbox evaluates resource scripts and call expressions in an
// embedded Go interpreter.
//
// Every Environment owns its own interpreter. Scripts can only reach the
// host through the bindings injected with InjectBinding and an allowlist of
// standard library packages. Bindings are dot-imported into the
// interpreter's main package, so both resource scripts and schedule
// expressions refer to them as plain identifiers (Log("x", 1), Timestamp()).
// Resource scripts must therefore not import the binding package themselves.
//
// Resource files are ordinary Go files declaring package main:
//
//	package main
//
//	import "fmt"
//
//	func blink(n int) {
//		Log("led", fmt.Sprint(n))
//	}
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"os"
	"reflect"
	"runtime/debug"
	"strings"
	"sync"

	"github.com/traefik/yaegi/interp"

	logx "qseq/pkg/logx"
)

// BindingPackage is the import path under which host bindings are exported.
const BindingPackage = "qseq"

var (
	ErrResourceLoad = errors.New("resource load failed")
	ErrInvocation   = errors.New("invocation failed")
	ErrBadBinding   = errors.New("invalid binding")
)

type Config struct {
	// Stdlib lists the standard library import paths scripts may use.
	// "*" allows every package the interpreter ships symbols for, except
	// the ones that reach the host filesystem, network or process. Nil means DefaultStdlib; an empty non-nil
	// slice allows nothing.
	Stdlib []string
}

type Environment struct {
	mu  sync.Mutex
	log logx.Logger
	in  *interp.Interpreter

	bindings map[string]reflect.Value
	dirty    bool
	loaded   []string
}

func New(cfg Config, log logx.Logger) (*Environment, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	in := interp.New(interp.Options{})
	if syms := stdlibSymbols(cfg.Stdlib); len(syms) > 0 {
		if err := in.Use(syms); err != nil {
			return nil, fmt.Errorf("sandbox: stdlib symbols: %w", err)
		}
	}
	return &Environment{
		log:      log.With(logx.String("component", "sandbox")),
		in:       in,
		bindings: map[string]reflect.Value{},
	}, nil
}

// InjectBinding makes value available to scripts and expressions under
// name. Injecting an existing name replaces it for code compiled afterwards.
func (e *Environment) InjectBinding(name string, value any) error {
	if !token.IsIdentifier(name) || name == "_" {
		return fmt.Errorf("%w: name %q is not an identifier", ErrBadBinding, name)
	}
	if value == nil {
		return fmt.Errorf("%w: %s is nil", ErrBadBinding, name)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.bindings[name] = reflect.ValueOf(value)
	e.dirty = true
	return nil
}

// syncBindings exports pending bindings and (re)imports them into the main
// package scope. Callers hold e.mu.
func (e *Environment) syncBindings() error {
	if !e.dirty {
		return nil
	}
	syms := make(map[string]reflect.Value, len(e.bindings))
	for k, v := range e.bindings {
		syms[k] = v
	}
	if err := e.in.Use(interp.Exports{BindingPackage + "/" + BindingPackage: syms}); err != nil {
		return fmt.Errorf("export bindings: %w", err)
	}
	if _, err := e.in.Eval(`import . "` + BindingPackage + `"`); err != nil {
		return fmt.Errorf("import bindings: %w", err)
	}
	e.dirty = false
	return nil
}

// LoadResource evaluates the Go script at path into the environment.
func (e *Environment) LoadResource(path string) (err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.syncBindings(); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrResourceLoad, path, err)
	}
	code, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrResourceLoad, err)
	}
	if strings.TrimSpace(string(code)) == "" {
		return fmt.Errorf("%w: %s is empty", ErrResourceLoad, path)
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %s: panic: %v", ErrResourceLoad, path, r)
		}
	}()
	if _, err := e.in.EvalPath(path); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrResourceLoad, path, err)
	}
	e.loaded = append(e.loaded, path)
	e.log.Debug("resource loaded", logx.String("path", path))
	return nil
}

// Resources returns the paths loaded so far, in load order.
func (e *Environment) Resources() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.loaded...)
}

// Invoke evaluates expr, typically a call like `step(1, "x")`, and returns
// its result. A non-nil error returned by the called function is reported
// as an invocation error. If ctx is cancelled before the evaluation
// finishes, ctx.Err() is returned unwrapped.
func (e *Environment) Invoke(ctx context.Context, expr string) (res any, err error) {
	if ctx == nil {
		ctx = context.Background()
	}
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, fmt.Errorf("%w: empty expression", ErrInvocation)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.syncBindings(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvocation, err)
	}

	defer func() {
		if r := recover(); r != nil {
			e.log.Debug("expression panicked", logx.String("expr", expr), logx.Stack(string(debug.Stack())))
			res, err = nil, fmt.Errorf("%w: %s: panic: %v", ErrInvocation, expr, r)
		}
	}()

	if wrapped, ok := e.tupleCall(expr); ok {
		return e.invokeTuple(ctx, expr, wrapped)
	}

	v, evalErr := e.in.EvalWithContext(ctx, expr)
	if evalErr != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(evalErr, ctxErr) {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrInvocation, expr, evalErr)
	}
	if !v.IsValid() {
		return nil, nil
	}
	if v.Kind() == reflect.Func {
		e.log.Warn("returned object is callable; forgot function call?", logx.String("expr", expr))
	}
	if !v.CanInterface() {
		return nil, nil
	}
	out := v.Interface()
	if callErr, ok := out.(error); ok && callErr != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvocation, expr, callErr)
	}
	return out, nil
}

var errorType = reflect.TypeOf((*error)(nil)).Elem()

// tupleCall rewrites a call to a function returning several values with a
// trailing error so the interpreter hands back every result. Only plain
// identifiers and pkg.Func selectors are inspected; evaluating them has no
// side effects.
func (e *Environment) tupleCall(expr string) (string, bool) {
	x, err := parser.ParseExpr(expr)
	if err != nil {
		return "", false
	}
	call, ok := x.(*ast.CallExpr)
	if !ok {
		return "", false
	}
	switch fn := call.Fun.(type) {
	case *ast.Ident:
	case *ast.SelectorExpr:
		if _, ok := fn.X.(*ast.Ident); !ok {
			return "", false
		}
	default:
		return "", false
	}
	callee := expr[call.Fun.Pos()-1 : call.Fun.End()-1]
	fv, err := e.in.Eval(callee)
	if err != nil || !fv.IsValid() || fv.Kind() != reflect.Func {
		return "", false
	}
	ft := fv.Type()
	n := ft.NumOut()
	if n < 2 || !ft.Out(n-1).Implements(errorType) {
		return "", false
	}
	names := make([]string, n)
	for i := range names {
		names[i] = fmt.Sprintf("r%d", i)
	}
	list := strings.Join(names, ", ")
	return fmt.Sprintf("func() []interface{} { %s := %s; return []interface{}{%s} }()", list, expr, list), true
}

// invokeTuple evaluates a rewritten call and returns its first result, or
// its trailing error.
func (e *Environment) invokeTuple(ctx context.Context, expr, wrapped string) (any, error) {
	v, evalErr := e.in.EvalWithContext(ctx, wrapped)
	if evalErr != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(evalErr, ctxErr) {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrInvocation, expr, evalErr)
	}
	if !v.IsValid() || !v.CanInterface() {
		return nil, nil
	}
	outs, ok := v.Interface().([]interface{})
	if !ok || len(outs) == 0 {
		return nil, nil
	}
	switch last := outs[len(outs)-1].(type) {
	case nil:
	case error:
		return nil, fmt.Errorf("%w: %s: %w", ErrInvocation, expr, last)
	default:
		return nil, fmt.Errorf("%w: %s: %v", ErrInvocation, expr, last)
	}
	return outs[0], nil
}
