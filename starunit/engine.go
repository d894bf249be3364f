// Package starunit runs units written in Starlark. Compiled programs are
// persisted with Program.Write, so cached units start without compiling.
package starunit

import (
	"bytes"
	"fmt"
	"log"
	"path/filepath"

	starjson "go.starlark.net/lib/json"
	starmath "go.starlark.net/lib/math"
	startime "go.starlark.net/lib/time"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
	"go.starlark.net/syntax"

	"go-require/loader"
)

const (
	Extension    = ".star"
	DefaultEntry = "init.star"
	CacheTag     = "star1"
)

var fileOptions = &syntax.FileOptions{
	Set:             true,
	While:           true,
	TopLevelControl: true,
	GlobalReassign:  true,
	Recursion:       true,
}

// builtins are available to every unit in addition to the Starlark universe.
var builtins = starlark.StringDict{
	"struct": starlark.NewBuiltin("struct", starlarkstruct.Make),
	"json":   starjson.Module,
	"math":   starmath.Module,
	"time":   startime.Module,
}

// unitNames are bound per unit at execution time.
var unitNames = []string{"require", "__file__", "__name__"}

// sessionKey holds the *loader.Session a thread runs under.
const sessionKey = "go-require.session"

// Engine implements loader.Engine for Starlark.
type Engine struct {
	// Predeclared are extra host bindings visible to every unit. Cached
	// programs resolve names against the set that was present when they were
	// compiled.
	Predeclared starlark.StringDict
	// Print receives print() output. Nil logs it.
	Print func(thread *starlark.Thread, msg string)
}

func New() *Engine {
	return &Engine{}
}

func (e *Engine) Name() string         { return "starlark" }
func (e *Engine) Extension() string    { return Extension }
func (e *Engine) DefaultEntry() string { return DefaultEntry }
func (e *Engine) CacheTag() string     { return CacheTag }

func (e *Engine) NewNamespace() loader.Namespace {
	return &Namespace{globals: make(starlark.StringDict)}
}

func (e *Engine) Compile(filename string, src []byte) (loader.Code, error) {
	_, prog, err := starlark.SourceProgramOptions(fileOptions, filename, src, e.isPredeclared)
	if err != nil {
		return nil, err
	}
	return &code{engine: e, prog: prog}, nil
}

func (e *Engine) Decode(data []byte) (loader.Code, error) {
	prog, err := starlark.CompiledProgram(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	return &code{engine: e, prog: prog}, nil
}

func (e *Engine) isPredeclared(name string) bool {
	for _, n := range unitNames {
		if n == name {
			return true
		}
	}
	if _, ok := builtins[name]; ok {
		return true
	}
	_, ok := e.Predeclared[name]
	return ok
}

func (e *Engine) predeclared(u *loader.Unit) starlark.StringDict {
	d := make(starlark.StringDict, len(builtins)+len(e.Predeclared)+len(unitNames))
	for k, v := range builtins {
		d[k] = v
	}
	for k, v := range e.Predeclared {
		d[k] = v
	}
	d["require"] = requireBuiltin(u)
	d["__file__"] = starlark.String(u.File)
	d["__name__"] = starlark.String(u.Identity)
	return d
}

func (e *Engine) print(thread *starlark.Thread, msg string) {
	if e.Print != nil {
		e.Print(thread, msg)
		return
	}
	log.Printf("[unit:%s] %s", filepath.Base(thread.Name), msg)
}

func (e *Engine) thread(s *loader.Session, name string) *starlark.Thread {
	thread := &starlark.Thread{Name: name, Print: e.print}
	thread.SetLocal(sessionKey, s)
	return thread
}

// Call invokes a function defined by a unit. Calls to require made by fn run
// inside s, so Call belongs inside Loader.Do.
func (e *Engine) Call(s *loader.Session, fn starlark.Value, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	return starlark.Call(e.thread(s, "call"), fn, args, kwargs)
}

type code struct {
	engine *Engine
	prog   *starlark.Program
}

func (c *code) Encode() ([]byte, error) {
	var buf bytes.Buffer
	if err := c.prog.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Exec runs the program and merges the resulting globals into the unit's
// namespace. In-place reloads therefore keep bindings the new body no longer
// defines.
func (c *code) Exec(s *loader.Session, u *loader.Unit) error {
	ns, ok := u.Namespace.(*Namespace)
	if !ok {
		return fmt.Errorf("starunit: %s has a %T namespace", u.Identity, u.Namespace)
	}
	thread := c.engine.thread(s, u.Identity)
	thread.Load = func(_ *starlark.Thread, module string) (starlark.StringDict, error) {
		return loadStatement(s, u, module)
	}
	globals, err := c.prog.Init(thread, c.engine.predeclared(u))
	for name, v := range globals {
		ns.globals[name] = v
	}
	return err
}
