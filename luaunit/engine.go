// Package luaunit runs units written in Lua 5.1 on gopher-lua.
//
// All units of an engine share one Lua state. Each unit gets its own
// namespace table whose metatable falls back to the shared globals, and the
// chunk runs with that table as its environment, so assignments stay local
// to the unit. gopher-lua prototypes have no serialised form, so units are
// never written to the cache.
package luaunit

import (
	"bytes"
	"fmt"
	"time"

	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/parse"

	"go-require/loader"
)

const (
	Extension    = ".lua"
	DefaultEntry = "init.lua"
	CacheTag     = "lua51"
)

// Engine implements loader.Engine for Lua. An Engine belongs to a single
// loader.
type Engine struct {
	rt *Runtime
}

// New creates an engine whose unit executions are bounded by timeout.
func New(timeout time.Duration) *Engine {
	e := &Engine{rt: NewRuntime(timeout)}
	NewUtilsAPI().Register(e.rt.L)
	return e
}

func (e *Engine) Name() string         { return "lua" }
func (e *Engine) Extension() string    { return Extension }
func (e *Engine) DefaultEntry() string { return DefaultEntry }
func (e *Engine) CacheTag() string     { return CacheTag }

// State returns the underlying Lua state for registering host APIs.
func (e *Engine) State() *lua.LState {
	return e.rt.L
}

// SetGlobal binds a value visible to every unit.
func (e *Engine) SetGlobal(name string, v lua.LValue) {
	e.rt.L.SetGlobal(name, v)
}

// Call invokes a function defined by a unit and returns its first result.
// Calls to require made by fn run inside s, so Call belongs inside
// Loader.Do.
func (e *Engine) Call(s *loader.Session, fn *lua.LFunction, args ...lua.LValue) (lua.LValue, error) {
	ret, err := e.rt.call(s, fn, 1, args...)
	if err != nil {
		return lua.LNil, err
	}
	return ret[0], nil
}

// Close shuts down the shared Lua state.
func (e *Engine) Close() {
	e.rt.Close()
}

func (e *Engine) NewNamespace() loader.Namespace {
	L := e.rt.L
	tbl := L.NewTable()
	mt := L.NewTable()
	mt.RawSetString("__index", L.Get(lua.GlobalsIndex))
	L.SetMetatable(tbl, mt)
	return &Namespace{tbl: tbl}
}

func (e *Engine) Compile(filename string, src []byte) (loader.Code, error) {
	chunk, err := parse.Parse(bytes.NewReader(src), filename)
	if err != nil {
		return nil, err
	}
	proto, err := lua.Compile(chunk, filename)
	if err != nil {
		return nil, err
	}
	return &code{rt: e.rt, proto: proto}, nil
}

func (e *Engine) Decode(data []byte) (loader.Code, error) {
	return nil, fmt.Errorf("%w: lua prototypes cannot be decoded", loader.ErrNoCacheForm)
}

type code struct {
	rt    *Runtime
	proto *lua.FunctionProto
}

func (c *code) Encode() ([]byte, error) {
	return nil, fmt.Errorf("%w: lua prototypes cannot be encoded", loader.ErrNoCacheForm)
}

func (c *code) Exec(s *loader.Session, u *loader.Unit) error {
	ns, ok := u.Namespace.(*Namespace)
	if !ok {
		return fmt.Errorf("luaunit: %s has a %T namespace", u.Identity, u.Namespace)
	}
	L := c.rt.L
	ns.tbl.RawSetString("require", L.NewFunction(c.rt.requireFn(u)))
	ns.tbl.RawSetString("log", L.NewFunction(logFn(u)))
	ns.tbl.RawSetString("__file__", lua.LString(u.File))
	ns.tbl.RawSetString("__name__", lua.LString(u.Identity))

	fn := L.NewFunctionFromProto(c.proto)
	fn.Env = ns.tbl
	_, err := c.rt.call(s, fn, 0)
	return err
}

// Namespace is the environment table of a Lua unit.
type Namespace struct {
	tbl *lua.LTable
}

func (n *Namespace) Lookup(name string) (any, bool) {
	v := n.tbl.RawGetString(name)
	if v == lua.LNil {
		return nil, false
	}
	return v, true
}

// Table returns the live environment table.
func (n *Namespace) Table() *lua.LTable {
	return n.tbl
}

func (n *Namespace) Describe() map[string]string {
	meta, err := ParseMeta(n.tbl)
	if err != nil {
		return nil
	}
	return meta.Map()
}
