package luaunit

import (
	"fmt"

	lua "github.com/yuin/gopher-lua"

	"go-require/loader"
)

// requireFn binds require(ref [, opts]) to u. opts may set directory, path,
// reload, cascade, inplace and exports. Outside a running call it takes the
// loader lock.
func (r *Runtime) requireFn(u *loader.Unit) lua.LGFunction {
	return func(L *lua.LState) int {
		ref := L.CheckString(1)
		opts, err := r.options(L.OptTable(2, nil))
		if err != nil {
			L.ArgError(2, err.Error())
			return 0
		}

		var v any
		if s := r.session; s != nil && s.Open() {
			v, err = s.Require(u, ref, opts)
		} else {
			v, err = u.Require(ref, opts)
		}
		if err != nil {
			r.raise(L, err)
			return 0
		}
		lv, err := r.toLua(v)
		if err != nil {
			L.RaiseError("%s", err.Error())
			return 0
		}
		L.Push(lv)
		return 1
	}
}

func (r *Runtime) options(tbl *lua.LTable) (loader.LoadOptions, error) {
	var opts loader.LoadOptions
	if tbl == nil {
		return opts, nil
	}

	switch d := tbl.RawGetString("directory").(type) {
	case *lua.LNilType:
	case lua.LString:
		opts.Directory = string(d)
	default:
		return opts, fmt.Errorf("directory must be a string, got %s", d.Type())
	}

	switch p := tbl.RawGetString("path").(type) {
	case *lua.LNilType:
	case lua.LString:
		opts.Path = []string{string(p)}
	case *lua.LTable:
		for i := 1; i <= p.Len(); i++ {
			opts.Path = append(opts.Path, p.RawGetInt(i).String())
		}
	default:
		return opts, fmt.Errorf("path must be a string or list, got %s", p.Type())
	}

	opts.Reload = lua.LVAsBool(tbl.RawGetString("reload"))
	opts.Cascade = lua.LVAsBool(tbl.RawGetString("cascade"))
	opts.InPlace = lua.LVAsBool(tbl.RawGetString("inplace"))

	switch ex := tbl.RawGetString("exports").(type) {
	case *lua.LNilType:
	case lua.LBool:
		opts.Exports = bool(ex)
	case *lua.LFunction:
		opts.Exports = r.selector(ex)
	default:
		// rejected by the loader
		opts.Exports = ex
	}
	return opts, nil
}

func (r *Runtime) selector(fn *lua.LFunction) func(*loader.Unit) (any, error) {
	return func(u *loader.Unit) (any, error) {
		arg, err := r.toLua(u)
		if err != nil {
			return nil, err
		}
		if err := r.L.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}, arg); err != nil {
			return nil, unwrapError(err)
		}
		ret := r.L.Get(-1)
		r.L.Pop(1)
		return ret, nil
	}
}

// toLua converts a selected result for use in Lua. A unit is represented by
// its namespace table.
func (r *Runtime) toLua(v any) (lua.LValue, error) {
	switch v := v.(type) {
	case nil:
		return lua.LNil, nil
	case lua.LValue:
		return v, nil
	case *loader.Unit:
		ns, ok := v.Namespace.(*Namespace)
		if !ok {
			return nil, fmt.Errorf("require: %s is not a Lua unit", v.Identity)
		}
		return ns.tbl, nil
	}
	return goToLua(r.L, v), nil
}
