package luaunit

import (
	"context"
	"errors"
	"fmt"
	"time"

	lua "github.com/yuin/gopher-lua"

	"go-require/loader"
)

const MaxExecutionTime = 30 * time.Second

// Runtime wraps the single Lua state shared by every unit of an engine.
// Unit bodies run nested on the calling goroutine, so the state is not
// guarded by a mutex; the owning loader serialises access.
type Runtime struct {
	L       *lua.LState
	timeout time.Duration
	depth   int
	errMeta *lua.LTable
	// session is the one the innermost running call was given.
	session *loader.Session
}

// NewRuntime creates a Lua state with the base, table, string, math and os
// libraries. timeout bounds each outermost unit execution; zero disables it.
func NewRuntime(timeout time.Duration) *Runtime {
	L := lua.NewState(lua.Options{
		SkipOpenLibs: true,
	})

	lua.OpenBase(L)
	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)
	lua.OpenOs(L)

	// Code is loaded through require only
	L.SetGlobal("dofile", lua.LNil)
	L.SetGlobal("loadfile", lua.LNil)
	L.SetGlobal("module", lua.LNil)

	r := &Runtime{L: L, timeout: timeout}
	r.errMeta = L.NewTable()
	r.errMeta.RawSetString("__tostring", L.NewFunction(errorString))
	return r
}

// Close shuts down the Lua state
func (r *Runtime) Close() {
	r.L.Close()
}

// call runs fn inside s and returns nret results. Only the outermost call
// installs the timeout context.
func (r *Runtime) call(s *loader.Session, fn *lua.LFunction, nret int, args ...lua.LValue) ([]lua.LValue, error) {
	var ctx context.Context
	if r.depth == 0 && r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), r.timeout)
		defer cancel()
		r.L.SetContext(ctx)
		defer r.L.RemoveContext()
	}
	r.depth++
	defer func() { r.depth-- }()
	prev := r.session
	r.session = s
	defer func() { r.session = prev }()

	top := r.L.GetTop()
	defer r.L.SetTop(top)
	r.L.Push(fn)
	for _, arg := range args {
		r.L.Push(arg)
	}
	if err := r.L.PCall(len(args), nret, nil); err != nil {
		if ctx != nil && ctx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("unit timed out after %v", r.timeout)
		}
		return nil, unwrapError(err)
	}
	ret := make([]lua.LValue, 0, nret)
	for i := top + 1; i <= r.L.GetTop(); i++ {
		ret = append(ret, r.L.Get(i))
	}
	return ret, nil
}

// raise throws err as a Lua error. The value is userdata carrying err so
// that the Go error survives the trip through Lua frames unchanged.
func (r *Runtime) raise(L *lua.LState, err error) {
	ud := L.NewUserData()
	ud.Value = err
	L.SetMetatable(ud, r.errMeta)
	L.Error(ud, 1)
}

func errorString(L *lua.LState) int {
	ud := L.CheckUserData(1)
	if err, ok := ud.Value.(error); ok {
		L.Push(lua.LString(err.Error()))
	} else {
		L.Push(lua.LString("error"))
	}
	return 1
}

// unwrapError returns the Go error carried by a raised userdata value.
func unwrapError(err error) error {
	var apiErr *lua.ApiError
	if errors.As(err, &apiErr) {
		if ud, ok := apiErr.Object.(*lua.LUserData); ok {
			if inner, ok := ud.Value.(error); ok {
				return inner
			}
		}
	}
	return err
}
