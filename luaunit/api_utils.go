package luaunit

import (
	"encoding/base64"
	"encoding/json"
	"log"
	"path/filepath"

	lua "github.com/yuin/gopher-lua"

	"go-require/loader"
)

// UtilsAPI provides json and base64 helpers shared by all units
type UtilsAPI struct{}

// NewUtilsAPI creates a new utils API
func NewUtilsAPI() *UtilsAPI {
	return &UtilsAPI{}
}

// Register adds utility modules to the Lua globals
func (u *UtilsAPI) Register(L *lua.LState) {
	jsonMod := L.NewTable()
	jsonMod.RawSetString("encode", L.NewFunction(u.jsonEncode))
	jsonMod.RawSetString("decode", L.NewFunction(u.jsonDecode))
	L.SetGlobal("json", jsonMod)

	b64Mod := L.NewTable()
	b64Mod.RawSetString("encode", L.NewFunction(u.base64Encode))
	b64Mod.RawSetString("decode", L.NewFunction(u.base64Decode))
	L.SetGlobal("base64", b64Mod)
}

// logFn is bound per unit so messages carry the unit's file name.
func logFn(unit *loader.Unit) lua.LGFunction {
	name := filepath.Base(unit.Identity)
	return func(L *lua.LState) int {
		msg := L.CheckString(1)
		log.Printf("[unit:%s] %s", name, msg)
		return 0
	}
}

func (u *UtilsAPI) jsonEncode(L *lua.LState) int {
	val := L.Get(1)
	goVal := ToGo(val)

	data, err := json.Marshal(goVal)
	if err != nil {
		L.Push(lua.LNil)
		L.Push(lua.LString(err.Error()))
		return 2
	}

	L.Push(lua.LString(string(data)))
	return 1
}

func (u *UtilsAPI) jsonDecode(L *lua.LState) int {
	str := L.CheckString(1)

	var goVal interface{}
	if err := json.Unmarshal([]byte(str), &goVal); err != nil {
		L.Push(lua.LNil)
		L.Push(lua.LString(err.Error()))
		return 2
	}

	L.Push(goToLua(L, goVal))
	return 1
}

func (u *UtilsAPI) base64Encode(L *lua.LState) int {
	data := L.CheckString(1)
	encoded := base64.StdEncoding.EncodeToString([]byte(data))
	L.Push(lua.LString(encoded))
	return 1
}

func (u *UtilsAPI) base64Decode(L *lua.LState) int {
	encoded := L.CheckString(1)
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		L.Push(lua.LNil)
		L.Push(lua.LString(err.Error()))
		return 2
	}
	L.Push(lua.LString(string(data)))
	return 1
}
