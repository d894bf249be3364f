package luaunit

import (
	"math"

	lua "github.com/yuin/gopher-lua"
)

// ToGo converts a Lua value to plain Go data. Tables with only positive
// integer keys become slices unless more than half of the slots would be
// holes; other tables become maps. Functions and userdata convert to nil.
func ToGo(val lua.LValue) interface{} {
	switch v := val.(type) {
	case lua.LBool:
		return bool(v)
	case lua.LNumber:
		return float64(v)
	case lua.LString:
		return string(v)
	case *lua.LTable:
		isArray := true
		maxIndex, count := 0, 0
		v.ForEach(func(k, _ lua.LValue) {
			count++
			if num, ok := k.(lua.LNumber); ok && num >= 1 && num <= math.MaxInt32 && num == lua.LNumber(int(num)) {
				if idx := int(num); idx > maxIndex {
					maxIndex = idx
				}
			} else {
				isArray = false
			}
		})

		if isArray && maxIndex > 0 && maxIndex <= 2*count {
			arr := make([]interface{}, maxIndex)
			v.ForEach(func(k, val lua.LValue) {
				arr[int(k.(lua.LNumber))-1] = ToGo(val) // Lua is 1-indexed
			})
			return arr
		}

		m := make(map[string]interface{})
		v.ForEach(func(k, val lua.LValue) {
			m[k.String()] = ToGo(val)
		})
		return m
	default:
		return nil
	}
}

// goToLua converts Go data to a Lua value
func goToLua(L *lua.LState, val interface{}) lua.LValue {
	switch v := val.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(v)
	case float64:
		return lua.LNumber(v)
	case int:
		return lua.LNumber(v)
	case int64:
		return lua.LNumber(v)
	case string:
		return lua.LString(v)
	case []string:
		tbl := L.NewTable()
		for i, item := range v {
			tbl.RawSetInt(i+1, lua.LString(item))
		}
		return tbl
	case []interface{}:
		tbl := L.NewTable()
		for i, item := range v {
			tbl.RawSetInt(i+1, goToLua(L, item))
		}
		return tbl
	case map[string]string:
		tbl := L.NewTable()
		for k, item := range v {
			tbl.RawSetString(k, lua.LString(item))
		}
		return tbl
	case map[string]interface{}:
		tbl := L.NewTable()
		for k, item := range v {
			tbl.RawSetString(k, goToLua(L, item))
		}
		return tbl
	default:
		return lua.LNil
	}
}
