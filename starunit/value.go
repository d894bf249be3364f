package starunit

import (
	"fmt"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"

	"go-require/loader"
)

// UnitValue exposes a loaded unit to Starlark. Attribute reads go to the
// unit's live namespace, so they observe in-place reloads.
type UnitValue struct {
	unit *loader.Unit
}

var (
	_ starlark.HasAttrs   = (*UnitValue)(nil)
	_ starlark.Comparable = (*UnitValue)(nil)
)

// Wrap returns the Starlark view of u.
func Wrap(u *loader.Unit) *UnitValue {
	return &UnitValue{unit: u}
}

// Unit returns the wrapped unit.
func (v *UnitValue) Unit() *loader.Unit { return v.unit }

func (v *UnitValue) String() string        { return fmt.Sprintf("<unit %q>", v.unit.Identity) }
func (v *UnitValue) Type() string          { return "unit" }
func (v *UnitValue) Freeze()               {}
func (v *UnitValue) Truth() starlark.Bool  { return starlark.True }
func (v *UnitValue) Hash() (uint32, error) { return starlark.String(v.unit.Identity).Hash() }

func (v *UnitValue) Attr(name string) (starlark.Value, error) {
	ns, ok := v.unit.Namespace.(*Namespace)
	if !ok {
		return nil, nil
	}
	return ns.globals[name], nil
}

func (v *UnitValue) AttrNames() []string {
	ns, ok := v.unit.Namespace.(*Namespace)
	if !ok {
		return nil
	}
	return ns.names()
}

func (v *UnitValue) CompareSameType(op syntax.Token, y starlark.Value, depth int) (bool, error) {
	same := v.unit == y.(*UnitValue).unit
	switch op {
	case syntax.EQL:
		return same, nil
	case syntax.NEQ:
		return !same, nil
	}
	return false, fmt.Errorf("%s %s %s not implemented", v.Type(), op, y.Type())
}
