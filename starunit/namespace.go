package starunit

import (
	"sort"

	"go.starlark.net/starlark"
)

// Namespace holds the globals of a Starlark unit.
type Namespace struct {
	globals starlark.StringDict
}

func (n *Namespace) Lookup(name string) (any, bool) {
	v, ok := n.globals[name]
	return v, ok
}

// Globals returns the live global bindings.
func (n *Namespace) Globals() starlark.StringDict {
	return n.globals
}

// Describe reads the optional "meta" dict or struct.
func (n *Namespace) Describe() map[string]string {
	meta, ok := n.globals["meta"]
	if !ok {
		return nil
	}
	out := make(map[string]string)
	switch m := meta.(type) {
	case starlark.IterableMapping:
		for _, item := range m.Items() {
			if k, ok := starlark.AsString(item[0]); ok {
				out[k] = text(item[1])
			}
		}
	case starlark.HasAttrs:
		for _, name := range m.AttrNames() {
			if v, err := m.Attr(name); err == nil && v != nil {
				out[name] = text(v)
			}
		}
	default:
		return nil
	}
	return out
}

func text(v starlark.Value) string {
	if s, ok := starlark.AsString(v); ok {
		return s
	}
	return v.String()
}

func (n *Namespace) names() []string {
	names := make([]string, 0, len(n.globals))
	for k := range n.globals {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
