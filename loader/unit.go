package loader

import (
	"path/filepath"
)

// State tags a registry entry.
type State int

const (
	Registering State = iota
	Executing
	Ready
	Failed
)

func (s State) String() string {
	switch s {
	case Registering:
		return "registering"
	case Executing:
		return "executing"
	case Ready:
		return "ready"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// Context records how a unit was loaded. Contexts form a tree: Parent is
// the context of the unit whose body triggered the load, nil for loads made
// directly by the host.
type Context struct {
	Path    []string
	Reload  bool
	Cascade bool
	InPlace bool
	Epoch   uint64
	Parent  *Context
}

// Unit is a loaded code unit. The same *Unit stays registered across
// in-place reloads; any other reload replaces it.
type Unit struct {
	Identity  string
	File      string
	Namespace Namespace
	Meta      map[string]any

	ctx        *Context
	loader     *Loader
	state      State
	fromCache  bool
	generation int
}

// Context returns the context of the most recent (re)load.
func (u *Unit) Context() *Context { return u.ctx }

// Loader returns the loader that owns u.
func (u *Unit) Loader() *Loader { return u.loader }

// State returns the registry state of u.
func (u *Unit) State() State { return u.state }

// FromCache reports whether the last execution ran a cached representation.
func (u *Unit) FromCache() bool { return u.fromCache }

// Generation counts how many times a body has been executed into u.
func (u *Unit) Generation() int { return u.generation }

// Dir is the directory relative references from u's body resolve against.
func (u *Unit) Dir() string { return filepath.Dir(u.File) }

// Require loads ref on behalf of u from outside any load: it takes the
// loader lock for the duration of the call. Unit bodies and hooks use
// Session.Require with the session they were given.
func (u *Unit) Require(ref string, opts LoadOptions) (any, error) {
	var v any
	err := u.loader.Do(func(s *Session) (err error) {
		v, err = s.Require(u, ref, opts)
		return err
	})
	return v, err
}

// UnitInfo is a point-in-time description of a registered unit.
type UnitInfo struct {
	Identity   string            `json:"identity"`
	File       string            `json:"file"`
	State      string            `json:"state"`
	Generation int               `json:"generation"`
	Epoch      uint64            `json:"epoch"`
	FromCache  bool              `json:"from_cache"`
	Meta       map[string]string `json:"meta,omitempty"`
}

func (u *Unit) info() UnitInfo {
	info := UnitInfo{
		Identity:   u.Identity,
		File:       u.File,
		State:      u.state.String(),
		Generation: u.generation,
		FromCache:  u.fromCache,
	}
	if u.ctx != nil {
		info.Epoch = u.ctx.Epoch
	}
	if d, ok := u.Namespace.(Describer); ok {
		info.Meta = d.Describe()
	}
	return info
}
