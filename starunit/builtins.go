package starunit

import (
	"fmt"

	"go.starlark.net/starlark"

	"go-require/loader"
)

// requireBuiltin binds require(ref, directory=, path=, reload=, cascade=,
// inplace=, exports=) to u. It runs in the session of the calling thread;
// a thread without one takes the loader lock.
func requireBuiltin(u *loader.Unit) *starlark.Builtin {
	return starlark.NewBuiltin("require", func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var (
			ref     string
			dir     string
			path    starlark.Value = starlark.None
			reload  bool
			cascade bool
			inplace bool
			exports starlark.Value = starlark.True
		)
		if err := starlark.UnpackArgs(b.Name(), args, kwargs,
			"ref", &ref,
			"directory?", &dir,
			"path?", &path,
			"reload?", &reload,
			"cascade?", &cascade,
			"inplace?", &inplace,
			"exports?", &exports,
		); err != nil {
			return nil, err
		}

		dirs, err := stringList(path)
		if err != nil {
			return nil, fmt.Errorf("%s: path: %w", b.Name(), err)
		}
		opts := loader.LoadOptions{
			Directory: dir,
			Path:      dirs,
			Reload:    reload,
			Cascade:   cascade,
			InPlace:   inplace,
			Exports:   selector(thread, exports),
		}
		var v any
		if s, ok := thread.Local(sessionKey).(*loader.Session); ok && s != nil {
			v, err = s.Require(u, ref, opts)
		} else {
			v, err = u.Require(ref, opts)
		}
		if err != nil {
			return nil, err
		}
		return toValue(v)
	})
}

// selector converts a Starlark exports argument into a loader selector.
// Anything other than a bool or a callable is passed through unchanged so
// the loader rejects it.
func selector(thread *starlark.Thread, v starlark.Value) any {
	switch v := v.(type) {
	case starlark.Bool:
		return bool(v)
	case starlark.Callable:
		return func(u *loader.Unit) (any, error) {
			r, err := starlark.Call(thread, v, starlark.Tuple{Wrap(u)}, nil)
			if err != nil {
				return nil, err
			}
			return r, nil
		}
	}
	return v
}

func stringList(v starlark.Value) ([]string, error) {
	switch v := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.String:
		return []string{string(v)}, nil
	case starlark.Iterable:
		iter := v.Iterate()
		defer iter.Done()
		var out []string
		var x starlark.Value
		for iter.Next(&x) {
			s, ok := starlark.AsString(x)
			if !ok {
				return nil, fmt.Errorf("got %s, want string", x.Type())
			}
			out = append(out, s)
		}
		return out, nil
	}
	return nil, fmt.Errorf("got %s, want list of strings", v.Type())
}

// toValue converts a selected result for use in Starlark.
func toValue(v any) (starlark.Value, error) {
	switch v := v.(type) {
	case nil:
		return starlark.None, nil
	case starlark.Value:
		return v, nil
	case *loader.Unit:
		return Wrap(v), nil
	}
	return nil, fmt.Errorf("require: cannot use %T as a Starlark value", v)
}

// loadStatement serves load() by requiring the module and returning its
// globals.
func loadStatement(s *loader.Session, u *loader.Unit, module string) (starlark.StringDict, error) {
	v, err := s.Require(u, module, loader.LoadOptions{Exports: false})
	if err != nil {
		return nil, err
	}
	dep := v.(*loader.Unit)
	ns, ok := dep.Namespace.(*Namespace)
	if !ok {
		return nil, fmt.Errorf("load: %s is not a Starlark unit", dep.Identity)
	}
	return ns.globals, nil
}
