package loader

import (
	"sort"
	"sync/atomic"
)

// Session is exclusive use of a loader's registry. A session is open for the
// duration of each outermost Load or Do call and is handed to everything
// running inside it: unit bodies through Code.Exec, hooks, and Do callbacks.
// Work done through an open session never takes the loader lock again, so
// it may nest freely on the owning goroutine.
//
// A session that is used after its call has returned behaves like the
// loader itself: each call takes the lock.
type Session struct {
	l    *Loader
	done atomic.Bool
}

// Loader returns the loader the session belongs to.
func (s *Session) Loader() *Loader { return s.l }

// Open reports whether the session's call is still running.
func (s *Session) Open() bool { return !s.done.Load() }

func (s *Session) run(fn func(*Session) error) error {
	if s.done.Load() {
		return s.l.Do(fn)
	}
	return fn(s)
}

// Load loads ref as the host would, with no parent unit.
func (s *Session) Load(ref string, opts LoadOptions) (any, error) {
	var v any
	err := s.run(func(s *Session) (err error) {
		v, err = s.load(nil, "", ref, opts)
		return err
	})
	return v, err
}

// Require loads ref on behalf of from: from's directory is the default base
// directory and from's context becomes the parent context.
func (s *Session) Require(from *Unit, ref string, opts LoadOptions) (any, error) {
	var v any
	err := s.run(func(s *Session) (err error) {
		v, err = s.load(from.ctx, from.Dir(), ref, opts)
		return err
	})
	return v, err
}

// Lookup returns the unit registered under identity, in whatever state it
// is. Inside a load this includes units that are still executing.
func (s *Session) Lookup(identity string) (*Unit, bool) {
	var (
		u  *Unit
		ok bool
	)
	s.run(func(s *Session) error {
		u, ok = s.l.units[normalize(identity)]
		return nil
	})
	return u, ok
}

// Forget removes identity from the registry so the next load starts fresh.
func (s *Session) Forget(identity string) bool {
	var ok bool
	s.run(func(s *Session) error {
		id := normalize(identity)
		if _, ok = s.l.units[id]; ok {
			delete(s.l.units, id)
		}
		return nil
	})
	return ok
}

// Units describes every registered unit, ordered by identity.
func (s *Session) Units() []UnitInfo {
	var infos []UnitInfo
	s.run(func(s *Session) error {
		infos = make([]UnitInfo, 0, len(s.l.units))
		for _, u := range s.l.units {
			infos = append(infos, u.info())
		}
		return nil
	})
	sort.Slice(infos, func(i, j int) bool { return infos[i].Identity < infos[j].Identity })
	return infos
}

// Epoch returns the most recently allocated cascade epoch.
func (s *Session) Epoch() uint64 {
	var epoch uint64
	s.run(func(s *Session) error {
		epoch = s.l.epoch
		return nil
	})
	return epoch
}
