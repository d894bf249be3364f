package loader

import (
	"fmt"
	"log"
	"os"
	"sync"
)

// CachePolicy decides whether a freshly compiled unit is persisted.
type CachePolicy int

const (
	// CacheDefault defers to Loader.WriteCache.
	CacheDefault CachePolicy = iota
	CacheOn
	CacheOff
)

// LoadOptions are the per-call arguments of Load.
type LoadOptions struct {
	// Directory is the base for "./" and "../" references. Defaults to the
	// requiring unit's directory, or the working directory for host loads.
	Directory string
	// Path is searched for bare references before inherited and global paths.
	Path []string

	Reload  bool
	Cascade bool
	InPlace bool

	// Exports selects the returned value: nil or true picks the unit's
	// "exports" binding when present and the unit otherwise, false picks the
	// unit, and a func(*Unit) any or func(*Unit) (any, error) projects it.
	Exports any

	Cache CachePolicy
}

// Loader owns a registry of loaded units and the cascade epoch counter.
type Loader struct {
	// Path is the global search path, consulted after per-call and
	// inherited paths.
	Path []string
	// WriteCache is the process default for CacheDefault loads.
	WriteCache bool
	Hooks      Hooks
	// Verbose logs non-fatal problems such as failed cache writes.
	Verbose bool

	engine   Engine
	resolver *Resolver

	mu    sync.Mutex
	units map[string]*Unit
	epoch uint64
}

// Option configures a Loader.
type Option func(*Loader)

// WithPath appends directories to the global search path.
func WithPath(dirs ...string) Option {
	return func(l *Loader) { l.Path = append(l.Path, dirs...) }
}

// WithHooks installs lifecycle hooks.
func WithHooks(h Hooks) Option {
	return func(l *Loader) { l.Hooks = h }
}

// WithCacheWrites sets the process default cache policy.
func WithCacheWrites(enabled bool) Option {
	return func(l *Loader) { l.WriteCache = enabled }
}

// WithVerbose enables logging of swallowed errors.
func WithVerbose() Option {
	return func(l *Loader) { l.Verbose = true }
}

// New creates a loader running units with engine e.
func New(e Engine, opts ...Option) *Loader {
	l := &Loader{
		WriteCache: true,
		engine:     e,
		resolver:   NewResolver(e),
		units:      make(map[string]*Unit),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Engine returns the engine units are run with.
func (l *Loader) Engine() Engine { return l.engine }

// Resolver returns the resolver used for references.
func (l *Loader) Resolver() *Resolver { return l.resolver }

// Load resolves ref and returns the selected exports of the loaded unit.
// Loads are serialised: the call opens a session that unit bodies and hooks
// use for nested loads.
func (l *Loader) Load(ref string, opts LoadOptions) (any, error) {
	var v any
	err := l.Do(func(s *Session) (err error) {
		v, err = s.load(nil, "", ref, opts)
		return err
	})
	return v, err
}

// Do runs fn under the loader lock with a fresh session. Host code calling
// into unit functions that may themselves require units passes the session
// on to the engine. Calling Do from inside a session deadlocks.
func (l *Loader) Do(fn func(*Session) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	s := &Session{l: l}
	defer s.done.Store(true)
	return fn(s)
}

func (s *Session) load(parent *Context, dir, ref string, opts LoadOptions) (any, error) {
	l := s.l
	selectFn, err := exportSelector(opts.Exports)
	if err != nil {
		return nil, err
	}

	flags := settle(parent, opts)
	flags.Epoch = l.epochFor(parent, flags)

	if opts.Directory != "" {
		dir = opts.Directory
	}
	if dir == "" {
		if dir, err = os.Getwd(); err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}
	}

	res, err := l.resolver.Resolve(ref, dir, SearchPath(opts.Path, parent, l.Path))
	if err != nil {
		return nil, err
	}
	id := res.Identity()

	u, ok := l.units[id]
	if ok && handled(u, flags) {
		return selectFn(u)
	}
	if ok && (u.state == Registering || u.state == Executing) {
		return nil, fmt.Errorf("%w: %s", ErrExecuting, id)
	}
	if !(ok && flags.Reload && flags.InPlace) {
		u = &Unit{
			Identity:  id,
			Namespace: l.engine.NewNamespace(),
			Meta:      make(map[string]any),
			loader:    l,
		}
	}
	u.File = res.Load
	u.ctx = &Context{
		Path:    append([]string(nil), opts.Path...),
		Reload:  flags.Reload,
		Cascade: flags.Cascade,
		InPlace: flags.InPlace,
		Epoch:   flags.Epoch,
		Parent:  parent,
	}
	u.state = Registering
	l.units[id] = u

	if err := s.execute(u, res, opts.Cache); err != nil {
		return nil, err
	}
	return selectFn(u)
}

// execute runs u's body. u is registered beforehand so that cyclic loads
// find it; on failure the entry is removed again.
func (s *Session) execute(u *Unit, res Resolved, policy CachePolicy) (err error) {
	l := s.l
	hooks := l.hooks()
	hooks.BeforeExec(s, u, res)
	defer func() { hooks.AfterExec(s, u, err) }()

	code, fromCache, err := l.code(u, res)
	if err == nil {
		u.state = Executing
		u.fromCache = fromCache
		u.generation++
		err = code.Exec(s, u)
	}
	if err != nil {
		u.state = Failed
		if l.units[u.Identity] == u {
			delete(l.units, u.Identity)
		}
		return err
	}
	u.state = Ready

	if !fromCache && l.cacheEnabled(policy) {
		l.writeCache(u.Identity, code)
	}
	return nil
}

// code produces the executable form of res, preferring the cache file and
// falling back to the source when the cache is unusable.
func (l *Loader) code(u *Unit, res Resolved) (Code, bool, error) {
	if res.IsCache() {
		code, err := l.readCache(res)
		if err == nil {
			return code, true, nil
		}
		if _, serr := os.Stat(res.Source); !isStale(err) || serr != nil {
			return nil, false, err
		}
		l.logf("Warning: ignoring cache %s: %v", res.Load, err)
		u.File = res.Source
	}

	file := u.File
	src, err := os.ReadFile(file)
	if err != nil {
		return nil, false, fmt.Errorf("failed to read unit source: %w", err)
	}
	code, err := l.engine.Compile(file, Preprocess(src))
	if err != nil {
		return nil, false, err
	}
	return code, false, nil
}

func (l *Loader) cacheEnabled(policy CachePolicy) bool {
	switch policy {
	case CacheOn:
		return true
	case CacheOff:
		return false
	}
	return l.WriteCache
}

func (l *Loader) hooks() Hooks {
	if l.Hooks == nil {
		return nopHooks{}
	}
	return l.Hooks
}

func (l *Loader) logf(format string, args ...any) {
	if l.Verbose {
		log.Printf(format, args...)
	}
}

// Lookup returns the unit registered under identity. Code running inside a
// load uses Session.Lookup instead.
func (l *Loader) Lookup(identity string) (*Unit, bool) {
	var (
		u  *Unit
		ok bool
	)
	l.Do(func(s *Session) error {
		u, ok = s.Lookup(identity)
		return nil
	})
	return u, ok
}

// Forget removes identity from the registry so the next load starts fresh.
func (l *Loader) Forget(identity string) bool {
	var ok bool
	l.Do(func(s *Session) error {
		ok = s.Forget(identity)
		return nil
	})
	return ok
}

// Units describes every registered unit, ordered by identity.
func (l *Loader) Units() []UnitInfo {
	var infos []UnitInfo
	l.Do(func(s *Session) error {
		infos = s.Units()
		return nil
	})
	return infos
}

// Epoch returns the most recently allocated cascade epoch.
func (l *Loader) Epoch() uint64 {
	var epoch uint64
	l.Do(func(s *Session) error {
		epoch = s.Epoch()
		return nil
	})
	return epoch
}

func exportSelector(sel any) (func(*Unit) (any, error), error) {
	switch s := sel.(type) {
	case nil:
		return selectExports, nil
	case bool:
		if s {
			return selectExports, nil
		}
		return func(u *Unit) (any, error) { return u, nil }, nil
	case func(*Unit) any:
		return func(u *Unit) (any, error) { return s(u), nil }, nil
	case func(*Unit) (any, error):
		return s, nil
	}
	return nil, fmt.Errorf("%w, got %T", ErrInvalidSelector, sel)
}

func selectExports(u *Unit) (any, error) {
	if v, ok := u.Namespace.Lookup("exports"); ok {
		return v, nil
	}
	return u, nil
}
