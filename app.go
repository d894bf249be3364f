package main

import (
	"fmt"
	"log"

	"go-require/journal"
	"go-require/loader"
	"go-require/luaunit"
	"go-require/starunit"
)

// App holds the host state shared by the CLI, the server and the watcher
type App struct {
	cfg            Config
	loader         *loader.Loader
	journal        *journal.Journal
	watcherManager *WatcherManager
	closeEngine    func()
}

// NewApp creates the engine and loader described by cfg
func NewApp(cfg Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	engine, closeEngine, err := newEngine(cfg)
	if err != nil {
		return nil, err
	}

	opts := []loader.Option{
		loader.WithPath(cfg.Path...),
		loader.WithCacheWrites(cfg.WriteCache),
	}
	if cfg.Verbose {
		opts = append(opts, loader.WithVerbose())
	}

	return &App{
		cfg:         cfg,
		loader:      loader.New(engine, opts...),
		closeEngine: closeEngine,
	}, nil
}

func newEngine(cfg Config) (loader.Engine, func(), error) {
	switch cfg.Engine {
	case EngineStarlark:
		return starunit.New(), func() {}, nil
	case EngineLua:
		e := luaunit.New(cfg.Timeout)
		return e, e.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown engine %q", cfg.Engine)
}

// startup opens the journal, loads the roots and starts watching them
func (a *App) startup() error {
	j, err := openJournal(a.cfg)
	if err != nil {
		log.Printf("Warning: Failed to open journal: %v", err)
	} else if j != nil {
		a.journal = j
		a.loader.Hooks = j
	}

	if err := a.LoadRoots(); err != nil {
		return err
	}

	if a.cfg.Watch.Enabled {
		wm, err := NewWatcherManager(a)
		if err != nil {
			log.Printf("Warning: Failed to initialize watcher: %v", err)
		} else {
			a.watcherManager = wm
			if err := wm.Start(); err != nil {
				log.Printf("Warning: Failed to start watcher: %v", err)
			}
		}
	}
	return nil
}

// shutdown stops the watcher and releases the engine and journal
func (a *App) shutdown() {
	if a.watcherManager != nil {
		a.watcherManager.Stop()
	}
	if a.journal != nil {
		if err := a.journal.Close(); err != nil {
			log.Printf("Warning: Failed to close journal: %v", err)
		}
	}
	a.closeEngine()
}

// Run loads each ref and returns the selected exports in order
func (a *App) Run(refs []string) ([]any, error) {
	results := make([]any, 0, len(refs))
	for _, ref := range refs {
		v, err := a.loader.Load(ref, loader.LoadOptions{})
		if err != nil {
			return results, fmt.Errorf("%s: %w", ref, err)
		}
		results = append(results, v)
	}
	return results, nil
}

// LoadRoots loads every configured root that is not loaded yet
func (a *App) LoadRoots() error {
	for _, root := range a.cfg.Roots {
		if _, err := a.loader.Load(root, loader.LoadOptions{Exports: false}); err != nil {
			return fmt.Errorf("failed to load root %s: %w", root, err)
		}
	}
	return nil
}

// ReloadRoots reloads every root with the watch cascade settings. A failing
// root does not stop the others; the first error is returned.
func (a *App) ReloadRoots() error {
	var first error
	for _, root := range a.cfg.Roots {
		if err := a.Reload(root, a.cfg.Watch.Cascade, a.cfg.Watch.InPlace); err != nil {
			log.Printf("Failed to reload %s: %v", root, err)
			if first == nil {
				first = err
			}
		}
	}
	return first
}

// Reload reloads a single unit
func (a *App) Reload(ref string, cascade, inplace bool) error {
	return a.loader.Do(func(s *loader.Session) error {
		_, err := s.Load(ref, loader.LoadOptions{
			Reload:  true,
			Cascade: cascade,
			InPlace: inplace,
			Exports: false,
		})
		if err != nil {
			return err
		}
		if cascade && a.cfg.Verbose {
			log.Printf("Reloaded %s (cascade epoch %d, %d units)", ref, s.Epoch(), len(s.Units()))
		}
		return nil
	})
}

// Units lists the registered units
func (a *App) Units() []loader.UnitInfo {
	return a.loader.Units()
}

// format renders a load result for the terminal
func format(v any) string {
	switch v := v.(type) {
	case *loader.Unit:
		return fmt.Sprintf("<unit %s>", v.Identity)
	case fmt.Stringer:
		return v.String()
	}
	return fmt.Sprint(v)
}
