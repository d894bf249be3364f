package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-require/loader"
)

func unitTree(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for name, body := range files {
		p := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
		require.NoError(t, os.WriteFile(p, []byte(body), 0644))
	}
	return root
}

// testApp starts an app over a main unit that requires lib/dep.
func testApp(t *testing.T, engine string) (*App, string) {
	t.Helper()
	files := map[string]string{
		"main.star":    "dep = require(\"./lib/dep\")\nexports = dep.value\n",
		"lib/dep.star": "value = 1\n",
	}
	if engine == EngineLua {
		files = map[string]string{
			"main.lua":    "local dep = require('./lib/dep')\nexports = dep.value\n",
			"lib/dep.lua": "value = 1\n",
		}
	}
	root := unitTree(t, files)

	cfg := DefaultConfig()
	cfg.Engine = engine
	cfg.WriteCache = false
	cfg.Journal = filepath.Join(t.TempDir(), "journal.db")
	cfg.Roots = []string{filepath.Join(root, "main")}
	cfg.Watch.Enabled = false

	app, err := NewApp(cfg)
	require.NoError(t, err)
	require.NoError(t, app.startup())
	t.Cleanup(app.shutdown)
	return app, root
}

func generation(t *testing.T, app *App, identity string) int {
	t.Helper()
	u, ok := app.loader.Lookup(identity)
	require.True(t, ok, "%s not registered", identity)
	return u.Generation()
}

func TestAppStartupLoadsRoots(t *testing.T) {
	for _, engine := range []string{EngineStarlark, EngineLua} {
		t.Run(engine, func(t *testing.T) {
			app, _ := testApp(t, engine)
			assert.Len(t, app.Units(), 2)
		})
	}
}

func TestAppReloadRootsCascades(t *testing.T) {
	app, root := testApp(t, EngineStarlark)
	dep := filepath.Join(root, "lib", "dep.star")
	app.cfg.Watch.InPlace = true

	require.NoError(t, app.ReloadRoots())
	assert.Equal(t, 2, generation(t, app, dep))
	assert.Equal(t, 2, generation(t, app, filepath.Join(root, "main.star")))
}

func TestAppRun(t *testing.T) {
	app, root := testApp(t, EngineStarlark)

	results, err := app.Run([]string{filepath.Join(root, "main.star")})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "1", format(results[0]))

	_, err = app.Run([]string{filepath.Join(root, "nope")})
	assert.ErrorIs(t, err, loader.ErrNotFound)
}

func TestFormatUnit(t *testing.T) {
	u := &loader.Unit{Identity: "/units/a.star"}
	assert.Equal(t, "<unit /units/a.star>", format(u))
	assert.Equal(t, "3", format(3))
}

func TestNewAppRejectsUnknownEngine(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Engine = "python"
	_, err := NewApp(cfg)
	assert.Error(t, err)
}
