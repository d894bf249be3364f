package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testWatcher(t *testing.T) (*WatcherManager, *App, string) {
	t.Helper()
	app, root := testApp(t, EngineStarlark)
	app.cfg.Watch.InPlace = true
	w, err := NewWatcherManager(app)
	require.NoError(t, err)
	t.Cleanup(w.Stop)
	return w, app, root
}

func TestWatcherFlushReloadsOnce(t *testing.T) {
	w, app, root := testWatcher(t)
	dep := filepath.Join(root, "lib", "dep.star")
	require.NoError(t, os.WriteFile(dep, []byte("value = 2\n"), 0644))

	w.changed.Add(dep)
	w.changed.Add(filepath.Join(root, "main.star"))
	assert.Equal(t, 2, w.flush())
	assert.Equal(t, 2, generation(t, app, dep))

	results, err := app.Run([]string{filepath.Join(root, "main.star")})
	require.NoError(t, err)
	assert.Equal(t, "2", format(results[0]))

	assert.Equal(t, 0, w.flush())
	assert.Equal(t, 2, generation(t, app, dep))
}

func TestWatcherRefreshWatchesUnitDirs(t *testing.T) {
	w, _, root := testWatcher(t)

	require.NoError(t, w.refreshWatches())
	assert.Len(t, w.activeWatches, 2)
	assert.True(t, w.activeWatches[root])
	assert.True(t, w.activeWatches[filepath.Join(root, "lib")])
}

func TestWatcherRelevant(t *testing.T) {
	w, _, root := testWatcher(t)

	tests := []struct {
		path string
		want bool
	}{
		{filepath.Join(root, "main.star"), true},
		{filepath.Join(root, "deleted.star"), true},
		{filepath.Join(root, "main.starc@star1"), false},
		{filepath.Join(root, ".main.starc@star1.123"), false},
		{filepath.Join(root, "notes.txt"), false},
		{filepath.Join(root, "lib"), false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, w.relevant(tt.path), tt.path)
	}
}
