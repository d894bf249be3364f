package journal

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-require/loader"
	"go-require/starunit"
)

func setup(t *testing.T) (*Journal, *loader.Loader, string) {
	t.Helper()
	dir := t.TempDir()
	j, err := Open(filepath.Join(dir, "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })

	src := filepath.Join(dir, "units")
	require.NoError(t, os.MkdirAll(src, 0755))
	l := loader.New(starunit.New(), loader.WithHooks(j), loader.WithCacheWrites(false))
	return j, l, src
}

func write(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0644))
	return p
}

func TestRecordsLoadsNewestFirst(t *testing.T) {
	j, l, dir := setup(t)
	a := write(t, dir, "a.star", "b = require(\"./b\")\n")
	b := write(t, dir, "b.star", "value = 1\n")

	_, err := l.Load(a, loader.LoadOptions{})
	require.NoError(t, err)
	_, err = l.Load(a, loader.LoadOptions{Reload: true, Cascade: true})
	require.NoError(t, err)

	entries, err := j.Recent("", 10)
	require.NoError(t, err)
	require.Len(t, entries, 4)

	assert.Equal(t, b, entries[0].Identity)
	assert.Equal(t, "cascade", entries[0].Mode)
	assert.Equal(t, uint64(1), entries[0].Epoch)
	assert.Equal(t, a, entries[1].Identity)
	assert.Equal(t, "cascade", entries[1].Mode)
	assert.Equal(t, 1, entries[1].Generation)
	assert.Equal(t, "load", entries[3].Mode)
	for _, e := range entries {
		assert.True(t, e.OK)
		assert.False(t, e.StartedAt.IsZero())
	}

	only, err := j.Recent(b, 10)
	require.NoError(t, err)
	assert.Len(t, only, 2)

	st, err := j.Status(a)
	require.NoError(t, err)
	assert.Equal(t, 2, st.Loads)
	assert.Equal(t, StatusOK, st.Status)
	assert.False(t, st.LastLoadedAt.IsZero())
}

func TestConsecutiveErrorsMarkUnit(t *testing.T) {
	j, l, dir := setup(t)
	a := write(t, dir, "a.star", "fail(\"boom\")\n")

	for i := 0; i < MaxConsecutiveErrors-1; i++ {
		_, err := l.Load(a, loader.LoadOptions{})
		require.Error(t, err)
	}
	st, err := j.Status(a)
	require.NoError(t, err)
	assert.Equal(t, StatusOK, st.Status)
	assert.Equal(t, MaxConsecutiveErrors-1, st.ErrorCount)
	assert.Contains(t, st.LastError, "boom")

	_, err = l.Load(a, loader.LoadOptions{})
	require.Error(t, err)
	st, err = j.Status(a)
	require.NoError(t, err)
	assert.Equal(t, StatusError, st.Status)

	failing, err := j.Failing()
	require.NoError(t, err)
	assert.Equal(t, []string{a}, failing)

	entries, err := j.Recent(a, 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.False(t, entries[0].OK)
	assert.Contains(t, entries[0].Error, "boom")

	write(t, dir, "a.star", "value = 1\n")
	_, err = l.Load(a, loader.LoadOptions{})
	require.NoError(t, err)
	st, err = j.Status(a)
	require.NoError(t, err)
	assert.Equal(t, StatusOK, st.Status)
	assert.Equal(t, 0, st.ErrorCount)
	assert.Empty(t, st.LastError)
	assert.Equal(t, MaxConsecutiveErrors+1, st.Loads)
}

func TestReopenKeepsSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	j, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, j.Close())

	j, err = Open(path)
	require.NoError(t, err)
	defer j.Close()

	rows, err := j.db.Query("SELECT name FROM pragma_table_info('loads')")
	require.NoError(t, err)
	defer rows.Close()
	var cols []string
	for rows.Next() {
		var name string
		require.NoError(t, rows.Scan(&name))
		cols = append(cols, name)
	}
	require.NoError(t, rows.Err())
	assert.Contains(t, cols, "from_cache")
}

func TestStatusUnknownUnit(t *testing.T) {
	j, _, _ := setup(t)

	_, err := j.Status("/nowhere.star")
	assert.True(t, errors.Is(err, ErrUnknownUnit))
}

func TestMode(t *testing.T) {
	tests := []struct {
		ctx  *loader.Context
		want string
	}{
		{nil, "load"},
		{&loader.Context{}, "load"},
		{&loader.Context{Reload: true}, "reload"},
		{&loader.Context{Reload: true, InPlace: true}, "reload-inplace"},
		{&loader.Context{Reload: true, Cascade: true}, "cascade"},
		{&loader.Context{Reload: true, Cascade: true, InPlace: true}, "cascade-inplace"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Mode(tt.ctx))
	}
}
