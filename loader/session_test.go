package loader

import (
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// within fails the test if fn does not return in time.
func within(t *testing.T, d time.Duration, what string, fn func()) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		defer close(done)
		fn()
	}()
	select {
	case <-done:
	case <-time.After(d):
		t.Fatalf("%s did not return within %v", what, d)
	}
}

// pending reports whether ch is still empty after a short wait.
func pending[T any](ch <-chan T) bool {
	select {
	case <-ch:
		return false
	case <-time.After(50 * time.Millisecond):
		return true
	}
}

func TestHooksUseRegistryDuringLoad(t *testing.T) {
	root := tree(t, map[string]string{
		"a.toy": "require b ./b\nfail broken",
		"b.toy": "set x 1",
	})
	var (
		parentState State = -1
		evicted     []string
	)
	l := New(newToy(), WithCacheWrites(false), WithHooks(HookFuncs{
		Before: func(s *Session, u *Unit, _ Resolved) {
			if filepath.Base(u.Identity) == "b.toy" {
				if a, ok := s.Lookup(filepath.Join(root, "a.toy")); ok {
					parentState = a.State()
				}
			}
		},
		After: func(s *Session, u *Unit, err error) {
			if err == nil {
				return
			}
			assert.False(t, s.Forget(u.Identity), "already rolled back")
			if s.Forget(filepath.Join(root, "b.toy")) {
				evicted = append(evicted, "b.toy")
			}
			assert.Len(t, s.Units(), 0)
		},
	}))

	within(t, 2*time.Second, "Load with registry hooks", func() {
		_, err := l.Load("./a", LoadOptions{Directory: root})
		assert.EqualError(t, err, "broken")
	})
	assert.Equal(t, Executing, parentState)
	assert.Equal(t, []string{"b.toy"}, evicted)
	assert.Empty(t, l.Units())
}

func TestRequireFromAnotherGoroutineWaitsForLoad(t *testing.T) {
	root := tree(t, map[string]string{
		"a.toy":    "set x 1",
		"c.toy":    "set y 2",
		"slow.toy": "block\nset z 3",
	})
	e := newToy()
	e.entered = make(chan string, 1)
	e.release = make(chan struct{})
	l := New(e, WithCacheWrites(false))
	a := load(t, l, "./a", LoadOptions{Directory: root, Exports: false})

	slowDone := make(chan error, 1)
	go func() {
		_, err := l.Load("./slow", LoadOptions{Directory: root})
		slowDone <- err
	}()
	assert.Equal(t, filepath.Join(root, "slow.toy"), <-e.entered)

	required := make(chan error, 1)
	go func() {
		_, err := a.Require("./c", LoadOptions{})
		required <- err
	}()
	looked := make(chan State, 1)
	go func() {
		u, ok := l.Lookup(filepath.Join(root, "slow.toy"))
		if !ok {
			looked <- -1
			return
		}
		looked <- u.State()
	}()

	assert.True(t, pending(required), "Require must wait for the running load")
	assert.True(t, pending(looked), "Lookup must not observe a unit mid-execution")

	close(e.release)
	require.NoError(t, <-slowDone)
	require.NoError(t, <-required)
	assert.Equal(t, Ready, <-looked)
	assert.Len(t, l.Units(), 3)
}

func TestConcurrentLoadsShareDependencies(t *testing.T) {
	root := tree(t, map[string]string{
		"a.toy":      "require s ./shared\nset exports a",
		"b.toy":      "require s ./shared\nset exports b",
		"shared.toy": "set exports shared",
	})
	e := newToy()
	l := New(e, WithCacheWrites(false))

	refs := []string{"./a", "./b", "./shared"}
	results := make([]any, 12)
	errs := make([]error, len(results))
	var wg sync.WaitGroup
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = l.Load(refs[i%len(refs)], LoadOptions{Directory: root})
		}(i)
	}
	wg.Wait()

	for i, v := range results {
		require.NoError(t, errs[i])
		assert.Equal(t, refs[i%len(refs)][2:], v)
	}
	assert.Equal(t, 1, e.runs[filepath.Join(root, "shared.toy")])
	assert.Len(t, l.Units(), 3)
}

func TestConcurrentCascadesAllocateDistinctEpochs(t *testing.T) {
	root := tree(t, map[string]string{"a.toy": "require b ./b", "b.toy": "set x 1"})
	l := New(newToy(), WithCacheWrites(false))
	_, err := l.Load("./a", LoadOptions{Directory: root})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.Load("./a", LoadOptions{Directory: root, Reload: true, Cascade: true})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, uint64(8), l.Epoch())
}

func TestDoNestsRequireAndLookup(t *testing.T) {
	root := tree(t, map[string]string{"a.toy": "set x 1", "c.toy": "require a ./a\nset exports c"})
	l := New(newToy(), WithCacheWrites(false))
	a := load(t, l, "./a", LoadOptions{Directory: root, Exports: false})

	var kept *Session
	within(t, 2*time.Second, "Do", func() {
		err := l.Do(func(s *Session) error {
			kept = s
			v, err := s.Require(a, "./c", LoadOptions{})
			if err != nil {
				return err
			}
			assert.Equal(t, "c", v)
			if u, ok := s.Lookup(filepath.Join(root, "c.toy")); assert.True(t, ok) {
				assert.Equal(t, Ready, u.State())
			}
			assert.Len(t, s.Units(), 2)
			return errors.New("done")
		})
		assert.EqualError(t, err, "done")
	})

	assert.False(t, kept.Open())
	// A closed session takes the lock like the loader does.
	v, err := kept.Load("./c", LoadOptions{Directory: root})
	require.NoError(t, err)
	assert.Equal(t, "c", v)
}

func TestReloadOfExecutingUnitFails(t *testing.T) {
	root := tree(t, map[string]string{"a.toy": "require self ./a reload"})
	l := New(newToy(), WithCacheWrites(false))

	var err error
	within(t, 2*time.Second, "self reload", func() {
		_, err = l.Load("./a", LoadOptions{Directory: root})
	})
	require.ErrorIs(t, err, ErrExecuting)
	assert.Empty(t, l.Units())
}
