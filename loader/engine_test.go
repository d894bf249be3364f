package loader

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// toy is a line-oriented engine for exercising the loader:
//
//	set KEY VALUE
//	require KEY REF [reload] [cascade] [inplace] [unit]
//	fail MESSAGE
//	block               (signals entered, then waits for release)
//	!anything           (compile error)
type toy struct {
	compiles map[string]int
	decodes  int
	runs     map[string]int

	entered chan string
	release chan struct{}
}

func newToy() *toy {
	return &toy{compiles: map[string]int{}, runs: map[string]int{}}
}

func (t *toy) Name() string         { return "toy" }
func (t *toy) Extension() string    { return ".toy" }
func (t *toy) DefaultEntry() string { return "init.toy" }
func (t *toy) CacheTag() string     { return "toy1" }

func (t *toy) NewNamespace() Namespace { return toyNS{} }

func (t *toy) Compile(filename string, src []byte) (Code, error) {
	t.compiles[filename]++
	return parseToy(t, string(src))
}

func (t *toy) Decode(data []byte) (Code, error) {
	t.decodes++
	return parseToy(t, string(data))
}

func parseToy(t *toy, src string) (Code, error) {
	c := &toyCode{engine: t}
	for _, line := range strings.Split(src, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "!") {
			return nil, fmt.Errorf("syntax error: %s", line)
		}
		c.lines = append(c.lines, line)
	}
	return c, nil
}

type toyNS map[string]any

func (n toyNS) Lookup(name string) (any, bool) {
	v, ok := n[name]
	return v, ok
}

type toyCode struct {
	engine *toy
	lines  []string
}

func (c *toyCode) Encode() ([]byte, error) {
	return []byte(strings.Join(c.lines, "\n")), nil
}

func (c *toyCode) Exec(s *Session, u *Unit) error {
	c.engine.runs[u.Identity]++
	ns := u.Namespace.(toyNS)
	for _, line := range c.lines {
		f := strings.Fields(line)
		switch f[0] {
		case "set":
			ns[f[1]] = strings.Join(f[2:], " ")
		case "require":
			opts := LoadOptions{}
			for _, flag := range f[3:] {
				switch flag {
				case "reload":
					opts.Reload = true
				case "cascade":
					opts.Cascade = true
				case "inplace":
					opts.InPlace = true
				case "unit":
					opts.Exports = false
				}
			}
			v, err := s.Require(u, f[2], opts)
			if err != nil {
				return err
			}
			ns[f[1]] = v
		case "fail":
			return errors.New(strings.Join(f[1:], " "))
		case "block":
			c.engine.entered <- u.Identity
			<-c.engine.release
		default:
			return fmt.Errorf("unknown statement %q", f[0])
		}
	}
	return nil
}

// tree writes files below a fresh temp dir and returns its path.
func tree(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for name, body := range files {
		p := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
		require.NoError(t, os.WriteFile(p, []byte(body), 0644))
	}
	return root
}

func touch(t *testing.T, p string, mtime time.Time) {
	t.Helper()
	require.NoError(t, os.Chtimes(p, mtime, mtime))
}
