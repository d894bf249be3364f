package loader

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Resolved names the file that will be executed. Source is set when Load is
// a cache file, and then holds the path of the source it was compiled from
// (which need not exist).
type Resolved struct {
	Load   string
	Source string
}

// IsCache reports whether Load is a cached compiled representation.
func (r Resolved) IsCache() bool { return r.Source != "" }

// Identity is the canonical registry key: the normalised absolute path of
// the source file, never the cache file.
func (r Resolved) Identity() string {
	if r.Source != "" {
		return normalize(r.Source)
	}
	return normalize(r.Load)
}

// Resolver turns logical references into files.
type Resolver struct {
	Extension    string
	DefaultEntry string
	CacheSuffix  string

	stat func(string) (fs.FileInfo, error)
}

// NewResolver builds a resolver for the conventions of engine e.
func NewResolver(e Engine) *Resolver {
	return &Resolver{
		Extension:    e.Extension(),
		DefaultEntry: e.DefaultEntry(),
		CacheSuffix:  cacheSuffix(e),
		stat:         os.Stat,
	}
}

// SearchPath concatenates the directories a bare reference is looked up in:
// explicit paths, then the paths of every ancestor context (nearest first),
// then the global path.
func SearchPath(explicit []string, parent *Context, global []string) []string {
	dirs := append([]string(nil), explicit...)
	for c := parent; c != nil; c = c.Parent {
		dirs = append(dirs, c.Path...)
	}
	return append(dirs, global...)
}

// Resolve finds the file for ref. References starting with "./" or "../"
// are only tried against base, absolute references only as given, and
// bare references along search (base itself is skipped there). When nothing
// matches and ref lacks the default extension, the lookup is repeated once
// with the extension appended.
func (r *Resolver) Resolve(ref, base string, search []string) (Resolved, error) {
	orig := ref
	if ref == "." || ref == "./" {
		ref = "./" + r.DefaultEntry
	}
	ref = filepath.FromSlash(ref)

	if res, ok := r.find(ref, base, search); ok {
		return res, nil
	}
	if r.Extension != "" && !strings.HasSuffix(ref, r.Extension) {
		if res, ok := r.find(ref+r.Extension, base, search); ok {
			return res, nil
		}
	}
	return Resolved{}, &NotFoundError{Ref: orig}
}

func (r *Resolver) find(ref, base string, search []string) (Resolved, bool) {
	switch {
	case isLocal(ref):
		if base == "" {
			return Resolved{}, false
		}
		return r.candidate(normalize(filepath.Join(base, ref)))
	case filepath.IsAbs(ref):
		return r.candidate(filepath.Clean(ref))
	}

	skip := ""
	if base != "" {
		skip = normalize(base)
	}
	for _, dir := range search {
		if dir == "" {
			continue
		}
		dir = normalize(dir)
		if dir == skip {
			continue
		}
		if res, ok := r.candidate(filepath.Join(dir, ref)); ok {
			return res, true
		}
	}
	return Resolved{}, false
}

// candidate tests one path: the file (or its cache sibling), then the
// default entry inside it when it is a directory.
func (r *Resolver) candidate(p string) (Resolved, bool) {
	if res, ok := r.pick(p); ok {
		return res, true
	}
	if r.DefaultEntry != "" && r.isDir(p) {
		return r.pick(filepath.Join(p, r.DefaultEntry))
	}
	return Resolved{}, false
}

// pick chooses between p and p+CacheSuffix. The source wins only when it is
// strictly newer than the cache; equal modification times favour the cache.
func (r *Resolver) pick(p string) (Resolved, bool) {
	if r.CacheSuffix != "" && strings.HasSuffix(p, r.CacheSuffix) {
		if _, ok := r.file(p); ok {
			return Resolved{Load: p, Source: strings.TrimSuffix(p, r.CacheSuffix)}, true
		}
		return Resolved{}, false
	}

	src, srcOK := r.file(p)
	if r.CacheSuffix == "" {
		return Resolved{Load: p}, srcOK
	}
	cache, cacheOK := r.file(p + r.CacheSuffix)
	switch {
	case srcOK && cacheOK:
		if src.ModTime().After(cache.ModTime()) {
			return Resolved{Load: p}, true
		}
		return Resolved{Load: p + r.CacheSuffix, Source: p}, true
	case srcOK:
		return Resolved{Load: p}, true
	case cacheOK:
		return Resolved{Load: p + r.CacheSuffix, Source: p}, true
	}
	return Resolved{}, false
}

func (r *Resolver) file(p string) (fs.FileInfo, bool) {
	fi, err := r.stat(p)
	if err != nil || fi.IsDir() {
		return nil, false
	}
	return fi, true
}

func (r *Resolver) isDir(p string) bool {
	fi, err := r.stat(p)
	return err == nil && fi.IsDir()
}

func isLocal(ref string) bool {
	sep := string(filepath.Separator)
	return ref == "." || ref == ".." ||
		strings.HasPrefix(ref, "."+sep) || strings.HasPrefix(ref, ".."+sep)
}

func normalize(p string) string {
	abs, err := filepath.Abs(p)
	if err != nil {
		return filepath.Clean(p)
	}
	return abs
}
