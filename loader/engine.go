package loader

// Engine compiles and runs unit bodies for one source language.
type Engine interface {
	// Name identifies the engine in cache envelopes and diagnostics.
	Name() string
	// Extension is the default source extension, including the dot.
	Extension() string
	// DefaultEntry is the file loaded when a reference names a directory.
	DefaultEntry() string
	// CacheTag is appended to "c@" to form the cache file suffix.
	CacheTag() string

	NewNamespace() Namespace
	Compile(filename string, src []byte) (Code, error)
	Decode(data []byte) (Code, error)
}

// Code is an executable representation produced by Compile or Decode.
type Code interface {
	// Exec runs the body against u.Namespace. Nested loads go through
	// s.Require(u, ...).
	Exec(s *Session, u *Unit) error
	Encode() ([]byte, error)
}

// Namespace holds whatever a unit body defines.
type Namespace interface {
	Lookup(name string) (any, bool)
}

// Describer is implemented by namespaces that can report unit metadata
// (name, version, description, author).
type Describer interface {
	Describe() map[string]string
}
