package loader

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"
	"google.golang.org/protobuf/encoding/protowire"
)

// Cache envelope, protobuf wire format:
//
//	1: magic        string
//	2: version      varint
//	3: engine       string
//	4: source       string (canonical identity)
//	5: payload      bytes  (engine encoding)
const (
	envelopeMagic   = "go-require/unit"
	envelopeVersion = 1

	fieldMagic   protowire.Number = 1
	fieldVersion protowire.Number = 2
	fieldEngine  protowire.Number = 3
	fieldSource  protowire.Number = 4
	fieldPayload protowire.Number = 5
)

func cacheSuffix(e Engine) string {
	return "c@" + e.CacheTag()
}

// CacheFile returns the cache path used for the source file at identity.
func (l *Loader) CacheFile(identity string) string {
	return normalize(identity) + cacheSuffix(l.engine)
}

func encodeEnvelope(engine, source string, payload []byte) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldMagic, protowire.BytesType)
	b = protowire.AppendString(b, envelopeMagic)
	b = protowire.AppendTag(b, fieldVersion, protowire.VarintType)
	b = protowire.AppendVarint(b, envelopeVersion)
	b = protowire.AppendTag(b, fieldEngine, protowire.BytesType)
	b = protowire.AppendString(b, engine)
	b = protowire.AppendTag(b, fieldSource, protowire.BytesType)
	b = protowire.AppendString(b, source)
	b = protowire.AppendTag(b, fieldPayload, protowire.BytesType)
	b = protowire.AppendBytes(b, payload)
	return b
}

// decodeEnvelope returns the payload of b, or ErrStaleCache when b was
// written by another format version, engine or source.
func decodeEnvelope(b []byte, engine, source string) ([]byte, error) {
	var (
		magic, eng, src string
		version         uint64
		payload         []byte
		havePayload     bool
	)
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("%w: %v", ErrStaleCache, protowire.ParseError(n))
		}
		b = b[n:]
		switch {
		case num == fieldMagic && typ == protowire.BytesType:
			magic, n = protowire.ConsumeString(b)
		case num == fieldVersion && typ == protowire.VarintType:
			version, n = protowire.ConsumeVarint(b)
		case num == fieldEngine && typ == protowire.BytesType:
			eng, n = protowire.ConsumeString(b)
		case num == fieldSource && typ == protowire.BytesType:
			src, n = protowire.ConsumeString(b)
		case num == fieldPayload && typ == protowire.BytesType:
			payload, n = protowire.ConsumeBytes(b)
			havePayload = true
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return nil, fmt.Errorf("%w: %v", ErrStaleCache, protowire.ParseError(n))
		}
		b = b[n:]
	}

	switch {
	case magic != envelopeMagic:
		return nil, fmt.Errorf("%w: not a unit cache", ErrStaleCache)
	case version != envelopeVersion:
		return nil, fmt.Errorf("%w: format version %d, want %d", ErrStaleCache, version, envelopeVersion)
	case eng != engine:
		return nil, fmt.Errorf("%w: written by engine %q", ErrStaleCache, eng)
	case src != source:
		return nil, fmt.Errorf("%w: compiled from %s", ErrStaleCache, src)
	case !havePayload:
		return nil, fmt.Errorf("%w: missing payload", ErrStaleCache)
	}
	return payload, nil
}

func (l *Loader) readCache(res Resolved) (Code, error) {
	data, err := os.ReadFile(res.Load)
	if err != nil {
		return nil, fmt.Errorf("failed to read unit cache: %w", err)
	}
	payload, err := decodeEnvelope(data, l.engine.Name(), res.Identity())
	if err != nil {
		return nil, err
	}
	code, err := l.engine.Decode(payload)
	if err != nil {
		if errors.Is(err, ErrNoCacheForm) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrStaleCache, err)
	}
	return code, nil
}

// writeCache persists code beside identity. It never fails the load.
func (l *Loader) writeCache(identity string, code Code) {
	payload, err := code.Encode()
	if err != nil {
		if !errors.Is(err, ErrNoCacheForm) {
			l.logf("Warning: failed to encode %s: %v", identity, err)
		}
		return
	}
	data := encodeEnvelope(l.engine.Name(), identity, payload)
	if err := writeFileAtomic(l.CacheFile(identity), data); err != nil {
		l.logf("Warning: failed to write cache for %s: %v", identity, err)
	}
}

func writeFileAtomic(name string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(name), 0755); err != nil {
		return err
	}
	return renameio.WriteFile(name, data, 0644)
}

func isStale(err error) bool {
	return errors.Is(err, ErrStaleCache) || errors.Is(err, ErrNoCacheForm)
}
