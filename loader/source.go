package loader

import "bytes"

var bom = []byte{0xEF, 0xBB, 0xBF}

// Preprocess normalises source text before compilation: a UTF-8 byte order
// mark is dropped, CRLF line endings become LF and a leading "#!" line is
// blanked so line numbers stay the same.
func Preprocess(src []byte) []byte {
	src = bytes.TrimPrefix(src, bom)
	src = bytes.ReplaceAll(src, []byte("\r\n"), []byte("\n"))
	if bytes.HasPrefix(src, []byte("#!")) {
		if i := bytes.IndexByte(src, '\n'); i >= 0 {
			src = src[i:]
		} else {
			src = nil
		}
	}
	return src
}
