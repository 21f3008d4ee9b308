package partstore

import "strings"

var reservedNames = map[string]struct{}{
	"CON": {}, "PRN": {}, "AUX": {}, "NUL": {},
	"COM1": {}, "COM2": {}, "COM3": {}, "COM4": {}, "COM5": {}, "COM6": {}, "COM7": {}, "COM8": {}, "COM9": {},
	"LPT1": {}, "LPT2": {}, "LPT3": {}, "LPT4": {}, "LPT5": {}, "LPT6": {}, "LPT7": {}, "LPT8": {}, "LPT9": {},
}

// Sanitize rewrites s into a name that is safe to use as a single file or
// directory name on common file systems. The mapping is deterministic but
// not injective: "<" and "_" both become "_", so extractors that produce
// distinct outputs may still share a bucket or directory.
func Sanitize(s string) string {
	switch s {
	case "", ".", "..":
		return "_" + s
	}

	var sb strings.Builder
	sb.Grow(len(s) + 1)

	base := s
	if i := strings.IndexByte(base, '.'); i > -1 {
		base = base[:i]
	}
	if _, ok := reservedNames[strings.ToUpper(base)]; ok {
		sb.WriteByte('_')
	}

	for _, r := range s {
		switch {
		case r < 0x20 || r == 0x7f:
			sb.WriteByte('_')
		case strings.ContainsRune(`<>:"/\|?*`, r):
			sb.WriteByte('_')
		default:
			sb.WriteRune(r)
		}
	}

	out := sb.String()
	if last := out[len(out)-1]; last == '.' || last == ' ' {
		out = out[:len(out)-1] + "_"
	}
	return out
}
