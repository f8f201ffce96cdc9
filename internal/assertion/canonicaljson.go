package assertion

import (
	"sort"
	"strings"
)

// CanonicalJSON reproduces the exact bytes the iOS client signs over its
// per-request header mapping (spec §4.3, §9 "Canonical JSON is the
// protocol's fragile seam"): keys sorted ascending, no insignificant
// whitespace, and the forward slash escaped as \/ in every string —
// matching Swift's default JSONEncoder, which a generic Go JSON encoder
// does not reproduce (encoding/json never escapes '/'). Built by hand for
// that reason rather than delegated to encoding/json.
func CanonicalJSON(fields map[string]string) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		writeJSONString(&b, k)
		b.WriteByte(':')
		writeJSONString(&b, fields[k])
	}
	b.WriteByte('}')
	return b.String()
}

// writeJSONString writes s as a double-quoted JSON string, escaping the
// standard JSON metacharacters plus '/' -> "\/".
func writeJSONString(b *strings.Builder, s string) {
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '/':
			b.WriteString(`\/`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		default:
			if r < 0x20 {
				b.WriteString(`\u`)
				const hex = "0123456789abcdef"
				b.WriteByte('0')
				b.WriteByte('0')
				b.WriteByte(hex[(r>>4)&0xf])
				b.WriteByte(hex[r&0xf])
			} else {
				b.WriteRune(r)
			}
		}
	}
	b.WriteByte('"')
}
