package pdo

import (
	"fmt"
	"strconv"
	"strings"
)

// Attribute names are dot separated paths. A segment may carry a row index, "lines[3]", to
// address one row of an array, or an empty index, "lines[]", which names the row template
// declared for that array. Rows are 1-based.

// Attr nests attr under name. An empty name yields attr itself.
func Attr(name, attr string) string {
	if name == "" {
		return attr
	}
	return name + "." + attr
}

// Row addresses row i (1-based) of the array called name.
func Row(name string, i int) string {
	return fmt.Sprintf("%s[%d]", name, i)
}

func templateOf(name string) string { return name + "[]" }

type nameKind struct {
	key      string // name with every row index replaced by the template form
	rows     bool   // addressed at least one concrete row
	template bool   // contained an empty index
}

func parseName(name string) (nameKind, error) {
	var (
		nk  nameKind
		b   strings.Builder
		seg int // characters in the current segment
	)
	if name == "" {
		return nk, ErrInvalidName
	}
	b.Grow(len(name))
	for i := 0; i < len(name); i++ {
		ch := name[i]
		switch {
		case ch == '.':
			if seg == 0 {
				return nk, ErrInvalidName
			}
			seg = 0
			b.WriteByte(ch)
		case ch == '[':
			if seg == 0 {
				return nk, ErrInvalidName
			}
			end := strings.IndexByte(name[i:], ']')
			if end < 0 {
				return nk, ErrInvalidName
			}
			idx := name[i+1 : i+end]
			if idx == "" {
				nk.template = true
			} else {
				n, err := strconv.Atoi(idx)
				if err != nil || n < 1 || idx[0] == '+' {
					return nk, ErrInvalidName
				}
				nk.rows = true
			}
			b.WriteString("[]")
			i += end
			// an index closes the segment name; only '.', '[' or the end may follow
			if i+1 < len(name) && name[i+1] != '.' && name[i+1] != '[' {
				return nk, ErrInvalidName
			}
		case ch == ']' || ch == ' ' || ch == '\t' || ch == '\n':
			return nk, ErrInvalidName
		default:
			seg++
			b.WriteByte(ch)
		}
	}
	if seg == 0 && !strings.HasSuffix(name, "]") {
		return nk, ErrInvalidName
	}
	nk.key = b.String()
	return nk, nil
}

// parentArray returns the array slot a template name belongs to: "a[].b" -> "a".
func parentArray(key string) string {
	i := strings.LastIndex(key, "[]")
	return key[:i]
}
