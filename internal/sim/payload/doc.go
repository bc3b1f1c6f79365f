// Package payload holds the structured documents attached to grid cells and
// spawned entities.
package payload

import (
	"bytes"
	"encoding/json"
	"sort"
)

// ContentsKey is the reserved quantity-bearing key. Its value is a list of
// {"item","count","meta"} entries compared by summed quantity rather than by
// equality.
const ContentsKey = "contents"

// Doc is a JSON-compatible key/value document.
type Doc map[string]any

// Keys returns the document keys in sorted order.
func (d Doc) Keys() []string {
	out := make([]string, 0, len(d))
	for k := range d {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Clone deep-copies the document through its JSON form. Values that do not
// survive a JSON round trip are dropped.
func (d Doc) Clone() Doc {
	if d == nil {
		return nil
	}
	b, err := json.Marshal(d)
	if err != nil {
		return Doc{}
	}
	var out Doc
	if err := json.Unmarshal(b, &out); err != nil {
		return Doc{}
	}
	return out
}

// Merge returns a new document with the keys of every doc applied left to
// right; later docs win on key collisions.
func Merge(docs ...Doc) Doc {
	out := Doc{}
	for _, d := range docs {
		for k, v := range d.Clone() {
			out[k] = v
		}
	}
	return out
}

// Equal reports whether two values have byte-identical canonical JSON
// encodings. encoding/json sorts map keys, so key order never matters.
func Equal(a, b any) bool {
	ea, errA := canonical(a)
	eb, errB := canonical(b)
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Equal(ea, eb)
}

// EqualDocs treats a nil document and an empty one as equal.
func EqualDocs(a, b Doc) bool {
	if len(a) == 0 && len(b) == 0 {
		return true
	}
	return Equal(a, b)
}

func canonical(v any) ([]byte, error) {
	return json.Marshal(v)
}

// ContainsAll reports whether every key of ref is present in d with an equal
// value. skip names keys that are left to the caller.
func (d Doc) ContainsAll(ref Doc, skip ...string) bool {
	for k, want := range ref {
		if contains(skip, k) {
			continue
		}
		got, ok := d[k]
		if !ok || !Equal(got, want) {
			return false
		}
	}
	return true
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
