package statement

import (
	"fmt"
	"sort"
	"strings"
)

// signatureSeparator joins sorted parameter names into the canonical key.
// Unit separator cannot appear in a SQL identifier.
const signatureSeparator = "\x1f"

// Signature is the canonical, order-independent set of parameter names
// required by a statement. Names are lower-cased; two signatures are equal
// iff their name sets are equal.
type Signature struct {
	key   string
	names []string
}

// NewSignature builds a signature from a list of parameter names.
// Names are lower-cased and deduplicated; order is irrelevant.
func NewSignature(names []string) Signature {
	set := make(map[string]struct{}, len(names))

	for _, name := range names {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" {
			continue
		}

		set[name] = struct{}{}
	}

	sorted := make([]string, 0, len(set))
	for name := range set {
		sorted = append(sorted, name)
	}

	sort.Strings(sorted)

	return Signature{
		key:   strings.Join(sorted, signatureSeparator),
		names: sorted,
	}
}

// SignatureOf derives a signature from the key set of a parameter map.
func SignatureOf(params map[string]string) Signature {
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}

	return NewSignature(names)
}

// Key returns the canonical string form used for map lookups.
func (s Signature) Key() string {
	return s.key
}

// Names returns the sorted, lower-cased parameter names.
func (s Signature) Names() []string {
	out := make([]string, len(s.names))
	copy(out, s.names)

	return out
}

// Empty reports whether the signature has no parameter names.
func (s Signature) Empty() bool {
	return s.key == ""
}

// Equal reports whether two signatures describe the same name set.
func (s Signature) Equal(other Signature) bool {
	return s.key == other.key
}

// String returns a human-readable form for logs and errors.
func (s Signature) String() string {
	if s.Empty() {
		return "(none)"
	}

	return fmt.Sprintf("(%s)", strings.Join(s.names, ", "))
}
