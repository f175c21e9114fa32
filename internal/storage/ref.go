package storage

import (
	"fmt"
	"path"
	"strings"
)

// Kind selects the directory a blob lives under.
type Kind string

const (
	KindUpload Kind = "uploads"
	KindOutput Kind = "outputs"
	KindWork   Kind = "work"
)

// Ref is a stable handle to a stored blob, of the form "<kind>/<name>".
// Refs are opaque to everything outside this package except for JSON
// round-tripping on the Job record.
type Ref string

// NewRef builds a ref from its parts. Name may contain slashes for
// per-job subdirectories (e.g. "outputs/<jobID>/transcript.json").
func NewRef(kind Kind, name string) Ref {
	return Ref(string(kind) + "/" + name)
}

// Parse splits a ref back into kind and name, rejecting anything that could
// escape the managed directories.
func (r Ref) Parse() (Kind, string, error) {
	s := string(r)
	i := strings.IndexByte(s, '/')
	if i <= 0 || i == len(s)-1 {
		return "", "", fmt.Errorf("malformed ref %q", s)
	}
	kind, name := Kind(s[:i]), s[i+1:]
	switch kind {
	case KindUpload, KindOutput, KindWork:
	default:
		return "", "", fmt.Errorf("unknown blob kind %q", kind)
	}
	clean := path.Clean(name)
	if clean != name || strings.HasPrefix(clean, "..") || path.IsAbs(clean) {
		return "", "", fmt.Errorf("unsafe blob name %q", name)
	}
	return kind, name, nil
}

func (r Ref) String() string { return string(r) }
