package study

import (
	"path/filepath"
	"strings"
	"time"
)

// Descriptor records one discovered study source file.
type Descriptor struct {
	ID         string
	SourcePath string
	LoadedAt   time.Time
	RawSource  string
}

// DeriveID produces the deterministic study id for a source path: the
// file name stem, lowercased, with everything outside [a-z0-9_] mapped
// to an underscore. Two paths producing the same id replace each other
// on load rather than duplicating.
func DeriveID(path string) string {
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	stem = strings.ToLower(stem)

	var b strings.Builder
	b.Grow(len(stem))
	for _, r := range stem {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}

	id := b.String()
	if id == "" {
		return "study"
	}
	if id[0] >= '0' && id[0] <= '9' {
		id = "_" + id
	}
	return id
}
