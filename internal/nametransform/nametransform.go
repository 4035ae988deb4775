// Package nametransform rewrites database and index names between source
// and target naming conventions.
package nametransform

import (
	"strings"

	"github.com/syncwave/syncwave/internal/types"
)

// Apply rewrites a matching leading (prefix mode) or trailing (suffix mode)
// substring of name. Non-matching names pass through unchanged, as does a
// nil transform.
func Apply(name string, t *types.NameTransform) string {
	if t == nil || t.From == "" {
		return name
	}
	switch t.Mode {
	case types.TransformPrefix:
		if strings.HasPrefix(name, t.From) {
			return t.To + name[len(t.From):]
		}
	case types.TransformSuffix:
		if strings.HasSuffix(name, t.From) {
			return name[:len(name)-len(t.From)] + t.To
		}
	}
	return name
}
