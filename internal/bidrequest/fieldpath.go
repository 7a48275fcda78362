// internal/bidrequest/fieldpath.go
package bidrequest

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/solatis/bidkeeper/internal/types"
)

/*
 * Field path resolution for decoded bid request documents.
 *
 * Paths are dotted keys with optional array indices: "geo.lat",
 * "imp[0].banner.w". ParsePath turns the text form into PathSegments once;
 * Resolve walks an already-decoded document (map[string]any / []any), so a
 * request is decoded a single time no matter how many fields are read.
 *
 * Missing vs null: a key that is absent and a key whose value is JSON null
 * both resolve to Found=false. Required-field checks treat them the same.
 */

// ResolveResult contains the resolved value.
type ResolveResult struct {
	Value any  // resolved value (nil if not found)
	Found bool // true if path resolved to a non-null value
}

// ParsePath converts "a.b[2].c" into path segments.
// Returns ErrPathTooDeep beyond MaxPathDepth segments.
func ParsePath(s string) ([]types.PathSegment, error) {
	if s == "" {
		return nil, fmt.Errorf("empty field path")
	}

	var path []types.PathSegment
	for _, part := range strings.Split(s, ".") {
		key, rest, hasIndex := strings.Cut(part, "[")
		if key == "" && !hasIndex {
			return nil, fmt.Errorf("field path %q: empty segment", s)
		}
		if key != "" {
			path = append(path, types.PathSegment{Key: key})
		}
		for hasIndex {
			var idxText string
			var closed bool
			idxText, rest, closed = strings.Cut(rest, "]")
			if !closed {
				return nil, fmt.Errorf("field path %q: unterminated index", s)
			}
			idx, err := strconv.Atoi(idxText)
			if err != nil || idx < 0 {
				return nil, fmt.Errorf("field path %q: invalid index %q", s, idxText)
			}
			path = append(path, types.PathSegment{Index: idx, IsIndex: true})
			if rest == "" {
				break
			}
			if !strings.HasPrefix(rest, "[") {
				return nil, fmt.Errorf("field path %q: unexpected %q after index", s, rest)
			}
			rest = rest[1:]
		}
	}

	if len(path) > types.MaxPathDepth {
		return nil, types.ErrPathTooDeep
	}
	return path, nil
}

// MustParsePath is ParsePath for compile-time constant paths.
func MustParsePath(s string) []types.PathSegment {
	path, err := ParsePath(s)
	if err != nil {
		panic(err)
	}
	return path
}

// FormatPath renders segments back to the dotted form used in errors.
func FormatPath(path []types.PathSegment) string {
	var b strings.Builder
	for i, seg := range path {
		if seg.IsIndex {
			b.WriteString("[")
			b.WriteString(strconv.Itoa(seg.Index))
			b.WriteString("]")
			continue
		}
		if i > 0 {
			b.WriteString(".")
		}
		b.WriteString(seg.Key)
	}
	return b.String()
}

// Resolve traverses doc following path.
// Returns ErrPathTooDeep if path exceeds MaxPathDepth.
// Returns ErrFieldNotFound if the path does not exist in doc.
func Resolve(path []types.PathSegment, doc any) (ResolveResult, error) {
	if len(path) > types.MaxPathDepth {
		return ResolveResult{}, types.ErrPathTooDeep
	}

	current := doc
	for _, seg := range path {
		switch v := current.(type) {
		case map[string]any:
			if seg.IsIndex {
				return ResolveResult{}, types.ErrFieldNotFound
			}
			val, ok := v[seg.Key]
			if !ok {
				return ResolveResult{}, types.ErrFieldNotFound
			}
			current = val
		case []any:
			if !seg.IsIndex || seg.Index >= len(v) {
				return ResolveResult{}, types.ErrFieldNotFound
			}
			current = v[seg.Index]
		default:
			// Null or scalar at an intermediate position
			return ResolveResult{}, types.ErrFieldNotFound
		}
	}

	if current == nil {
		return ResolveResult{}, nil
	}
	return ResolveResult{Value: current, Found: true}, nil
}
