// Package fieldpath addresses values inside an extraction's field map by
// dot-separated key paths such as "tables.0.rows.1.amount". Numeric
// segments index into []any values.
package fieldpath

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrPathConflict is returned when a path segment lands on a value that is
// neither a map nor an indexable list. Set fails loudly on conflicts
// instead of silently overwriting typed data.
var ErrPathConflict = errors.New("fieldpath: segment conflicts with existing value")

// Get resolves path inside root, reporting whether a value was present.
func Get(root map[string]any, path string) (any, bool) {
	if root == nil || path == "" {
		return nil, false
	}

	var current any = root
	for _, seg := range strings.Split(path, ".") {
		switch node := current.(type) {
		case map[string]any:
			next, ok := node[seg]
			if !ok {
				return nil, false
			}
			current = next
		case []any:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, false
			}
			current = node[idx]
		default:
			return nil, false
		}
	}
	return current, true
}

// Set writes value at path inside root. Missing intermediate keys are
// created as empty maps; list segments must index an existing element.
func Set(root map[string]any, path string, value any) error {
	if root == nil {
		return errors.New("fieldpath: nil root")
	}
	if path == "" {
		return errors.New("fieldpath: empty path")
	}

	segs := strings.Split(path, ".")
	return setIn(root, segs, value, path)
}

func setIn(node any, segs []string, value any, full string) error {
	seg := segs[0]
	last := len(segs) == 1

	switch n := node.(type) {
	case map[string]any:
		if last {
			n[seg] = value
			return nil
		}
		child, ok := n[seg]
		if !ok {
			child = map[string]any{}
			n[seg] = child
		}
		if err := setIn(child, segs[1:], value, full); err != nil {
			return err
		}
		return nil
	case []any:
		idx, err := strconv.Atoi(seg)
		if err != nil || idx < 0 || idx >= len(n) {
			return fmt.Errorf("%w: bad list index %q in %q", ErrPathConflict, seg, full)
		}
		if last {
			n[idx] = value
			return nil
		}
		return setIn(n[idx], segs[1:], value, full)
	default:
		return fmt.Errorf("%w: %q in %q points at %T", ErrPathConflict, seg, full, node)
	}
}

// Leaf returns the final segment of a path, used for same-leaf-name
// suggestion matching.
func Leaf(path string) string {
	if i := strings.LastIndex(path, "."); i >= 0 {
		return path[i+1:]
	}
	return path
}
