package conditionals

import (
	"encoding/json"
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"
)

var (
	spanRe    = regexp.MustCompile(`^(-?\d+(?:\.\d+)?)\s*-\s*(-?\d+(?:\.\d+)?)$`)
	compareRe = regexp.MustCompile(`^(>=?|<=?|=)\s*(-?\d+(?:\.\d+)?)$`)
)

// CheckRange tests v against expr. ok is false when expr is not a valid
// range; callers treat that as a match.
func CheckRange(v float64, expr string) (match, ok bool) {
	expr = strings.TrimSpace(expr)
	if m := spanRe.FindStringSubmatch(expr); m != nil {
		lo, _ := strconv.ParseFloat(m[1], 64)
		hi, _ := strconv.ParseFloat(m[2], 64)
		return v >= lo && v <= hi, true
	}
	m := compareRe.FindStringSubmatch(expr)
	if m == nil {
		return true, false
	}
	n, _ := strconv.ParseFloat(m[2], 64)
	switch m[1] {
	case ">":
		return v > n, true
	case ">=":
		return v >= n, true
	case "<":
		return v < n, true
	case "<=":
		return v <= n, true
	default:
		return v == n, true
	}
}

// ValidRange reports whether expr parses as a range.
func ValidRange(expr string) bool {
	_, ok := CheckRange(0, expr)
	return ok
}

// pathTokens splits "a.b[0]['c']" into a, b, 0, c.
func pathTokens(path string) []string {
	var out []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			out = append(out, cur.String())
			cur.Reset()
		}
	}
	for i := 0; i < len(path); i++ {
		switch c := path[i]; c {
		case '.':
			flush()
		case '[':
			flush()
			end := strings.IndexByte(path[i:], ']')
			if end < 0 {
				cur.WriteString(path[i:])
				i = len(path)
				continue
			}
			out = append(out, strings.Trim(path[i+1:i+end], `'"`))
			i += end
		default:
			cur.WriteByte(c)
		}
	}
	flush()
	return out
}

// Lookup resolves a dotted/indexed path in vars. A key equal to the whole
// path takes precedence over traversal.
func Lookup(vars map[string]any, path string) (any, bool) {
	if v, ok := vars[path]; ok {
		return v, v != nil
	}
	var cur any = vars
	for _, tok := range pathTokens(path) {
		switch node := cur.(type) {
		case map[string]any:
			v, ok := node[tok]
			if !ok {
				return nil, false
			}
			cur = v
		case map[any]any:
			v, ok := node[tok]
			if !ok {
				return nil, false
			}
			cur = v
		case []any:
			i, err := strconv.Atoi(tok)
			if err != nil || i < 0 || i >= len(node) {
				return nil, false
			}
			cur = node[i]
		default:
			return nil, false
		}
	}
	return cur, cur != nil
}

func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// Evaluate decides whether an entry with tag applies. A non-nil error
// accompanies a permissive true and should be logged.
func Evaluate(tag Tag, vars map[string]any, extra Extra) (bool, error) {
	switch tag.Family {
	case FamilyCharacter:
		if !slices.Contains(extra.Targets, tag.Subject) {
			return false, nil
		}
	case FamilyPage:
		if extra.Page == "" || PageKey(tag.Subject) != PageKey(extra.Page) {
			return false, nil
		}
	}

	if tag.Path == "" {
		return true, nil
	}
	v, ok := Lookup(vars, tag.Path)
	if !ok {
		return false, nil
	}
	if tag.Range == "" {
		return true, nil
	}
	n, ok := asNumber(v)
	if !ok {
		return true, fmt.Errorf("%w: %s", ErrNotNumeric, tag.Path)
	}
	match, ok := CheckRange(n, tag.Range)
	if !ok {
		return true, fmt.Errorf("%w: %q", ErrBadRange, tag.Range)
	}
	return match, nil
}
