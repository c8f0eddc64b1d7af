// Package tagblock encodes and decodes YAML payloads wrapped in XML-like
// tags embedded in free-text chat floors:
//
//	<phone_module type="map" timestamp="1700000000000">
//	name: ...
//	</phone_module>
//
// Several blocks of different kinds may share one floor body.
package tagblock

import (
	"bytes"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

var (
	// ErrNotFound means no occurrence of the tag carried the required attributes.
	ErrNotFound = errors.New("tagged block not found")
	// ErrNotMapping means the block body parsed but is not a YAML mapping.
	ErrNotMapping = errors.New("tagged block body is not a mapping")
)

// Attr is one key="value" attribute on an opening tag.
type Attr struct {
	Key   string
	Value string
}

// Match is one occurrence of a tagged block inside a text.
type Match struct {
	Start int // offset of '<' of the opening tag
	End   int // offset just past the closing tag
	Attrs map[string]string
	Body  string
}

var attrRe = regexp.MustCompile(`([\w-]+)="([^"]*)"`)

var openers sync.Map // tag -> *regexp.Regexp

func opener(tag string) *regexp.Regexp {
	if re, ok := openers.Load(tag); ok {
		return re.(*regexp.Regexp)
	}
	re := regexp.MustCompile(`<` + regexp.QuoteMeta(tag) + `((?:\s+[\w-]+="[^"]*")*)\s*>`)
	openers.Store(tag, re)
	return re
}

// Encode serializes payload to YAML and wraps it in tag with attrs in the
// order given. Attribute values are written unescaped.
func Encode(tag string, attrs []Attr, payload any) (string, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(payload); err != nil {
		return "", fmt.Errorf("failed to marshal %s payload: %w", tag, err)
	}
	if err := enc.Close(); err != nil {
		return "", fmt.Errorf("failed to marshal %s payload: %w", tag, err)
	}

	var b strings.Builder
	b.WriteString("<")
	b.WriteString(tag)
	for _, a := range attrs {
		fmt.Fprintf(&b, ` %s="%s"`, a.Key, a.Value)
	}
	b.WriteString(">\n")
	b.Write(buf.Bytes())
	b.WriteString("</")
	b.WriteString(tag)
	b.WriteString(">")
	return b.String(), nil
}

// Find returns every occurrence of tag in text, in document order, whose
// opening tag carries all required attributes (in any order). The body runs
// up to the first closing tag after the opening tag.
func Find(text, tag string, required []Attr) []Match {
	closing := "</" + tag + ">"
	var out []Match
	pos := 0
	for _, loc := range opener(tag).FindAllStringSubmatchIndex(text, -1) {
		if loc[0] < pos {
			continue
		}
		attrs := parseAttrs(text[loc[2]:loc[3]])
		if !hasAll(attrs, required) {
			continue
		}
		rel := strings.Index(text[loc[1]:], closing)
		if rel < 0 {
			continue
		}
		bodyEnd := loc[1] + rel
		m := Match{
			Start: loc[0],
			End:   bodyEnd + len(closing),
			Attrs: attrs,
			Body:  text[loc[1]:bodyEnd],
		}
		out = append(out, m)
		pos = m.End
	}
	return out
}

func parseAttrs(s string) map[string]string {
	attrs := make(map[string]string)
	for _, kv := range attrRe.FindAllStringSubmatch(s, -1) {
		attrs[kv[1]] = kv[2]
	}
	return attrs
}

func hasAll(attrs map[string]string, required []Attr) bool {
	for _, r := range required {
		if v, ok := attrs[r.Key]; !ok || v != r.Value {
			return false
		}
	}
	return true
}

// ParseBody YAML-parses a block body and returns its root mapping node.
func ParseBody(body string) (*yaml.Node, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal([]byte(strings.TrimSpace(body)), &doc); err != nil {
		return nil, err
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 || doc.Content[0].Kind != yaml.MappingNode {
		return nil, ErrNotMapping
	}
	return doc.Content[0], nil
}

// DecodeMatch decodes one occurrence into out.
func DecodeMatch(m Match, out any) error {
	node, err := ParseBody(m.Body)
	if err != nil {
		return err
	}
	return node.Decode(out)
}

// Decode decodes the last valid occurrence of tag in text into out. An
// occurrence whose body fails to parse is skipped in favour of earlier ones.
func Decode(text, tag string, required []Attr, out any) error {
	_, err := DecodeLatest(text, tag, required, out)
	return err
}

// DecodeLatest is Decode that also returns the match that was decoded.
func DecodeLatest(text, tag string, required []Attr, out any) (Match, error) {
	matches := Find(text, tag, required)
	var lastErr error
	for i := len(matches) - 1; i >= 0; i-- {
		node, err := ParseBody(matches[i].Body)
		if err != nil {
			lastErr = err
			continue
		}
		if err := node.Decode(out); err != nil {
			lastErr = err
			continue
		}
		return matches[i], nil
	}
	if lastErr != nil {
		return Match{}, fmt.Errorf("%w: %v", ErrNotFound, lastErr)
	}
	return Match{}, ErrNotFound
}

// Replace swaps the text of m for replacement.
func Replace(text string, m Match, replacement string) string {
	return text[:m.Start] + replacement + text[m.End:]
}

// Append adds block to body separated by a blank line.
func Append(body, block string) string {
	if body == "" {
		return block
	}
	return body + "\n\n" + block
}
