// Package command extracts structured commands from free-text AI output.
//
// Every <tag>...</tag> occurrence is handed to an ordered list of strategies;
// the first one that yields every required field wins. AI output routinely
// breaks YAML (unquoted colons, stray brackets) while staying regex-friendly,
// so the direct field regex runs first.
package command

import (
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"golang.org/x/text/width"
	"gopkg.in/yaml.v3"
)

// Field describes one key a command may carry.
type Field struct {
	Key      string
	Aliases  []string
	Required bool
}

// Schema describes a command tag and its fields.
type Schema struct {
	Tag    string
	Fields []Field
}

// Fields maps canonical field keys to their extracted values.
type Fields map[string]string

// ErrMissingFields is returned when a strategy parsed the content but a
// required field was absent or empty.
var ErrMissingFields = errors.New("missing required fields")

// Strategy turns the raw content of one tag occurrence into fields. prev is
// the error returned by the previous strategy, nil if it merely came up empty.
type Strategy interface {
	Name() string
	Parse(raw string, prev error) (Fields, error)
}

// Parser runs a strategy cascade over each occurrence of a command tag.
type Parser[T any] struct {
	schema     Schema
	tagRe      *regexp.Regexp
	strategies []Strategy
	build      func(Fields) T
	logger     *slog.Logger
}

// NewParser creates a parser using the default regex → sanitize+YAML →
// regex-retry cascade.
func NewParser[T any](schema Schema, build func(Fields) T, logger *slog.Logger) *Parser[T] {
	if logger == nil {
		logger = slog.Default()
	}
	return &Parser[T]{
		schema:     schema,
		tagRe:      regexp.MustCompile(`(?s)<` + regexp.QuoteMeta(schema.Tag) + `>(.*?)</` + regexp.QuoteMeta(schema.Tag) + `>`),
		strategies: DefaultStrategies(schema),
		build:      build,
		logger:     logger,
	}
}

// DefaultStrategies returns the standard cascade for schema.
func DefaultStrategies(schema Schema) []Strategy {
	return []Strategy{
		newRegexStrategy(schema, true),
		newYAMLStrategy(schema),
		&retryStrategy{inner: newRegexStrategy(schema, false)},
	}
}

// ParseAll returns one command per occurrence that any strategy could parse.
// A failure on one occurrence does not affect the others.
func (p *Parser[T]) ParseAll(text string) []T {
	var out []T
	for _, m := range p.tagRe.FindAllStringSubmatch(text, -1) {
		fields, ok := p.parseOccurrence(strings.TrimSpace(m[1]))
		if !ok {
			continue
		}
		out = append(out, p.build(fields))
	}
	return out
}

func (p *Parser[T]) parseOccurrence(raw string) (Fields, bool) {
	var prev error
	for _, s := range p.strategies {
		fields, err := s.Parse(raw, prev)
		if err == nil && fields != nil {
			p.logger.Debug("Parsed command", "tag", p.schema.Tag, "strategy", s.Name())
			return fields, true
		}
		if err != nil {
			p.logger.Warn("Command strategy failed", "tag", p.schema.Tag, "strategy", s.Name(), "error", err)
		}
		prev = err
	}
	p.logger.Warn("Could not parse command", "tag", p.schema.Tag, "content", raw)
	return nil, false
}

// regexStrategy matches each field with a dedicated pattern tolerant of ASCII
// and full-width colons. Anchored patterns only accept a key at the start of
// a line (after an optional list bullet); loose ones accept it anywhere.
type regexStrategy struct {
	schema   Schema
	patterns map[string]*regexp.Regexp
}

func newRegexStrategy(schema Schema, anchored bool) *regexStrategy {
	prefix := `(?m)`
	if anchored {
		prefix = `(?m)^[ \t]*(?:[-*][ \t]*)?`
	}
	s := &regexStrategy{schema: schema, patterns: make(map[string]*regexp.Regexp)}
	for _, f := range schema.Fields {
		names := append([]string{f.Key}, f.Aliases...)
		for i, n := range names {
			names[i] = regexp.QuoteMeta(n)
		}
		s.patterns[f.Key] = regexp.MustCompile(prefix + `(?:` + strings.Join(names, "|") + `)[ \t]*[:：][ \t]*(.+?)[ \t]*$`)
	}
	return s
}

func (s *regexStrategy) Name() string { return "regex" }

func (s *regexStrategy) Parse(raw string, _ error) (Fields, error) {
	fields := make(Fields)
	for _, f := range s.schema.Fields {
		m := s.patterns[f.Key].FindStringSubmatch(raw)
		if m == nil || strings.TrimSpace(m[1]) == "" {
			if f.Required {
				return nil, nil
			}
			continue
		}
		fields[f.Key] = strings.TrimSpace(m[1])
	}
	return fields, nil
}

// retryStrategy re-runs field extraction against the original content with
// loose patterns, but only when the previous stage failed outright.
type retryStrategy struct {
	inner *regexStrategy
}

func (s *retryStrategy) Name() string { return "regex-retry" }

func (s *retryStrategy) Parse(raw string, prev error) (Fields, error) {
	if prev == nil || errors.Is(prev, ErrMissingFields) {
		return nil, nil
	}
	return s.inner.Parse(raw, nil)
}

// yamlStrategy keeps only whitelisted key lines, quotes risky values and
// parses the result as YAML.
type yamlStrategy struct {
	schema Schema
	canon  map[string]string // accepted key or alias -> canonical key
}

var keyLineRe = regexp.MustCompile(`^([\p{L}\p{N}_]+)[ \t]*[:：](.*)$`)

var needsQuotesRe = regexp.MustCompile("[\\[\\]{}:@#!|>&*?`]")

func newYAMLStrategy(schema Schema) *yamlStrategy {
	s := &yamlStrategy{schema: schema, canon: make(map[string]string)}
	for _, f := range schema.Fields {
		s.canon[f.Key] = f.Key
		for _, a := range f.Aliases {
			s.canon[a] = f.Key
		}
	}
	return s
}

func (s *yamlStrategy) Name() string { return "yaml" }

// Sanitize returns the YAML-safe rendition of raw.
func (s *yamlStrategy) Sanitize(raw string) string {
	var lines []string
	for _, line := range strings.Split(raw, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		m := keyLineRe.FindStringSubmatch(trimmed)
		if m == nil {
			continue
		}
		key := width.Narrow.String(m[1])
		if _, ok := s.canon[key]; !ok {
			continue
		}
		lines = append(lines, key+": "+quoteValue(strings.TrimSpace(m[2])))
	}
	return strings.Join(lines, "\n")
}

func quoteValue(v string) string {
	if v == "" || strings.HasPrefix(v, `"`) || strings.HasPrefix(v, `'`) {
		return v
	}
	if !needsQuotesRe.MatchString(v) && !strings.Contains(v, "://") {
		return v
	}
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `"`, `\"`)
	return `"` + v + `"`
}

func (s *yamlStrategy) Parse(raw string, _ error) (Fields, error) {
	cleaned := s.Sanitize(raw)
	if cleaned == "" {
		return nil, nil
	}
	var parsed map[string]any
	if err := yaml.Unmarshal([]byte(cleaned), &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse %s yaml: %w", s.schema.Tag, err)
	}

	fields := make(Fields)
	for k, v := range parsed {
		canon, ok := s.canon[k]
		if !ok || v == nil {
			continue
		}
		val := strings.TrimSpace(fmt.Sprint(v))
		if val == "" {
			continue
		}
		// canonical key wins over an alias
		if _, seen := fields[canon]; seen && k != canon {
			continue
		}
		fields[canon] = val
	}
	for _, f := range s.schema.Fields {
		if f.Required && fields[f.Key] == "" {
			return nil, fmt.Errorf("%w: %s", ErrMissingFields, f.Key)
		}
	}
	return fields, nil
}
