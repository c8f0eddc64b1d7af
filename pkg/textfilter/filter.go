// Package textfilter repairs AI responses into parseable YAML or JSON.
package textfilter

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"

	"golang.org/x/text/width"
	"gopkg.in/yaml.v3"
)

// ErrUnparsable is returned when neither YAML nor JSON could be read.
var ErrUnparsable = errors.New("unable to parse AI response")

// WrapperTags are the XML tags a response payload may be wrapped in, in
// priority order.
var WrapperTags = []string{
	"message", "group_message", "chat_history", "map", "dynamic", "homepage", "forum",
	"forum_post", "live_list", "live", "email", "browser", "music", "phone_module",
	"call", "calendar", "diary",
}

var (
	yamlFence = regexp.MustCompile("(?s)```(?:ya?ml)?[ \t]*\n(.*?)```")
	jsonFence = regexp.MustCompile("(?s)```(?:json)?[ \t]*\n(.*?)```")

	wrapperRes = func() []*regexp.Regexp {
		out := make([]*regexp.Regexp, len(WrapperTags))
		for i, t := range WrapperTags {
			out[i] = regexp.MustCompile(`(?is)<` + t + `(?:\s[^>]*)?>(.*?)</` + t + `>`)
		}
		return out
	}()

	keyPrefix    = `^(\s*(?:- )?[\w\p{Han}]+:\s*)`
	bracketValue = regexp.MustCompile(keyPrefix + `\[([^\]]*)\](.*)$`)
	colonValue   = regexp.MustCompile(keyPrefix + `([^"'|>\s][^"]*:.*)$`)
	atValue      = regexp.MustCompile(keyPrefix + `(@.*)$`)
	hanRe        = regexp.MustCompile(`\p{Han}`)
	wideColonKey = regexp.MustCompile(`(?m)^(\s*(?:- )?[\w\p{Han}]+)(：)`)
	missingSpace = regexp.MustCompile(`(?m)^(\s*(?:- )?[\w\p{Han}]+):([^\s])`)
)

// StripThinking drops everything up to and including a closing </think> tag.
func StripThinking(content string) string {
	if i := strings.Index(content, "</think>"); i >= 0 {
		return strings.TrimSpace(content[i+len("</think>"):])
	}
	return content
}

// ExtractWrapped returns the body of the first wrapper tag found, or content
// unchanged.
func ExtractWrapped(content string) string {
	for _, re := range wrapperRes {
		if m := re.FindStringSubmatch(content); m != nil {
			return strings.TrimSpace(m[1])
		}
	}
	return content
}

// Extract isolates the YAML payload of a response.
func Extract(content string) string {
	s := StripThinking(content)
	if m := yamlFence.FindStringSubmatch(s); m != nil {
		s = strings.TrimSpace(m[1])
	}
	return ExtractWrapped(s)
}

func blockScalarStart(trimmed string) bool {
	return strings.HasSuffix(trimmed, "|") || strings.HasSuffix(trimmed, ">")
}

func indented(line string) bool {
	return strings.HasPrefix(line, " ") || strings.HasPrefix(line, "\t")
}

// StripComments removes top-level comment lines, leaving block scalars alone.
func StripComments(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	inBlock := false
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if blockScalarStart(trimmed) {
			inBlock = true
			out = append(out, line)
			continue
		}
		if inBlock && trimmed != "" && !indented(line) {
			inBlock = false
		}
		if !inBlock && strings.HasPrefix(trimmed, "#") {
			continue
		}
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}

// QuoteValues quotes scalar values that YAML would otherwise misread: bracketed
// text that is not a list, values containing a colon and values starting
// with '@'.
func QuoteValues(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	inBlock := false
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if blockScalarStart(trimmed) {
			inBlock = true
			out = append(out, line)
			continue
		}
		if inBlock {
			if trimmed != "" && !indented(line) {
				inBlock = false
			} else {
				out = append(out, line)
				continue
			}
		}

		if m := bracketValue.FindStringSubmatch(line); m != nil {
			if strings.TrimSpace(m[3]) != "" || hanRe.MatchString(m[2]) {
				out = append(out, m[1]+quote("["+m[2]+"]"+m[3]))
				continue
			}
		}
		if m := colonValue.FindStringSubmatch(line); m != nil && !strings.Contains(m[2], "://") {
			out = append(out, m[1]+quote(m[2]))
			continue
		}
		if m := atValue.FindStringSubmatch(line); m != nil {
			out = append(out, m[1]+quote(m[2]))
			continue
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}

func quote(v string) string {
	return `"` + strings.ReplaceAll(v, `"`, `\"`) + `"`
}

// FixKeySpacing narrows full-width key colons and inserts the space YAML
// needs after "key:".
func FixKeySpacing(s string) string {
	s = wideColonKey.ReplaceAllStringFunc(s, func(m string) string {
		return width.Narrow.String(m)
	})
	return missingSpace.ReplaceAllString(s, "$1: $2")
}

// RepairYAML applies every YAML fix-up to an extracted payload.
func RepairYAML(s string) string {
	return FixKeySpacing(QuoteValues(StripComments(s)))
}

// ParseYAML extracts, repairs and decodes the YAML payload of a response.
func ParseYAML(content string) (any, error) {
	var out any
	if err := yaml.Unmarshal([]byte(RepairYAML(Extract(content))), &out); err != nil {
		return nil, err
	}
	if !structured(out) {
		return nil, ErrUnparsable
	}
	return out, nil
}

// ParseJSON decodes the response as JSON, directly or from a json fence.
func ParseJSON(content string) (any, error) {
	var out any
	err := json.Unmarshal([]byte(strings.TrimSpace(content)), &out)
	if err != nil {
		m := jsonFence.FindStringSubmatch(content)
		if m == nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(m[1]), &out); err != nil {
			return nil, err
		}
	}
	if !structured(out) {
		return nil, ErrUnparsable
	}
	return out, nil
}

// ParseResponse tries YAML first and falls back to JSON.
func ParseResponse(content string) (any, error) {
	if v, err := ParseYAML(content); err == nil {
		return v, nil
	}
	if v, err := ParseJSON(content); err == nil {
		return v, nil
	}
	return nil, ErrUnparsable
}

func structured(v any) bool {
	switch v.(type) {
	case map[string]any, []any:
		return true
	}
	return false
}
