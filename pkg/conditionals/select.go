package conditionals

import (
	"cmp"
	"log/slog"
	"slices"
	"strings"

	"github.com/jwebster45206/tavern-phone/pkg/storage"
)

type matched struct {
	subject string
	order   int
	content string
}

// match returns the entries of one family that apply, sorted by order.
// The enabled flag is never consulted: the tag is the only gate.
func match(entries []storage.WorldbookEntry, family Family, vars map[string]any, extra Extra, logger *slog.Logger) []matched {
	var out []matched
	for _, e := range entries {
		tag, ok := ParseTag(e.Name)
		if !ok || tag.Family != family {
			continue
		}
		include, err := Evaluate(tag, vars, extra)
		if err != nil && logger != nil {
			logger.Warn("Range not checked, including entry", "entry", e.Name, "error", err)
		}
		if !include || strings.TrimSpace(e.Content) == "" {
			continue
		}
		out = append(out, matched{subject: tag.Subject, order: e.Position.Order, content: e.Content})
	}
	slices.SortStableFunc(out, func(a, b matched) int { return cmp.Compare(a.order, b.order) })
	return out
}

// Select returns the contents of matching entries of one family in
// ascending order.
func Select(entries []storage.WorldbookEntry, family Family, vars map[string]any, extra Extra, logger *slog.Logger) []string {
	m := match(entries, family, vars, extra, logger)
	out := make([]string, 0, len(m))
	for _, e := range m {
		out = append(out, e.content)
	}
	return out
}

// CharacterSection is the guidance collected for one character.
type CharacterSection struct {
	Name     string
	Contents []string
}

// SelectByCharacter groups matching character entries by subject, in the
// order of targets. Characters without matches are omitted.
func SelectByCharacter(entries []storage.WorldbookEntry, targets []string, vars map[string]any, logger *slog.Logger) []CharacterSection {
	m := match(entries, FamilyCharacter, vars, Extra{Targets: targets}, logger)
	var out []CharacterSection
	for _, name := range targets {
		sec := CharacterSection{Name: name}
		for _, e := range m {
			if e.subject == name {
				sec.Contents = append(sec.Contents, e.content)
			}
		}
		if len(sec.Contents) > 0 {
			out = append(out, sec)
		}
	}
	return out
}

// Issue describes a worldbook title that looks tagged but cannot be used.
type Issue struct {
	Entry  string
	Reason string
}

var families = []string{"<前置", "<后置", "<人物", "<页面"}

// Lint reports entries whose titles mention a tag family but do not parse,
// or whose range expressions are invalid.
func Lint(entries []storage.WorldbookEntry) []Issue {
	var issues []Issue
	for _, e := range entries {
		tag, ok := ParseTag(e.Name)
		if !ok {
			for _, f := range families {
				if strings.Contains(e.Name, f) {
					issues = append(issues, Issue{Entry: e.Name, Reason: "malformed condition tag"})
					break
				}
			}
			continue
		}
		if tag.Range != "" && !ValidRange(tag.Range) {
			issues = append(issues, Issue{Entry: e.Name, Reason: "invalid range " + tag.Range})
		}
		if tag.Range != "" && tag.Path == "" {
			issues = append(issues, Issue{Entry: e.Name, Reason: "range without variable path"})
		}
	}
	return issues
}
