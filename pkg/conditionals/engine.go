package conditionals

import (
	"context"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/jwebster45206/tavern-phone/pkg/storage"
)

// Engine reads the worldbooks bound to the active character and renders the
// selected guidance.
type Engine struct {
	books  storage.Worldbooks
	logger *slog.Logger
}

func NewEngine(books storage.Worldbooks, logger *slog.Logger) *Engine {
	return &Engine{books: books, logger: logger}
}

// Entries returns every entry of the bound worldbooks, primary first. A
// worldbook that cannot be read is logged and skipped.
func (e *Engine) Entries(ctx context.Context) []storage.WorldbookEntry {
	bindings, err := e.books.WorldbookBindings(ctx)
	if err != nil {
		e.logger.Error("Failed to read worldbook bindings", "error", err)
		return nil
	}
	names := bindings.Names()
	perBook := make([][]storage.WorldbookEntry, len(names))

	g, gctx := errgroup.WithContext(ctx)
	for i, name := range names {
		g.Go(func() error {
			entries, err := e.books.Worldbook(gctx, name)
			if err != nil {
				e.logger.Warn("Failed to read worldbook", "worldbook", name, "error", err)
				return nil
			}
			perBook[i] = entries
			return nil
		})
	}
	_ = g.Wait()

	var all []storage.WorldbookEntry
	for _, entries := range perBook {
		all = append(all, entries...)
	}
	return all
}

// Before returns the pre-position guidance.
func (e *Engine) Before(ctx context.Context, vars map[string]any) string {
	return strings.Join(Select(e.Entries(ctx), FamilyBefore, vars, Extra{}, e.logger), "\n\n")
}

// After returns the post-position guidance.
func (e *Engine) After(ctx context.Context, vars map[string]any) string {
	return strings.Join(Select(e.Entries(ctx), FamilyAfter, vars, Extra{}, e.logger), "\n\n")
}

// CharacterGuide renders one section per target character with matches.
func (e *Engine) CharacterGuide(ctx context.Context, targets []string, vars map[string]any) string {
	if len(targets) == 0 {
		return ""
	}
	sections := SelectByCharacter(e.Entries(ctx), targets, vars, e.logger)
	if len(sections) == 0 {
		return ""
	}
	parts := make([]string, 0, len(sections))
	for _, s := range sections {
		parts = append(parts, "## "+s.Name+"\n\n"+strings.Join(s.Contents, "\n\n"))
	}
	return "# 人物指导\n\n" + strings.Join(parts, "\n\n---\n\n")
}

// PageGuide renders the guidance for the current page.
func (e *Engine) PageGuide(ctx context.Context, page string, vars map[string]any) string {
	if page == "" {
		return ""
	}
	contents := Select(e.Entries(ctx), FamilyPage, vars, Extra{Page: page}, e.logger)
	if len(contents) == 0 {
		return ""
	}
	return "# 页面指导\n\n" + strings.Join(contents, "\n\n")
}
