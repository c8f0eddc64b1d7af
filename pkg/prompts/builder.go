package prompts

import (
	"context"
	"log/slog"

	"github.com/jwebster45206/tavern-phone/pkg/actor"
	"github.com/jwebster45206/tavern-phone/pkg/conditionals"
	"github.com/jwebster45206/tavern-phone/pkg/history"
	"github.com/jwebster45206/tavern-phone/pkg/media"
	"github.com/jwebster45206/tavern-phone/pkg/module"
	"github.com/jwebster45206/tavern-phone/pkg/storage"
)

// FillContext describes one AI request.
type FillContext struct {
	// View selects the format guide, e.g. "privateChat" or "map".
	View string `json:"view"`
	// Page selects page-family worldbook guidance.
	Page          string `json:"page,omitempty"`
	CharacterName string `json:"characterName,omitempty"`
	// UserName is the host persona name, used when the phone owner has none.
	UserName      string            `json:"userName,omitempty"`
	Targets       []string          `json:"targets,omitempty"`
	AllCharacters []string          `json:"allCharacters,omitempty"`
	UserInput     string            `json:"userInput,omitempty"`
	FormatGuide   map[string]string `json:"formatGuide,omitempty"`
	History       *HistoryConfig    `json:"history,omitempty"`
}

// Filler recomputes the fixed blocks of a preset.
type Filler struct {
	store    storage.Storage
	engine   *conditionals.Engine
	scanner  *history.Scanner
	stickers []media.Item
	logger   *slog.Logger
}

// NewFiller creates a filler. stickers is the deployment's sticker registry.
func NewFiller(store storage.Storage, engine *conditionals.Engine, scanner *history.Scanner, stickers []media.Item, logger *slog.Logger) *Filler {
	return &Filler{store: store, engine: engine, scanner: scanner, stickers: stickers, logger: logger}
}

// Fill returns a copy of blocks with every fixed block recomputed. Custom
// blocks pass through unchanged. Failures of the host degrade to empty content.
func (f *Filler) Fill(ctx context.Context, blocks []Block, fc FillContext) []Block {
	vars := f.conditionVars(ctx)
	charVars := f.characterVars(ctx)
	phone, err := actor.FromVariables(charVars)
	if err != nil {
		f.logger.Warn("Ignoring unreadable phone data", "error", err)
		phone = &actor.PhoneData{}
	}
	lib := media.Library{Stickers: f.stickers}.WithCharacterVars(charVars)

	out := make([]Block, len(blocks))
	for i, b := range blocks {
		switch b.ID {
		case BlockWorldbookBefore:
			b.Content = joinNonEmpty(FormatBaseData(phone, fc.UserName), f.engine.Before(ctx, vars))
		case BlockWorldbookAfter:
			b.Content = f.engine.After(ctx, vars)
		case BlockHistory:
			b.Content = f.history(ctx, fc.History)
		case BlockCharacter:
			b.Content = joinNonEmpty(f.card(ctx), f.engine.CharacterGuide(ctx, fc.Targets, vars))
		case BlockPage:
			b.Content = f.engine.PageGuide(ctx, fc.Page, vars)
		case BlockFormat:
			b.Content = f.format(ctx, fc, phone, lib)
		case BlockInput:
			b.Content = fc.UserInput
		}
		out[i] = b
	}
	return out
}

// conditionVars reads the message-scoped variables of the latest floor.
func (f *Filler) conditionVars(ctx context.Context) map[string]any {
	last, err := f.store.LastFloorID(ctx)
	if err != nil || last < 0 {
		return map[string]any{}
	}
	vars, err := f.store.GetVariables(ctx, storage.VariableOption{Type: storage.ScopeMessage, MessageID: last})
	if err != nil {
		f.logger.Warn("Failed to read floor variables", "floor_id", last, "error", err)
		return map[string]any{}
	}
	if vars == nil {
		vars = map[string]any{}
	}
	return vars
}

func (f *Filler) characterVars(ctx context.Context) map[string]any {
	vars, err := f.store.GetVariables(ctx, storage.VariableOption{Type: storage.ScopeCharacter})
	if err != nil {
		f.logger.Warn("Failed to read character variables", "error", err)
		return map[string]any{}
	}
	return vars
}

func (f *Filler) history(ctx context.Context, cfg *HistoryConfig) string {
	c := DefaultHistoryConfig()
	if cfg != nil {
		c = *cfg
	}
	last, err := f.store.LastFloorID(ctx)
	if err != nil || last < 0 {
		return ""
	}
	floors, err := f.store.Floors(ctx, 0, last)
	if err != nil {
		f.logger.Error("Failed to read chat history", "error", err)
		return ""
	}
	return FormatHistory(floors, c)
}

func (f *Filler) card(ctx context.Context) string {
	card, err := f.store.CharacterCard(ctx)
	if err != nil {
		f.logger.Error("Failed to read character card", "error", err)
		return ""
	}
	return CardGuide(card)
}

func (f *Filler) format(ctx context.Context, fc FillContext, phone *actor.PhoneData, lib media.Library) string {
	guide := fc.FormatGuide[fc.View]
	if fc.View == "" || guide == "" {
		return ""
	}
	var parts []string
	switch fc.View {
	case "privateChat", "groupChat":
		parts = append(parts, lib.StickerListing(), lib.ImageListing(fc.Targets))
	case "live":
		if len(fc.Targets) > 0 {
			parts = append(parts, lib.LiveImageListing(fc.Targets, true))
		}
	case "liveList":
		chars := fc.AllCharacters
		if len(chars) == 0 {
			chars = fc.Targets
		}
		if len(chars) > 0 {
			parts = append(parts, lib.LiveImageListing(chars, false))
		}
	case "map":
		// The framework is only given once a map exists; the first
		// generation establishes it.
		existing, _, err := history.Latest[module.MapData](ctx, f.scanner, module.KindMap.Key(""))
		if err != nil {
			f.logger.Warn("Failed to read map history", "error", err)
		}
		if existing.HasLocations() {
			parts = append(parts, MapFramework(phone))
		}
	}
	parts = append(parts, "## 输出格式要求\n\n"+guide)
	return joinNonEmpty(parts...)
}

func joinNonEmpty(parts ...string) string {
	out := ""
	for _, p := range parts {
		if p == "" {
			continue
		}
		if out != "" {
			out += "\n\n"
		}
		out += p
	}
	return out
}
