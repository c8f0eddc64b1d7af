package storage

import (
	"context"
)

// Floor is one message slot in the host chat transcript.
type Floor struct {
	ID      int    `json:"message_id"`
	Role    string `json:"role"` // "user", "assistant", "system"
	Name    string `json:"name,omitempty"`
	Message string `json:"message"`
}

// Position carries the explicit ordering field of a worldbook entry.
type Position struct {
	Order int `json:"order"`
}

// WorldbookEntry is a host-managed lore/instruction entry. Name carries the
// condition tag. Enabled is stored but never consulted when selecting entries.
type WorldbookEntry struct {
	UID      int      `json:"uid"`
	Name     string   `json:"name"`
	Enabled  bool     `json:"enabled"`
	Content  string   `json:"content"`
	Position Position `json:"position"`
}

// WorldbookBindings names the worldbooks bound to the active character.
type WorldbookBindings struct {
	Primary    string   `json:"primary"`
	Additional []string `json:"additional"`
}

// Names returns primary followed by additional, skipping empties.
func (b WorldbookBindings) Names() []string {
	names := make([]string, 0, len(b.Additional)+1)
	if b.Primary != "" {
		names = append(names, b.Primary)
	}
	for _, n := range b.Additional {
		if n != "" {
			names = append(names, n)
		}
	}
	return names
}

// CharacterCard holds the static fields of the acting character card.
type CharacterCard struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Personality string `json:"personality"`
	Scenario    string `json:"scenario"`
}

// Scope selects which variable bag to read or write.
type Scope string

const (
	ScopeChat      Scope = "chat"
	ScopeCharacter Scope = "character"
	ScopeMessage   Scope = "message"
)

// VariableOption addresses a variable bag. MessageID is only used with
// ScopeMessage; -1 means the latest floor.
type VariableOption struct {
	Type      Scope
	MessageID int
}

// Floors is the host chat transcript.
type Floors interface {
	// LastFloorID returns the id of the newest floor, or -1 if the chat is empty.
	LastFloorID(ctx context.Context) (int, error)
	// Floors returns the floors with start <= id <= end in ascending order.
	Floors(ctx context.Context, start, end int) ([]Floor, error)
	// SetFloor replaces the full body of an existing floor.
	SetFloor(ctx context.Context, id int, message string) error
	// CreateFloor appends a new floor and returns its id.
	CreateFloor(ctx context.Context, role, name, message string) (int, error)
}

// Variables is the host key-value variable store.
type Variables interface {
	GetVariables(ctx context.Context, opt VariableOption) (map[string]any, error)
	// MergeVariables shallow-merges vars into the addressed bag.
	MergeVariables(ctx context.Context, opt VariableOption, vars map[string]any) error
}

// Worldbooks is the host worldbook store.
type Worldbooks interface {
	WorldbookBindings(ctx context.Context) (WorldbookBindings, error)
	Worldbook(ctx context.Context, name string) ([]WorldbookEntry, error)
	CreateWorldbookEntries(ctx context.Context, name string, entries []WorldbookEntry) error
	// UpdateWorldbookEntry replaces the entry whose Name matches entry.Name.
	UpdateWorldbookEntry(ctx context.Context, name string, entry WorldbookEntry) error
	DeleteWorldbookEntries(ctx context.Context, name string, entryNames []string) error
}

// Cards exposes the acting character card.
type Cards interface {
	CharacterCard(ctx context.Context) (*CharacterCard, error)
}

// Storage is the complete host contract for one chat session.
type Storage interface {
	Floors
	Variables
	Worldbooks
	Cards
}
