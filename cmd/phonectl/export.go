package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/jwebster45206/tavern-phone/pkg/storage"
)

// Export is a chat exported from the host: transcript, variables, bound
// worldbooks and the character card.
type Export struct {
	Floors     []storage.Floor                     `json:"floors"`
	Variables  map[storage.Scope]map[string]any    `json:"variables,omitempty"`
	Bindings   storage.WorldbookBindings           `json:"bindings"`
	Worldbooks map[string][]storage.WorldbookEntry `json:"worldbooks,omitempty"`
	Card       *storage.CharacterCard              `json:"card,omitempty"`
}

func readExport(path string) (*Export, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	var e Export
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return &e, nil
}

// Mock loads the export into an in-memory host.
func (e *Export) Mock() *storage.MockStorage {
	m := storage.NewMockStorage()
	for _, f := range e.Floors {
		m.AddFloor(f.Role, f.Name, f.Message)
	}
	for scope, vars := range e.Variables {
		m.SetVariables(storage.VariableOption{Type: scope, MessageID: -1}, vars)
	}
	m.SetBindings(e.Bindings)
	for name, entries := range e.Worldbooks {
		m.SetWorldbook(name, entries)
	}
	if e.Card != nil {
		m.SetCard(e.Card)
	}
	return m
}
