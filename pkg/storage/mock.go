package storage

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"
)

// FloorWrite records one floor mutation made through MockStorage.
type FloorWrite struct {
	FloorID int
	Created bool
	Message string
}

// MockStorage is an in-memory implementation of Storage for testing
type MockStorage struct {
	mu         sync.RWMutex
	floors     []Floor
	nextID     int
	vars       map[Scope]map[string]any
	msgVars    map[int]map[string]any
	bindings   WorldbookBindings
	worldbooks map[string][]WorldbookEntry
	card       *CharacterCard

	floorsError    error
	varsErrors     map[Scope]error
	worldbookError map[string]error
	bindingsError  error

	// Writes lists floor mutations in the order they happened.
	Writes []FloorWrite
}

// Ensure MockStorage implements Storage interface
var _ Storage = (*MockStorage)(nil)

// NewMockStorage creates a new mock storage
func NewMockStorage() *MockStorage {
	return &MockStorage{
		vars:           make(map[Scope]map[string]any),
		msgVars:        make(map[int]map[string]any),
		worldbooks:     make(map[string][]WorldbookEntry),
		varsErrors:     make(map[Scope]error),
		worldbookError: make(map[string]error),
	}
}

// AddFloor appends a floor and returns its id (for testing)
func (m *MockStorage) AddFloor(role, name, message string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendLocked(role, name, message)
}

func (m *MockStorage) appendLocked(role, name, message string) int {
	id := m.nextID
	m.nextID++
	m.floors = append(m.floors, Floor{ID: id, Role: role, Name: name, Message: message})
	return id
}

// Floor returns a copy of a floor by id (for testing)
func (m *MockStorage) Floor(id int) (Floor, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, f := range m.floors {
		if f.ID == id {
			return f, true
		}
	}
	return Floor{}, false
}

// SetFloorsError makes every floor read fail with err
func (m *MockStorage) SetFloorsError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.floorsError = err
}

// SetVariablesError makes reads of the given scope fail with err
func (m *MockStorage) SetVariablesError(scope Scope, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.varsErrors[scope] = err
}

// SetWorldbookError makes reads of the named worldbook fail with err
func (m *MockStorage) SetWorldbookError(name string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.worldbookError[name] = err
}

// SetBindingsError makes WorldbookBindings fail with err
func (m *MockStorage) SetBindingsError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bindingsError = err
}

// SetBindings sets the worldbooks bound to the character
func (m *MockStorage) SetBindings(b WorldbookBindings) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bindings = b
}

// SetWorldbook replaces the entries of a worldbook
func (m *MockStorage) SetWorldbook(name string, entries []WorldbookEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.worldbooks[name] = append([]WorldbookEntry(nil), entries...)
}

// SetCard sets the acting character card
func (m *MockStorage) SetCard(card *CharacterCard) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.card = card
}

// SetVariables replaces a variable bag. For ScopeMessage, opt.MessageID selects the floor.
func (m *MockStorage) SetVariables(opt VariableOption, vars map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if opt.Type == ScopeMessage {
		m.msgVars[m.resolveMessageIDLocked(opt.MessageID)] = vars
		return
	}
	m.vars[opt.Type] = vars
}

func (m *MockStorage) resolveMessageIDLocked(id int) int {
	if id < 0 && len(m.floors) > 0 {
		return m.floors[len(m.floors)-1].ID
	}
	return id
}

// LastFloorID mocks reading the newest floor id
func (m *MockStorage) LastFloorID(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.floorsError != nil {
		return -1, m.floorsError
	}
	if len(m.floors) == 0 {
		return -1, nil
	}
	return m.floors[len(m.floors)-1].ID, nil
}

// Floors mocks reading an inclusive floor range
func (m *MockStorage) Floors(ctx context.Context, start, end int) ([]Floor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.floorsError != nil {
		return nil, m.floorsError
	}
	var out []Floor
	for _, f := range m.floors {
		if f.ID >= start && f.ID <= end {
			out = append(out, f)
		}
	}
	return out, nil
}

// SetFloor mocks replacing a floor body
func (m *MockStorage) SetFloor(ctx context.Context, id int, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.floors {
		if m.floors[i].ID == id {
			m.floors[i].Message = message
			m.Writes = append(m.Writes, FloorWrite{FloorID: id, Message: message})
			return nil
		}
	}
	return fmt.Errorf("floor %d not found", id)
}

// CreateFloor mocks appending a floor
func (m *MockStorage) CreateFloor(ctx context.Context, role, name, message string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.appendLocked(role, name, message)
	m.Writes = append(m.Writes, FloorWrite{FloorID: id, Created: true, Message: message})
	return id, nil
}

// GetVariables mocks reading a variable bag; the returned map is a shallow copy
func (m *MockStorage) GetVariables(ctx context.Context, opt VariableOption) (map[string]any, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.varsErrors[opt.Type]; err != nil {
		return nil, err
	}
	var src map[string]any
	if opt.Type == ScopeMessage {
		src = m.msgVars[m.resolveMessageIDLocked(opt.MessageID)]
	} else {
		src = m.vars[opt.Type]
	}
	out := make(map[string]any, len(src))
	maps.Copy(out, src)
	return out, nil
}

// MergeVariables mocks merging into a variable bag
func (m *MockStorage) MergeVariables(ctx context.Context, opt VariableOption, vars map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if opt.Type == ScopeMessage {
		id := m.resolveMessageIDLocked(opt.MessageID)
		if m.msgVars[id] == nil {
			m.msgVars[id] = make(map[string]any)
		}
		maps.Copy(m.msgVars[id], vars)
		return nil
	}
	if m.vars[opt.Type] == nil {
		m.vars[opt.Type] = make(map[string]any)
	}
	maps.Copy(m.vars[opt.Type], vars)
	return nil
}

// WorldbookBindings mocks reading the character's worldbook bindings
func (m *MockStorage) WorldbookBindings(ctx context.Context) (WorldbookBindings, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.bindingsError != nil {
		return WorldbookBindings{}, m.bindingsError
	}
	return m.bindings, nil
}

// Worldbook mocks reading a worldbook
func (m *MockStorage) Worldbook(ctx context.Context, name string) ([]WorldbookEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.worldbookError[name]; err != nil {
		return nil, err
	}
	entries, ok := m.worldbooks[name]
	if !ok {
		return nil, errors.New("worldbook not found")
	}
	return append([]WorldbookEntry(nil), entries...), nil
}

// CreateWorldbookEntries mocks appending entries to a worldbook
func (m *MockStorage) CreateWorldbookEntries(ctx context.Context, name string, entries []WorldbookEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.worldbooks[name] = append(m.worldbooks[name], entries...)
	return nil
}

// UpdateWorldbookEntry mocks replacing an entry matched by name
func (m *MockStorage) UpdateWorldbookEntry(ctx context.Context, name string, entry WorldbookEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, e := range m.worldbooks[name] {
		if e.Name == entry.Name {
			m.worldbooks[name][i] = entry
			return nil
		}
	}
	return fmt.Errorf("entry %q not found in worldbook %q", entry.Name, name)
}

// DeleteWorldbookEntries mocks deleting entries matched by name
func (m *MockStorage) DeleteWorldbookEntries(ctx context.Context, name string, entryNames []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	drop := make(map[string]bool, len(entryNames))
	for _, n := range entryNames {
		drop[n] = true
	}
	kept := m.worldbooks[name][:0]
	for _, e := range m.worldbooks[name] {
		if !drop[e.Name] {
			kept = append(kept, e)
		}
	}
	m.worldbooks[name] = kept
	return nil
}

// CharacterCard mocks reading the character card
func (m *MockStorage) CharacterCard(ctx context.Context) (*CharacterCard, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.card == nil {
		return nil, errors.New("no character card")
	}
	c := *m.card
	return &c, nil
}
