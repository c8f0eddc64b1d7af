// Package modules loads, generates and persists phone-app modules for one
// chat session.
package modules

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/jwebster45206/tavern-phone/internal/metrics"
	"github.com/jwebster45206/tavern-phone/internal/services"
	"github.com/jwebster45206/tavern-phone/pkg/conditionals"
	"github.com/jwebster45206/tavern-phone/pkg/history"
	"github.com/jwebster45206/tavern-phone/pkg/media"
	"github.com/jwebster45206/tavern-phone/pkg/module"
	"github.com/jwebster45206/tavern-phone/pkg/prompts"
	"github.com/jwebster45206/tavern-phone/pkg/settings"
	"github.com/jwebster45206/tavern-phone/pkg/state"
	"github.com/jwebster45206/tavern-phone/pkg/storage"
	"github.com/jwebster45206/tavern-phone/pkg/tagblock"
)

// ErrNotGeneratable is returned for kinds that only exist in history.
var ErrNotGeneratable = errors.New("module cannot be generated")

// Fetcher runs one AI request. *services.AIService implements it.
type Fetcher interface {
	Fetch(ctx context.Context, sess *services.Session, fc prompts.FillContext) services.Result
}

// FloorNotifier is told about every floor the store writes.
type FloorNotifier interface {
	PublishFloorWritten(ctx context.Context, chatID string, floorID int, mode string) error
}

// Deps are shared by every store of a process.
type Deps struct {
	AI       Fetcher
	Stickers []media.Item
	// Notifier may be nil.
	Notifier FloorNotifier
	Logger   *slog.Logger
}

// Snapshot is the observable state of one module.
type Snapshot = state.Snapshot[any]

// Store is the module surface of one chat session.
type Store struct {
	chatID   string
	host     storage.Storage
	settings *settings.Store
	scanner  *history.Scanner
	chats    *history.ChatScanner
	filler   *prompts.Filler
	gate     *services.RequestGate
	deps     Deps
	logger   *slog.Logger
	now      func() time.Time

	mu     sync.Mutex
	states map[stateKey]*state.ModuleState[any]
}

type stateKey struct {
	kind      module.Kind
	character string
}

// NewStore wires a store over the host storage of one chat.
func NewStore(chatID string, host storage.Storage, deps Deps) *Store {
	logger := deps.Logger.With("chat_id", chatID)
	set := settings.NewStore(host, logger)
	depth := func(ctx context.Context) int {
		return set.Display(ctx).HistoryReadCount
	}
	scanner := history.NewScanner(host, depth, logger)
	engine := conditionals.NewEngine(host, logger)

	return &Store{
		chatID:   chatID,
		host:     host,
		settings: set,
		scanner:  scanner,
		chats:    history.NewChatScanner(scanner),
		filler:   prompts.NewFiller(host, engine, scanner, deps.Stickers, logger),
		gate:     &services.RequestGate{},
		deps:     deps,
		logger:   logger,
		now:      time.Now,
		states:   make(map[stateKey]*state.ModuleState[any]),
	}
}

func (s *Store) ChatID() string { return s.chatID }
func (s *Store) Host() storage.Storage { return s.host }
func (s *Store) Settings() *settings.Store { return s.settings }
func (s *Store) Scanner() *history.Scanner { return s.scanner }
func (s *Store) Chats() *history.ChatScanner { return s.chats }
func (s *Store) Filler() *prompts.Filler { return s.filler }
func (s *Store) Gate() *services.RequestGate { return s.gate }

func (s *Store) stateFor(kind module.Kind, character string) *state.ModuleState[any] {
	if !kind.Scoped() {
		character = ""
	}
	k := stateKey{kind, character}

	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[k]
	if !ok {
		st = state.NewModuleState[any]()
		s.states[k] = st
	}
	return st
}

// Snapshot returns the state of a global module.
func (s *Store) Snapshot(kind module.Kind) Snapshot {
	return s.stateFor(kind, "").Snapshot()
}

// CharacterSnapshot returns the state of a character-scoped module.
func (s *Store) CharacterSnapshot(kind module.Kind, character string) Snapshot {
	return s.stateFor(kind, character).Snapshot()
}

// Subscribe registers fn for state changes of one module.
func (s *Store) Subscribe(kind module.Kind, character string, fn func(Snapshot)) func() {
	return s.stateFor(kind, character).Subscribe(fn)
}

// Load fills the state of a global module. See LoadCharacter.
func (s *Store) Load(ctx context.Context, kind module.Kind, force bool) Snapshot {
	return s.LoadCharacter(ctx, kind, "", force)
}

// LoadCharacter fills the state of a module from history, or from the AI
// when history has none or force is set. A call made while a load of the
// same module is running returns the current state unchanged.
func (s *Store) LoadCharacter(ctx context.Context, kind module.Kind, character string, force bool) Snapshot {
	st := s.stateFor(kind, character)
	if !st.TryBegin() {
		return st.Snapshot()
	}
	log := s.logger.With("module", string(kind), "character", character)

	if !force {
		data, floorID, err := s.fromHistory(ctx, kind, character)
		switch {
		case err != nil:
			log.Error("Failed to scan history", "error", err)
			metrics.HistoryScans.WithLabelValues(string(kind), metrics.ResultError).Inc()
		case data != nil:
			log.Info("Loaded module from history", "floor_id", floorID)
			metrics.HistoryScans.WithLabelValues(string(kind), metrics.ResultHit).Inc()
			st.Succeed(&data)
			return st.Snapshot()
		default:
			metrics.HistoryScans.WithLabelValues(string(kind), metrics.ResultMiss).Inc()
		}
	}

	data, err := s.generate(ctx, kind, character)
	if err != nil {
		log.Warn("Module generation failed", "error", err)
		st.Fail(err.Error())
		return st.Snapshot()
	}
	if kind.Scoped() {
		err = s.SaveCharacter(ctx, kind, character, data)
	} else {
		_, err = s.Save(ctx, kind, data)
	}
	if err != nil {
		// The data is still shown; it will be regenerated next time.
		log.Error("Failed to persist module", "error", err)
	}
	st.Succeed(&data)
	return st.Snapshot()
}

func (s *Store) fromHistory(ctx context.Context, kind module.Kind, character string) (any, int, error) {
	hit, err := s.scanner.FindLatest(ctx, kind.Key(character))
	if err != nil || hit == nil {
		return nil, -1, err
	}
	data, err := module.Decode(kind, hit.Node)
	if err != nil {
		s.logger.Warn("Skipping undecodable module", "module", string(kind), "floor_id", hit.FloorID, "error", err)
		return nil, -1, nil
	}
	return data, hit.FloorID, nil
}

// View returns the AI view that generates kind.
func View(kind module.Kind) (string, bool) {
	view := string(kind)
	if kind == module.KindCall {
		view = "voiceCall"
	}
	return view, slices.Contains(prompts.Views, view)
}

func (s *Store) generate(ctx context.Context, kind module.Kind, character string) (any, error) {
	view, ok := View(kind)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotGeneratable, kind)
	}
	fc := prompts.FillContext{View: view, CharacterName: character}
	if character != "" {
		fc.Targets = []string{character}
	}
	res := s.Fetch(ctx, fc)
	if !res.Success {
		return nil, errors.New(res.Error)
	}
	return module.FromValue(kind, res.Data)
}

// Fetch runs an AI request in this session.
func (s *Store) Fetch(ctx context.Context, fc prompts.FillContext) services.Result {
	if s.deps.AI == nil {
		return services.Result{Error: services.ErrNotConfigured.Error()}
	}
	return s.deps.AI.Fetch(ctx, s.session(ctx), fc)
}

// session resolves the media libraries as they are now.
func (s *Store) session(ctx context.Context) *services.Session {
	vars, err := s.host.GetVariables(ctx, storage.VariableOption{Type: storage.ScopeCharacter})
	if err != nil {
		s.logger.Warn("Failed to read character variables", "error", err)
		vars = map[string]any{}
	}
	lib := media.Library{Stickers: s.deps.Stickers}.WithCharacterVars(vars)
	return &services.Session{Filler: s.filler, Gate: s.gate, Media: lib}
}

// Reset clears every state of kind, including character-scoped ones.
func (s *Store) Reset(kind module.Kind) {
	s.mu.Lock()
	var targets []*state.ModuleState[any]
	for k, st := range s.states {
		if k.kind == kind {
			targets = append(targets, st)
		}
	}
	s.mu.Unlock()

	for _, st := range targets {
		st.Reset()
	}
}

// ResetAll clears the state of every module, e.g. after a chat switch.
func (s *Store) ResetAll() {
	s.mu.Lock()
	targets := make([]*state.ModuleState[any], 0, len(s.states))
	for _, st := range s.states {
		targets = append(targets, st)
	}
	s.mu.Unlock()

	for _, st := range targets {
		st.Reset()
	}
}

// Save persists a global module and returns the floor written.
func (s *Store) Save(ctx context.Context, kind module.Kind, payload any) (int, error) {
	if kind.Scoped() {
		return -1, fmt.Errorf("%s needs a character", kind)
	}
	appendMode := s.settings.Display(ctx).AppendToLastMessage
	return s.write(ctx, kind.Key(""), payload, appendMode)
}

// SaveCharacter persists a character-scoped module.
func (s *Store) SaveCharacter(ctx context.Context, kind module.Kind, character string, payload any) error {
	if character == "" {
		return fmt.Errorf("%s needs a character", kind)
	}
	appendMode := s.settings.Display(ctx).AppendToLastMessage
	_, err := s.write(ctx, history.ModuleKey(string(kind), character), payload, appendMode)
	return err
}

// SaveChatHistory persists a chat transcript block; chatType is "private"
// or "group".
func (s *Store) SaveChatHistory(ctx context.Context, target string, chatType history.ChatType, payload any) (int, error) {
	appendMode := s.settings.Display(ctx).ChatAppendToLastMessage
	return s.write(ctx, history.ChatKey(target, string(chatType)), payload, appendMode)
}

// write appends the block to the newest floor or creates a new assistant
// floor. The append setting is passed in by the caller, read at call time.
func (s *Store) write(ctx context.Context, key history.Key, payload any, appendMode bool) (int, error) {
	block, err := key.Encode(payload, s.now())
	if err != nil {
		return -1, err
	}

	if appendMode {
		id, ok, err := s.appendToLast(ctx, block)
		if err != nil {
			return -1, err
		}
		if ok {
			s.written(ctx, key, id, metrics.WriteAppend)
			return id, nil
		}
	}

	id, err := s.host.CreateFloor(ctx, "assistant", "", block)
	if err != nil {
		return -1, fmt.Errorf("failed to create floor: %w", err)
	}
	s.written(ctx, key, id, metrics.WriteCreate)
	return id, nil
}

func (s *Store) appendToLast(ctx context.Context, block string) (int, bool, error) {
	last, err := s.host.LastFloorID(ctx)
	if err != nil {
		return -1, false, fmt.Errorf("failed to read last floor id: %w", err)
	}
	if last < 0 {
		return -1, false, nil
	}
	floors, err := s.host.Floors(ctx, last, last)
	if err != nil {
		return -1, false, fmt.Errorf("failed to read floor %d: %w", last, err)
	}
	if len(floors) == 0 {
		return -1, false, nil
	}
	if err := s.host.SetFloor(ctx, last, tagblock.Append(floors[0].Message, block)); err != nil {
		return -1, false, fmt.Errorf("failed to write floor %d: %w", last, err)
	}
	return last, true, nil
}

func (s *Store) written(ctx context.Context, key history.Key, floorID int, mode string) {
	metrics.FloorWrites.WithLabelValues(mode).Inc()
	s.logger.Info("Saved block", "key", key.String(), "floor_id", floorID, "mode", mode)
	if s.deps.Notifier == nil {
		return
	}
	if err := s.deps.Notifier.PublishFloorWritten(ctx, s.chatID, floorID, mode); err != nil {
		s.logger.Warn("Failed to announce floor write", "floor_id", floorID, "error", err)
	}
}

// Update rewrites a global module in place. With a nil floorID the floor
// holding the most recent block is used. It reports whether a block was
// rewritten.
func (s *Store) Update(ctx context.Context, kind module.Kind, payload any, floorID *int) bool {
	ok, err := s.scanner.UpdateInPlace(ctx, kind.Key(""), payload, floorID)
	if err != nil {
		s.logger.Error("Failed to update module", "module", string(kind), "error", err)
		return false
	}
	if !ok {
		return false
	}
	metrics.FloorWrites.WithLabelValues(metrics.WriteReplace).Inc()
	st := s.stateFor(kind, "")
	if st.Snapshot().Loaded {
		st.Succeed(&payload)
	}
	return true
}

// FindFloor returns the floor holding the most recent block of a global module.
func (s *Store) FindFloor(ctx context.Context, kind module.Kind) (int, bool) {
	id, ok, err := s.scanner.FindLatestFloorID(ctx, kind.Key(""))
	if err != nil {
		s.logger.Error("Failed to scan history", "module", string(kind), "error", err)
		return 0, false
	}
	return id, ok
}
